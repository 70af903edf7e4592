package vision

import (
	"context"
	"testing"
	"time"

	"github.com/suriai/attendengine/internal/models"
)

func TestRecognizer_BestMatchAboveThreshold(t *testing.T) {
	store := &fakeGalleryStore{records: []models.PersonRecord{
		{PersonID: "alice", Embedding: []float32{1, 0}},
		{PersonID: "bob", Embedding: []float32{0, 1}},
	}}
	gallery := NewIdentityGallery(store, time.Hour)
	rec := NewRecognizer(gallery, 0.5)

	id, sim, err := rec.Recognize(context.Background(), []float32{1, 0}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "alice" {
		t.Errorf("expected alice, got %q (similarity %v)", id, sim)
	}
	if !almostEqual(sim, 1.0) {
		t.Errorf("expected similarity ~1, got %v", sim)
	}
}

func TestRecognizer_BelowThresholdReturnsEmptyIDButBestSimilarity(t *testing.T) {
	store := &fakeGalleryStore{records: []models.PersonRecord{
		{PersonID: "alice", Embedding: []float32{1, 0}},
	}}
	gallery := NewIdentityGallery(store, time.Hour)
	rec := NewRecognizer(gallery, 0.99)

	id, sim, err := rec.Recognize(context.Background(), []float32{0.7, 0.7}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "" {
		t.Errorf("expected no match below threshold, got %q", id)
	}
	if sim <= 0 {
		t.Errorf("expected the best observed similarity to still be reported, got %v", sim)
	}
}

func TestRecognizer_EmptyGalleryNoMatch(t *testing.T) {
	store := &fakeGalleryStore{}
	gallery := NewIdentityGallery(store, time.Hour)
	rec := NewRecognizer(gallery, 0.5)

	id, sim, err := rec.Recognize(context.Background(), []float32{1, 0}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "" || sim != 0 {
		t.Errorf("expected no match on empty gallery, got id=%q sim=%v", id, sim)
	}
}

// TestRecognizer_ExactTieFirstSeenWins: two gallery entries with the
// identical embedding score the same against any probe; the entry earlier
// in gallery order must win, on every call.
func TestRecognizer_ExactTieFirstSeenWins(t *testing.T) {
	store := &fakeGalleryStore{records: []models.PersonRecord{
		{PersonID: "first", Embedding: []float32{1, 0}},
		{PersonID: "second", Embedding: []float32{1, 0}},
	}}
	gallery := NewIdentityGallery(store, time.Hour)
	rec := NewRecognizer(gallery, 0.5)

	for i := 0; i < 20; i++ {
		id, sim, err := rec.Recognize(context.Background(), []float32{1, 0}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != "first" {
			t.Fatalf("call %d: exact tie resolved to %q (sim=%v), want the first-seen entry", i, id, sim)
		}
	}
}

func TestRecognizer_RespectsAllowList(t *testing.T) {
	store := &fakeGalleryStore{records: []models.PersonRecord{
		{PersonID: "alice", Embedding: []float32{1, 0}},
		{PersonID: "bob", Embedding: []float32{0.9, 0.1}},
	}}
	gallery := NewIdentityGallery(store, time.Hour)
	rec := NewRecognizer(gallery, 0.5)

	id, _, err := rec.Recognize(context.Background(), []float32{1, 0}, map[string]bool{"bob": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "bob" {
		t.Errorf("expected allow-list to restrict match to bob, got %q", id)
	}
}
