package vision

import (
	"context"
	"testing"
	"time"

	"github.com/suriai/attendengine/internal/models"
)

type fakeGalleryStore struct {
	calls   int
	records []models.PersonRecord
}

func (f *fakeGalleryStore) ListFaces(ctx context.Context) ([]models.PersonRecord, error) {
	f.calls++
	out := make([]models.PersonRecord, len(f.records))
	copy(out, f.records)
	return out, nil
}

func TestIdentityGallery_RefreshesOnTTLExpiry(t *testing.T) {
	store := &fakeGalleryStore{records: []models.PersonRecord{{PersonID: "p1", Embedding: []float32{1, 0}}}}
	g := NewIdentityGallery(store, 10*time.Millisecond)

	if _, err := g.Get(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := g.Get(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.calls != 1 {
		t.Errorf("expected cache hit to avoid a second store call, got %d calls", store.calls)
	}

	time.Sleep(20 * time.Millisecond)
	if _, err := g.Get(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.calls != 2 {
		t.Errorf("expected a refresh after TTL expiry, got %d calls", store.calls)
	}
}

func TestIdentityGallery_InvalidateForcesRefresh(t *testing.T) {
	store := &fakeGalleryStore{records: []models.PersonRecord{{PersonID: "p1", Embedding: []float32{1, 0}}}}
	g := NewIdentityGallery(store, time.Hour)

	g.Get(context.Background(), nil)
	g.Invalidate()
	g.Get(context.Background(), nil)

	if store.calls != 2 {
		t.Errorf("expected Invalidate to force a refresh on next Get, got %d calls", store.calls)
	}
}

func TestIdentityGallery_AllowedPersonIDsFilter(t *testing.T) {
	store := &fakeGalleryStore{records: []models.PersonRecord{
		{PersonID: "p1", Embedding: []float32{1, 0}},
		{PersonID: "p2", Embedding: []float32{0, 1}},
	}}
	g := NewIdentityGallery(store, time.Hour)

	filtered, err := g.Get(context.Background(), map[string]bool{"p1": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(filtered) != 1 {
		t.Fatalf("expected 1 entry after filtering, got %d", len(filtered))
	}
	if filtered[0].PersonID != "p1" {
		t.Errorf("expected p1 to survive the allow-list filter, got %q", filtered[0].PersonID)
	}
}

// TestIdentityGallery_PreservesStoreOrder: recognition tie-breaking is
// first-seen-wins over the gallery, so the cache must hand back entries
// in the exact order the store returned them.
func TestIdentityGallery_PreservesStoreOrder(t *testing.T) {
	store := &fakeGalleryStore{records: []models.PersonRecord{
		{PersonID: "zeta", Embedding: []float32{1, 0}},
		{PersonID: "alpha", Embedding: []float32{0, 1}},
		{PersonID: "mid", Embedding: []float32{0, 1}},
	}}
	g := NewIdentityGallery(store, time.Hour)

	got, err := g.Get(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"zeta", "alpha", "mid"}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].PersonID != id {
			t.Errorf("position %d: expected %q, got %q", i, id, got[i].PersonID)
		}
	}
}

func TestIdentityGallery_EmptyGalleryCachedWithinTTL(t *testing.T) {
	store := &fakeGalleryStore{}
	g := NewIdentityGallery(store, time.Hour)

	for i := 0; i < 3; i++ {
		if _, err := g.Get(context.Background(), nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if store.calls != 1 {
		t.Errorf("an empty gallery should still be cached for the TTL window, got %d store calls", store.calls)
	}
}

func TestIdentityGallery_NoStoreConfigured(t *testing.T) {
	g := NewIdentityGallery(nil, time.Hour)
	_, err := g.Get(context.Background(), nil)
	if err != ErrGalleryUnavailable {
		t.Errorf("expected ErrGalleryUnavailable, got %v", err)
	}
}
