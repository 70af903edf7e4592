package vision

import (
	"context"
	"time"

	"github.com/suriai/attendengine/internal/observability"
)

// Recognizer performs cosine nearest-neighbor matching against an
// IdentityGallery, gated by a similarity threshold.
type Recognizer struct {
	gallery             *IdentityGallery
	similarityThreshold float32
}

// NewRecognizer constructs a Recognizer over gallery with the given
// minimum similarity threshold.
func NewRecognizer(gallery *IdentityGallery, similarityThreshold float32) *Recognizer {
	return &Recognizer{gallery: gallery, similarityThreshold: similarityThreshold}
}

// Recognize finds the best-matching person_id for embedding among
// allowedPersonIDs (nil means unrestricted). Returns ("", similarity)
// when no candidate meets the similarity threshold; the caller still
// learns the best similarity observed.
func (r *Recognizer) Recognize(ctx context.Context, embedding []float32, allowedPersonIDs map[string]bool) (string, float32, error) {
	start := time.Now()
	defer func() {
		observability.InferenceDuration.WithLabelValues("recognizer").Observe(time.Since(start).Seconds())
	}()

	records, err := r.gallery.Get(ctx, allowedPersonIDs)
	if err != nil {
		return "", 0, err
	}
	if len(records) == 0 {
		return "", 0, nil
	}

	// Strict > keeps the first-seen entry (gallery order) on an exact tie,
	// so repeated runs against the same gallery pick the same winner.
	bestID := records[0].PersonID
	bestSim := dotProduct(embedding, records[0].Embedding)
	for _, rec := range records[1:] {
		sim := dotProduct(embedding, rec.Embedding)
		if sim > bestSim {
			bestSim = sim
			bestID = rec.PersonID
		}
	}

	if bestSim >= r.similarityThreshold {
		return bestID, bestSim, nil
	}
	return "", bestSim, nil
}

// dotProduct assumes both vectors are already L2-normalized, so their dot
// product is the cosine similarity.
func dotProduct(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
