package vision

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/suriai/attendengine/internal/models"
)

// ErrGalleryUnavailable is returned when no backing store is configured.
var ErrGalleryUnavailable = errors.New("identity gallery: no backing store configured")

// GalleryStore is the persistence collaborator the gallery refreshes
// from (implemented by internal/storage.PostgresStore).
type GalleryStore interface {
	ListFaces(ctx context.Context) ([]models.PersonRecord, error)
}

// IdentityGallery is a time-based cache of the gallery's person records,
// refreshed from the persistent store on a TTL and invalidated by any
// write path. The store's row order is preserved so that exact-similarity
// ties during recognition resolve to the same entry on every run.
type IdentityGallery struct {
	store GalleryStore
	ttl   time.Duration

	mu        sync.RWMutex
	records   []models.PersonRecord
	loaded    bool
	fetchedAt time.Time
}

// NewIdentityGallery constructs a gallery backed by store with the given
// cache TTL. store may be nil, in which case every read fails with
// ErrGalleryUnavailable.
func NewIdentityGallery(store GalleryStore, ttl time.Duration) *IdentityGallery {
	if ttl <= 0 {
		ttl = time.Second
	}
	return &IdentityGallery{store: store, ttl: ttl}
}

// Get returns the current gallery entries in the store's order,
// refreshing from the store if the cache is empty or older than the TTL.
// When allowedPersonIDs is non-nil, the result is restricted to those IDs
// with the relative order preserved. Callers must treat the returned
// slice as read-only; it is shared across streams until the next refresh.
func (g *IdentityGallery) Get(ctx context.Context, allowedPersonIDs map[string]bool) ([]models.PersonRecord, error) {
	if g.store == nil {
		return nil, ErrGalleryUnavailable
	}

	snapshot, err := g.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	if allowedPersonIDs == nil {
		return snapshot, nil
	}

	filtered := make([]models.PersonRecord, 0, len(allowedPersonIDs))
	for _, rec := range snapshot {
		if allowedPersonIDs[rec.PersonID] {
			filtered = append(filtered, rec)
		}
	}
	return filtered, nil
}

func (g *IdentityGallery) snapshot(ctx context.Context) ([]models.PersonRecord, error) {
	g.mu.RLock()
	fresh := g.loaded && time.Since(g.fetchedAt) <= g.ttl
	current := g.records
	g.mu.RUnlock()

	if fresh {
		return current, nil
	}

	return g.refresh(ctx)
}

// Invalidate forces the next Get to refresh from the store immediately,
// used on any write path (add/remove/rename/clear person records).
func (g *IdentityGallery) Invalidate() {
	g.mu.Lock()
	g.records = nil
	g.loaded = false
	g.mu.Unlock()
}

// Refresh forces a synchronous reload from the store, returning the new
// snapshot.
func (g *IdentityGallery) Refresh(ctx context.Context) ([]models.PersonRecord, error) {
	return g.refresh(ctx)
}

func (g *IdentityGallery) refresh(ctx context.Context) ([]models.PersonRecord, error) {
	if g.store == nil {
		return nil, ErrGalleryUnavailable
	}

	persons, err := g.store.ListFaces(ctx)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.records = persons
	g.loaded = true
	g.fetchedAt = time.Now()
	g.mu.Unlock()

	return persons, nil
}
