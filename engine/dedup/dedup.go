// Package dedup decides whether an image's content has already been processed
// for a given vehicle. The dedup key is the pair (vehicle, fingerprint): the
// same photo counted against two different vans is two observations.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/WessleyAI/vanfleet/engine/domain"
)

// SeenStore persists the set of processed (vehicle, fingerprint) pairs.
// Implementations compare keys by CanonicalKey.Fold.
type SeenStore interface {
	Seen(ctx context.Context, key domain.CanonicalKey, fp Fingerprint) (bool, error)
	MarkSeen(ctx context.Context, key domain.CanonicalKey, fp Fingerprint, at time.Time) error
}

// Deduplicator answers duplicate queries against a SeenStore.
type Deduplicator struct {
	Store SeenStore
}

// New creates a Deduplicator. A nil store means an in-memory one.
func New(store SeenStore) *Deduplicator {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Deduplicator{Store: store}
}

// IsDuplicate reports whether (key, fp) has already been recorded.
func (d *Deduplicator) IsDuplicate(ctx context.Context, key domain.CanonicalKey, fp Fingerprint) (bool, error) {
	seen, err := d.Store.Seen(ctx, key, fp)
	if err != nil {
		return false, fmt.Errorf("dedup: is duplicate %s: %w", key, err)
	}
	return seen, nil
}

// RecordSeen marks (key, fp) as processed. Recording an already-seen pair is
// a no-op and keeps the original first-seen time.
func (d *Deduplicator) RecordSeen(ctx context.Context, key domain.CanonicalKey, fp Fingerprint, at time.Time) error {
	if err := d.Store.MarkSeen(ctx, key, fp, at); err != nil {
		return fmt.Errorf("dedup: record seen %s: %w", key, err)
	}
	return nil
}
