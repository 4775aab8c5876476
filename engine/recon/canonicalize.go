package recon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/WessleyAI/vanfleet/engine/damage"
	"github.com/WessleyAI/vanfleet/engine/domain"
	"github.com/WessleyAI/vanfleet/engine/merge"
)

// ErrUnsupportedStore is returned when an operation needs a store
// capability the configured store lacks.
var ErrUnsupportedStore = errors.New("store does not support this operation")

// Rekey is one stored record whose key was not canonical.
type Rekey struct {
	From   domain.CanonicalKey `json:"from"`
	To     domain.CanonicalKey `json:"to"`
	Merged bool                `json:"merged"` // To already existed
}

// Canonicalize rewrites records stored under non-canonical keys, such as
// van_7 or van_12_1 left by older imports, onto their canonical key. When
// the canonical record exists the legacy record's attributes are merged
// into it and the damage aggregates combined; the legacy record is then
// deleted. With dryRun nothing is written.
//
// Fingerprints recorded under a legacy key are not moved.
func (r *Reconciler) Canonicalize(ctx context.Context, dryRun bool) ([]Rekey, error) {
	lister, ok := r.Records.(Lister)
	if !ok {
		return nil, fmt.Errorf("recon: canonicalize: list: %w", ErrUnsupportedStore)
	}
	deleter, ok := r.Records.(Deleter)
	if !ok {
		return nil, fmt.Errorf("recon: canonicalize: delete: %w", ErrUnsupportedStore)
	}
	recs, err := lister.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("recon: canonicalize: %w", err)
	}

	var out []Rekey
	for _, legacy := range recs {
		key, err := domain.Normalize(legacy.Key.String())
		if err != nil || key == legacy.Key {
			continue
		}
		rk := Rekey{From: legacy.Key, To: key}

		target, found := legacy, false
		if key.Fold() != legacy.Key.Fold() {
			target, found, err = r.Records.Get(ctx, key)
			if err != nil {
				return out, fmt.Errorf("recon: canonicalize %s: %w", legacy.Key, err)
			}
		}
		rk.Merged = found
		out = append(out, rk)
		if dryRun {
			continue
		}

		next := legacy.Clone()
		if found {
			next = fold(target, legacy, r.now())
		}
		next.Key = key
		if err := r.Records.Put(ctx, next); err != nil {
			return out, fmt.Errorf("recon: canonicalize %s: %w", legacy.Key, err)
		}
		if key.Fold() != legacy.Key.Fold() {
			if err := deleter.Delete(ctx, legacy.Key); err != nil {
				return out, fmt.Errorf("recon: canonicalize %s: %w", legacy.Key, err)
			}
		}
		r.log().Info("recon: rekeyed record", "from", legacy.Key, "to", key, "merged", found)
	}
	return out, nil
}

// fold merges a legacy record into the canonical one. The less recently
// updated record is the base, as if its rows had been imported first.
func fold(target, legacy domain.VehicleRecord, at time.Time) domain.VehicleRecord {
	older, newer := legacy, target
	if legacy.UpdatedAt.After(target.UpdatedAt) {
		older, newer = target, legacy
	}
	next := merge.Merge(older, domain.RawRow(newer.Attributes), at)
	next.Damage = damage.Combine(target.Damage, legacy.Damage)
	next.CreatedAt = target.CreatedAt
	if !legacy.CreatedAt.IsZero() && legacy.CreatedAt.Before(next.CreatedAt) {
		next.CreatedAt = legacy.CreatedAt
	}
	next.UpdatedAt = at
	return next
}
