// Package recon composes normalization, deduplication, merging and damage
// aggregation into the operations callers use: a van was mentioned, a photo
// of a van was assessed, a batch of rows was imported.
//
// A Reconciler does not lock. Callers serialize calls per canonical key
// (see pkg/keylock); different keys may run in parallel.
package recon

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/WessleyAI/vanfleet/engine/damage"
	"github.com/WessleyAI/vanfleet/engine/dedup"
	"github.com/WessleyAI/vanfleet/engine/domain"
	"github.com/WessleyAI/vanfleet/engine/merge"
)

// Reconciler holds the collaborators of the reconciliation operations.
type Reconciler struct {
	Records RecordStore
	Dedup   *dedup.Deduplicator
	Now     func() time.Time
	Logger  *slog.Logger
}

// New creates a Reconciler. Nil stores fall back to in-memory ones.
func New(records RecordStore, seen dedup.SeenStore, logger *slog.Logger) *Reconciler {
	if records == nil {
		records = NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		Records: records,
		Dedup:   dedup.New(seen),
		Now:     time.Now,
		Logger:  logger,
	}
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Reconciler) log() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// getOrCreate returns the stored record for key, or a new default record
// that has not been persisted yet.
func (r *Reconciler) getOrCreate(ctx context.Context, key domain.CanonicalKey) (domain.VehicleRecord, bool, error) {
	rec, ok, err := r.Records.Get(ctx, key)
	if err != nil {
		return domain.VehicleRecord{}, false, fmt.Errorf("recon: get %s: %w", key, err)
	}
	if ok {
		return rec, false, nil
	}
	return domain.NewVehicleRecord(key, r.now()), true, nil
}

// IngestMention normalizes raw and returns the matching record, creating
// and persisting a default one when the van is new.
func (r *Reconciler) IngestMention(ctx context.Context, raw string) (domain.VehicleRecord, bool, error) {
	key, err := domain.Normalize(raw)
	if err != nil {
		return domain.VehicleRecord{}, false, err
	}
	rec, created, err := r.getOrCreate(ctx, key)
	if err != nil {
		return domain.VehicleRecord{}, false, err
	}
	if !created {
		return rec, false, nil
	}
	if err := r.Records.Put(ctx, rec); err != nil {
		return domain.VehicleRecord{}, false, fmt.Errorf("recon: put %s: %w", key, err)
	}
	r.log().Info("recon: vehicle created", "key", key, "raw", raw)
	return rec, true, nil
}

// IngestImage applies one assessed photo to the van named by raw.
//
// When (key, fp) was already processed the current record is returned
// unchanged with wasDuplicate=true. Otherwise the observation is applied,
// the record persisted and only then the pair recorded, so a failed write
// leaves the photo retryable. A van never mentioned before is created by
// its first photo.
func (r *Reconciler) IngestImage(ctx context.Context, raw string, fp dedup.Fingerprint, obs domain.Observation) (domain.VehicleRecord, bool, error) {
	key, err := domain.Normalize(raw)
	if err != nil {
		return domain.VehicleRecord{}, false, err
	}

	dup, err := r.Dedup.IsDuplicate(ctx, key, fp)
	if err != nil {
		return domain.VehicleRecord{}, false, fmt.Errorf("recon: %w", err)
	}
	rec, created, err := r.getOrCreate(ctx, key)
	if err != nil {
		return domain.VehicleRecord{}, false, err
	}
	if dup {
		r.log().Info("recon: duplicate image", "key", key, "fingerprint", fp.String())
		return rec, true, nil
	}

	at := r.now()
	obs = domain.SanitizeObservation(obs)
	obs.VehicleKey = key
	obs.Fingerprint = fp.String()
	if obs.Timestamp.IsZero() {
		obs.Timestamp = at
	}

	before := rec.Damage
	rec.Damage = damage.Apply(rec.Damage, obs)
	rec.UpdatedAt = at
	if err := r.Records.Put(ctx, rec); err != nil {
		return domain.VehicleRecord{}, false, fmt.Errorf("recon: put %s: %w", key, err)
	}
	// Applying the same observation twice leaves the state unchanged, so a
	// failure here only costs a repeat of the write on retry.
	if err := r.Dedup.RecordSeen(ctx, key, fp, at); err != nil {
		return domain.VehicleRecord{}, false, fmt.Errorf("recon: %w", err)
	}

	r.log().Info("recon: observation applied",
		"key", key,
		"created", created,
		"severity", rec.Damage.Severity,
		"status", rec.Damage.Status,
	)
	if damage.Escalated(before, rec.Damage) {
		r.log().Warn("recon: vehicle needs maintenance", "key", key, "description", rec.Damage.Description)
	}
	return rec, false, nil
}

// BulkMerge folds rows into records without touching the store.
func (r *Reconciler) BulkMerge(rows []domain.RawRow) (map[domain.CanonicalKey]domain.VehicleRecord, []error) {
	out, errs := merge.MergeAll(rows, r.now())
	for _, err := range errs {
		r.log().Warn("recon: row skipped", "error", err)
	}
	return out, errs
}

// BulkMergeInto folds rows onto the stored records and persists every
// record the rows changed. Per-key failures are collected, never fatal.
func (r *Reconciler) BulkMergeInto(ctx context.Context, rows []domain.RawRow) (map[domain.CanonicalKey]domain.VehicleRecord, []error) {
	merged, _, errs := r.BulkMergeChanges(ctx, rows)
	return merged, errs
}

// BulkMergeChanges is BulkMergeInto that also reports, in key order, which
// records the rows changed. A stored record whose attributes come out the
// same is returned as stored and not written again.
func (r *Reconciler) BulkMergeChanges(ctx context.Context, rows []domain.RawRow) (map[domain.CanonicalKey]domain.VehicleRecord, []domain.CanonicalKey, []error) {
	prior := make(map[string]domain.VehicleRecord)
	merged, errs := merge.Into(rows, r.now(), func(key domain.CanonicalKey) (domain.VehicleRecord, bool, error) {
		rec, ok, err := r.Records.Get(ctx, key)
		if ok {
			prior[key.Fold()] = rec
		}
		return rec, ok, err
	})

	var changed []domain.CanonicalKey
	for _, key := range merge.SortedKeys(merged) {
		if old, ok := prior[key.Fold()]; ok && maps.Equal(old.Attributes, merged[key].Attributes) {
			merged[key] = old
			continue
		}
		if err := r.Records.Put(ctx, merged[key]); err != nil {
			errs = append(errs, fmt.Errorf("recon: put %s: %w", key, err))
			delete(merged, key)
			continue
		}
		changed = append(changed, key)
	}
	for _, err := range errs {
		r.log().Warn("recon: bulk merge", "error", err)
	}
	return merged, changed, errs
}
