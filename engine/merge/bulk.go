package merge

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/WessleyAI/vanfleet/engine/domain"
)

// MergeAll groups rows by normalized key and folds each group left to right.
// The first row of a group seeds its record. Rows without a usable key are
// skipped and reported as *domain.ValidationError with a 1-based row number;
// they never abort the batch.
func MergeAll(rows []domain.RawRow, at time.Time) (map[domain.CanonicalKey]domain.VehicleRecord, []error) {
	return Into(rows, at, func(domain.CanonicalKey) (domain.VehicleRecord, bool, error) {
		return domain.VehicleRecord{}, false, nil
	})
}

// Into folds rows onto already stored records. lookup returns the current
// record for a key, if any; keys it does not know are seeded from their
// first row. A lookup error skips that key's rows and is reported with the
// row errors. Only keys touched by rows appear in the result. Keys are
// grouped case-insensitively and the first spelling seen is kept.
func Into(rows []domain.RawRow, at time.Time, lookup func(domain.CanonicalKey) (domain.VehicleRecord, bool, error)) (map[domain.CanonicalKey]domain.VehicleRecord, []error) {
	grouped, errs := groupRows(rows)
	out := make(map[domain.CanonicalKey]domain.VehicleRecord, len(grouped))
	for _, g := range grouped {
		rec, ok, err := lookup(g.key)
		if err != nil {
			errs = append(errs, fmt.Errorf("merge: lookup %s: %w", g.key, err))
			continue
		}
		start := 0
		if !ok {
			rec = Seed(g.key, g.rows[0], at)
			start = 1
		}
		for _, row := range g.rows[start:] {
			rec = Merge(rec, row, at)
		}
		out[rec.Key] = rec
	}
	return out, errs
}

type rowGroup struct {
	key  domain.CanonicalKey
	rows []domain.RawRow
}

func groupRows(rows []domain.RawRow) ([]rowGroup, []error) {
	var (
		groups []rowGroup
		index  = make(map[string]int)
		errs   []error
	)
	for i, raw := range rows {
		row := domain.CanonicalRow(raw)
		key, err := domain.RowKey(row)
		if err != nil {
			errs = append(errs, &domain.ValidationError{
				Field:   domain.KeyField,
				Value:   raw[domain.KeyField],
				Row:     i + 1,
				Wrapped: domain.ErrMissingIdentifier,
			})
			continue
		}
		if gi, ok := index[key.Fold()]; ok {
			groups[gi].rows = append(groups[gi].rows, row)
			continue
		}
		index[key.Fold()] = len(groups)
		groups = append(groups, rowGroup{key: key, rows: []domain.RawRow{row}})
	}
	return groups, errs
}

// Lookup finds key in a merge result ignoring case. Results are keyed by
// the stored spelling, which may differ in case from a fresh normalization.
func Lookup(m map[domain.CanonicalKey]domain.VehicleRecord, key domain.CanonicalKey) (domain.VehicleRecord, bool) {
	if rec, ok := m[key]; ok {
		return rec, true
	}
	for k, rec := range m {
		if k.Equal(key) {
			return rec, true
		}
	}
	return domain.VehicleRecord{}, false
}

// SortedKeys returns the keys of a merge result in case-insensitive order.
func SortedKeys(m map[domain.CanonicalKey]domain.VehicleRecord) []domain.CanonicalKey {
	keys := make([]domain.CanonicalKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b domain.CanonicalKey) int {
		return strings.Compare(a.Fold(), b.Fold())
	})
	return keys
}
