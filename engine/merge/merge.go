// Package merge folds flat import rows into canonical vehicle records using a
// per-field reconciliation policy. Every function here is pure.
package merge

import (
	"strings"
	"time"

	"github.com/WessleyAI/vanfleet/engine/domain"
)

// Seed builds the first record for key directly from row. Empty values and
// unparsable numerics are dropped; the key column is not copied.
func Seed(key domain.CanonicalKey, row domain.RawRow, at time.Time) domain.VehicleRecord {
	rec := domain.VehicleRecord{
		Key:        key,
		Attributes: make(map[string]string, len(row)),
		Damage:     domain.NewDamageState(),
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	for field, v := range domain.CanonicalRow(row) {
		if field == domain.KeyField || v == "" {
			continue
		}
		if domain.ClassOf(field) == domain.ClassNumericMax {
			if _, err := domain.ParseNumeric(v); err != nil {
				continue
			}
		}
		rec.Attributes[field] = v
	}
	return rec
}

// Merge applies row onto existing and returns the new record. existing is
// not modified. UpdatedAt moves to at only when an attribute changed.
func Merge(existing domain.VehicleRecord, row domain.RawRow, at time.Time) domain.VehicleRecord {
	out := existing.Clone()
	if out.Attributes == nil {
		out.Attributes = make(map[string]string)
	}
	changed := false
	for field, incoming := range domain.CanonicalRow(row) {
		if field == domain.KeyField {
			continue
		}
		prev := out.Attributes[field]
		next := Field(field, prev, incoming)
		if next == prev {
			continue
		}
		out.Attributes[field] = next
		changed = true
	}
	if changed {
		out.UpdatedAt = at
	}
	return out
}

// Field reconciles one attribute value according to the field's class.
func Field(field, existing, incoming string) string {
	switch domain.ClassOf(field) {
	case domain.ClassEnumerated:
		return enumerated(field, existing, incoming)
	case domain.ClassAccumulate:
		return domain.Accumulate(existing, incoming)
	case domain.ClassNumericMax:
		return numericMax(existing, incoming)
	default:
		return fillIfEmpty(existing, incoming)
	}
}

// enumerated lets a non-default value replace an empty or default one.
// A non-default value is never replaced.
func enumerated(field, existing, incoming string) string {
	incoming = strings.TrimSpace(incoming)
	if incoming == "" {
		return existing
	}
	if strings.TrimSpace(existing) == "" {
		return incoming
	}
	if domain.IsDefault(field, existing) && !domain.IsDefault(field, incoming) {
		return incoming
	}
	return existing
}

func fillIfEmpty(existing, incoming string) string {
	if strings.TrimSpace(existing) != "" {
		return existing
	}
	if incoming = strings.TrimSpace(incoming); incoming != "" {
		return incoming
	}
	return existing
}

// numericMax keeps the larger of two ratings. An unparsable incoming value
// is ignored; an unparsable existing value counts as absent.
func numericMax(existing, incoming string) string {
	in, err := domain.ParseNumeric(incoming)
	if err != nil {
		return existing
	}
	cur, err := domain.ParseNumeric(existing)
	if err != nil || in > cur {
		return strings.TrimSpace(incoming)
	}
	return existing
}
