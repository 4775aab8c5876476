package domain

import (
	"strconv"
	"strings"
)

// KeyField is the bulk-import column holding the raw van identifier.
const KeyField = "van_number"

// Known attribute names.
const (
	FieldType              = "type"
	FieldStatus            = "status"
	FieldDate              = "date"
	FieldLastUpdated       = "last_updated"
	FieldURL               = "url"
	FieldDriver            = "driver"
	FieldNotes             = "notes"
	FieldDamage            = "damage"
	FieldDamageDescription = "damage_description"
	FieldRating            = "rating"
	FieldVanRating         = "van_rating"
	FieldDamageLevel       = "damage_level"
)

// Sentinel defaults for enumerated fields and the initial rating.
const (
	DefaultType   = "Unknown"
	DefaultStatus = "Active"
	DefaultRating = "0"
)

// AccumulateSeparator joins accumulated text fragments.
const AccumulateSeparator = " | "

// FieldClass selects the merge policy applied to a field.
type FieldClass int

const (
	ClassOpaque     FieldClass = iota // unknown field: fill-if-empty
	ClassEnumerated                   // non-default overwrites default
	ClassFillEmpty                    // first write wins
	ClassAccumulate                   // de-duplicating concatenation
	ClassNumericMax                   // max of parsed values
)

func (c FieldClass) String() string {
	switch c {
	case ClassEnumerated:
		return "enumerated"
	case ClassFillEmpty:
		return "fill_if_empty"
	case ClassAccumulate:
		return "accumulate"
	case ClassNumericMax:
		return "numeric_max"
	default:
		return "opaque"
	}
}

var fieldClasses = map[string]FieldClass{
	FieldType:              ClassEnumerated,
	FieldStatus:            ClassEnumerated,
	FieldDate:              ClassFillEmpty,
	FieldLastUpdated:       ClassFillEmpty,
	FieldURL:               ClassFillEmpty,
	FieldDriver:            ClassFillEmpty,
	FieldNotes:             ClassAccumulate,
	FieldDamage:            ClassAccumulate,
	FieldDamageDescription: ClassAccumulate,
	FieldRating:            ClassNumericMax,
	FieldVanRating:         ClassNumericMax,
	FieldDamageLevel:       ClassNumericMax,
}

// enumDefaults holds the sentinel default of each enumerated field.
var enumDefaults = map[string]string{
	FieldType:   DefaultType,
	FieldStatus: DefaultStatus,
}

// ClassOf returns the merge class for a field name. Field names are matched
// case-insensitively after trimming.
func ClassOf(field string) FieldClass {
	if c, ok := fieldClasses[NormalizeField(field)]; ok {
		return c
	}
	return ClassOpaque
}

// NormalizeField canonicalizes a column name ("Van Number" -> "van_number").
func NormalizeField(field string) string {
	return strings.Join(strings.Fields(strings.ToLower(field)), "_")
}

// IsDefault reports whether value is the sentinel default of an enumerated field.
func IsDefault(field, value string) bool {
	def, ok := enumDefaults[NormalizeField(field)]
	return ok && strings.EqualFold(strings.TrimSpace(value), def)
}

// Accumulate joins incoming onto existing with AccumulateSeparator, unless
// incoming is empty or already contained in existing.
func Accumulate(existing, incoming string) string {
	existing = strings.TrimSpace(existing)
	incoming = strings.TrimSpace(incoming)
	switch {
	case incoming == "":
		return existing
	case existing == "":
		return incoming
	case strings.Contains(existing, incoming):
		return existing
	}
	return existing + AccumulateSeparator + incoming
}

// Fragments splits an accumulated value back into its parts.
func Fragments(s string) []string {
	var out []string
	for _, p := range strings.Split(s, AccumulateSeparator) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseNumeric parses a rating-like value. Empty input and garbage both fail
// with ErrUnparsableNumeric; callers treat that as absent.
func ParseNumeric(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, NewValidationError("numeric", s, ErrUnparsableNumeric)
	}
	// "2/3" style ratings carry the value before the slash.
	if i := strings.IndexByte(s, '/'); i > 0 {
		s = strings.TrimSpace(s[:i])
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, NewValidationError("numeric", s, ErrUnparsableNumeric)
	}
	return v, nil
}

// FormatNumeric renders a parsed numeric value without a trailing ".0".
func FormatNumeric(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
