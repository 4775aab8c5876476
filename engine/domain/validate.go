package domain

import (
	"strings"
	"unicode/utf8"
)

// maxDescriptionRunes caps a single observation's description.
const maxDescriptionRunes = 2000

// SanitizeObservation applies the boundary defaults: severity is clamped,
// side parsed (unknown when unrecognised), description trimmed and capped.
// It never rejects an observation.
func SanitizeObservation(obs Observation) Observation {
	obs.Severity = ClampSeverity(obs.Severity)
	obs.Side = ParseSide(string(obs.Side))
	obs.Description = strings.TrimSpace(obs.Description)
	if utf8.RuneCountInString(obs.Description) > maxDescriptionRunes {
		obs.Description = string([]rune(obs.Description)[:maxDescriptionRunes])
	}
	return obs
}

// lineBreaks folds multi-line cells onto one line.
var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// cleanCell removes spreadsheet export artifacts: line breaks, a pair of
// quotes wrapping the whole cell, or a lone leading quote. Quotes inside
// the value are kept.
func cleanCell(v string) string {
	v = strings.TrimSpace(lineBreaks.Replace(v))
	switch {
	case len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' && !strings.Contains(v[1:len(v)-1], `"`):
		v = v[1 : len(v)-1]
	case strings.HasPrefix(v, `"`) && strings.Count(v, `"`) == 1:
		v = v[1:]
	}
	return strings.TrimSpace(v)
}

// CanonicalRow returns a copy of row with field names canonicalized and
// values cleaned. When two columns collapse to the same name the later
// non-empty value wins.
func CanonicalRow(row RawRow) RawRow {
	out := make(RawRow, len(row))
	for k, v := range row {
		name := NormalizeField(k)
		if name == "" {
			continue
		}
		v = cleanCell(v)
		if prev, ok := out[name]; ok && v == "" && prev != "" {
			continue
		}
		out[name] = v
	}
	return out
}

// RowKey normalizes the identifier column of a canonical row.
func RowKey(row RawRow) (CanonicalKey, error) {
	return Normalize(row[KeyField])
}
