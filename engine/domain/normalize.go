package domain

import (
	"regexp"
	"strings"
)

var (
	// Trailing _<digits> groups that follow an identifier's own _<digits>,
	// left behind by an old dedup pass (van_12_1, van_12_1_2).
	disambiguationRe = regexp.MustCompile(`^(.*?_\d+)(?:_\d+)+$`)
	conventionalRe   = regexp.MustCompile(`(?i)^van_(\d+)$`)
)

// Normalize canonicalizes a free-text van identifier:
//
//  1. trim surrounding whitespace (case is preserved)
//  2. collapse internal whitespace runs to one underscore
//  3. strip trailing disambiguation suffixes (van_12_1 -> van_12)
//  4. zero-pad van_<digits> to two digits (van_7 -> van_07)
//  5. return anything else verbatim
//
// Empty input yields ErrMissingIdentifier. Normalize is pure and idempotent.
func Normalize(raw string) (CanonicalKey, error) {
	s := strings.Join(strings.Fields(raw), "_")
	if s == "" {
		return "", NewValidationError(KeyField, raw, ErrMissingIdentifier)
	}

	if m := disambiguationRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}

	if m := conventionalRe.FindStringSubmatch(s); m != nil {
		digits := m[1]
		if len(digits) < 2 {
			digits = "0" + digits
		}
		s = "van_" + digits
	}
	return CanonicalKey(s), nil
}

// MustNormalize is Normalize for identifiers known to be valid. It panics on
// ErrMissingIdentifier and is meant for tests and constants.
func MustNormalize(raw string) CanonicalKey {
	k, err := Normalize(raw)
	if err != nil {
		panic(err)
	}
	return k
}

// DisplayForm renders a key the way operators type it ("van_07" -> "van 07").
func DisplayForm(k CanonicalKey) string {
	return strings.ReplaceAll(string(k), "_", " ")
}
