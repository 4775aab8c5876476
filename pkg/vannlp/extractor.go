// Package vannlp pulls van identifiers, driver ratings and van models out of
// free-text chat messages using regex patterns. No external dependencies.
package vannlp

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Mention is one van identifier found in text.
type Mention struct {
	Identifier string  // "van_7" for explicit van mentions, bare digits otherwise
	Pattern    string  // name of the pattern that matched
	Confidence float64 // 0.0-1.0
	Offset     int     // byte offset of the match in the input
	Span       string  // the matched text fragment
}

type idPattern struct {
	name       string
	re         *regexp.Regexp
	confidence float64
	vanPrefix  bool
}

// Patterns in priority order. Bare numbers are the last resort.
var idPatterns = []idPattern{
	{"van", regexp.MustCompile(`(?i)\bvan\s*#?(\d+)`), 0.95, true},
	{"truck", regexp.MustCompile(`(?i)\btruck\s*#?(\d+)`), 0.85, false},
	{"vehicle", regexp.MustCompile(`(?i)\bvehicle\s*#?(\d+)`), 0.85, false},
	{"hash", regexp.MustCompile(`#(\d+)`), 0.60, false},
	{"number", regexp.MustCompile(`(\d+)`), 0.40, false},
}

// Extract finds every van identifier mention in text, best first. A number
// claimed by a stronger pattern is not reported again by a weaker one.
func Extract(text string) []Mention {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var out []Mention
	claimed := make(map[int]bool) // digit offsets already matched

	for _, p := range idPatterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			if claimed[loc[2]] || inRatingContext(text, loc[2], loc[3]) {
				continue
			}
			claimed[loc[2]] = true
			digits := text[loc[2]:loc[3]]
			id := digits
			if p.vanPrefix {
				id = "van_" + digits
			}
			out = append(out, Mention{
				Identifier: id,
				Pattern:    p.name,
				Confidence: p.confidence,
				Offset:     loc[0],
				Span:       text[loc[0]:loc[1]],
			})
		}
	}

	slices.SortStableFunc(out, func(a, b Mention) int {
		if a.Confidence != b.Confidence {
			if a.Confidence > b.Confidence {
				return -1
			}
			return 1
		}
		return a.Offset - b.Offset
	})
	return out
}

// ExtractBest returns the highest-confidence mention, or nil.
func ExtractBest(text string) *Mention {
	ms := Extract(text)
	if len(ms) == 0 {
		return nil
	}
	return &ms[0]
}

// ExtractIdentifier returns the raw identifier of the best mention, ready
// for normalization.
func ExtractIdentifier(text string) (string, bool) {
	m := ExtractBest(text)
	if m == nil {
		return "", false
	}
	return m.Identifier, true
}

var ratingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brating[:\s]+([0-3])\b`),
	regexp.MustCompile(`(?i)\bcondition[:\s]+([0-3])\b`),
	regexp.MustCompile(`\b([0-3])\s*/\s*3\b`),
	regexp.MustCompile(`(?i)\b([0-3])\s+out\s+of\s+3\b`),
	regexp.MustCompile(`(?i)\brate[:\s]+([0-3])\b`),
}

// ExtractRating reads a driver-supplied 0-3 damage rating ("rating: 2",
// "condition 3", "1/3", "2 out of 3").
func ExtractRating(text string) (int, bool) {
	for _, re := range ratingPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// inRatingContext reports whether the digits at [start,end) belong to a
// rating phrase rather than an identifier.
func inRatingContext(text string, start, end int) bool {
	rest := strings.TrimLeft(text[end:], " ")
	if strings.HasPrefix(rest, "/3") || strings.HasPrefix(rest, "/ 3") ||
		strings.HasPrefix(strings.ToLower(rest), "out of 3") {
		return true
	}
	head := strings.ToLower(strings.TrimRight(text[:start], " :"))
	if strings.HasSuffix(head, "/") {
		return true
	}
	for _, w := range []string{"rating", "condition", "rate", "out of"} {
		if strings.HasSuffix(head, w) {
			return true
		}
	}
	return false
}
