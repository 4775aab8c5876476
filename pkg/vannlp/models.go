package vannlp

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"
)

// ModelMatch is a van make/model mention.
type ModelMatch struct {
	Make       string  // e.g. "Ford"
	Model      string  // e.g. "Transit"
	Year       int     // 0 if not found
	Confidence float64 // 0.0-1.0
	Span       string
}

// Type renders the match the way the fleet sheet stores a van type.
func (m ModelMatch) Type() string {
	return m.Make + " " + m.Model
}

// makeAliases maps abbreviations to canonical make names.
var makeAliases = map[string]string{
	"ford":          "Ford",
	"mercedes":      "Mercedes-Benz",
	"mercedes-benz": "Mercedes-Benz",
	"merc":          "Mercedes-Benz",
	"benz":          "Mercedes-Benz",
	"ram":           "Ram",
	"dodge":         "Ram",
	"chevy":         "Chevrolet",
	"chevrolet":     "Chevrolet",
	"gmc":           "GMC",
	"nissan":        "Nissan",
	"rivian":        "Rivian",
	"freightliner":  "Freightliner",
	"isuzu":         "Isuzu",
}

// makeModels lists the delivery-van models for each make.
var makeModels = map[string][]string{
	"Ford":          {"Transit", "Transit Connect", "E-Series", "E-Transit"},
	"Mercedes-Benz": {"Sprinter", "Metris", "eSprinter"},
	"Ram":           {"ProMaster", "ProMaster City"},
	"Chevrolet":     {"Express", "BrightDrop"},
	"GMC":           {"Savana"},
	"Nissan":        {"NV200", "NV1500", "NV2500", "NV3500"},
	"Rivian":        {"EDV", "EDV 500", "EDV 700"},
	"Freightliner":  {"MT45", "MT55"},
	"Isuzu":         {"NPR", "NRR"},
}

type modelEntry struct {
	lower, canonical string
}

// modelsByMake holds each make's models, longest first.
var modelsByMake = map[string][]modelEntry{}

// uniqueModels maps a model that identifies its make on its own.
var uniqueModels = map[string]string{}

var (
	uniqueModelRe *regexp.Regexp
	makeRe        *regexp.Regexp
)

var (
	yearFullRe = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
	yearAbbrRe = regexp.MustCompile(`'(\d{2})\b`)
)

func init() {
	count := map[string]int{}
	for mk, models := range makeModels {
		var entries []modelEntry
		for _, m := range models {
			ml := strings.ToLower(m)
			entries = append(entries, modelEntry{ml, m})
			count[ml]++
		}
		sortLongestFirst(entries, func(e modelEntry) string { return e.lower })
		modelsByMake[mk] = entries
	}

	var uniq []string
	for mk, models := range makeModels {
		for _, m := range models {
			ml := strings.ToLower(m)
			if count[ml] == 1 {
				uniqueModels[ml] = mk
				uniq = append(uniq, regexp.QuoteMeta(ml))
			}
		}
	}
	sortLongestFirst(uniq, func(s string) string { return s })
	uniqueModelRe = regexp.MustCompile(`(?i)\b(` + strings.Join(uniq, "|") + `)\b`)

	var names []string
	for alias := range makeAliases {
		names = append(names, regexp.QuoteMeta(alias))
	}
	sortLongestFirst(names, func(s string) string { return s })
	makeRe = regexp.MustCompile(`(?i)\b(` + strings.Join(names, "|") + `)(?:'s)?\b`)
}

func sortLongestFirst[T any](s []T, key func(T) string) {
	slices.SortFunc(s, func(a, b T) int {
		if d := len(key(b)) - len(key(a)); d != 0 {
			return d
		}
		return strings.Compare(key(a), key(b))
	})
}

// ExtractModels finds van make/model mentions in text, best first.
func ExtractModels(text string) []ModelMatch {
	if text == "" {
		return nil
	}
	var matches []ModelMatch
	used := map[string]bool{}
	covered := map[int]bool{} // model offsets consumed by a make match

	for _, loc := range makeRe.FindAllStringSubmatchIndex(text, -1) {
		canonical := makeAliases[strings.ToLower(text[loc[2]:loc[3]])]
		if canonical == "" {
			continue
		}
		afterStart := loc[1]
		after := text[afterStart:min(afterStart+40, len(text))]
		model, modelEnd, modelStart := findModel(canonical, after)
		if model != "" {
			covered[afterStart+modelStart] = true
		}

		before := text[max(0, loc[0]-10):loc[0]]
		year := findYear(before)
		if year == 0 && modelEnd > 0 {
			year = findYear(after[modelEnd:])
		}
		if year == 0 {
			year = findAbbrYear(before)
		}

		conf := 0.60
		switch {
		case year > 0 && model != "":
			conf = 0.95
		case model != "":
			conf = 0.80
		case year > 0:
			conf = 0.70
		}

		end := loc[1]
		if model != "" {
			end = afterStart + modelEnd
		}
		key := canonical + "|" + model
		if used[key] {
			continue
		}
		used[key] = true
		matches = append(matches, ModelMatch{
			Make:       canonical,
			Model:      model,
			Year:       year,
			Confidence: conf,
			Span:       strings.TrimSpace(text[loc[0]:end]),
		})
	}

	for _, loc := range uniqueModelRe.FindAllStringSubmatchIndex(text, -1) {
		if covered[loc[2]] {
			continue
		}
		ml := strings.ToLower(text[loc[2]:loc[3]])
		mk := uniqueModels[ml]
		model := canonicalModel(mk, ml)
		key := mk + "|" + model
		if used[key] {
			continue
		}
		used[key] = true
		near := text[max(0, loc[0]-12):min(loc[1]+12, len(text))]
		year := findYear(near)
		conf := 0.50
		if year > 0 {
			conf = 0.75
		}
		matches = append(matches, ModelMatch{
			Make:       mk,
			Model:      model,
			Year:       year,
			Confidence: conf,
			Span:       text[loc[0]:loc[1]],
		})
	}

	slices.SortStableFunc(matches, func(a, b ModelMatch) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return 0
	})
	return matches
}

// ExtractModel returns the best make/model mention that names a model.
func ExtractModel(text string) (ModelMatch, bool) {
	for _, m := range ExtractModels(text) {
		if m.Model != "" {
			return m, true
		}
	}
	return ModelMatch{}, false
}

func canonicalModel(mk, lower string) string {
	for _, e := range modelsByMake[mk] {
		if e.lower == lower {
			return e.canonical
		}
	}
	return lower
}

// findModel looks for a model of make mk at the start of after. It returns
// the canonical model and the byte offsets where it starts and ends.
func findModel(mk, after string) (model string, end, start int) {
	trimmed := strings.TrimLeftFunc(after, func(r rune) bool {
		return unicode.IsSpace(r) || r == '\'' || r == 0x2019
	})
	offset := len(after) - len(trimmed)
	lower := strings.ToLower(trimmed)

	for _, e := range modelsByMake[mk] {
		if !strings.HasPrefix(lower, e.lower) {
			continue
		}
		n := len(e.lower)
		if n < len(lower) {
			next := rune(lower[n])
			if unicode.IsLetter(next) || unicode.IsDigit(next) {
				continue
			}
		}
		return e.canonical, offset + n, offset
	}
	return "", 0, 0
}

func findYear(s string) int {
	m := yearFullRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	y, _ := strconv.Atoi(m[1])
	if y >= 1990 && y <= 2035 {
		return y
	}
	return 0
}

func findAbbrYear(s string) int {
	m := yearAbbrRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	yy, _ := strconv.Atoi(m[1])
	switch {
	case yy <= 35:
		return 2000 + yy
	case yy >= 90:
		return 1900 + yy
	}
	return 0
}
