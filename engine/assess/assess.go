// Package assess turns a vision model's reply about a van photo into a
// structured damage observation. Missing or malformed fields default to
// severity 0, an empty description and an unknown side; Parse never fails.
package assess

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/vanfleet/engine/domain"
)

// Source records how an Assessment was obtained.
type Source string

const (
	SourceJSON    Source = "json"
	SourceText    Source = "text"
	SourceDefault Source = "default"
)

// Assessment is the structured result for one photo.
type Assessment struct {
	Severity    int         `json:"severity"`
	Description string      `json:"description"`
	Side        domain.Side `json:"side"`
	DamageType  string      `json:"damage_type,omitempty"`
	Location    string      `json:"location,omitempty"`
	Source      Source      `json:"source"`
}

// Condition returns the label for the assessed severity.
func (a Assessment) Condition() domain.Condition {
	return domain.ConditionOf(a.Severity)
}

// Observation builds the damage observation for key and image fingerprint fp.
func (a Assessment) Observation(key domain.CanonicalKey, fp string, at time.Time) domain.Observation {
	return domain.SanitizeObservation(domain.Observation{
		Fingerprint: fp,
		VehicleKey:  key,
		Severity:    a.Severity,
		Description: a.Description,
		Side:        a.Side,
		Timestamp:   at,
	})
}

// Field names accepted for each value, in priority order.
var (
	severityKeys    = []string{"damage_level", "severity", "van_rating", "rating"}
	descriptionKeys = []string{"damage_description", "description", "van_damage"}
	sideKeys        = []string{"van_side", "side"}
	typeKeys        = []string{"damage_type"}
	locationKeys    = []string{"damage_location", "location"}
)

// Parse reads a vision reply. The first '{' through the last '}' is decoded
// as JSON when possible; otherwise keyword heuristics are applied.
func Parse(reply string) Assessment {
	if strings.TrimSpace(reply) == "" {
		return Default()
	}
	if obj, ok := extractObject(reply); ok {
		return fromObject(obj)
	}
	return fromText(reply)
}

// Default is the assessment used when nothing could be read.
func Default() Assessment {
	return Assessment{Side: domain.SideUnknown, Source: SourceDefault}
}

func extractObject(reply string) (map[string]any, bool) {
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start < 0 || end <= start {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(reply[start:end+1]), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func fromObject(obj map[string]any) Assessment {
	a := Default()
	a.Source = SourceJSON
	if v, ok := first(obj, severityKeys); ok {
		if n, ok := asInt(v); ok {
			a.Severity = n
		}
	}
	if v, ok := first(obj, descriptionKeys); ok {
		if s, ok := v.(string); ok {
			a.Description = strings.TrimSpace(s)
		}
	}
	if v, ok := first(obj, typeKeys); ok {
		if s, ok := v.(string); ok {
			a.DamageType = strings.TrimSpace(s)
		}
	}
	if v, ok := first(obj, locationKeys); ok {
		if s, ok := v.(string); ok {
			a.Location = strings.TrimSpace(s)
		}
	}
	if v, ok := first(obj, sideKeys); ok {
		if s, ok := v.(string); ok {
			a.Side = sideFrom(s)
		}
	}
	if a.Side == domain.SideUnknown {
		a.Side = sideFromDamage(a.Description + " " + a.Location)
	}
	return a
}

func first(obj map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case string:
		f, err := domain.ParseNumeric(n)
		if err != nil {
			return 0, false
		}
		return int(f), true
	}
	return 0, false
}

// sideFrom parses a side value, accepting replies like "front, driver side".
func sideFrom(s string) domain.Side {
	if side := domain.ParseSide(s); side != domain.SideUnknown {
		return side
	}
	return sideMentioned(strings.ToLower(s))
}

// sideMentioned returns the first known side named anywhere in s.
func sideMentioned(s string) domain.Side {
	for _, side := range domain.Sides {
		if side == domain.SideUnknown {
			continue
		}
		name := string(side)
		if strings.Contains(s, name) || strings.Contains(s, strings.ReplaceAll(name, "_", " ")) {
			return side
		}
	}
	return domain.SideUnknown
}

// sideFromDamage infers a side from where the damage is described.
func sideFromDamage(text string) domain.Side {
	t := strings.ToLower(text)
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(t, w) {
				return true
			}
		}
		return false
	}
	switch {
	case has("driver") && has("door"):
		return domain.SideDriver
	case has("passenger") && has("door"):
		return domain.SidePassenger
	case has("front", "headlight", "grille"):
		return domain.SideFront
	case has("rear", "taillight", "back door"):
		return domain.SideRear
	case has("roof"):
		return domain.SideRoof
	case has("undercarriage", "underneath", "wheel well"):
		return domain.SideUndercarriage
	case has("interior", "inside", "cabin"):
		return domain.SideInterior
	}
	return domain.SideUnknown
}

var levelRe = regexp.MustCompile(`(?:damage_level|severity|rating)["'\s:]*(\d)`)

func fromText(reply string) Assessment {
	t := strings.ToLower(reply)
	a := Default()
	a.Source = SourceText
	a.Side = sideMentioned(t)

	if m := levelRe.FindStringSubmatch(t); m != nil {
		a.Severity, _ = strconv.Atoi(m[1])
	} else {
		switch {
		case strings.Contains(t, "dent") || strings.Contains(t, "major damage"):
			a.Severity = 3
		case strings.Contains(t, "scratch") || strings.Contains(t, "scuff"):
			a.Severity = 2
		case strings.Contains(t, "dirt") || strings.Contains(t, "debris"):
			a.Severity = 1
		}
	}

	switch {
	case strings.Contains(t, "dent"):
		a.DamageType = "dents"
	case strings.Contains(t, "scratch"):
		a.DamageType = "scratches"
	case strings.Contains(t, "dirt") || strings.Contains(t, "debris"):
		a.DamageType = "dirt"
	case strings.Contains(t, "rust"):
		a.DamageType = "rust"
	case strings.Contains(t, "paint"):
		a.DamageType = "paint_damage"
	case a.Severity == 0:
		a.DamageType = "none"
	}
	if a.Severity > 0 {
		a.Description = strings.TrimSpace(reply)
	}
	return a
}
