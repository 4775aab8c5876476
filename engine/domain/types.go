// Package domain defines the core fleet types, field policies, and error taxonomy
// shared by the reconciliation engine. It also owns identifier normalization, the
// gate every raw van identifier passes before anything is keyed by it.
package domain

import (
	"slices"
	"strings"
	"time"
)

// CanonicalKey identifies one physical vehicle. Produced only by Normalize.
type CanonicalKey string

// String returns the key as stored.
func (k CanonicalKey) String() string { return string(k) }

// Fold returns the case-folded form used for map keys and store lookups.
func (k CanonicalKey) Fold() string { return strings.ToLower(string(k)) }

// Equal reports whether two keys denote the same vehicle.
func (k CanonicalKey) Equal(o CanonicalKey) bool { return strings.EqualFold(string(k), string(o)) }

// Side is the part of a van a photo shows.
type Side string

const (
	SideFront         Side = "front"
	SideRear          Side = "rear"
	SideDriver        Side = "driver_side"
	SidePassenger     Side = "passenger_side"
	SideInterior      Side = "interior"
	SideRoof          Side = "roof"
	SideUndercarriage Side = "undercarriage"
	SideUnknown       Side = "unknown"
)

// Sides lists the known sides in canonical order. SideUnknown is last.
var Sides = []Side{
	SideFront, SideRear, SideDriver, SidePassenger,
	SideInterior, SideRoof, SideUndercarriage, SideUnknown,
}

// ParseSide maps free text ("driver side", "Driver-Side") to a Side.
// Anything unrecognised is SideUnknown.
func ParseSide(s string) Side {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	for _, side := range Sides {
		if s == string(side) {
			return side
		}
	}
	switch s {
	case "back":
		return SideRear
	case "driver", "left", "left_side":
		return SideDriver
	case "passenger", "right", "right_side":
		return SidePassenger
	case "top":
		return SideRoof
	case "underside", "under":
		return SideUndercarriage
	}
	return SideUnknown
}

func sideRank(s Side) int {
	if i := slices.Index(Sides, s); i >= 0 {
		return i
	}
	return len(Sides)
}

// SideSet is a sorted, duplicate-free set of sides. Methods never modify
// the receiver's backing array.
type SideSet []Side

// Contains reports whether s is in the set.
func (ss SideSet) Contains(s Side) bool {
	return slices.Contains(ss, s)
}

// With returns a new set that also holds s.
func (ss SideSet) With(s Side) SideSet {
	if ss.Contains(s) {
		return ss
	}
	out := make(SideSet, 0, len(ss)+1)
	out = append(out, ss...)
	out = append(out, s)
	slices.SortFunc(out, func(a, b Side) int { return sideRank(a) - sideRank(b) })
	return out
}

// Strings returns the set as plain strings, for persistence.
func (ss SideSet) Strings() []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

// SideSetOf builds a set from stored strings, dropping unknown and invalid values.
func SideSetOf(values []string) SideSet {
	var ss SideSet
	for _, v := range values {
		if s := ParseSide(v); s != SideUnknown {
			ss = ss.With(s)
		}
	}
	return ss
}

// Status is the maintenance status of a van's damage state.
type Status string

const (
	StatusActive           Status = "active"
	StatusNeedsMaintenance Status = "needs_maintenance"
)

// ParseStatus maps a stored status string to a Status. Only the
// maintenance spellings map to StatusNeedsMaintenance.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "needs_maintenance", "maintenance":
		return StatusNeedsMaintenance
	}
	return StatusActive
}

// Severity bounds.
const (
	MinSeverity = 0
	MaxSeverity = 3
)

// ClampSeverity forces n into [MinSeverity, MaxSeverity].
func ClampSeverity(n int) int {
	return min(max(n, MinSeverity), MaxSeverity)
}

// Condition is the human label for a severity level.
type Condition string

const (
	ConditionExcellent Condition = "excellent"
	ConditionGood      Condition = "good"
	ConditionFair      Condition = "fair"
	ConditionPoor      Condition = "poor"
)

// ConditionOf maps a severity to its condition label.
func ConditionOf(severity int) Condition {
	switch ClampSeverity(severity) {
	case 0:
		return ConditionExcellent
	case 1:
		return ConditionGood
	case 2:
		return ConditionFair
	default:
		return ConditionPoor
	}
}

// DamageState is the aggregate damage summary for one van.
type DamageState struct {
	Severity      int     `json:"severity"`
	Description   string  `json:"description"`
	AffectedSides SideSet `json:"affected_sides"`
	Status        Status  `json:"status"`
}

// NewDamageState returns the state of a van with no observations.
func NewDamageState() DamageState {
	return DamageState{Severity: 0, Status: StatusActive}
}

// Condition returns the condition label for the current severity.
func (d DamageState) Condition() Condition { return ConditionOf(d.Severity) }

// VehicleRecord is the long-lived entity for one van.
type VehicleRecord struct {
	Key        CanonicalKey      `json:"key"`
	Attributes map[string]string `json:"attributes"`
	Damage     DamageState       `json:"damage"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Attr returns a trimmed attribute value, or "" when absent.
func (r VehicleRecord) Attr(field string) string {
	return strings.TrimSpace(r.Attributes[field])
}

// Clone returns a copy whose attribute map and side set do not alias r's.
func (r VehicleRecord) Clone() VehicleRecord {
	out := r
	out.Attributes = make(map[string]string, len(r.Attributes))
	for k, v := range r.Attributes {
		out.Attributes[k] = v
	}
	out.Damage.AffectedSides = slices.Clone(r.Damage.AffectedSides)
	return out
}

// NewVehicleRecord creates a record with default attributes and a clean damage state.
func NewVehicleRecord(key CanonicalKey, at time.Time) VehicleRecord {
	return VehicleRecord{
		Key: key,
		Attributes: map[string]string{
			FieldType:   DefaultType,
			FieldStatus: DefaultStatus,
			FieldRating: DefaultRating,
		},
		Damage:    NewDamageState(),
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// Observation is one per-photo damage assessment.
type Observation struct {
	Fingerprint string       `json:"fingerprint"`
	VehicleKey  CanonicalKey `json:"vehicle_key"`
	Severity    int          `json:"severity"`
	Description string       `json:"description"`
	Side        Side         `json:"side"`
	Timestamp   time.Time    `json:"timestamp"`
}

// SeenFingerprint records when a (van, image content) pair was first processed.
type SeenFingerprint struct {
	VehicleKey  CanonicalKey `json:"vehicle_key"`
	Fingerprint string       `json:"fingerprint"`
	FirstSeenAt time.Time    `json:"first_seen_at"`
}

// RawRow is one flat key/value row from a bulk import, matched by field name.
type RawRow map[string]string

// DriverStats summarizes the damage reports one driver has uploaded.
type DriverStats struct {
	DriverID     string    `json:"driver_id"`
	Name         string    `json:"name,omitempty"`
	Reports      int       `json:"reports"`
	Uploads      int       `json:"uploads"`
	AvgDamage    float64   `json:"avg_damage"`
	LastUploadAt time.Time `json:"last_upload_at"`
}
