package domain

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func TestParseSide(t *testing.T) {
	cases := map[string]Side{
		"front":          SideFront,
		"REAR":           SideRear,
		"driver side":    SideDriver,
		"driver-side":    SideDriver,
		"passenger_side": SidePassenger,
		"interior":       SideInterior,
		"roof":           SideRoof,
		"undercarriage":  SideUndercarriage,
		"back":           SideRear,
		"":               SideUnknown,
		"bumper":         SideUnknown,
	}
	for in, want := range cases {
		if got := ParseSide(in); got != want {
			t.Errorf("ParseSide(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSideSetWith(t *testing.T) {
	var ss SideSet
	ss = ss.With(SideRear).With(SideFront).With(SideRear)
	want := SideSet{SideFront, SideRear}
	if !slices.Equal(ss, want) {
		t.Fatalf("got %v, want %v", ss, want)
	}

	base := SideSet{SideFront}
	grown := base.With(SideRoof)
	if len(base) != 1 {
		t.Fatal("With must not modify the receiver")
	}
	if !grown.Contains(SideRoof) {
		t.Fatal("grown set should contain roof")
	}
}

func TestSideSetOf(t *testing.T) {
	ss := SideSetOf([]string{"rear", "unknown", "front", "garbage", "rear"})
	if !slices.Equal(ss, SideSet{SideFront, SideRear}) {
		t.Fatalf("unexpected %v", ss)
	}
	if !slices.Equal(ss.Strings(), []string{"front", "rear"}) {
		t.Fatalf("unexpected strings %v", ss.Strings())
	}
}

func TestConditionOf(t *testing.T) {
	want := []Condition{ConditionExcellent, ConditionGood, ConditionFair, ConditionPoor}
	for sev, c := range want {
		if got := ConditionOf(sev); got != c {
			t.Errorf("ConditionOf(%d) = %q, want %q", sev, got, c)
		}
	}
	if ConditionOf(7) != ConditionPoor || ConditionOf(-1) != ConditionExcellent {
		t.Error("out-of-range severities should clamp")
	}
}

func TestParseStatus(t *testing.T) {
	if ParseStatus("Maintenance") != StatusNeedsMaintenance {
		t.Error("Maintenance should map to needs_maintenance")
	}
	if ParseStatus("needs_maintenance") != StatusNeedsMaintenance {
		t.Error("needs_maintenance round-trip")
	}
	if ParseStatus("") != StatusActive || ParseStatus("Active") != StatusActive {
		t.Error("default status should be active")
	}
}

func TestNewVehicleRecord(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := NewVehicleRecord("van_07", at)
	if r.Attr(FieldType) != DefaultType || r.Attr(FieldStatus) != DefaultStatus || r.Attr(FieldRating) != "0" {
		t.Fatalf("unexpected defaults %v", r.Attributes)
	}
	if r.Damage.Severity != 0 || r.Damage.Status != StatusActive {
		t.Fatalf("unexpected damage %+v", r.Damage)
	}
	if !r.CreatedAt.Equal(at) || !r.UpdatedAt.Equal(at) {
		t.Fatal("timestamps not set")
	}
}

func TestVehicleRecordClone(t *testing.T) {
	r := NewVehicleRecord("van_07", time.Now())
	r.Damage.AffectedSides = SideSet{SideFront}
	c := r.Clone()
	c.Attributes[FieldType] = "Transit"
	c.Damage.AffectedSides[0] = SideRoof
	if r.Attributes[FieldType] != DefaultType {
		t.Fatal("clone aliases attributes")
	}
	if r.Damage.AffectedSides[0] != SideFront {
		t.Fatal("clone aliases sides")
	}
}

func TestAccumulate(t *testing.T) {
	tests := []struct{ existing, incoming, want string }{
		{"", "", ""},
		{"dent", "", "dent"},
		{"", "dent", "dent"},
		{"dent", "scratch", "dent | scratch"},
		{"dent | scratch", "scratch", "dent | scratch"},
		{"big dent", "dent", "big dent"},
		{" dent ", " scratch ", "dent | scratch"},
	}
	for _, tt := range tests {
		if got := Accumulate(tt.existing, tt.incoming); got != tt.want {
			t.Errorf("Accumulate(%q, %q) = %q, want %q", tt.existing, tt.incoming, got, tt.want)
		}
	}
}

func TestFragments(t *testing.T) {
	got := Fragments("a | b |  | c")
	if !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected %v", got)
	}
}

func TestClassOf(t *testing.T) {
	cases := map[string]FieldClass{
		"type":               ClassEnumerated,
		"Status":             ClassEnumerated,
		"date":               ClassFillEmpty,
		"Last Updated":       ClassFillEmpty,
		"url":                ClassFillEmpty,
		"driver":             ClassFillEmpty,
		"notes":              ClassAccumulate,
		"damage":             ClassAccumulate,
		"damage_description": ClassAccumulate,
		"rating":             ClassNumericMax,
		"van_rating":         ClassNumericMax,
		"mileage":            ClassOpaque,
	}
	for f, want := range cases {
		if got := ClassOf(f); got != want {
			t.Errorf("ClassOf(%q) = %s, want %s", f, got, want)
		}
	}
}

func TestIsDefault(t *testing.T) {
	if !IsDefault(FieldType, "unknown") || !IsDefault(FieldStatus, " Active ") {
		t.Error("defaults should match case-insensitively")
	}
	if IsDefault(FieldType, "Transit") || IsDefault(FieldNotes, "Unknown") {
		t.Error("non-defaults reported as default")
	}
}

func TestParseNumeric(t *testing.T) {
	for in, want := range map[string]float64{"3": 3, " 2.5 ": 2.5, "2/3": 2, "0": 0} {
		got, err := ParseNumeric(in)
		if err != nil || got != want {
			t.Errorf("ParseNumeric(%q) = %v, %v", in, got, err)
		}
	}
	for _, in := range []string{"", "n/a", "three"} {
		if _, err := ParseNumeric(in); !errors.Is(err, ErrUnparsableNumeric) {
			t.Errorf("ParseNumeric(%q): expected ErrUnparsableNumeric, got %v", in, err)
		}
	}
	if FormatNumeric(3) != "3" || FormatNumeric(2.5) != "2.5" {
		t.Error("FormatNumeric")
	}
}
