package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizeObservation(t *testing.T) {
	obs := SanitizeObservation(Observation{Severity: 9, Side: "Driver Side", Description: "  dent  "})
	if obs.Severity != 3 {
		t.Errorf("severity not clamped: %d", obs.Severity)
	}
	if obs.Side != SideDriver {
		t.Errorf("side = %q", obs.Side)
	}
	if obs.Description != "dent" {
		t.Errorf("description = %q", obs.Description)
	}

	obs = SanitizeObservation(Observation{Severity: -4, Side: "wing mirror"})
	if obs.Severity != 0 || obs.Side != SideUnknown {
		t.Errorf("unexpected %+v", obs)
	}
}

func TestSanitizeObservation_LongDescription(t *testing.T) {
	obs := SanitizeObservation(Observation{Description: strings.Repeat("x", maxDescriptionRunes+50)})
	if len([]rune(obs.Description)) != maxDescriptionRunes {
		t.Fatalf("description not capped: %d", len(obs.Description))
	}
}

func TestCanonicalRow(t *testing.T) {
	row := CanonicalRow(RawRow{
		"Van Number":  " van 7 ",
		" TYPE ":      "Transit",
		"notes":       "",
		"Notes":       "left mirror",
		"":            "dropped",
		"Extra Field": "x",
	})
	if row[KeyField] != "van 7" {
		t.Errorf("key field = %q", row[KeyField])
	}
	if row[FieldType] != "Transit" {
		t.Errorf("type = %q", row[FieldType])
	}
	if row[FieldNotes] != "left mirror" {
		t.Errorf("notes = %q", row[FieldNotes])
	}
	if row["extra_field"] != "x" {
		t.Errorf("extra field = %q", row["extra_field"])
	}
	if _, ok := row[""]; ok {
		t.Error("empty column name should be dropped")
	}
}

func TestCanonicalRow_ExportArtifacts(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"\"scratch on\nleft door\"", "scratch on left door"},
		{`12" dent on door`, `12" dent on door`},
		{`driver said "fine"`, `driver said "fine"`},
		{`"stray quote`, "stray quote"},
		{`bumper 6"`, `bumper 6"`},
		{`""`, ""},
		{`"left" mirror "cracked"`, `"left" mirror "cracked"`},
	}
	for _, tt := range tests {
		row := CanonicalRow(RawRow{"notes": tt.in, "zone_code": tt.in})
		if row[FieldNotes] != tt.want || row["zone_code"] != tt.want {
			t.Errorf("CanonicalRow(%q) = %q, %q, want %q", tt.in, row[FieldNotes], row["zone_code"], tt.want)
		}
	}
}

func TestRowKey(t *testing.T) {
	k, err := RowKey(RawRow{KeyField: "van_07_2"})
	if err != nil || k != "van_07" {
		t.Fatalf("RowKey = %q, %v", k, err)
	}
	if _, err := RowKey(RawRow{FieldType: "Transit"}); !errors.Is(err, ErrMissingIdentifier) {
		t.Fatalf("expected ErrMissingIdentifier, got %v", err)
	}
}

func TestValidationError_Format(t *testing.T) {
	ve := NewValidationError(KeyField, "", ErrMissingIdentifier)
	if !strings.Contains(ve.Error(), "missing identifier") {
		t.Fatalf("unexpected message %q", ve.Error())
	}
	ve.Row = 4
	if !strings.Contains(ve.Error(), "row 4") {
		t.Fatalf("row not in message %q", ve.Error())
	}
	if !IsMissingIdentifier(ve) {
		t.Fatal("should unwrap to ErrMissingIdentifier")
	}
}
