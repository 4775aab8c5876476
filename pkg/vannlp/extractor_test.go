package vannlp

import "testing"

func TestExtractIdentifier(t *testing.T) {
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"van 7 has a dent", "van_7", true},
		{"Van #12 front bumper", "van_12", true},
		{"VAN12 rear door", "van_12", true},
		{"truck 4 needs tyres", "4", true},
		{"vehicle #9", "9", true},
		{"photo of #31", "31", true},
		{"this is 18", "18", true},
		{"parked next to 3, this is van 22", "van_22", true},
		{"rating: 2, van 5", "van_5", true},
		{"caravan 5", "5", true},
		{"no number here", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ExtractIdentifier(tt.input)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ExtractIdentifier(%q) = %q, %v; want %q, %v", tt.input, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestExtract_RatingDigitsIgnored(t *testing.T) {
	for _, in := range []string{"rating 2", "condition: 3", "1/3", "2 out of 3"} {
		if m := ExtractBest(in); m != nil {
			t.Errorf("ExtractBest(%q) = %+v, want nil", in, m)
		}
	}
}

func TestExtract_Order(t *testing.T) {
	ms := Extract("#4 and van 8 and truck 2")
	if len(ms) != 3 {
		t.Fatalf("expected 3 mentions, got %+v", ms)
	}
	want := []string{"van_8", "2", "4"}
	for i, w := range want {
		if ms[i].Identifier != w {
			t.Errorf("mention %d = %q, want %q", i, ms[i].Identifier, w)
		}
	}
	if ms[0].Span != "van 8" || ms[0].Pattern != "van" {
		t.Errorf("unexpected first mention %+v", ms[0])
	}
}

func TestExtractRating(t *testing.T) {
	tests := []struct {
		input string
		want  int
		ok    bool
	}{
		{"van 7 rating: 2", 2, true},
		{"Condition 3 on the rear", 3, true},
		{"I'd say 1/3", 1, true},
		{"1 / 3 overall", 1, true},
		{"rate 0", 0, true},
		{"2 out of 3", 2, true},
		{"rating: 7", 0, false},
		{"van 7", 0, false},
	}
	for _, tt := range tests {
		got, ok := ExtractRating(tt.input)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ExtractRating(%q) = %d, %v; want %d, %v", tt.input, got, ok, tt.want, tt.ok)
		}
	}
}

func TestExtractModel(t *testing.T) {
	tests := []struct {
		input     string
		wantMake  string
		wantModel string
		wantYear  int
	}{
		{"van 7 is a 2019 Ford Transit", "Ford", "Transit", 2019},
		{"Ford Transit Connect, van 3", "Ford", "Transit Connect", 0},
		{"the merc sprinter 2021 has a dent", "Mercedes-Benz", "Sprinter", 2021},
		{"new ProMaster City arrived", "Ram", "ProMaster City", 0},
		{"Chevy Express rear door", "Chevrolet", "Express", 0},
		{"'22 Nissan NV200", "Nissan", "NV200", 2022},
		{"sprinter van 4", "Mercedes-Benz", "Sprinter", 0},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			m, ok := ExtractModel(tt.input)
			if !ok {
				t.Fatalf("ExtractModel(%q) found nothing", tt.input)
			}
			if m.Make != tt.wantMake || m.Model != tt.wantModel || m.Year != tt.wantYear {
				t.Errorf("got %s %s %d, want %s %s %d", m.Make, m.Model, m.Year, tt.wantMake, tt.wantModel, tt.wantYear)
			}
		})
	}
}

func TestExtractModel_None(t *testing.T) {
	if _, ok := ExtractModel("van 7 has a dent on the front"); ok {
		t.Error("expected no model")
	}
	if _, ok := ExtractModel("my Ford is dirty"); ok {
		t.Error("make without model should not count")
	}
}

func TestModelMatchType(t *testing.T) {
	if got := (ModelMatch{Make: "Ford", Model: "Transit"}).Type(); got != "Ford Transit" {
		t.Fatalf("Type() = %q", got)
	}
}
