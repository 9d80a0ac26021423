package types

import "testing"

func TestParseGender(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Gender
	}{
		{"male", GenderMale},
		{" Female ", GenderFemale},
		{"M", GenderMale},
		{"woman", GenderFemale},
		{"unknown", GenderUnknown},
		{"", GenderUnknown},
		{"nonbinary", GenderUnknown},
	}
	for _, tt := range tests {
		if got := ParseGender(tt.in); got != tt.want {
			t.Errorf("ParseGender(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseRole(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Role
	}{
		{"main", RoleMain},
		{"Supporting", RoleSupporting},
		{"protagonist", RoleMain},
		{"system", RoleSystem},
		{"extra", RoleMinor},
		{"", RoleMinor},
	}
	for _, tt := range tests {
		if got := ParseRole(tt.in); got != tt.want {
			t.Errorf("ParseRole(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRolePriority(t *testing.T) {
	t.Parallel()

	order := []Role{RoleMain, RoleSupporting, RoleMinor, RoleSystem}
	for i := 1; i < len(order); i++ {
		if order[i-1].Priority() >= order[i].Priority() {
			t.Errorf("%s priority %d should be below %s priority %d",
				order[i-1], order[i-1].Priority(), order[i], order[i].Priority())
		}
	}
	if Role("bogus").Priority() != RoleMinor.Priority() {
		t.Error("unknown role should sort with minor")
	}
}

func TestCharacterIsNarrator(t *testing.T) {
	t.Parallel()

	if !(Character{Name: NarratorName}).IsNarrator() {
		t.Error("Narrator by name should be narrator")
	}
	if !(Character{Name: "Voice", Role: RoleSystem}).IsNarrator() {
		t.Error("system role should be narrator")
	}
	if (Character{Name: "Alice", Role: RoleMain}).IsNarrator() {
		t.Error("Alice should not be narrator")
	}
}
