package casting

import (
	"context"
	"fmt"
	"testing"

	"github.com/MrWong99/voicepages/internal/catalog"
	"github.com/MrWong99/voicepages/pkg/types"
)

func ch(name string, g types.Gender, r types.Role) types.Character {
	return types.Character{Name: name, Gender: g, Role: r}
}

func TestPolicy_Assign(t *testing.T) {
	t.Parallel()

	chars := []types.Character{
		ch(types.NarratorName, types.GenderUnknown, types.RoleSystem),
		ch("Carol", types.GenderFemale, types.RoleSupporting),
		ch("Bob", types.GenderMale, types.RoleMain),
		ch("Alice", types.GenderFemale, types.RoleMain),
		ch("Dana", types.GenderFemale, types.RoleMain),
		ch("Eve", types.GenderUnknown, types.RoleMinor),
	}
	got := NewPolicy(catalog.Default()).Assign(chars, nil)

	want := map[string]string{
		types.NarratorName: "af_samantha",
		"Alice":            "af_nova",
		"Bob":              "am_alex",
		"Dana":             "af_shimmer",
		// af_samantha is taken by the narrator.
		"Carol": "af_zoey",
		// Unknown gender draws from the whole table.
		"Eve": "af_allison",
	}
	if len(got) != len(want) {
		t.Fatalf("Assign returned %d entries, want %d", len(got), len(want))
	}
	for name, id := range want {
		if got[name].VoiceID != id {
			t.Errorf("%s = %s, want %s", name, got[name].VoiceID, id)
		}
		if got[name].Character != name {
			t.Errorf("%s: Character = %q", name, got[name].Character)
		}
	}
	if r := got[types.NarratorName].Reasoning; r != NarratorReasoning {
		t.Errorf("narrator reasoning = %q", r)
	}
	if r := got["Alice"].Reasoning; r != "Assigned neural voice for female character" {
		t.Errorf("Alice reasoning = %q", r)
	}
	if n := got["Bob"].VoiceName; n != "Alex" {
		t.Errorf("Bob voice name = %q", n)
	}
}

func TestPolicy_ReusesLeastUsedWhenPoolExhausted(t *testing.T) {
	t.Parallel()

	var chars []types.Character
	for i := 1; i <= 7; i++ {
		chars = append(chars, ch(fmt.Sprintf("M%d", i), types.GenderMale, types.RoleMain))
	}
	got := NewPolicy(catalog.Default()).Assign(chars, nil)

	want := []string{"am_alex", "am_daniel", "am_fred", "bm_daniel", "bm_oliver", "am_alex", "am_daniel"}
	for i, id := range want {
		name := fmt.Sprintf("M%d", i+1)
		if got[name].VoiceID != id {
			t.Errorf("%s = %s, want %s", name, got[name].VoiceID, id)
		}
	}
}

func TestPolicy_DistinctPrincipalVoices(t *testing.T) {
	t.Parallel()

	chars := []types.Character{
		ch("A", types.GenderFemale, types.RoleMain),
		ch("B", types.GenderFemale, types.RoleMain),
		ch("C", types.GenderFemale, types.RoleSupporting),
		ch("D", types.GenderMale, types.RoleSupporting),
		ch("E", types.GenderMale, types.RoleMain),
		ch("F", types.GenderUnknown, types.RoleSupporting),
		ch(types.NarratorName, types.GenderUnknown, types.RoleSystem),
	}
	got := NewPolicy(catalog.Default()).Assign(chars, nil)

	seen := map[string]string{}
	for _, c := range chars {
		if c.Role == types.RoleSystem {
			continue
		}
		id := got[c.Name].VoiceID
		if other, dup := seen[id]; dup {
			t.Errorf("%s and %s share %s", c.Name, other, id)
		}
		seen[id] = c.Name
	}
}

func TestPolicy_TotalMapping(t *testing.T) {
	t.Parallel()

	cat := catalog.Default()
	genders := []types.Gender{types.GenderMale, types.GenderFemale, types.GenderUnknown, ""}
	roles := []types.Role{types.RoleMain, types.RoleSupporting, types.RoleMinor, types.RoleSystem}

	for n := 0; n < 40; n += 3 {
		var chars []types.Character
		for i := range n {
			chars = append(chars, ch(fmt.Sprintf("C%02d", i), genders[i%len(genders)], roles[(i/2)%len(roles)]))
		}
		// A duplicate name must not yield a second entry.
		if n > 0 {
			chars = append(chars, chars[0])
		}
		got := NewPolicy(cat).Assign(chars, nil)
		if len(got) != n {
			t.Fatalf("n=%d: %d assignments", n, len(got))
		}
		for _, c := range chars {
			a, ok := got[c.Name]
			if !ok {
				t.Fatalf("n=%d: %s unassigned", n, c.Name)
			}
			if !cat.Contains(a.VoiceID) {
				t.Errorf("n=%d: %s got unknown voice %s", n, c.Name, a.VoiceID)
			}
			if c.Role == types.RoleSystem && a.VoiceID != cat.Narrator().ID {
				t.Errorf("n=%d: system character %s got %s", n, c.Name, a.VoiceID)
			}
		}
	}
}

func TestPolicy_Presets(t *testing.T) {
	t.Parallel()

	chars := []types.Character{
		ch("Alice", types.GenderFemale, types.RoleMain),
		ch("Beth", types.GenderFemale, types.RoleMain),
		ch(types.NarratorName, types.GenderUnknown, types.RoleSystem),
	}
	got := NewPolicy(catalog.Default()).Assign(chars, map[string]string{
		"Beth":             "af_bella", // legacy alias of af_zoey
		"Alice":            "nope",
		types.NarratorName: "am_fred",
	})
	if got["Beth"].VoiceID != "af_zoey" {
		t.Errorf("Beth = %s, want af_zoey", got["Beth"].VoiceID)
	}
	if got["Alice"].VoiceID != "af_nova" {
		t.Errorf("Alice = %s, want af_nova", got["Alice"].VoiceID)
	}
	if got[types.NarratorName].VoiceID != "af_samantha" {
		t.Errorf("narrator = %s, presets must not move the narrator", got[types.NarratorName].VoiceID)
	}
}

func TestPolicy_SingleGenderCatalog(t *testing.T) {
	t.Parallel()

	cat, err := catalog.New([]types.VoiceProfile{
		{ID: "f1", Name: "F1", Gender: types.GenderFemale, Style: "soft"},
		{ID: "f2", Name: "F2", Gender: types.GenderFemale, Style: "bright"},
	}, nil, "f1")
	if err != nil {
		t.Fatal(err)
	}
	got := NewPolicy(cat).Assign([]types.Character{ch("Hal", types.GenderMale, types.RoleMain)}, nil)
	if got["Hal"].VoiceID != "f1" {
		t.Errorf("Hal = %s, want f1 from the full table", got["Hal"].VoiceID)
	}
}

func TestPolicy_Cast(t *testing.T) {
	t.Parallel()

	got, err := NewPolicy(catalog.Default()).Cast(context.Background(), []types.Character{ch("A", types.GenderMale, types.RoleMain)})
	if err != nil || got["A"].VoiceID != "am_alex" {
		t.Errorf("Cast = %+v, %v", got, err)
	}
}

func TestRecords(t *testing.T) {
	t.Parallel()

	chars := []types.Character{
		ch(types.NarratorName, types.GenderUnknown, types.RoleSystem),
		ch("Bob", types.GenderMale, types.RoleMinor),
		ch("Alice", types.GenderFemale, types.RoleMain),
		ch("Ghost", types.GenderUnknown, types.RoleMinor),
	}
	assignments := map[string]types.VoiceAssignment{
		types.NarratorName: {VoiceID: "af_samantha"},
		"Alice":            {VoiceID: "af_nova"},
		"Bob":              {VoiceID: "am_alex"},
	}
	got := Records(assignments, chars)
	want := []types.CharacterRecord{
		{Name: "Alice", Gender: types.GenderFemale, Role: types.RoleMain, VoiceID: "af_nova"},
		{Name: "Bob", Gender: types.GenderMale, Role: types.RoleMinor, VoiceID: "am_alex"},
		{Name: types.NarratorName, Gender: types.GenderUnknown, Role: types.RoleSystem, VoiceID: "af_samantha", IsNarrator: true},
	}
	if len(got) != len(want) {
		t.Fatalf("Records = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}
