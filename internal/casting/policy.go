// Package casting assigns catalog voices to characters.
//
// The [Policy] hands out voices deterministically: characters are visited
// in role order (main, supporting, minor, system; names break ties) and each
// takes the first unused voice of its gender pool, reusing the least-used
// pool voice once the pool is exhausted. System characters always get the
// catalog's narrator voice. The [LLMCaster] lets a language model pick
// voices first and leaves the rest to the policy.
package casting

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/voicepages/internal/catalog"
	"github.com/MrWong99/voicepages/pkg/types"
)

// NarratorReasoning is the reasoning recorded for system characters.
const NarratorReasoning = "Default narrator voice (clear, warm)"

// Caster maps characters to voices. The returned map holds exactly one
// entry per distinct character name.
type Caster interface {
	Cast(ctx context.Context, chars []types.Character) (map[string]types.VoiceAssignment, error)
}

// Policy is the rule-based [Caster]. It is read-only and safe for
// concurrent use.
type Policy struct {
	catalog *catalog.Catalog
}

// NewPolicy returns a Policy drawing voices from cat.
func NewPolicy(cat *catalog.Catalog) *Policy {
	return &Policy{catalog: cat}
}

// Cast implements [Caster]. It never fails.
func (p *Policy) Cast(_ context.Context, chars []types.Character) (map[string]types.VoiceAssignment, error) {
	return p.Assign(chars, nil), nil
}

// Assign maps every character to a voice. preset pins characters to voice
// ids chosen elsewhere; presets naming unknown voices are ignored. Presets
// count as used voices before the remaining characters are assigned.
func (p *Policy) Assign(chars []types.Character, preset map[string]string) map[string]types.VoiceAssignment {
	ordered := sortByRole(chars)
	out := make(map[string]types.VoiceAssignment, len(ordered))
	uses := make(map[string]int)

	narrator := p.catalog.Narrator()
	for _, c := range ordered {
		if c.Role != types.RoleSystem {
			continue
		}
		out[c.Name] = types.VoiceAssignment{
			Character: c.Name,
			VoiceID:   narrator.ID,
			VoiceName: narrator.Name,
			Reasoning: NarratorReasoning,
		}
		uses[narrator.ID]++
	}

	for _, c := range ordered {
		if _, done := out[c.Name]; done {
			continue
		}
		id, ok := preset[c.Name]
		if !ok {
			continue
		}
		v, ok := p.catalog.Lookup(id)
		if !ok {
			continue
		}
		out[c.Name] = types.VoiceAssignment{
			Character: c.Name,
			VoiceID:   v.ID,
			VoiceName: v.Name,
			Reasoning: fmt.Sprintf("Cast %s voice for %s", v.Style, c.Name),
		}
		uses[v.ID]++
	}

	for _, c := range ordered {
		if _, done := out[c.Name]; done {
			continue
		}
		g := c.Gender
		if !g.IsValid() {
			g = types.GenderUnknown
		}
		v := pick(p.pool(g), uses)
		uses[v.ID]++
		out[c.Name] = types.VoiceAssignment{
			Character: c.Name,
			VoiceID:   v.ID,
			VoiceName: v.Name,
			Reasoning: fmt.Sprintf("Assigned %s voice for %s character", v.Style, g),
		}
	}
	return out
}

// pool returns the candidate voices for gender g. A gender without voices
// in the catalog draws from the whole table.
func (p *Policy) pool(g types.Gender) []types.VoiceProfile {
	if pool := p.catalog.ByGender(g); len(pool) > 0 {
		return pool
	}
	return p.catalog.Voices()
}

// pick returns the first unused voice of pool, or else the least-used one
// (earliest in table order on ties).
func pick(pool []types.VoiceProfile, uses map[string]int) types.VoiceProfile {
	best := pool[0]
	for _, v := range pool {
		if uses[v.ID] == 0 {
			return v
		}
		if uses[v.ID] < uses[best.ID] {
			best = v
		}
	}
	return best
}

// sortByRole returns the distinct characters (first occurrence wins) in
// role priority order, names breaking ties.
func sortByRole(chars []types.Character) []types.Character {
	seen := make(map[string]struct{}, len(chars))
	out := make([]types.Character, 0, len(chars))
	for _, c := range chars {
		if _, dup := seen[c.Name]; dup {
			continue
		}
		seen[c.Name] = struct{}{}
		out = append(out, c)
	}
	slices.SortStableFunc(out, func(a, b types.Character) int {
		if pa, pb := a.Role.Priority(), b.Role.Priority(); pa != pb {
			return pa - pb
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Records converts assignments into persistence records in role order.
// Characters without an assignment are skipped.
func Records(assignments map[string]types.VoiceAssignment, chars []types.Character) []types.CharacterRecord {
	ordered := sortByRole(chars)
	out := make([]types.CharacterRecord, 0, len(ordered))
	for _, c := range ordered {
		a, ok := assignments[c.Name]
		if !ok {
			continue
		}
		out = append(out, types.CharacterRecord{
			Name:       c.Name,
			Gender:     c.Gender,
			Role:       c.Role,
			VoiceID:    a.VoiceID,
			IsNarrator: c.Role == types.RoleSystem,
		})
	}
	return out
}

var _ Caster = (*Policy)(nil)
