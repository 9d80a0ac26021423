// Package catalog provides the immutable table of synthesizable voices.
//
// A [Catalog] is built once ([Default] or [Load]) and shared read-only by the
// character registry, the voice assignment policy, the generation pipeline
// and the HTTP layer. Voice ids written by older releases are translated to
// their current equivalents by [Catalog.Resolve].
package catalog

import (
	"errors"
	"fmt"
	"slices"

	"github.com/MrWong99/voicepages/pkg/types"
)

// DefaultNarratorID is the voice every narrator resolves to unless a record
// overrides it.
const DefaultNarratorID = "af_samantha"

// ErrUnknownVoice is returned by [Catalog.Require] for ids the table does
// not contain.
var ErrUnknownVoice = errors.New("catalog: unknown voice")

// Catalog is an immutable voice table.
type Catalog struct {
	voices   []types.VoiceProfile
	byID     map[string]int
	aliases  map[string]string
	narrator string
}

// defaultVoices is the compiled-in voice table, in assignment preference
// order.
var defaultVoices = []types.VoiceProfile{
	{ID: "af_nova", Name: "Nova", Gender: types.GenderFemale, Accent: "american", Style: "neural"},
	{ID: "af_shimmer", Name: "Shimmer", Gender: types.GenderFemale, Accent: "american", Style: "neural"},
	{ID: "af_samantha", Name: "Samantha", Gender: types.GenderFemale, Accent: "american", Style: "clear"},
	{ID: "af_zoey", Name: "Zoey", Gender: types.GenderFemale, Accent: "american", Style: "young"},
	{ID: "af_allison", Name: "Allison", Gender: types.GenderFemale, Accent: "american", Style: "warm"},
	{ID: "af_ava", Name: "Ava", Gender: types.GenderFemale, Accent: "american", Style: "modern"},
	{ID: "af_victoria", Name: "Victoria", Gender: types.GenderFemale, Accent: "american", Style: "professional"},
	{ID: "am_alex", Name: "Alex", Gender: types.GenderMale, Accent: "american", Style: "default"},
	{ID: "am_daniel", Name: "Daniel", Gender: types.GenderMale, Accent: "american", Style: "deep"},
	{ID: "am_fred", Name: "Fred", Gender: types.GenderMale, Accent: "american", Style: "robotic"},
	{ID: "bf_amelie", Name: "Amelie", Gender: types.GenderFemale, Accent: "british", Style: "elegant"},
	{ID: "bm_daniel", Name: "Daniel (UK)", Gender: types.GenderMale, Accent: "british", Style: "professional"},
	{ID: "bm_oliver", Name: "Oliver", Gender: types.GenderMale, Accent: "british", Style: "formal"},
}

// defaultAliases maps retired voice ids to the voice that replaced them.
var defaultAliases = map[string]string{
	"af_sky":      "af_samantha",
	"af_heart":    "af_victoria",
	"af_bella":    "af_zoey",
	"af_sarah":    "af_allison",
	"am_adam":     "am_daniel",
	"am_echo":     "am_alex",
	"am_michael":  "am_daniel",
	"bm_george":   "bm_oliver",
	"bm_felix":    "bm_oliver",
	"bf_alice":    "bf_amelie",
	"bf_emma":     "bf_amelie",
	"bf_isabella": "bf_amelie",
}

// Default returns the compiled-in catalog.
func Default() *Catalog {
	c, err := New(defaultVoices, defaultAliases, DefaultNarratorID)
	if err != nil {
		panic("catalog: invalid default table: " + err.Error())
	}
	return c
}

// New validates and builds a catalog. Voice ids must be non-empty and
// unique, genders must be known, every alias must target an existing voice,
// and narratorID must be a voice in the table.
func New(voices []types.VoiceProfile, aliases map[string]string, narratorID string) (*Catalog, error) {
	c := &Catalog{
		voices:   slices.Clone(voices),
		byID:     make(map[string]int, len(voices)),
		aliases:  make(map[string]string, len(aliases)),
		narrator: narratorID,
	}

	var errs []error
	if len(voices) == 0 {
		errs = append(errs, errors.New("voice table is empty"))
	}
	for i, v := range c.voices {
		if v.ID == "" {
			errs = append(errs, fmt.Errorf("voices[%d]: id is required", i))
			continue
		}
		if _, dup := c.byID[v.ID]; dup {
			errs = append(errs, fmt.Errorf("voices[%d]: duplicate id %q", i, v.ID))
			continue
		}
		if !v.Gender.IsValid() {
			errs = append(errs, fmt.Errorf("voices[%d] %q: invalid gender %q", i, v.ID, v.Gender))
		}
		c.byID[v.ID] = i
	}
	for from, to := range aliases {
		if _, ok := c.byID[to]; !ok {
			errs = append(errs, fmt.Errorf("alias %q targets unknown voice %q", from, to))
			continue
		}
		c.aliases[from] = to
	}
	if _, ok := c.byID[narratorID]; !ok {
		errs = append(errs, fmt.Errorf("narrator voice %q is not in the table", narratorID))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return c, nil
}

// Voices returns all voices in table order.
func (c *Catalog) Voices() []types.VoiceProfile {
	return slices.Clone(c.voices)
}

// Len returns the number of voices.
func (c *Catalog) Len() int { return len(c.voices) }

// Resolve maps a retired voice id to its replacement. Unknown ids are
// returned unchanged.
func (c *Catalog) Resolve(id string) string {
	if to, ok := c.aliases[id]; ok {
		return to
	}
	return id
}

// Lookup returns the voice for id after alias resolution.
func (c *Catalog) Lookup(id string) (types.VoiceProfile, bool) {
	i, ok := c.byID[c.Resolve(id)]
	if !ok {
		return types.VoiceProfile{}, false
	}
	return c.voices[i], true
}

// Require is [Catalog.Lookup] for user input: unknown ids wrap
// [ErrUnknownVoice].
func (c *Catalog) Require(id string) (types.VoiceProfile, error) {
	v, ok := c.Lookup(id)
	if !ok {
		return types.VoiceProfile{}, fmt.Errorf("%w: %q", ErrUnknownVoice, id)
	}
	return v, nil
}

// Contains reports whether id (after alias resolution) names a voice.
func (c *Catalog) Contains(id string) bool {
	_, ok := c.Lookup(id)
	return ok
}

// ByGender returns the voices of gender g in table order. For
// [types.GenderUnknown] the whole table is returned.
func (c *Catalog) ByGender(g types.Gender) []types.VoiceProfile {
	if g != types.GenderMale && g != types.GenderFemale {
		return c.Voices()
	}
	var out []types.VoiceProfile
	for _, v := range c.voices {
		if v.Gender == g {
			out = append(out, v)
		}
	}
	return out
}

// Narrator returns the default narrator voice.
func (c *Catalog) Narrator() types.VoiceProfile {
	return c.voices[c.byID[c.narrator]]
}
