package character

import (
	"fmt"
	"regexp"
	"slices"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/voicepages/internal/lexicon"
	"github.com/MrWong99/voicepages/pkg/types"
)

// Heuristic thresholds.
const (
	MainThreshold       = 10
	SupportingThreshold = 3
	MaxCandidates       = 15
)

// heuristicName captures a single capitalised word. leadIn stands in for
// \b, which only knows ASCII word characters.
const (
	heuristicName = `(\p{Lu}\p{L}+)`
	leadIn        = `(?:^|[^\p{L}])`
)

// Heuristic detects characters from attribution patterns alone. It is
// read-only after construction and safe for concurrent use.
type Heuristic struct {
	lex      *lexicon.Lexicon
	patterns []*regexp.Regexp
	gender   *genderVoter
}

// NewHeuristic compiles the four attribution patterns from lex:
//
//	"..." Name said      closing quote, name, speech verb
//	Name said, "..."     name, speech verb, opening quote
//	"..." Name nodded    closing quote, name, action verb
//	Name's eyes          possessive name, body noun
func NewHeuristic(lex *lexicon.Lexicon) *Heuristic {
	speech := lex.SpeechVerbPattern()
	return &Heuristic{
		lex: lex,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`["”]\s*` + heuristicName + `\s+` + speech + `\b`),
			regexp.MustCompile(leadIn + heuristicName + `\s+` + speech + `\s*[,.:]?\s*["“]`),
			regexp.MustCompile(`["”]\s*` + heuristicName + `\s+` + lex.ActionVerbPattern() + `\b`),
			regexp.MustCompile(leadIn + heuristicName + `['’]s\s+` + lex.BodyNounPattern() + `\b`),
		},
		gender: newGenderVoter(lex),
	}
}

// Version reports the lexicon version the heuristic was built from.
func (h *Heuristic) Version() string { return h.lex.Version() }

type candidate struct {
	name  string
	count int
	first int
}

// Detect returns up to [MaxCandidates] characters ordered by attribution
// count (ties by first appearance), followed by the narrator.
func (h *Heuristic) Detect(text string) []types.Character {
	byName := make(map[string]*candidate)
	for _, re := range h.patterns {
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			name := text[loc[2]:loc[3]]
			if !h.validName(name) {
				continue
			}
			c, ok := byName[name]
			if !ok {
				c = &candidate{name: name, first: loc[2]}
				byName[name] = c
			}
			c.count++
			c.first = min(c.first, loc[2])
		}
	}

	cands := make([]*candidate, 0, len(byName))
	for _, c := range byName {
		cands = append(cands, c)
	}
	slices.SortFunc(cands, func(a, b *candidate) int {
		if a.count != b.count {
			return b.count - a.count
		}
		return a.first - b.first
	})
	if len(cands) > MaxCandidates {
		cands = cands[:MaxCandidates]
	}

	out := make([]types.Character, 0, len(cands)+1)
	if len(cands) > 0 {
		top := float64(cands[0].count)
		for _, c := range cands {
			out = append(out, types.Character{
				Name:        c.name,
				Gender:      h.gender.vote(text, c.name),
				Role:        roleFor(c.count),
				Description: fmt.Sprintf("Detected from %d attributions", c.count),
				Mentions:    c.count,
				Confidence:  float64(c.count) / top,
			})
		}
	}
	return append(out, Narrator())
}

// validName reports whether s looks like a personal name: leading upper
// case, letters only, at least two runes, not all upper case, and not a
// stopword.
func (h *Heuristic) validName(s string) bool {
	if utf8.RuneCountInString(s) < 2 {
		return false
	}
	first, _ := utf8.DecodeRuneInString(s)
	if !unicode.IsUpper(first) {
		return false
	}
	allUpper := true
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
		if !unicode.IsUpper(r) {
			allUpper = false
		}
	}
	return !allUpper && !h.lex.IsStopword(s)
}

func roleFor(count int) types.Role {
	switch {
	case count >= MainThreshold:
		return types.RoleMain
	case count >= SupportingThreshold:
		return types.RoleSupporting
	default:
		return types.RoleMinor
	}
}

// Narrator returns the synthetic narrator character every detection result
// carries.
func Narrator() types.Character {
	return types.Character{
		Name:        types.NarratorName,
		Gender:      types.GenderUnknown,
		Role:        types.RoleSystem,
		Description: "Story narration",
		Confidence:  1,
	}
}
