// Package segment splits chapter text into narration and dialogue segments
// attributed to speakers.
//
// Dialogue is found with two attribution pattern families built from the
// lexicon's speech verbs:
//
//	(a) "quoted text" Name verb      dialogue, then attribution
//	(b) Name verb, "quoted text"     attribution, then dialogue
//
// Name is one capitalised word in any script, optionally followed by a
// second. Straight and curly double quotes delimit dialogue; apostrophes do
// not, so contractions and possessives inside quotes are safe.
//
// When matches overlap, the earliest start wins; on equal starts the shorter
// span wins, then family (a) over (b). A match starting before the end of
// the previously accepted match is discarded, except that its quote is kept
// when the whole quote lies after that end:
//
//	"Hello," Alice said, "how are you?"
//
// yields two dialogue segments for Alice. Segment spans never overlap.
package segment

import (
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/voicepages/internal/lexicon"
	"github.com/MrWong99/voicepages/internal/phonetic"
	"github.com/MrWong99/voicepages/pkg/types"
)

// leadIn stands in for \b before a name, which only knows ASCII word
// characters.
const (
	namePattern  = `(\p{Lu}\p{L}+(?:\s+\p{Lu}\p{L}+)?)`
	leadIn       = `(?:^|[^\p{L}])`
	quotePattern = `["“”]([^"“”]+)["“”]`
)

// Option is a functional option for configuring a [Segmenter].
type Option func(*Segmenter)

// WithResolver enables fuzzy resolution of attributed names that are not
// exact character keys (e.g. "Then Alice" or "Katherine" for "Catherine").
// Without a resolver, such names fall back to the narrator.
func WithResolver(r *phonetic.Resolver) Option {
	return func(s *Segmenter) {
		s.resolver = r
	}
}

// Segmenter splits chapter text. It is read-only after construction and safe
// for concurrent use.
type Segmenter struct {
	quoteFirst *regexp.Regexp
	nameFirst  *regexp.Regexp
	resolver   *phonetic.Resolver
}

// New compiles the attribution patterns from lex.
func New(lex *lexicon.Lexicon, opts ...Option) *Segmenter {
	verbs := lex.SpeechVerbPattern()
	s := &Segmenter{
		quoteFirst: regexp.MustCompile(quotePattern + `\s*` + namePattern + `\s+` + verbs + `\b`),
		nameFirst:  regexp.MustCompile(leadIn + namePattern + `\s+` + verbs + `\s*[,.:]?\s*` + quotePattern),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type family int

const (
	familyQuoteFirst family = iota
	familyNameFirst
)

type match struct {
	start, end int
	family     family
	name       string
	quote      string
	// quoteOpen is the offset of the opening quote mark.
	quoteOpen int
}

// Split returns the ordered segments of text. known maps character names to
// voice ids; only its keys are consulted. Every returned speaker is a key of
// known or [types.NarratorName].
//
// Empty or whitespace-only text yields no segments. Text without attributed
// dialogue yields a single narration segment.
func (s *Segmenter) Split(text string, known map[string]string) []types.Segment {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	knownNames := make([]string, 0, len(known))
	for name := range known {
		if name != types.NarratorName {
			knownNames = append(knownNames, name)
		}
	}
	slices.Sort(knownNames)

	var segments []types.Segment
	prev := 0
	for _, m := range s.matches(text) {
		if m.start < prev {
			if m.quoteOpen < prev {
				continue
			}
			// The attribution was consumed by the accepted match; its
			// quote still belongs to the same speaker.
			if quote := strings.TrimSpace(m.quote); quote != "" {
				segments = append(segments, types.Segment{
					Speaker: s.speaker(m.name, known, knownNames),
					Text:    quote,
					Kind:    types.SegmentDialogue,
					Start:   prev,
					End:     m.end,
				})
			}
			prev = m.end
			continue
		}
		segments = appendNarration(segments, text, prev, m.start)

		if quote := strings.TrimSpace(m.quote); quote != "" {
			segments = append(segments, types.Segment{
				Speaker: s.speaker(m.name, known, knownNames),
				Text:    quote,
				Kind:    types.SegmentDialogue,
				Start:   m.start,
				End:     m.end,
			})
		}
		prev = m.end
	}
	return appendNarration(segments, text, prev, len(text))
}

// matches returns matches of both families in tie-break order.
func (s *Segmenter) matches(text string) []match {
	var out []match
	for _, loc := range s.quoteFirst.FindAllStringSubmatchIndex(text, -1) {
		out = append(out, match{
			start:     loc[0],
			end:       loc[1],
			family:    familyQuoteFirst,
			quote:     text[loc[2]:loc[3]],
			name:      text[loc[4]:loc[5]],
			quoteOpen: loc[0],
		})
	}
	// The span starts at the name so the lead-in character stays narration.
	for _, loc := range s.nameFirst.FindAllStringSubmatchIndex(text, -1) {
		_, width := utf8.DecodeLastRuneInString(text[:loc[4]])
		out = append(out, match{
			start:     loc[2],
			end:       loc[1],
			family:    familyNameFirst,
			name:      text[loc[2]:loc[3]],
			quote:     text[loc[4]:loc[5]],
			quoteOpen: loc[4] - width,
		})
	}
	slices.SortFunc(out, func(a, b match) int {
		if a.start != b.start {
			return a.start - b.start
		}
		if la, lb := a.end-a.start, b.end-b.start; la != lb {
			return la - lb
		}
		return int(a.family) - int(b.family)
	})
	return out
}

func (s *Segmenter) speaker(name string, known map[string]string, knownNames []string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == types.NarratorName {
		return name
	}
	if _, ok := known[name]; ok {
		return name
	}
	if s.resolver != nil {
		if resolved, ok := s.resolver.Resolve(name, knownNames); ok {
			return resolved
		}
	}
	return types.NarratorName
}

// appendNarration appends text[from:to] as narration unless it is blank.
func appendNarration(segments []types.Segment, text string, from, to int) []types.Segment {
	if from >= to {
		return segments
	}
	gap := strings.TrimSpace(text[from:to])
	if gap == "" {
		return segments
	}
	return append(segments, types.Segment{
		Speaker: types.NarratorName,
		Text:    gap,
		Kind:    types.SegmentNarration,
		Start:   from,
		End:     to,
	})
}
