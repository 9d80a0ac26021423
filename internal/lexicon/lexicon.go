// Package lexicon holds the word tables that drive heuristic dialogue
// attribution and character detection.
//
// A [Lexicon] is built once at start-up, either from the compiled-in tables
// ([Default]) or from a YAML file ([Load]), and is never mutated afterwards.
// It is safe to share across goroutines and is passed by pointer into the
// segmenter and the heuristic detector.
package lexicon

import (
	"regexp"
	"slices"
	"strings"
)

// DefaultVersion identifies the compiled-in tables. Detection results record
// the version that produced them so that table changes are traceable.
const DefaultVersion = "heuristic-v1"

// Lexicon is an immutable set of word tables.
type Lexicon struct {
	version     string
	speechVerbs []string
	actionVerbs []string
	bodyNouns   []string
	stopwords   map[string]struct{}

	speechAlt string
	actionAlt string
	bodyAlt   string
}

// Tables is the mutable input used to construct a [Lexicon].
type Tables struct {
	Version     string   `yaml:"version"`
	SpeechVerbs []string `yaml:"speech_verbs"`
	ActionVerbs []string `yaml:"action_verbs"`
	BodyNouns   []string `yaml:"body_nouns"`
	Stopwords   []string `yaml:"stopwords"`
}

// New builds a Lexicon from t. Words are lower-cased (stopwords keep their
// case-insensitive identity) and de-duplicated. Empty tables are allowed but
// disable the patterns that use them.
func New(t Tables) *Lexicon {
	l := &Lexicon{
		version:     t.Version,
		speechVerbs: normalize(t.SpeechVerbs),
		actionVerbs: normalize(t.ActionVerbs),
		bodyNouns:   normalize(t.BodyNouns),
		stopwords:   make(map[string]struct{}, len(t.Stopwords)),
	}
	if l.version == "" {
		l.version = "custom"
	}
	for _, w := range t.Stopwords {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			l.stopwords[w] = struct{}{}
		}
	}
	l.speechAlt = alternation(l.speechVerbs)
	l.actionAlt = alternation(l.actionVerbs)
	l.bodyAlt = alternation(l.bodyNouns)
	return l
}

// Default returns a Lexicon built from the compiled-in tables.
func Default() *Lexicon {
	return New(DefaultTables())
}

// Version returns the table version string.
func (l *Lexicon) Version() string { return l.version }

// SpeechVerbs returns a copy of the speech-attribution verbs.
func (l *Lexicon) SpeechVerbs() []string { return slices.Clone(l.speechVerbs) }

// ActionVerbs returns a copy of the generic action verbs.
func (l *Lexicon) ActionVerbs() []string { return slices.Clone(l.actionVerbs) }

// BodyNouns returns a copy of the body-part and attribute nouns.
func (l *Lexicon) BodyNouns() []string { return slices.Clone(l.bodyNouns) }

// IsStopword reports whether word (compared case-insensitively) is a
// capitalised non-name such as a pronoun, weekday or chapter marker.
func (l *Lexicon) IsStopword(word string) bool {
	_, ok := l.stopwords[strings.ToLower(word)]
	return ok
}

// SpeechVerbPattern returns a non-capturing regexp alternation of the speech
// verbs, e.g. `(?:said|asked|...)`. Longer verbs come first so that prefixes
// never shadow them. Returns a pattern that matches nothing if the table is
// empty.
func (l *Lexicon) SpeechVerbPattern() string { return l.speechAlt }

// ActionVerbPattern is the [Lexicon.SpeechVerbPattern] analogue for action
// verbs.
func (l *Lexicon) ActionVerbPattern() string { return l.actionAlt }

// BodyNounPattern is the [Lexicon.SpeechVerbPattern] analogue for body
// nouns.
func (l *Lexicon) BodyNounPattern() string { return l.bodyAlt }

// Tables returns a copy of the tables l was built from.
func (l *Lexicon) Tables() Tables {
	stop := make([]string, 0, len(l.stopwords))
	for w := range l.stopwords {
		stop = append(stop, w)
	}
	slices.Sort(stop)
	return Tables{
		Version:     l.version,
		SpeechVerbs: l.SpeechVerbs(),
		ActionVerbs: l.ActionVerbs(),
		BodyNouns:   l.BodyNouns(),
		Stopwords:   stop,
	}
}

func normalize(words []string) []string {
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// alternation builds `(?:a|b|c)` with longest words first.
func alternation(words []string) string {
	if len(words) == 0 {
		// A class excluding every rune never matches.
		return `(?:[^\s\S])`
	}
	sorted := slices.Clone(words)
	slices.SortStableFunc(sorted, func(a, b string) int { return len(b) - len(a) })
	quoted := make([]string, len(sorted))
	for i, w := range sorted {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return "(?:" + strings.Join(quoted, "|") + ")"
}
