// Package phonetic resolves attributed speaker names to known character names
// using Double Metaphone encoding and Jaro-Winkler similarity.
//
// Dialogue attribution regexes capture whatever capitalised words precede a
// speech verb, so the captured name is often a variant of a known character:
// a sentence-initial adverb glued to it ("Then Alice"), a surname-only or
// first-name-only form ("Alice" for "Alice Carter"), or a spelling variant
// ("Katherine" for "Catherine"). [Resolver.Resolve] maps such variants onto
// the known name in three stages:
//
//  1. Exact match, after dropping leading stopword tokens.
//  2. Case-insensitive token match: a captured token equal to a token of
//     exactly one known name.
//  3. Phonetic ranking: known names whose Double Metaphone codes overlap the
//     captured name are ranked by Jaro-Winkler similarity and accepted above
//     the phonetic threshold (default 0.70). With no phonetic candidate, pure
//     Jaro-Winkler similarity above the fuzzy threshold (default 0.85) is
//     accepted.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// StopwordFunc reports whether a token is a capitalised non-name word.
type StopwordFunc func(word string) bool

// Option is a functional option for configuring a [Resolver].
type Option func(*Resolver)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically matching name. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(r *Resolver) {
		r.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score when no name
// matches phonetically. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(r *Resolver) {
		r.fuzzyThreshold = threshold
	}
}

// WithStopwords sets the predicate used to strip leading non-name tokens
// such as "Then" or "Suddenly" from captured names.
func WithStopwords(fn StopwordFunc) Option {
	return func(r *Resolver) {
		r.isStopword = fn
	}
}

// Resolver maps captured names onto known character names. It is read-only
// after construction and safe for concurrent use.
type Resolver struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	isStopword        StopwordFunc
}

// New returns a [Resolver] configured with the supplied options.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		isStopword:        func(string) bool { return false },
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the known name that name refers to. When ok is false the
// returned string is name unchanged.
func (r *Resolver) Resolve(name string, known []string) (resolved string, ok bool) {
	name = strings.TrimSpace(name)
	if name == "" || len(known) == 0 {
		return name, false
	}

	tokens := strings.Fields(name)
	for len(tokens) > 1 && r.isStopword(tokens[0]) {
		tokens = tokens[1:]
	}
	if len(tokens) == 1 && r.isStopword(tokens[0]) {
		return name, false
	}
	stripped := strings.Join(tokens, " ")

	for _, k := range known {
		if k == stripped {
			return k, true
		}
	}

	if k, ok := tokenMatch(tokens, known); ok {
		return k, true
	}

	if k, _, ok := r.rank(stripped, known); ok {
		return k, true
	}
	return name, false
}

// tokenMatch returns the single known name sharing a token with tokens,
// compared case-insensitively. Ambiguous matches are rejected.
func tokenMatch(tokens []string, known []string) (string, bool) {
	var found string
	for _, k := range known {
		for _, kt := range strings.Fields(k) {
			if containsFold(tokens, kt) {
				if found != "" && found != k {
					return "", false
				}
				found = k
				break
			}
		}
	}
	return found, found != ""
}

func containsFold(tokens []string, s string) bool {
	for _, t := range tokens {
		if strings.EqualFold(t, s) {
			return true
		}
	}
	return false
}

// rank returns the best phonetic or fuzzy candidate for name.
func (r *Resolver) rank(name string, known []string) (string, float64, bool) {
	lower := strings.ToLower(name)
	tokens := strings.Fields(lower)
	inputCodes := codesForTokens(tokens)

	type candidate struct {
		name     string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, k := range known {
		kLower := strings.ToLower(strings.TrimSpace(k))
		if kLower == "" {
			continue
		}
		kTokens := strings.Fields(kLower)
		phoneticMatch := codesOverlap(inputCodes, codesForTokens(kTokens))
		score := bestJWScore(tokens, kTokens, lower, kLower)

		switch {
		case phoneticMatch && score >= r.phoneticThreshold:
			if !best.phonetic || score > best.score {
				best = candidate{name: k, score: score, phonetic: true}
			}
		case !phoneticMatch && !best.phonetic && score >= r.fuzzyThreshold && score > best.score:
			best = candidate{name: k, score: score}
		}
	}
	return best.name, best.score, best.name != ""
}

// codesForTokens returns the union of the Double Metaphone codes of tokens,
// excluding empty codes.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the maximum Jaro-Winkler similarity over the full strings,
// the space-stripped strings and every token pair.
func bestJWScore(inputTokens, knownTokens []string, inputFull, knownFull string) float64 {
	score := matchr.JaroWinkler(inputFull, knownFull, false)

	if len(inputTokens) > 1 || len(knownTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(knownTokens, ""), false); s > score {
			score = s
		}
	}
	for _, it := range inputTokens {
		for _, kt := range knownTokens {
			if s := matchr.JaroWinkler(it, kt, false); s > score {
				score = s
			}
		}
	}
	return score
}
