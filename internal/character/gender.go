package character

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/voicepages/internal/lexicon"
	"github.com/MrWong99/voicepages/pkg/types"
)

// genderWindow is the number of bytes after each name occurrence searched
// for gender signals.
const genderWindow = 200

// Signal weights.
const (
	weightPossessive = 2
	weightAppositive = 3
	weightTrailing   = 1
)

// genderVoter infers a character's gender from pronouns near the name.
type genderVoter struct {
	possessive *regexp.Regexp
	appositive *regexp.Regexp
	trailing   *regexp.Regexp
}

func newGenderVoter(lex *lexicon.Lexicon) *genderVoter {
	return &genderVoter{
		// "his weary eyes", "her hand"
		possessive: regexp.MustCompile(`(?i)\b(his|her)\s+(?:\p{L}+\s+){0,2}?` + lex.BodyNounPattern() + `\b`),
		// Name, she whispered
		appositive: regexp.MustCompile(`^,\s*(?i:(he|she))\s+` + lex.SpeechVerbPattern() + `\b`),
		// Name walked in. She sat down.
		trailing: regexp.MustCompile(`^[^.!?]*[.!?]["”’]?\s+(He|She)\b`),
	}
}

// vote tallies weighted signals over every occurrence of name in text. The
// higher total wins; a tie or no signal yields unknown.
func (g *genderVoter) vote(text, name string) types.Gender {
	var male, female int
	tally := func(pronoun string, weight int) {
		switch strings.ToLower(pronoun) {
		case "he", "his":
			male += weight
		case "she", "her":
			female += weight
		}
	}

	for _, at := range occurrences(text, name) {
		after := at + len(name)
		window := text[after:min(after+genderWindow, len(text))]

		for _, m := range g.possessive.FindAllStringSubmatch(window, -1) {
			tally(m[1], weightPossessive)
		}
		if m := g.appositive.FindStringSubmatch(window); m != nil {
			tally(m[1], weightAppositive)
		}
		if clauseStart(text, at) {
			if m := g.trailing.FindStringSubmatch(window); m != nil {
				tally(m[1], weightTrailing)
			}
		}
	}

	switch {
	case male > female:
		return types.GenderMale
	case female > male:
		return types.GenderFemale
	default:
		return types.GenderUnknown
	}
}

// occurrences returns the byte offsets of name in text where it stands as a
// whole word.
func occurrences(text, name string) []int {
	var out []int
	for from := 0; ; {
		i := strings.Index(text[from:], name)
		if i < 0 {
			return out
		}
		at := from + i
		end := at + len(name)
		before, _ := utf8.DecodeLastRuneInString(text[:at])
		next, _ := utf8.DecodeRuneInString(text[end:])
		if (at == 0 || !unicode.IsLetter(before)) && (end == len(text) || !unicode.IsLetter(next)) {
			out = append(out, at)
		}
		from = end
	}
}

// clauseStart reports whether the name at offset at leads a sentence: it is
// preceded only by whitespace or quotes back to the start of the text or a
// sentence terminator.
func clauseStart(text string, at int) bool {
	for i := at; i > 0; {
		r, size := utf8.DecodeLastRuneInString(text[:i])
		switch {
		case unicode.IsSpace(r), strings.ContainsRune(`"“”'‘’`, r):
			i -= size
		case strings.ContainsRune(".!?", r):
			return true
		default:
			return false
		}
	}
	return true
}
