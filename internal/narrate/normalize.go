package narrate

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrValidation reports text that is empty once cleaned. It is never
// retried.
var ErrValidation = errors.New("narrate: invalid text")

// DefaultMaxTextLength caps a single synthesis call, in runes.
const DefaultMaxTextLength = 5000

// Normalize prepares text for a synthesis backend. It truncates text to
// maxRunes (no limit when maxRunes <= 0), drops NUL, U+FFFD and invalid UTF-8
// bytes, collapses whitespace runs to one space and trims the ends. Text that
// ends up empty yields [ErrValidation].
func Normalize(text string, maxRunes int) (string, error) {
	if maxRunes > 0 && utf8.RuneCountInString(text) > maxRunes {
		n := 0
		for i := range text {
			if n == maxRunes {
				text = text[:i]
				break
			}
			n++
		}
	}
	text = strings.Map(func(r rune) rune {
		if r == 0 || r == utf8.RuneError {
			return -1
		}
		return r
	}, text)
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return "", ErrValidation
	}
	return text, nil
}
