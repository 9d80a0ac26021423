package narrate

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		max     int
		want    string
		wantErr bool
	}{
		{name: "plain", in: "Hello there.", max: 100, want: "Hello there."},
		{name: "collapses whitespace", in: "  Hello \n\n\t there.  ", max: 100, want: "Hello there."},
		{name: "strips nul and replacement", in: "He\x00llo\uFFFD!", max: 100, want: "Hello!"},
		{name: "drops invalid utf8", in: "ab\xffc", max: 100, want: "abc"},
		{name: "truncates runes", in: "äöüäöü", max: 3, want: "äöü"},
		{name: "no limit", in: strings.Repeat("a", 6000), max: 0, want: strings.Repeat("a", 6000)},
		{name: "empty", in: "", max: 100, wantErr: true},
		{name: "only whitespace", in: " \n\t ", max: 100, wantErr: true},
		{name: "only junk", in: "\x00\uFFFD\x00", max: 100, wantErr: true},
		{name: "junk after truncation", in: "   visible", max: 3, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Normalize(tt.in, tt.max)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("err = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_DefaultLength(t *testing.T) {
	t.Parallel()
	got, err := Normalize(strings.Repeat("word ", 2000), DefaultMaxTextLength)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) > DefaultMaxTextLength {
		t.Errorf("len = %d, want <= %d", len(got), DefaultMaxTextLength)
	}
}
