package lexicon

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// fileTables is the on-disk form. When Extend is true the listed words are
// added to the compiled-in tables instead of replacing them.
type fileTables struct {
	Tables `yaml:",inline"`
	Extend bool `yaml:"extend"`
}

// Load reads a YAML lexicon file from path. See [Parse] for the format.
func Load(path string) (*Lexicon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lexicon: open %q: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a YAML lexicon document:
//
//	version: my-tables-2
//	extend: true          # merge with the compiled-in tables
//	speech_verbs: [intoned, quipped]
//	stopwords: [Gandalf]
//
// Without extend, omitted tables are empty. Unknown keys are rejected. A
// replacement lexicon must name a version and at least one speech verb.
func Parse(r io.Reader) (*Lexicon, error) {
	var ft fileTables
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&ft); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("lexicon: decode: %w", err)
	}

	t := ft.Tables
	if ft.Extend {
		base := DefaultTables()
		base.SpeechVerbs = append(base.SpeechVerbs, t.SpeechVerbs...)
		base.ActionVerbs = append(base.ActionVerbs, t.ActionVerbs...)
		base.BodyNouns = append(base.BodyNouns, t.BodyNouns...)
		base.Stopwords = append(base.Stopwords, t.Stopwords...)
		if t.Version != "" {
			base.Version = t.Version
		} else {
			base.Version = DefaultVersion + "+ext"
		}
		return New(base), nil
	}

	var errs []error
	if t.Version == "" {
		errs = append(errs, errors.New("version is required when not extending the default tables"))
	}
	if len(t.SpeechVerbs) == 0 {
		errs = append(errs, errors.New("speech_verbs must not be empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("lexicon: %w", err)
	}
	return New(t), nil
}
