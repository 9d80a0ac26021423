package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voicepages/pkg/types"
)

type fileCatalog struct {
	Narrator string               `yaml:"narrator"`
	Voices   []types.VoiceProfile `yaml:"voices"`
	Aliases  map[string]string    `yaml:"aliases"`

	// KeepAliases retains the compiled-in legacy aliases whose targets exist
	// in the loaded table.
	KeepAliases bool `yaml:"keep_aliases"`
}

// Load reads a YAML catalog file. See [Parse].
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %q: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a YAML catalog document:
//
//	narrator: af_samantha
//	keep_aliases: true
//	voices:
//	  - {id: af_samantha, name: Samantha, gender: female, accent: american, style: clear}
//	aliases:
//	  af_sky: af_samantha
//
// An omitted narrator defaults to [DefaultNarratorID].
func Parse(r io.Reader) (*Catalog, error) {
	var fc fileCatalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if fc.Narrator == "" {
		fc.Narrator = DefaultNarratorID
	}

	aliases := make(map[string]string, len(fc.Aliases)+len(defaultAliases))
	if fc.KeepAliases {
		ids := make(map[string]bool, len(fc.Voices))
		for _, v := range fc.Voices {
			ids[v.ID] = true
		}
		for from, to := range defaultAliases {
			if ids[to] {
				aliases[from] = to
			}
		}
	}
	for from, to := range fc.Aliases {
		aliases[from] = to
	}
	return New(fc.Voices, aliases, fc.Narrator)
}
