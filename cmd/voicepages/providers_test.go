package main

import (
	"errors"
	"testing"

	"github.com/MrWong99/voicepages/internal/config"
)

func TestRegisterBuiltinProviders_TTS(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	tests := []struct {
		name    string
		entry   config.ProviderEntry
		wantErr bool
	}{
		{name: "kokoro", entry: config.ProviderEntry{Name: "kokoro", BaseURL: "http://localhost:8880/v1"}},
		{name: "placeholder", entry: config.ProviderEntry{Name: "placeholder", Options: map[string]any{"sample_rate": 16000}}},
		{name: "command default", entry: config.ProviderEntry{Name: "command"}},
		{name: "command pipeline", entry: config.ProviderEntry{Name: "command", Options: map[string]any{
			"commands":  []any{"say -o {output} {text}", "afconvert -f WAVE {input} {wav}"},
			"voice_map": map[string]any{"af_nova": "Samantha"},
		}}},
		{name: "command bad template", entry: config.ProviderEntry{Name: "command", Options: map[string]any{"command": `say "unterminated`}}, wantErr: true},
		{name: "coqui", entry: config.ProviderEntry{Name: "coqui", BaseURL: "http://localhost:5002", Options: map[string]any{"api_mode": "xtts"}}},
		{name: "coqui without url", entry: config.ProviderEntry{Name: "coqui"}, wantErr: true},
		{name: "elevenlabs", entry: config.ProviderEntry{Name: "elevenlabs", APIKey: "key"}},
		{name: "elevenlabs without key", entry: config.ProviderEntry{Name: "elevenlabs"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := reg.CreateTTS(tt.entry)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CreateTTS(%+v) err = %v, wantErr %v", tt.entry, err, tt.wantErr)
			}
		})
	}
}

func TestRegisterBuiltinProviders_AllNamesRegistered(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	for _, name := range config.ValidProviderNames["tts"] {
		_, err := reg.CreateTTS(config.ProviderEntry{Name: name})
		if errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("tts provider %q is not registered", name)
		}
	}
	for _, name := range config.ValidProviderNames["llm"] {
		_, err := reg.CreateLLM(config.ProviderEntry{Name: name})
		if errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("llm provider %q is not registered", name)
		}
	}
}

func TestOptHelpers(t *testing.T) {
	t.Parallel()

	opts := map[string]any{
		"language":    "de",
		"rate":        24000,
		"float":       1.5,
		"commands":    []any{"a", 2, "b"},
		"voice_map":   map[string]any{"af_nova": "Anna", "am_alex": 7},
		"not_a_list":  "x",
		"not_a_map":   []any{"x"},
		"not_a_value": nil,
	}

	if got := optString(opts, "language"); got != "de" {
		t.Errorf("optString = %q", got)
	}
	if got := optString(opts, "rate"); got != "" {
		t.Errorf("optString on int = %q, want empty", got)
	}
	if got := optString(nil, "language"); got != "" {
		t.Errorf("optString on nil map = %q", got)
	}
	if got := optInt(opts, "rate"); got != 24000 {
		t.Errorf("optInt = %d", got)
	}
	if got := optInt(opts, "float"); got != 1 {
		t.Errorf("optInt on float = %d", got)
	}
	if got := optInt(opts, "language"); got != 0 {
		t.Errorf("optInt on string = %d", got)
	}

	got := optStrings(opts, "commands")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("optStrings = %v", got)
	}
	if got := optStrings(opts, "not_a_list"); got != nil {
		t.Errorf("optStrings on string = %v", got)
	}

	m := optStringMap(opts, "voice_map")
	if m["af_nova"] != "Anna" || m["am_alex"] != "7" {
		t.Errorf("optStringMap = %v", m)
	}
	if m := optStringMap(opts, "not_a_map"); m != nil {
		t.Errorf("optStringMap on list = %v", m)
	}
}
