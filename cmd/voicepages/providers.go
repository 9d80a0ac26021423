package main

import (
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voicepages/internal/config"
	"github.com/MrWong99/voicepages/pkg/provider/llm"
	"github.com/MrWong99/voicepages/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/voicepages/pkg/provider/llm/openai"
	"github.com/MrWong99/voicepages/pkg/provider/tts"
	"github.com/MrWong99/voicepages/pkg/provider/tts/command"
	"github.com/MrWong99/voicepages/pkg/provider/tts/coqui"
	"github.com/MrWong99/voicepages/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/voicepages/pkg/provider/tts/kokoro"
	"github.com/MrWong99/voicepages/pkg/provider/tts/placeholder"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai talks to the chat completions API directly so it can request
	// JSON output.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		p, err := oaillm.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// The rest share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		p, err := anyllm.New("ollama", entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("kokoro", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []kokoro.Option
		if entry.BaseURL != "" {
			opts = append(opts, kokoro.WithBaseURL(entry.BaseURL))
		}
		if entry.APIKey != "" {
			opts = append(opts, kokoro.WithAPIKey(entry.APIKey))
		}
		if entry.Model != "" {
			opts = append(opts, kokoro.WithModel(entry.Model))
		}
		return kokoro.New(opts...), nil
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if m := optStringMap(entry.Options, "voice_map"); m != nil {
			opts = append(opts, coqui.WithVoiceMap(m))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if m := optStringMap(entry.Options, "voice_map"); m != nil {
			opts = append(opts, elevenlabs.WithVoiceMap(m))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// command accepts a single template under "command" or a pipeline under
	// "commands".
	reg.RegisterTTS("command", func(entry config.ProviderEntry) (tts.Provider, error) {
		templates := optStrings(entry.Options, "commands")
		if tmpl := optString(entry.Options, "command"); tmpl != "" {
			templates = append([]string{tmpl}, templates...)
		}
		var opts []command.Option
		if m := optStringMap(entry.Options, "voice_map"); m != nil {
			opts = append(opts, command.WithVoiceMap(m))
		}
		if v := optString(entry.Options, "default_voice"); v != "" {
			opts = append(opts, command.WithDefaultVoice(v))
		}
		if ext := optString(entry.Options, "output_ext"); ext != "" {
			opts = append(opts, command.WithOutputExt(ext))
		}
		if dir := optString(entry.Options, "temp_dir"); dir != "" {
			opts = append(opts, command.WithTempDir(dir))
		}
		return command.New(templates, opts...)
	})

	reg.RegisterTTS("placeholder", func(entry config.ProviderEntry) (tts.Provider, error) {
		return placeholder.New(optInt(entry.Options, "sample_rate")), nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value. YAML numbers decode as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optStrings extracts a list of strings. Non-string items are skipped.
func optStrings(opts map[string]any, key string) []string {
	items, _ := opts[key].([]any)
	var out []string
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// optStringMap extracts a string-to-string map. Returns nil when the key is
// absent; non-string values are formatted with %v.
func optStringMap(opts map[string]any, key string) map[string]string {
	raw, ok := opts[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
