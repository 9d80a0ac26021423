package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"kokoro", "coqui", "elevenlabs", "command", "placeholder"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil && (cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if len(cfg.Providers.TTS) == 0 {
		errs = append(errs, errors.New("providers.tts must list at least one backend"))
	}
	errs = append(errs, validateEntries("llm", cfg.Providers.LLM)...)
	errs = append(errs, validateEntries("tts", cfg.Providers.TTS)...)
	if cfg.Detection.LLMCasting && len(cfg.Providers.LLM) == 0 {
		slog.Warn("detection.llm_casting is set but providers.llm is empty; using rule-based casting")
	}

	// Narration
	n := cfg.Narration
	if n.MaxTextLength < 0 {
		errs = append(errs, fmt.Errorf("narration.max_text_length %d must not be negative", n.MaxTextLength))
	}
	if n.Workers < 0 {
		errs = append(errs, fmt.Errorf("narration.workers %d must not be negative", n.Workers))
	}
	if n.CallTimeout < 0 {
		errs = append(errs, fmt.Errorf("narration.call_timeout %s must not be negative", n.CallTimeout))
	}
	if n.FailurePolicy != "" && !n.FailurePolicy.IsValid() {
		errs = append(errs, fmt.Errorf("narration.failure_policy %q is invalid; valid values: omit, narrator_voice", n.FailurePolicy))
	}
	if n.Speed != 0 && (n.Speed < 0.5 || n.Speed > 2.0) {
		errs = append(errs, fmt.Errorf("narration.speed %.2f is out of range [0.5, 2.0]", n.Speed))
	}
	if n.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("narration.max_attempts %d must not be negative", n.MaxAttempts))
	}
	if n.Breaker.MaxFailures < 0 || n.Breaker.HalfOpenMax < 0 || n.Breaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("narration.breaker values must not be negative"))
	}

	// Detection
	if cfg.Detection.SampleChapters < 0 {
		errs = append(errs, fmt.Errorf("detection.sample_chapters %d must not be negative", cfg.Detection.SampleChapters))
	}
	if cfg.Detection.SampleBudget < 0 {
		errs = append(errs, fmt.Errorf("detection.sample_budget %d must not be negative", cfg.Detection.SampleBudget))
	}

	// Storage
	if cfg.Storage.Driver != "" && !cfg.Storage.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("storage.driver %q is invalid; valid values: sqlite, postgres", cfg.Storage.Driver))
	}
	if cfg.Storage.Driver == StoragePostgres && cfg.Storage.DSN == "" {
		errs = append(errs, errors.New("storage.dsn is required when storage.driver is postgres"))
	}

	return errors.Join(errs...)
}

// validateEntries checks one provider list: every entry needs a name and
// names must be unique, since they identify backends in logs and metrics.
func validateEntries(kind string, entries []ProviderEntry) []error {
	var errs []error
	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		prefix := fmt.Sprintf("providers.%s[%d]", kind, i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[e.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.%s[%d]", prefix, e.Name, kind, prev))
		}
		seen[e.Name] = i
		validateProviderName(kind, e.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
