// Package config provides the configuration schema, loader, and provider
// registry for the voicepages narration service.
package config

import (
	"time"

	"github.com/MrWong99/voicepages/internal/narrate"
	"github.com/MrWong99/voicepages/pkg/audio/wav"
)

// LogLevel controls log verbosity for the voicepages server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StorageDriver selects the character record database.
type StorageDriver string

const (
	StorageSQLite   StorageDriver = "sqlite"
	StoragePostgres StorageDriver = "postgres"
)

// IsValid reports whether d is a supported driver.
func (d StorageDriver) IsValid() bool {
	return d == StorageSQLite || d == StoragePostgres
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultRequestTimeout = 10 * time.Minute
	DefaultCallTimeout    = 60 * time.Second
	DefaultSampleChapters = 3
	DefaultSampleBudget   = 8000
	DefaultSQLitePath     = "data/voicepages.db"
	DefaultAudioDir       = "data/audio"
	DefaultServiceName    = "voicepages"
)

// Config is the root configuration structure for voicepages.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Narration NarrationConfig `yaml:"narration"`
	Detection DetectionConfig `yaml:"detection"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// CatalogFile replaces the built-in voice catalog with a YAML table.
	CatalogFile string `yaml:"catalog_file"`

	// LexiconFile replaces the built-in attribution lexicon with a YAML
	// table.
	LexiconFile string `yaml:"lexicon_file"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// RequestTimeout bounds a whole API request, chapter generation
	// included. Default 10m.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// APIKey, when set, must be sent in the X-API-Key header of every /v1
	// request. Health probes and /metrics stay open.
	APIKey string `yaml:"api_key"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig lists the backends per kind in fallback order: the first
// entry is the primary.
type ProvidersConfig struct {
	// LLM backends used for character extraction and voice casting. Empty
	// means heuristic detection and rule-based casting only.
	LLM []ProviderEntry `yaml:"llm"`

	// TTS backends used for synthesis. At least one is required.
	TTS []ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "kokoro", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// NarrationConfig tunes chapter generation.
type NarrationConfig struct {
	// MaxTextLength caps one synthesis call, in runes. Default 5000.
	MaxTextLength int `yaml:"max_text_length"`

	// Workers is the number of segments synthesised concurrently. Default 4.
	Workers int `yaml:"workers"`

	// CallTimeout bounds a single backend call. Default 60s.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// Pause is the silence between clips. Default 300ms; set a negative
	// value for none.
	Pause time.Duration `yaml:"pause"`

	// FailurePolicy is "omit" (default) or "narrator_voice".
	FailurePolicy narrate.FailurePolicy `yaml:"failure_policy"`

	// ResampleMismatched resamples clips whose rate differs from the first
	// clip instead of dropping them.
	ResampleMismatched bool `yaml:"resample_mismatched"`

	// Speed is the speaking rate sent to backends, in [0.5, 2.0]. Default 1.0.
	Speed float64 `yaml:"speed"`

	// MaxAttempts caps backend invocations per segment. Default 2.
	MaxAttempts int `yaml:"max_attempts"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the per-backend circuit breakers. Zero values take
// the resilience package defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// DetectionConfig tunes character detection and casting.
type DetectionConfig struct {
	// SampleChapters is how many leading chapters feed detection. Default 3.
	SampleChapters int `yaml:"sample_chapters"`

	// SampleBudget caps the detection sample, in runes. Default 8000.
	SampleBudget int `yaml:"sample_budget"`

	// FuzzySpeakers resolves misspelt attributions to known characters
	// phonetically.
	FuzzySpeakers bool `yaml:"fuzzy_speakers"`

	// LLMCasting lets the LLM pick voices before the rule-based policy.
	// Requires providers.llm.
	LLMCasting bool `yaml:"llm_casting"`
}

// StorageConfig selects where character records and audio live.
type StorageConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver StorageDriver `yaml:"driver"`

	// DSN is the SQLite file path or PostgreSQL connection string.
	// Default for sqlite: "data/voicepages.db".
	DSN string `yaml:"dsn"`

	// AudioDir is the chapter audio cache directory. Default "data/audio".
	AudioDir string `yaml:"audio_dir"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// ServiceName is reported as service.name. Default "voicepages".
	ServiceName string `yaml:"service_name"`
}

// ApplyDefaults fills unset fields. Narration fields left at zero are
// defaulted by the narrate and resilience packages themselves.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Narration.MaxTextLength == 0 {
		cfg.Narration.MaxTextLength = narrate.DefaultMaxTextLength
	}
	if cfg.Narration.Workers == 0 {
		cfg.Narration.Workers = narrate.DefaultWorkers
	}
	if cfg.Narration.CallTimeout == 0 {
		cfg.Narration.CallTimeout = DefaultCallTimeout
	}
	if cfg.Narration.Pause == 0 {
		cfg.Narration.Pause = wav.DefaultPause
	}
	if cfg.Narration.FailurePolicy == "" {
		cfg.Narration.FailurePolicy = narrate.PolicyOmit
	}
	if cfg.Narration.Speed == 0 {
		cfg.Narration.Speed = 1.0
	}
	if cfg.Detection.SampleChapters == 0 {
		cfg.Detection.SampleChapters = DefaultSampleChapters
	}
	if cfg.Detection.SampleBudget == 0 {
		cfg.Detection.SampleBudget = DefaultSampleBudget
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageSQLite
	}
	if cfg.Storage.DSN == "" && cfg.Storage.Driver == StorageSQLite {
		cfg.Storage.DSN = DefaultSQLitePath
	}
	if cfg.Storage.AudioDir == "" {
		cfg.Storage.AudioDir = DefaultAudioDir
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}
