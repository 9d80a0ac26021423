package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// NarrationChanged is set when any narration tuning changed. The
	// generator is rebuilt; the backend chain is not.
	NarrationChanged bool

	// RestartRequired lists changed settings that only take effect after a
	// restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	on, nn := old.Narration, new.Narration
	on.Breaker, nn.Breaker = BreakerConfig{}, BreakerConfig{}
	on.CallTimeout, nn.CallTimeout = 0, 0
	on.MaxAttempts, nn.MaxAttempts = 0, 0
	d.NarrationChanged = on != nn

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.APIKey != new.Server.APIKey {
		d.RestartRequired = append(d.RestartRequired, "server.api_key")
	}
	if !providersEqual(old.Providers.TTS, new.Providers.TTS) || !providersEqual(old.Providers.LLM, new.Providers.LLM) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Narration.Breaker != new.Narration.Breaker ||
		old.Narration.CallTimeout != new.Narration.CallTimeout ||
		old.Narration.MaxAttempts != new.Narration.MaxAttempts {
		d.RestartRequired = append(d.RestartRequired, "narration backend chain")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if old.CatalogFile != new.CatalogFile || old.LexiconFile != new.LexiconFile {
		d.RestartRequired = append(d.RestartRequired, "catalog_file/lexicon_file")
	}
	if old.Detection != new.Detection {
		d.RestartRequired = append(d.RestartRequired, "detection")
	}
	return d
}

// providersEqual compares provider lists entry by entry.
func providersEqual(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.Name != y.Name || x.APIKey != y.APIKey || x.BaseURL != y.BaseURL || x.Model != y.Model {
			return false
		}
		if !reflect.DeepEqual(x.Options, y.Options) {
			return false
		}
	}
	return true
}
