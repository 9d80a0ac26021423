// Package app wires the voicepages subsystems into a running application.
//
// New builds everything from a validated config: voice catalog, lexicon,
// backend chains, character registry, caster, store, audio cache and chapter
// generator. The [Library] it exposes is what the HTTP layer serves.
// ApplyConfig applies hot-reloadable changes and Shutdown releases
// resources in reverse order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics) and register mock provider factories in the registry.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/voicepages/internal/casting"
	"github.com/MrWong99/voicepages/internal/catalog"
	"github.com/MrWong99/voicepages/internal/character"
	"github.com/MrWong99/voicepages/internal/config"
	"github.com/MrWong99/voicepages/internal/health"
	"github.com/MrWong99/voicepages/internal/lexicon"
	"github.com/MrWong99/voicepages/internal/narrate"
	"github.com/MrWong99/voicepages/internal/observe"
	"github.com/MrWong99/voicepages/internal/phonetic"
	"github.com/MrWong99/voicepages/internal/resilience"
	"github.com/MrWong99/voicepages/internal/segment"
	"github.com/MrWong99/voicepages/internal/store"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	metrics  *observe.Metrics
	level    *slog.LevelVar

	catalog   *catalog.Catalog
	lexicon   *lexicon.Lexicon
	segmenter *segment.Segmenter
	tts       *resilience.TTSFallback
	llm       *resilience.LLMFallback
	store     store.Store
	cache     *store.AudioCache
	library   *Library
	health    *health.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a character store instead of opening one from config.
// The App does not close an injected store.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets [App.ApplyConfig] change the log level of handlers
// built on v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// New creates an App from cfg, instantiating providers through reg.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, registry: reg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initTables(); err != nil {
		return nil, fmt.Errorf("app: init tables: %w", err)
	}
	if err := a.initBackends(); err != nil {
		return nil, fmt.Errorf("app: init backends: %w", err)
	}
	if err := a.initStorage(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	hr := character.NewRegistry(character.NewHeuristic(a.lexicon), a.registryOptions()...)
	a.library = NewLibrary(LibraryConfig{
		Catalog:        a.catalog,
		Registry:       hr,
		Caster:         a.caster(),
		Store:          a.store,
		Cache:          a.cache,
		Synth:          a.tts,
		Generator:      a.newGenerator(cfg.Narration),
		SampleChapters: cfg.Detection.SampleChapters,
		SampleBudget:   cfg.Detection.SampleBudget,
		MaxTextLength:  cfg.Narration.MaxTextLength,
	})
	a.health = health.New(
		health.Ping("store", a.store),
		health.Backends("tts", a.tts),
	)

	slog.Info("app initialised",
		"voices", a.catalog.Len(),
		"lexicon", a.lexicon.Version(),
		"tts", a.tts.Names(),
		"llm", a.llm != nil,
		"storage", cfg.Storage.Driver,
	)
	return a, nil
}

// initTables loads the voice catalog and the attribution lexicon.
func (a *App) initTables() error {
	a.catalog = catalog.Default()
	if path := a.cfg.CatalogFile; path != "" {
		c, err := catalog.Load(path)
		if err != nil {
			return err
		}
		a.catalog = c
		slog.Info("loaded voice catalog", "path", path, "voices", c.Len())
	}

	a.lexicon = lexicon.Default()
	if path := a.cfg.LexiconFile; path != "" {
		l, err := lexicon.Load(path)
		if err != nil {
			return err
		}
		a.lexicon = l
		slog.Info("loaded lexicon", "path", path, "version", l.Version())
	}

	var segOpts []segment.Option
	if a.cfg.Detection.FuzzySpeakers {
		segOpts = append(segOpts, segment.WithResolver(phonetic.New(phonetic.WithStopwords(a.lexicon.IsStopword))))
	}
	a.segmenter = segment.New(a.lexicon, segOpts...)
	return nil
}

// initBackends builds the TTS chain and, when configured, the LLM chain.
func (a *App) initBackends() error {
	n := a.cfg.Narration
	fc := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  n.Breaker.MaxFailures,
			ResetTimeout: n.Breaker.ResetTimeout,
			HalfOpenMax:  n.Breaker.HalfOpenMax,
		},
		MaxAttempts: n.MaxAttempts,
		CallTimeout: n.CallTimeout,
	}

	a.tts = resilience.NewTTSFallback(fc, a.metrics)
	for _, entry := range a.cfg.Providers.TTS {
		p, err := a.registry.CreateTTS(entry)
		if err != nil {
			return fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		}
		a.tts.Add(entry.Name, p)
		slog.Info("provider created", "kind", "tts", "name", entry.Name)
	}

	if len(a.cfg.Providers.LLM) == 0 {
		return nil
	}
	a.llm = resilience.NewLLMFallback(fc, a.metrics)
	for _, entry := range a.cfg.Providers.LLM {
		p, err := a.registry.CreateLLM(entry)
		if err != nil {
			return fmt.Errorf("create llm provider %q: %w", entry.Name, err)
		}
		a.llm.Add(entry.Name, p)
		slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model)
	}
	return nil
}

// initStorage opens the configured store unless one was injected, and the
// audio cache.
func (a *App) initStorage(ctx context.Context) error {
	if a.store == nil {
		s, err := openStore(ctx, a.cfg.Storage)
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
	}

	cache, err := store.NewAudioCache(a.cfg.Storage.AudioDir)
	if err != nil {
		return err
	}
	a.cache = cache
	return nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.StoragePostgres:
		return store.OpenPostgres(ctx, cfg.DSN)
	default:
		return store.OpenSQLite(ctx, cfg.DSN)
	}
}

func (a *App) registryOptions() []character.RegistryOption {
	opts := []character.RegistryOption{character.WithMetrics(a.metrics)}
	if a.llm != nil {
		opts = append(opts, character.WithExtractor(character.NewLLMExtractor(a.llm)))
	}
	return opts
}

func (a *App) caster() casting.Caster {
	if a.cfg.Detection.LLMCasting && a.llm != nil {
		return casting.NewLLMCaster(a.llm, a.catalog)
	}
	return casting.NewPolicy(a.catalog)
}

// newGenerator builds a chapter generator for n. Backend chain settings in
// n (breaker, call timeout, attempts) are fixed at start-up and ignored
// here.
func (a *App) newGenerator(n config.NarrationConfig) *narrate.Generator {
	return narrate.New(a.segmenter, a.tts, a.catalog,
		narrate.WithWorkers(n.Workers),
		narrate.WithMaxTextLength(n.MaxTextLength),
		narrate.WithFailurePolicy(n.FailurePolicy),
		narrate.WithSpeed(n.Speed),
		narrate.WithPause(n.Pause),
		narrate.WithResample(n.ResampleMismatched),
		narrate.WithMetrics(a.metrics),
	)
}

// Library returns the book operations served over HTTP.
func (a *App) Library() *Library { return a.library }

// Health returns the liveness and readiness handler.
func (a *App) Health() *health.Handler { return a.health }

// ApplyConfig applies the hot-reloadable part of a config change. It has
// the signature of [config.ChangeFunc].
func (a *App) ApplyConfig(_, new *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.NarrationChanged {
		a.library.SetGenerator(a.newGenerator(new.Narration))
		slog.Info("narration settings reloaded",
			"workers", new.Narration.Workers,
			"failure_policy", new.Narration.FailurePolicy,
		)
	}
}

// Shutdown releases resources in init order. It respects the context
// deadline: if ctx expires first, the remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			if err := ctx.Err(); err != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = err
				return
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}

// SlogLevel converts a config log level to its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
