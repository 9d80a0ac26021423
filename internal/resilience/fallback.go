package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voicepages/internal/observe"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] produced a
// result. It is joined with every entry's error.
var ErrAllFailed = errors.New("resilience: all backends failed")

// DefaultMaxAttempts is the primary plus one fallback.
const DefaultMaxAttempts = 2

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for every entry's breaker. Name is
	// replaced with the entry name.
	CircuitBreaker CircuitBreakerConfig

	// MaxAttempts caps backend invocations per call. Entries skipped for an
	// open breaker do not count. Default: [DefaultMaxAttempts].
	MaxAttempts int

	// CallTimeout bounds every single invocation. Zero means no bound
	// beyond the caller's context.
	CallTimeout time.Duration
}

// fallbackEntry pairs a backend with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds an ordered list of backends of the same type. Entries
// are tried in registration order; the first success wins.
//
// Register entries before first use; Execute may then run concurrently.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates an empty [FallbackGroup].
func NewFallbackGroup[T any](cfg FallbackConfig) *FallbackGroup[T] {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &FallbackGroup[T]{cfg: cfg}
}

// Add appends a backend. The first added entry is the primary.
func (fg *FallbackGroup[T]) Add(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Len returns the number of registered entries.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Names returns the entry names in order.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = e.name
	}
	return out
}

// States returns every entry's breaker state keyed by entry name.
func (fg *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(fg.entries))
	for _, e := range fg.entries {
		out[e.name] = e.breaker.State()
	}
	return out
}

// ExecuteWithResult runs fn against the entries in order until one succeeds
// and returns its result and name. On failure the name is that of the last
// backend invoked, if any. Open breakers are skipped without using
// an attempt. Cancellation of ctx stops the chain and returns ctx's error.
// When every attempt fails the error joins [ErrAllFailed] with each entry's
// error, prefixed by the entry name.
//
// This is a package-level function because Go methods cannot declare type
// parameters.
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, string, error) {
	var (
		zero     R
		errs     []error
		attempts int
		last     string
	)
	log := observe.Logger(ctx)
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		if attempts >= fg.cfg.MaxAttempts {
			break
		}
		entry := &fg.entries[i]

		var (
			result  R
			invoked bool
		)
		err := entry.breaker.Execute(func() error {
			invoked = true
			callCtx, cancel := fg.callContext(ctx)
			defer cancel()
			var innerErr error
			result, innerErr = fn(callCtx, entry.value)
			return innerErr
		})
		if invoked {
			attempts++
			last = entry.name
		}
		if err == nil {
			return result, entry.name, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, "", ctxErr
		}
		errs = append(errs, fmt.Errorf("%s: %w", entry.name, err))
		if errors.Is(err, ErrCircuitOpen) {
			log.Debug("skipping backend, circuit open", slog.String("backend", entry.name))
			continue
		}
		log.Warn("backend failed, trying next", slog.String("backend", entry.name), slog.Any("err", err))
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("no backends configured"))
	}
	return zero, last, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

func (fg *FallbackGroup[T]) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if fg.cfg.CallTimeout > 0 {
		return context.WithTimeout(ctx, fg.cfg.CallTimeout)
	}
	return context.WithCancel(ctx)
}
