// Package character detects the characters of a book from a text sample.
//
// A [Registry] first asks an [Extractor] (normally an [LLMExtractor]) and
// falls back to the regex [Heuristic] when no extractor is configured, the
// extractor fails, or it names fewer than [MinCharacters] characters. Both
// paths add the synthetic narrator.
package character

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/voicepages/internal/observe"
	"github.com/MrWong99/voicepages/pkg/types"
)

// Detection sources.
const (
	SourceLLM       = "llm"
	SourceHeuristic = "heuristic"
)

// Extractor is the primary detection path.
type Extractor interface {
	Extract(ctx context.Context, sample string) ([]types.Character, error)
}

// Result is the outcome of [Registry.Detect].
type Result struct {
	// Characters is ordered: the heuristic orders by attribution count, the
	// LLM path by role then name. The narrator is always last.
	Characters []types.Character

	// Source is [SourceLLM] or [SourceHeuristic].
	Source string

	// Version is the lexicon version when Source is [SourceHeuristic].
	Version string
}

// ByName indexes the characters by name.
func (r Result) ByName() map[string]types.Character {
	m := make(map[string]types.Character, len(r.Characters))
	for _, c := range r.Characters {
		m[c.Name] = c
	}
	return m
}

// RegistryOption configures a [Registry].
type RegistryOption func(*Registry)

// WithExtractor sets the primary detection path.
func WithExtractor(e Extractor) RegistryOption {
	return func(r *Registry) {
		r.extractor = e
	}
}

// WithMetrics records detection metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// Registry runs character detection. It is safe for concurrent use.
type Registry struct {
	heuristic *Heuristic
	extractor Extractor
	metrics   *observe.Metrics
}

// NewRegistry returns a Registry that falls back to h.
func NewRegistry(h *Heuristic, opts ...RegistryOption) *Registry {
	r := &Registry{heuristic: h}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Detect returns the characters of sample. Extraction failures degrade to
// the heuristic; the only error is ctx's.
func (r *Registry) Detect(ctx context.Context, sample string) (Result, error) {
	ctx, span := observe.StartSpan(ctx, "character.detect")
	var err error
	defer func() { observe.EndSpan(span, err) }()

	log := observe.Logger(ctx)
	if r.extractor != nil {
		start := time.Now()
		chars, xerr := r.extractor.Extract(ctx, sample)
		r.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
		if xerr == nil {
			span.SetAttributes(attribute.String("source", SourceLLM), attribute.Int("characters", len(chars)))
			r.metrics.RecordDetection(ctx, SourceLLM)
			log.Info("characters detected", slog.String("source", SourceLLM), slog.Int("count", len(chars)))
			return Result{Characters: withNarrator(chars), Source: SourceLLM}, nil
		}
		if err = ctx.Err(); err != nil {
			return Result{}, err
		}
		log.Warn("llm character extraction failed, using heuristic", slog.Any("err", xerr))
	}

	chars := r.heuristic.Detect(sample)
	span.SetAttributes(attribute.String("source", SourceHeuristic), attribute.Int("characters", len(chars)))
	r.metrics.RecordDetection(ctx, SourceHeuristic)
	log.Info("characters detected",
		slog.String("source", SourceHeuristic),
		slog.String("version", r.heuristic.Version()),
		slog.Int("count", len(chars)),
	)
	return Result{Characters: chars, Source: SourceHeuristic, Version: r.heuristic.Version()}, nil
}

// withNarrator replaces any narrator entries in chars with a single
// canonical narrator at the end.
func withNarrator(chars []types.Character) []types.Character {
	out := make([]types.Character, 0, len(chars)+1)
	for _, c := range chars {
		if !c.IsNarrator() {
			out = append(out, c)
		}
	}
	return append(out, Narrator())
}
