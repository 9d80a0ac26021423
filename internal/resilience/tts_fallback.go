package resilience

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voicepages/internal/observe"
	"github.com/MrWong99/voicepages/pkg/provider/tts"
	"github.com/MrWong99/voicepages/pkg/types"
)

const kindTTS = "tts"

// TTSFallback implements [tts.Provider] over an ordered list of TTS
// backends, each behind its own circuit breaker.
type TTSFallback struct {
	group   *FallbackGroup[tts.Provider]
	metrics *observe.Metrics
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates an empty [TTSFallback]. A nil m records on
// [observe.DefaultMetrics].
func NewTTSFallback(cfg FallbackConfig, m *observe.Metrics) *TTSFallback {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &TTSFallback{group: NewFallbackGroup[tts.Provider](cfg), metrics: m}
}

// Add appends a backend. The first added backend is the primary.
func (f *TTSFallback) Add(name string, p tts.Provider) {
	f.group.Add(name, &instrumentedTTS{name: name, next: p, metrics: f.metrics})
}

// Names returns the backend names in fallback order.
func (f *TTSFallback) Names() []string { return f.group.Names() }

// States returns every backend's breaker state.
func (f *TTSFallback) States() map[string]State { return f.group.States() }

// SynthesizeNamed synthesises req and reports which backend produced the
// audio.
func (f *TTSFallback) SynthesizeNamed(ctx context.Context, req tts.Request) ([]byte, string, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, req)
	})
}

// Synthesize implements tts.Provider.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	audio, _, err := f.SynthesizeNamed(ctx, req)
	return audio, err
}

// ListVoices returns the voices of the first backend that answers.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	voices, _, err := ExecuteWithResult(ctx, f.group, func(ctx context.Context, p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
	return voices, err
}

// Available reports whether any backend with a non-open breaker is
// available.
func (f *TTSFallback) Available(ctx context.Context) bool {
	for _, e := range f.group.entries {
		if e.breaker.State() == StateOpen {
			continue
		}
		if e.value.Available(ctx) {
			return true
		}
	}
	return false
}

// instrumentedTTS records request, error and latency metrics for one
// backend.
type instrumentedTTS struct {
	name    string
	next    tts.Provider
	metrics *observe.Metrics
}

func (p *instrumentedTTS) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	start := time.Now()
	audio, err := p.next.Synthesize(ctx, req)
	p.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", p.name)))

	status := "ok"
	if err != nil {
		status = "error"
		if !errors.Is(err, context.Canceled) {
			p.metrics.RecordProviderError(ctx, p.name, kindTTS)
		}
	}
	p.metrics.RecordProviderRequest(ctx, p.name, kindTTS, status)
	return audio, err
}

func (p *instrumentedTTS) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return p.next.ListVoices(ctx)
}

func (p *instrumentedTTS) Available(ctx context.Context) bool {
	return p.next.Available(ctx)
}
