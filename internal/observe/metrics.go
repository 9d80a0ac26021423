// Package observe provides observability primitives for voicepages:
// OpenTelemetry metrics, tracing, trace-aware logging, and HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// installs a Prometheus exporter bridge so that the same instruments can be
// scraped from /metrics. Tests should build their own [Metrics] with
// [NewMetrics] and a ManualReader instead of relying on [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/voicepages"

// Segment outcome values recorded on [Metrics.SegmentOutcomes].
const (
	OutcomeOK          = "ok"
	OutcomeSubstituted = "substituted"
	OutcomeOmitted     = "omitted"
	OutcomeInvalid     = "invalid"
)

// Metrics holds every metric instrument of the service. All fields are safe
// for concurrent use.
type Metrics struct {
	// SynthesisDuration tracks a single backend synthesis call. Attributes:
	//   attribute.String("provider", ...)
	SynthesisDuration metric.Float64Histogram

	// LLMDuration tracks LLM completions used for detection and casting.
	LLMDuration metric.Float64Histogram

	// ChapterDuration tracks end-to-end chapter generation.
	ChapterDuration metric.Float64Histogram

	// ProviderRequests counts backend calls. Attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts backend failures. Attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// SegmentOutcomes counts per-segment results. Attribute:
	//   attribute.String("outcome", ...)
	SegmentOutcomes metric.Int64Counter

	// Detections counts character detection runs. Attribute:
	//   attribute.String("source", "llm"|"heuristic")
	Detections metric.Int64Counter

	// DroppedClips counts clips the assembler could not use.
	DroppedClips metric.Int64Counter

	// ActiveChapters tracks chapters currently being generated.
	ActiveChapters metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Synthesis of a long
// paragraph and a whole chapter both land well above a second.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates every instrument using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SynthesisDuration, err = m.Float64Histogram("voicepages.synthesis.duration",
		metric.WithDescription("Latency of a single text-to-speech call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("voicepages.llm.duration",
		metric.WithDescription("Latency of LLM completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChapterDuration, err = m.Float64Histogram("voicepages.chapter.duration",
		metric.WithDescription("End-to-end chapter generation latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("voicepages.provider.requests",
		metric.WithDescription("Backend requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voicepages.provider.errors",
		metric.WithDescription("Backend errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.SegmentOutcomes, err = m.Int64Counter("voicepages.segment.outcomes",
		metric.WithDescription("Segment results by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("voicepages.detections",
		metric.WithDescription("Character detection runs by source."),
	); err != nil {
		return nil, err
	}
	if met.DroppedClips, err = m.Int64Counter("voicepages.assembler.dropped_clips",
		metric.WithDescription("Clips dropped while assembling chapter audio."),
	); err != nil {
		return nil, err
	}

	if met.ActiveChapters, err = m.Int64UpDownCounter("voicepages.active_chapters",
		metric.WithDescription("Chapters currently being generated."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voicepages.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordSegment increments the segment outcome counter.
func (m *Metrics) RecordSegment(ctx context.Context, outcome string) {
	m.SegmentOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordDetection increments the detection counter for source.
func (m *Metrics) RecordDetection(ctx context.Context, source string) {
	m.Detections.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}
