package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the value of the data point carrying key=value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no point with %s=%s", name, key, value)
	return 0
}

func TestHistograms(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SynthesisDuration.Record(ctx, 1.2)
	m.SynthesisDuration.Record(ctx, 0.4)
	m.LLMDuration.Record(ctx, 3)
	m.ChapterDuration.Record(ctx, 42)
	rm := collect(t, reader)

	for name, want := range map[string]uint64{
		"voicepages.synthesis.duration": 2,
		"voicepages.llm.duration":       1,
		"voicepages.chapter.duration":   1,
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok || len(hist.DataPoints) == 0 {
			t.Fatalf("metric %q has no histogram data", name)
		}
		if got := hist.DataPoints[0].Count; got != want {
			t.Errorf("%s count = %d, want %d", name, got, want)
		}
	}
}

func TestRecordHelpers(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "kokoro", "tts", "ok")
	m.RecordProviderRequest(ctx, "kokoro", "tts", "ok")
	m.RecordProviderRequest(ctx, "kokoro", "tts", "error")
	m.RecordProviderError(ctx, "kokoro", "tts")
	m.RecordSegment(ctx, OutcomeOK)
	m.RecordSegment(ctx, OutcomeOK)
	m.RecordSegment(ctx, OutcomeSubstituted)
	m.RecordDetection(ctx, "heuristic")
	m.DroppedClips.Add(ctx, 3)
	m.ActiveChapters.Add(ctx, 1)
	m.ActiveChapters.Add(ctx, -1)
	rm := collect(t, reader)

	if got := sumFor(t, rm, "voicepages.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumFor(t, rm, "voicepages.provider.errors", "provider", "kokoro"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
	if got := sumFor(t, rm, "voicepages.segment.outcomes", "outcome", OutcomeOK); got != 2 {
		t.Errorf("ok segments = %d, want 2", got)
	}
	if got := sumFor(t, rm, "voicepages.detections", "source", "heuristic"); got != 1 {
		t.Errorf("detections = %d, want 1", got)
	}

	dropped := findMetric(rm, "voicepages.assembler.dropped_clips")
	if sum, ok := dropped.Data.(metricdata.Sum[int64]); !ok || sum.DataPoints[0].Value != 3 {
		t.Errorf("dropped clips = %+v", dropped.Data)
	}
	active := findMetric(rm, "voicepages.active_chapters")
	if sum, ok := active.Data.(metricdata.Sum[int64]); !ok || sum.DataPoints[0].Value != 0 {
		t.Errorf("active chapters = %+v", active.Data)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	t.Parallel()
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
