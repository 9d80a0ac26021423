// Package observetest provides helpers for asserting on voicepages metrics
// in tests of other packages.
package observetest

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voicepages/internal/observe"
)

// Reader wraps a ManualReader with lookup helpers.
type Reader struct {
	*sdkmetric.ManualReader
}

// NewMetrics returns a fresh [observe.Metrics] backed by a ManualReader.
func NewMetrics(t testing.TB) (*observe.Metrics, Reader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, Reader{reader}
}

// Counter returns the value of the int64 sum data point of metric name whose
// attributes include every key/value pair in attrs. Missing metrics or
// points count as zero.
func (r Reader) Counter(t testing.TB, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := r.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					if matches(dp.Attributes, attrs) {
						total += dp.Value
					}
				}
			default:
				t.Fatalf("metric %q is %T, not an int64 sum", name, m.Data)
			}
		}
	}
	return total
}

// HistogramCount returns the number of recordings of float64 histogram name
// whose attributes include attrs.
func (r Reader) HistogramCount(t testing.TB, name string, attrs ...attribute.KeyValue) uint64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := r.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			h, ok := m.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is %T, not a float64 histogram", name, m.Data)
			}
			for _, dp := range h.DataPoints {
				if matches(dp.Attributes, attrs) {
					total += dp.Count
				}
			}
		}
	}
	return total
}

func matches(set attribute.Set, attrs []attribute.KeyValue) bool {
	for _, kv := range attrs {
		v, ok := set.Value(kv.Key)
		if !ok || v.Emit() != kv.Value.Emit() {
			return false
		}
	}
	return true
}
