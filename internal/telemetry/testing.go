package telemetry

import (
	"context"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry records spans and metrics in memory. Tracer and Meter on the
// embedded Telemetry hand out instruments backed by the recorder and reader.
type TestTelemetry struct {
	*Telemetry

	SpanRecorder *tracetest.SpanRecorder
	MetricReader *MemoryReader
}

// NewTestTelemetry creates an enabled in-memory instance.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	rec := tracetest.NewSpanRecorder()
	reader := &MemoryReader{manual: sdkmetric.NewManualReader()}
	tel := &Telemetry{
		config:         cfg,
		tracerProvider: trace.NewTracerProvider(trace.WithSpanProcessor(rec)),
		meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader.manual)),
	}
	tel.healthy.Store(true)
	return &TestTelemetry{Telemetry: tel, SpanRecorder: rec, MetricReader: reader}
}

// Spans returns every ended span in end order.
func (t *TestTelemetry) Spans() []trace.ReadOnlySpan {
	return t.SpanRecorder.Ended()
}

// SpanByName returns the first ended span called name, or nil.
func (t *TestTelemetry) SpanByName(name string) trace.ReadOnlySpan {
	for _, s := range t.Spans() {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// AssertSpanExists fails tb unless a span called name has ended.
func (t *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	if t.SpanByName(name) == nil {
		tb.Errorf("expected span %q not found, got: %v", name, t.spanNames())
	}
}

// AssertSpanAttribute fails tb unless the span called spanName carries key
// with the expected value. Integers compare as int64.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, spanName, key string, expected any) {
	tb.Helper()
	span := t.SpanByName(spanName)
	if span == nil {
		tb.Fatalf("span %q not found, got: %v", spanName, t.spanNames())
	}
	for _, kv := range span.Attributes() {
		if string(kv.Key) != key {
			continue
		}
		if got := plain(kv.Value); got != expected {
			tb.Errorf("span %q attribute %q: got %v (%T), want %v (%T)", spanName, key, got, got, expected, expected)
		}
		return
	}
	tb.Errorf("span %q missing attribute %q", spanName, key)
}

// AssertSpanCount fails tb unless exactly n spans called name have ended.
func (t *TestTelemetry) AssertSpanCount(tb testing.TB, name string, n int) {
	tb.Helper()
	got := 0
	for _, s := range t.Spans() {
		if s.Name() == name {
			got++
		}
	}
	if got != n {
		tb.Errorf("span %q: got %d, want %d", name, got, n)
	}
}

func (t *TestTelemetry) spanNames() []string {
	var names []string
	for _, s := range t.Spans() {
		names = append(names, s.Name())
	}
	return names
}

func plain(v attribute.Value) any {
	switch v.Type() {
	case attribute.STRING:
		return v.AsString()
	case attribute.INT64:
		return v.AsInt64()
	case attribute.FLOAT64:
		return v.AsFloat64()
	case attribute.BOOL:
		return v.AsBool()
	}
	return v.AsInterface()
}

// MemoryReader collects metrics on demand and keeps every snapshot.
type MemoryReader struct {
	manual *sdkmetric.ManualReader

	mu        sync.Mutex
	snapshots []metricdata.ResourceMetrics
}

// ForceFlush collects a snapshot.
func (r *MemoryReader) ForceFlush(ctx context.Context) error {
	var rm metricdata.ResourceMetrics
	if err := r.manual.Collect(ctx, &rm); err != nil {
		return err
	}
	r.mu.Lock()
	r.snapshots = append(r.snapshots, rm)
	r.mu.Unlock()
	return nil
}

// Shutdown stops the reader.
func (r *MemoryReader) Shutdown(ctx context.Context) error {
	return r.manual.Shutdown(ctx)
}

// Metrics returns the snapshots collected so far.
func (r *MemoryReader) Metrics() []metricdata.ResourceMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]metricdata.ResourceMetrics(nil), r.snapshots...)
}
