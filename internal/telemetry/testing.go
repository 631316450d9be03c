package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fyrsmithlabs/tcsd/internal/config"
)

// TestTelemetry records spans and metrics in memory.
type TestTelemetry struct {
	*Telemetry

	SpanRecorder *tracetest.SpanRecorder
	reader       *sdkmetric.ManualReader
}

// NewTestTelemetry returns an enabled instance with in-memory exporters.
func NewTestTelemetry() *TestTelemetry {
	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()

	t := &Telemetry{
		cfg:            config.TelemetryConfig{Enabled: true, ServiceName: "tcsd-test"},
		tracerProvider: trace.NewTracerProvider(trace.WithSpanProcessor(recorder)),
		meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
	t.healthy.Store(true)
	return &TestTelemetry{Telemetry: t, SpanRecorder: recorder, reader: reader}
}

// Install makes the test providers global. Components resolve their tracer
// at construction, so call it before building them. Tests that call it must
// not run in parallel.
func (t *TestTelemetry) Install(tb testing.TB) {
	tb.Helper()
	otel.SetTracerProvider(t.tracerProvider)
	otel.SetMeterProvider(t.meterProvider)
}

// Spans returns the ended spans.
func (t *TestTelemetry) Spans() []trace.ReadOnlySpan {
	return t.SpanRecorder.Ended()
}

// SpanByName returns the first ended span called name, or nil.
func (t *TestTelemetry) SpanByName(name string) trace.ReadOnlySpan {
	for _, span := range t.Spans() {
		if span.Name() == name {
			return span
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

// AssertSpanAttribute fails tb unless span name carries key == expected.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, name, key string, expected any) {
	tb.Helper()
	span := t.SpanByName(name)
	if span == nil {
		tb.Fatalf("span %q not found", name)
	}
	for _, attr := range span.Attributes() {
		if string(attr.Key) == key {
			if got := attr.Value.AsInterface(); got != expected {
				tb.Errorf("span %q attribute %q: got %v, want %v", name, key, got, expected)
			}
			return
		}
	}
	tb.Errorf("span %q missing attribute %q", name, key)
}

func (t *TestTelemetry) spanNames() []string {
	spans := t.Spans()
	names := make([]string, len(spans))
	for i, span := range spans {
		names[i] = span.Name()
	}
	return names
}

// Collect reads the current metric values.
func (t *TestTelemetry) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	err := t.reader.Collect(ctx, &rm)
	return rm, err
}

// Gauge returns the last int64 gauge value called name.
func (t *TestTelemetry) Gauge(ctx context.Context, name string) (int64, bool) {
	rm, err := t.Collect(ctx)
	if err != nil {
		return 0, false
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if g, ok := m.Data.(metricdata.Gauge[int64]); ok && len(g.DataPoints) > 0 {
				return g.DataPoints[len(g.DataPoints)-1].Value, true
			}
		}
	}
	return 0, false
}
