package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tcsd/internal/config"
	"github.com/fyrsmithlabs/tcsd/internal/logging"
)

// Option configures New.
type Option func(*options)

type options struct {
	version        string
	traceExporter  trace.SpanExporter
	metricExporter sdkmetric.Exporter
	logger         *logging.Logger
}

// WithServiceVersion sets the service.version resource attribute.
func WithServiceVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithTraceExporter overrides the OTLP span exporter.
func WithTraceExporter(exp trace.SpanExporter) Option {
	return func(o *options) { o.traceExporter = exp }
}

// WithMetricExporter overrides the OTLP metric exporter.
func WithMetricExporter(exp sdkmetric.Exporter) Option {
	return func(o *options) { o.metricExporter = exp }
}

// WithLogger reports degraded providers.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Telemetry owns the tracer and meter providers.
type Telemetry struct {
	cfg    config.TelemetryConfig
	logger *logging.Logger

	tracerProvider *trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	logProvider    log.LoggerProvider

	healthy  atomic.Bool
	degraded atomic.Bool
}

// New builds the providers and installs them globally. A disabled config
// returns a no-op instance.
func New(ctx context.Context, cfg config.TelemetryConfig, opts ...Option) (*Telemetry, error) {
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	o := options{version: "dev", logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	t := &Telemetry{cfg: cfg, logger: o.logger.Named("telemetry")}
	t.healthy.Store(true)
	if !cfg.Enabled {
		return t, nil
	}

	res, err := newResource(cfg.ServiceName, o.version)
	if err != nil {
		t.setDegraded(ctx, "resource creation failed", err)
		return t, nil
	}

	tp, err := newTracerProvider(ctx, cfg, res, o.traceExporter)
	if err != nil {
		t.setDegraded(ctx, "tracer provider failed", err)
	} else {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	if cfg.Metrics {
		mp, err := newMeterProvider(ctx, cfg, res, o.metricExporter)
		if err != nil {
			t.setDegraded(ctx, "meter provider failed", err)
		} else {
			t.meterProvider = mp
			otel.SetMeterProvider(mp)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

// Validate checks cfg. Insecure export is only allowed to local endpoints.
func Validate(cfg config.TelemetryConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Endpoint == "" {
		return errors.New("endpoint is required when telemetry is enabled")
	}
	if cfg.ServiceName == "" {
		return errors.New("service_name is required when telemetry is enabled")
	}
	if cfg.Insecure && !isLocalEndpoint(cfg.Endpoint) {
		return fmt.Errorf("insecure export to remote endpoint %q is not allowed", cfg.Endpoint)
	}
	if cfg.SampleRate < 0 || cfg.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be between 0 and 1, got %f", cfg.SampleRate)
	}
	if cfg.Metrics && cfg.ExportInterval.Duration() <= 0 {
		return errors.New("export_interval must be positive when metrics are enabled")
	}
	return nil
}

// Tracer returns a tracer for the instrumentation scope name.
func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.tracerProvider.Tracer(name, opts...)
}

// Meter returns a meter for the instrumentation scope name.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.meterProvider.Meter(name, opts...)
}

// ObserveQueue registers an observable gauge reporting pending().
func (t *Telemetry) ObserveQueue(name string, pending func() int) error {
	meter := t.Meter("github.com/fyrsmithlabs/tcsd/internal/loop")
	_, err := meter.Int64ObservableGauge(name,
		metric.WithDescription("Tasks waiting on the event loop"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(pending()))
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("registering %s: %w", name, err)
	}
	return nil
}

// LoggerProvider returns the provider for the zap OTEL bridge. Unless one
// was set, it is the global provider, which drops records until a log SDK is
// installed.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil || t.logProvider == nil {
		return global.GetLoggerProvider()
	}
	return t.logProvider
}

// SetLoggerProvider sets the provider returned by LoggerProvider.
func (t *Telemetry) SetLoggerProvider(lp log.LoggerProvider) {
	if t != nil {
		t.logProvider = lp
	}
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	t.healthy.Store(false)
	return errors.Join(errs...)
}

// ForceFlush exports pending telemetry immediately.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace flush: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter flush: %w", err))
		}
	}
	return errors.Join(errs...)
}

// HealthStatus reports provider health.
type HealthStatus struct {
	Healthy  bool `json:"healthy"`
	Degraded bool `json:"degraded"`
}

// Health returns the current status.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Healthy: false, Degraded: true}
	}
	return HealthStatus{Healthy: t.healthy.Load(), Degraded: t.degraded.Load()}
}

// IsEnabled reports whether export is configured and healthy.
func (t *Telemetry) IsEnabled() bool {
	if t == nil {
		return false
	}
	return t.cfg.Enabled && t.healthy.Load()
}

func (t *Telemetry) setDegraded(ctx context.Context, msg string, err error) {
	t.degraded.Store(true)
	t.logger.Warn(ctx, "telemetry degraded: "+msg, zap.Error(err))
}

func isLocalEndpoint(endpoint string) bool {
	host := stripScheme(endpoint)
	if strings.HasPrefix(host, "[") {
		if idx := strings.Index(host, "]"); idx != -1 {
			host = host[1:idx]
		}
	} else if strings.Count(host, ":") == 1 {
		host = host[:strings.LastIndex(host, ":")]
	}
	return host == "localhost" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.")
}
