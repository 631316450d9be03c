package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc/credentials"

	"github.com/fyrsmithlabs/tcsd/internal/config"
)

const protocolHTTP = "http/protobuf"

func newResource(service, version string) (*resource.Resource, error) {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		semconv.ServiceVersion(version),
	), nil
}

func newTracerProvider(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, exporter trace.SpanExporter) (*trace.TracerProvider, error) {
	if exporter == nil {
		var err error
		if cfg.Protocol == protocolHTTP {
			opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(stripScheme(cfg.Endpoint))}
			if cfg.Insecure {
				opts = append(opts, otlptracehttp.WithInsecure())
			}
			exporter, err = otlptracehttp.New(ctx, opts...)
		} else {
			opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
			if cfg.Insecure {
				opts = append(opts, otlptracegrpc.WithInsecure())
			} else {
				opts = append(opts, otlptracegrpc.WithTLSCredentials(tlsCredentials()))
			}
			exporter, err = otlptracegrpc.New(ctx, opts...)
		}
		if err != nil {
			return nil, fmt.Errorf("creating trace exporter: %w", err)
		}
	}

	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(sampler(cfg.SampleRate)),
	), nil
}

func sampler(rate float64) trace.Sampler {
	var s trace.Sampler
	switch {
	case rate >= 1:
		s = trace.AlwaysSample()
	case rate <= 0:
		s = trace.NeverSample()
	default:
		s = trace.TraceIDRatioBased(rate)
	}
	return trace.ParentBased(s)
}

func newMeterProvider(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, exporter metric.Exporter) (*metric.MeterProvider, error) {
	if exporter == nil {
		// Cumulative temporality for Prometheus-compatible backends.
		cumulative := func(metric.InstrumentKind) metricdata.Temporality {
			return metricdata.CumulativeTemporality
		}
		var err error
		if cfg.Protocol == protocolHTTP {
			opts := []otlpmetrichttp.Option{
				otlpmetrichttp.WithEndpoint(stripScheme(cfg.Endpoint)),
				otlpmetrichttp.WithTemporalitySelector(cumulative),
			}
			if cfg.Insecure {
				opts = append(opts, otlpmetrichttp.WithInsecure())
			}
			exporter, err = otlpmetrichttp.New(ctx, opts...)
		} else {
			opts := []otlpmetricgrpc.Option{
				otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
				otlpmetricgrpc.WithTemporalitySelector(cumulative),
			}
			if cfg.Insecure {
				opts = append(opts, otlpmetricgrpc.WithInsecure())
			} else {
				opts = append(opts, otlpmetricgrpc.WithTLSCredentials(tlsCredentials()))
			}
			exporter, err = otlpmetricgrpc.New(ctx, opts...)
		}
		if err != nil {
			return nil, fmt.Errorf("creating metric exporter: %w", err)
		}
	}

	return metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(exporter,
			metric.WithInterval(cfg.ExportInterval.Duration()))),
	), nil
}

// tlsCredentials verifies the collector against the system roots.
func tlsCredentials() credentials.TransportCredentials {
	return credentials.NewClientTLSFromCert(nil, "")
}

// stripScheme removes http:// or https://; the HTTP exporters want host:port.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(endpoint, "http://")
}
