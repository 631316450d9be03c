// Package telemetry wires OpenTelemetry for tcsd.
//
// When enabled, spans opened by the state machine dispatch and by checker
// ticks are exported over OTLP (gRPC or HTTP), and OTEL instruments such as
// the event loop queue gauge are exported periodically. When disabled, the
// global no-op providers stay in place and instrumentation costs nothing.
//
// Prometheus remains the primary metrics surface; see package metrics.
//
// Telemetry failures never stop the daemon: a provider that cannot be built
// marks the instance degraded and falls back to no-op.
//
//	tel, err := telemetry.New(ctx, cfg.Telemetry, telemetry.WithServiceVersion(version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
// Tests use NewTestTelemetry, which records spans in memory.
package telemetry
