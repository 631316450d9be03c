package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	runIDCtxKey   struct{}
	phaseCtxKey   struct{}
	checkerCtxKey struct{}
	loggerCtxKey  struct{}
)

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := RunIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("run.id", id))
	}
	if phase := PhaseFromContext(ctx); phase != "" {
		fields = append(fields, zap.String("phase", phase))
	}
	if name := CheckerFromContext(ctx); name != "" {
		fields = append(fields, zap.String("checker", name))
	}
	return fields
}

// WithRunID tags ctx with the id of the current sequencing run.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDCtxKey{}, id)
}

// RunIDFromContext returns the run id, or "".
func RunIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(runIDCtxKey{}).(string)
	return s
}

// WithPhase tags ctx with a state id.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseCtxKey{}, phase)
}

// PhaseFromContext returns the phase, or "".
func PhaseFromContext(ctx context.Context) string {
	s, _ := ctx.Value(phaseCtxKey{}).(string)
	return s
}

// WithChecker tags ctx with a checker name.
func WithChecker(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, checkerCtxKey{}, name)
}

// CheckerFromContext returns the checker name, or "".
func CheckerFromContext(ctx context.Context) string {
	s, _ := ctx.Value(checkerCtxKey{}).(string)
	return s
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return NewNop()
}
