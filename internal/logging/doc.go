// Package logging provides structured logging for tcsd.
//
// Logger wraps zap with context-aware methods. Every entry carries the
// correlation fields found on the context: the OpenTelemetry trace and span
// ids, the run id of the current sequencing run, the phase being entered and
// the checker that produced the entry.
//
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithPhase(ctx, "Charging.AD.Phase1B")
//	logger.Info(ctx, "preheat skipped", zap.Float64("stable_temp", t))
//
// Sampling is per level. Checkers tick every second and would otherwise
// flood the output at debug level; errors are never sampled.
//
// Use TestLogger in tests to assert on emitted entries.
package logging
