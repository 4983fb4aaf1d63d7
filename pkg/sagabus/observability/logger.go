// Package observability provides structured logging, metrics, tracing and
// health reporting for the bus and the saga orchestrator.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// Metrics and tracing are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds event context to a logger.
//
// Example:
//
//	enriched := EnrichLogger(logger, "evt-123", "sample.created")
//	enriched.Warn("handler failed") // includes event_id, event_type
func EnrichLogger(logger *slog.Logger, eventID, eventType string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
	)
}

// LogHandlerError logs a failed subscription handler invocation.
func LogHandlerError(logger *slog.Logger, subscriptionID, eventID string, attempt int, err error) {
	if logger == nil {
		return
	}
	logger.Warn("event handler failed",
		slog.String("subscription_id", subscriptionID),
		slog.String("event_id", eventID),
		slog.Int("attempt", attempt),
		slog.String("error", err.Error()),
	)
}

// LogDeadLetter logs an event moved to the dead-letter queue.
func LogDeadLetter(logger *slog.Logger, eventID, eventType, reason string) {
	if logger == nil {
		return
	}
	logger.Error("event dead-lettered",
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.String("reason", reason),
	)
}

// LogSagaStart logs the start of a saga.
func LogSagaStart(logger *slog.Logger, sagaID, name string, steps int) {
	if logger == nil {
		return
	}
	logger.Info("saga starting",
		slog.String("saga_id", sagaID),
		slog.String("saga_name", name),
		slog.Int("steps", steps),
	)
}

// LogSagaFinished logs a saga reaching a terminal status.
func LogSagaFinished(logger *slog.Logger, sagaID, name, status string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("saga finished",
		slog.String("saga_id", sagaID),
		slog.String("saga_name", name),
		slog.String("status", status),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogStepFailed logs a failed saga step attempt.
func LogStepFailed(logger *slog.Logger, sagaID, stepID string, retryCount int, err error) {
	if logger == nil {
		return
	}
	logger.Warn("saga step failed",
		slog.String("saga_id", sagaID),
		slog.String("step_id", stepID),
		slog.Int("retry_count", retryCount),
		slog.String("error", err.Error()),
	)
}

// LogCompensationError logs a compensation handler failure (non-fatal).
func LogCompensationError(logger *slog.Logger, sagaID, stepID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("saga compensation failed",
		slog.String("saga_id", sagaID),
		slog.String("step_id", stepID),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	elapsed := done()
func TimedOperation() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}

// Milliseconds converts a duration to fractional milliseconds for log fields.
func Milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
