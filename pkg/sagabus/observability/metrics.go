package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope for all sagabus instruments.
const MeterName = "sagabus"

// MetricsRecorder records bus and saga metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPublish records an accepted publish.
	RecordPublish(ctx context.Context, eventType string)

	// RecordDelivery records one handler invocation with its duration and error status.
	RecordDelivery(ctx context.Context, eventType string, duration time.Duration, err error)

	// RecordRetry records an event re-queued for another delivery attempt.
	RecordRetry(ctx context.Context, eventType string)

	// RecordDeadLetter records an event moved to the dead-letter queue.
	RecordDeadLetter(ctx context.Context, eventType string)

	// RecordStep records a saga step attempt.
	RecordStep(ctx context.Context, sagaName, action string, duration time.Duration, err error)

	// RecordSaga records a saga reaching a terminal status.
	RecordSaga(ctx context.Context, sagaName, status string, duration time.Duration)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	published    metric.Int64Counter
	deliveries   metric.Int64Counter
	deliveryLat  metric.Float64Histogram
	deliveryErrs metric.Int64Counter
	retries      metric.Int64Counter
	deadLetters  metric.Int64Counter
	stepLatency  metric.Float64Histogram
	stepErrors   metric.Int64Counter
	sagaRuns     metric.Int64Counter
	sagaLatency  metric.Float64Histogram
}

// newOtelMetrics creates the instruments on the global meter provider.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter(MeterName)
	m := &otelMetrics{}
	var err error

	if m.published, err = meter.Int64Counter("sagabus.events.published",
		metric.WithDescription("Number of events accepted by Publish"),
	); err != nil {
		return nil, err
	}
	if m.deliveries, err = meter.Int64Counter("sagabus.handler.invocations",
		metric.WithDescription("Number of subscription handler invocations"),
	); err != nil {
		return nil, err
	}
	if m.deliveryLat, err = meter.Float64Histogram("sagabus.handler.latency_ms",
		metric.WithDescription("Subscription handler latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.deliveryErrs, err = meter.Int64Counter("sagabus.handler.errors",
		metric.WithDescription("Number of failed handler invocations"),
	); err != nil {
		return nil, err
	}
	if m.retries, err = meter.Int64Counter("sagabus.events.retried",
		metric.WithDescription("Number of events queued for retry"),
	); err != nil {
		return nil, err
	}
	if m.deadLetters, err = meter.Int64Counter("sagabus.events.dead_lettered",
		metric.WithDescription("Number of events moved to the dead-letter queue"),
	); err != nil {
		return nil, err
	}
	if m.stepLatency, err = meter.Float64Histogram("sagabus.saga.step.latency_ms",
		metric.WithDescription("Saga step latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.stepErrors, err = meter.Int64Counter("sagabus.saga.step.errors",
		metric.WithDescription("Number of failed saga step attempts"),
	); err != nil {
		return nil, err
	}
	if m.sagaRuns, err = meter.Int64Counter("sagabus.saga.runs",
		metric.WithDescription("Number of sagas reaching a terminal status"),
	); err != nil {
		return nil, err
	}
	if m.sagaLatency, err = meter.Float64Histogram("sagabus.saga.latency_ms",
		metric.WithDescription("Saga latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := newOtelMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordPublish(ctx context.Context, eventType string) {
	m.published.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (m *otelMetrics) RecordDelivery(ctx context.Context, eventType string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("event_type", eventType))
	m.deliveries.Add(ctx, 1, attrs)
	m.deliveryLat.Record(ctx, Milliseconds(duration), attrs)
	if err != nil {
		m.deliveryErrs.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordRetry(ctx context.Context, eventType string) {
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (m *otelMetrics) RecordDeadLetter(ctx context.Context, eventType string) {
	m.deadLetters.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (m *otelMetrics) RecordStep(ctx context.Context, sagaName, action string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("saga_name", sagaName),
		attribute.String("action", action),
	)
	m.stepLatency.Record(ctx, Milliseconds(duration), attrs)
	if err != nil {
		m.stepErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordSaga(ctx context.Context, sagaName, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("saga_name", sagaName),
		attribute.String("status", status),
	)
	m.sagaRuns.Add(ctx, 1, attrs)
	m.sagaLatency.Record(ctx, Milliseconds(duration), attrs)
}
