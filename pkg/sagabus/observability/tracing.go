package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartPublishSpan starts a span around accepting an event.
	StartPublishSpan(ctx context.Context, eventType, eventID string) (context.Context, trace.Span)

	// StartHandlerSpan starts a span for one subscription handler invocation.
	StartHandlerSpan(ctx context.Context, eventType, subscriptionID string) (context.Context, trace.Span)

	// StartSagaSpan starts a span for an entire saga.
	StartSagaSpan(ctx context.Context, sagaName, sagaID string) (context.Context, trace.Span)

	// StartStepSpan starts a span for a saga step attempt.
	// The step span should be a child of the saga span.
	StartStepSpan(ctx context.Context, stepID, action string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{tracer: otel.Tracer(MeterName)}
}

func (m *otelSpanManager) StartPublishSpan(ctx context.Context, eventType, eventID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "sagabus.publish",
		trace.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.String("event.id", eventID),
		),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
}

func (m *otelSpanManager) StartHandlerSpan(ctx context.Context, eventType, subscriptionID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "sagabus.handle "+eventType,
		trace.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.String("subscription.id", subscriptionID),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
}

func (m *otelSpanManager) StartSagaSpan(ctx context.Context, sagaName, sagaID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "sagabus.saga",
		trace.WithAttributes(
			attribute.String("saga.name", sagaName),
			attribute.String("saga.id", sagaID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartStepSpan(ctx context.Context, stepID, action string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "sagabus.saga.step."+stepID,
		trace.WithAttributes(
			attribute.String("step.id", stepID),
			attribute.String("step.action", action),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
