// Package event provides the event value, payload codec and the in-process
// event bus.
//
// # Events
//
// An Event is an immutable message: id, type, timestamp, version, source,
// optional correlation id and metadata, and a typed Payload. The type tag
// is read from the payload, so domain packages define one struct per event
// kind:
//
//	type Created struct {
//	    SampleID string `json:"sampleId"`
//	}
//
//	func (Created) EventType() string { return "sample.created" }
//
//	evt := event.New("sample-service", Created{SampleID: "S-1"},
//	    event.WithCorrelationID(requestID))
//
// Payloads without a Go struct use Generic. A Registry decodes JSON
// envelopes back into concrete payloads:
//
//	reg := event.NewRegistry()
//	event.RegisterPayload[Created](reg)
//	evt, err := reg.Decode(data)
//
// # Bus
//
// Bus routes published events to every subscription of the event's type.
// Publish validates the event and returns immediately; handlers run
// concurrently and independently of one another:
//
//	bus := event.NewBus(event.DefaultBusConfig, event.WithLogger(logger))
//	defer bus.Shutdown(ctx)
//
//	id := bus.Subscribe("sample.created", func(ctx context.Context, evt event.Event) error {
//	    return index(ctx, evt.Data().(Created))
//	}, event.WithRetryAttempts(5))
//
//	if err := bus.Publish(ctx, evt); err != nil {
//	    // validation failure or ErrBusShutdown
//	}
//
// # Failure Handling
//
// A failed delivery is queued for retry after the subscription's retry
// delay. The retry processor runs every BusConfig.RetryInterval and retries
// up to RetryBatchSize due entries per tick. Once a subscription's retry
// attempts are used up the event moves to the dead-letter queue, or is
// dropped when dead-lettering is disabled. Errors wrapped with
// errors.Permanent skip retries. Dead-lettered events are never retried
// automatically; inspect them with GetDeadLetterQueue.
//
// # Observability
//
// GetStats, HealthCheck and Subscriptions expose counters. WithMetrics and
// WithTracing enable OpenTelemetry instruments and spans.
package event
