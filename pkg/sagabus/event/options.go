package event

import (
	"context"
	"log/slog"
	"time"

	"github.com/randalmurphal/sagabus/pkg/sagabus/observability"
)

// HandlerFunc processes one event. A returned error routes the event to
// the retry queue or the dead-letter queue per the subscription options.
type HandlerFunc func(ctx context.Context, evt Event) error

// FilterFunc reports whether a subscription wants evt. Rejected events
// are skipped without touching the subscription's stats.
type FilterFunc func(evt Event) bool

// Priority orders subscriptions. It is advisory: dispatch to every
// subscription of a type is concurrent.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the bus logger (default: slog.Default()).
func WithLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics enables OpenTelemetry metrics for the bus.
func WithMetrics(enabled bool) BusOption {
	return func(b *Bus) {
		if enabled {
			b.metrics = observability.NewMetricsRecorder()
		} else {
			b.metrics = observability.NoopMetrics{}
		}
	}
}

// WithTracing enables OpenTelemetry spans for publish and handler calls.
func WithTracing(enabled bool) BusOption {
	return func(b *Bus) {
		if enabled {
			b.spans = observability.NewSpanManager()
		} else {
			b.spans = observability.NoopSpanManager{}
		}
	}
}

type publishOptions struct {
	delay      time.Duration
	priority   Priority
	persistent bool
	timeout    time.Duration
}

// PublishOption configures a single Publish call.
type PublishOption func(*publishOptions)

// WithDelay defers dispatch by d. Publish still returns immediately.
func WithDelay(d time.Duration) PublishOption {
	return func(o *publishOptions) { o.delay = d }
}

// WithPriority tags the publish with a priority. Advisory only.
func WithPriority(p Priority) PublishOption {
	return func(o *publishOptions) { o.priority = p }
}

// WithPersistent marks the event as persistent. Advisory only; the bus
// keeps no durable log.
func WithPersistent(persistent bool) PublishOption {
	return func(o *publishOptions) { o.persistent = persistent }
}

// WithTimeout bounds each handler invocation's context for this event.
func WithTimeout(d time.Duration) PublishOption {
	return func(o *publishOptions) { o.timeout = d }
}

type subscribeOptions struct {
	retryAttempts int
	retryDelay    time.Duration
	deadLetter    bool
	priority      Priority
	filter        FilterFunc
}

var defaultSubscribeOptions = subscribeOptions{
	retryAttempts: 3,
	retryDelay:    time.Second,
	deadLetter:    true,
	priority:      PriorityNormal,
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeOptions)

// WithRetryAttempts sets how many retries follow a failed delivery
// (default 3). Zero sends failures straight to the dead-letter queue.
func WithRetryAttempts(n int) SubscribeOption {
	return func(o *subscribeOptions) {
		if n >= 0 {
			o.retryAttempts = n
		}
	}
}

// WithRetryDelay sets the minimum wait before each retry (default 1s).
func WithRetryDelay(d time.Duration) SubscribeOption {
	return func(o *subscribeOptions) {
		if d >= 0 {
			o.retryDelay = d
		}
	}
}

// WithDeadLetter controls whether exhausted events are dead-lettered
// (default true). When false they are logged and dropped.
func WithDeadLetter(enabled bool) SubscribeOption {
	return func(o *subscribeOptions) { o.deadLetter = enabled }
}

// WithSubscriptionPriority sets the subscription priority.
func WithSubscriptionPriority(p Priority) SubscribeOption {
	return func(o *subscribeOptions) { o.priority = p }
}

// WithFilter installs a predicate evaluated before the handler.
func WithFilter(fn FilterFunc) SubscribeOption {
	return func(o *subscribeOptions) { o.filter = fn }
}
