package event

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	sberrors "github.com/randalmurphal/sagabus/pkg/sagabus/errors"
	"github.com/randalmurphal/sagabus/pkg/sagabus/observability"
)

// BusConfig configures bus behavior. Zero fields take the value from
// DefaultBusConfig.
type BusConfig struct {
	// RetryInterval is the retry processor period. Default: 5s.
	RetryInterval time.Duration

	// RetryBatchSize caps entries retried per tick. Default: 10.
	RetryBatchSize int

	// DrainAttempts and DrainInterval bound how long Shutdown waits for
	// the retry queue to empty. Default: 10 x 1s.
	DrainAttempts int
	DrainInterval time.Duration

	// StatsWindow is the number of handler durations averaged in Stats.
	// Default: 1000.
	StatsWindow int

	// DeadLetterCapacity bounds the dead-letter queue; the oldest entry is
	// dropped when full. Default: 10000.
	DeadLetterCapacity int

	// Health holds the HealthCheck thresholds.
	Health HealthLimits
}

// DefaultBusConfig provides the standard settings.
var DefaultBusConfig = BusConfig{
	RetryInterval:      5 * time.Second,
	RetryBatchSize:     10,
	DrainAttempts:      10,
	DrainInterval:      time.Second,
	StatsWindow:        1000,
	DeadLetterCapacity: 10000,
	Health:             DefaultHealthLimits,
}

func (c BusConfig) withDefaults() BusConfig {
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultBusConfig.RetryInterval
	}
	if c.RetryBatchSize <= 0 {
		c.RetryBatchSize = DefaultBusConfig.RetryBatchSize
	}
	if c.DrainAttempts <= 0 {
		c.DrainAttempts = DefaultBusConfig.DrainAttempts
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = DefaultBusConfig.DrainInterval
	}
	if c.StatsWindow <= 0 {
		c.StatsWindow = DefaultBusConfig.StatsWindow
	}
	if c.DeadLetterCapacity <= 0 {
		c.DeadLetterCapacity = DefaultBusConfig.DeadLetterCapacity
	}
	c.Health = c.Health.withDefaults()
	return c
}

// Bus is an in-process publish/subscribe router with a retry queue and a
// dead-letter queue. Publish is fire-and-forget: handler failures are
// absorbed and only visible through stats, health and the queues.
type Bus struct {
	cfg     BusConfig
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	mu     sync.RWMutex
	subs   map[string]map[string]*subscription // event type -> subscription id
	limits HealthLimits
	closed bool

	retries *RetryQueue
	dlq     *DeadLetterQueue
	stats   *statsCollector

	inflight  sync.WaitGroup
	stopRetry chan struct{}
	retryDone chan struct{}
}

// NewBus creates a bus and starts its retry processor.
// Call Shutdown to stop it.
func NewBus(cfg BusConfig, opts ...BusOption) *Bus {
	cfg = cfg.withDefaults()
	b := &Bus{
		cfg:       cfg,
		logger:    slog.Default(),
		metrics:   observability.NoopMetrics{},
		spans:     observability.NoopSpanManager{},
		subs:      make(map[string]map[string]*subscription),
		limits:    cfg.Health,
		retries:   NewRetryQueue(),
		dlq:       NewDeadLetterQueue(cfg.DeadLetterCapacity),
		stats:     newStatsCollector(cfg.StatsWindow),
		stopRetry: make(chan struct{}),
		retryDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.runRetryProcessor()
	return b
}

// Publish validates evt and schedules delivery to every subscription of
// its type. It returns before any handler runs.
func (b *Bus) Publish(ctx context.Context, evt Event, opts ...PublishOption) error {
	po := publishOptions{priority: PriorityNormal}
	for _, opt := range opts {
		opt(&po)
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusShutdown
	}
	if err := evt.Validate(); err != nil {
		b.mu.RUnlock()
		b.logger.Warn("rejected invalid event",
			slog.String("event_id", evt.ID()),
			slog.String("error", err.Error()),
		)
		return err
	}
	b.inflight.Add(1)
	b.mu.RUnlock()

	b.stats.recordPublish(evt.Type(), evt.Source())
	b.metrics.RecordPublish(ctx, evt.Type())

	ctx, span := b.spans.StartPublishSpan(ctx, evt.Type(), evt.ID())
	defer b.spans.EndSpanWithError(span, nil)

	if po.priority != PriorityNormal || po.persistent {
		b.logger.Debug("advisory publish options ignored",
			slog.String("event_id", evt.ID()),
			slog.String("priority", po.priority.String()),
			slog.Bool("persistent", po.persistent),
		)
	}

	// Handlers outlive the caller's request but keep its values.
	dispatchCtx := context.WithoutCancel(ctx)
	if po.delay > 0 {
		time.AfterFunc(po.delay, func() { b.dispatch(dispatchCtx, evt, po.timeout) })
		return nil
	}
	go b.dispatch(dispatchCtx, evt, po.timeout)
	return nil
}

// dispatch delivers evt to every matching subscription concurrently and
// waits for all of them.
func (b *Bus) dispatch(ctx context.Context, evt Event, timeout time.Duration) {
	defer b.inflight.Done()

	var wg sync.WaitGroup
	for _, sub := range b.subscriptionsFor(evt.Type()) {
		ok, err := sub.accepts(evt)
		if err != nil {
			b.logger.Warn("subscription filter failed",
				slog.String("subscription_id", sub.id),
				slog.String("event_id", evt.ID()),
				slog.String("error", err.Error()),
			)
		}
		if !ok {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.invoke(ctx, sub, evt, timeout); err != nil {
				b.routeFailure(RetryEntry{
					Event:          evt,
					SubscriptionID: sub.id,
					sub:            sub,
					timeout:        timeout,
				}, err)
			}
		}()
	}
	wg.Wait()
}

// invoke runs one handler call and records its outcome.
func (b *Bus) invoke(ctx context.Context, sub *subscription, evt Event, timeout time.Duration) error {
	ctx, span := b.spans.StartHandlerSpan(ctx, evt.Type(), sub.id)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	elapsed := observability.TimedOperation()
	err := callHandler(ctx, sub.handler, evt)
	d := elapsed()

	b.spans.EndSpanWithError(span, err)
	b.metrics.RecordDelivery(ctx, evt.Type(), d, err)
	b.stats.recordDuration(d)

	if err != nil {
		sub.recordFailure()
		b.stats.recordFailure()
		return err
	}
	sub.recordSuccess(d, time.Now())
	return nil
}

func callHandler(ctx context.Context, h HandlerFunc, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, evt)
}

// routeFailure queues a retry while the subscription allows one, and
// otherwise dead-letters the event. Permanent errors skip retries.
func (b *Bus) routeFailure(entry RetryEntry, err error) {
	sub := entry.sub
	observability.LogHandlerError(b.logger, sub.id, entry.Event.ID(), entry.RetryCount+1, err)

	switch {
	case sberrors.IsPermanent(err):
		b.deadLetter(sub, entry.Event, "permanent error: "+err.Error())
	case entry.RetryCount < sub.opts.retryAttempts:
		entry.NextRetryAt = time.Now().Add(sub.opts.retryDelay)
		entry.LastError = err.Error()
		b.retries.Push(entry)
	default:
		b.deadLetter(sub, entry.Event,
			fmt.Sprintf("retries exhausted after %d attempts: %v", entry.RetryCount, err))
	}
}

func (b *Bus) deadLetter(sub *subscription, evt Event, reason string) {
	if !sub.opts.deadLetter {
		b.logger.Warn("dropping failed event",
			slog.String("event_id", evt.ID()),
			slog.String("subscription_id", sub.id),
			slog.String("reason", reason),
		)
		return
	}

	if b.dlq.Push(evt) {
		b.logger.Warn("dead letter queue full, oldest entry dropped",
			slog.Int("capacity", b.cfg.DeadLetterCapacity))
	}
	b.stats.recordDeadLetter()
	b.metrics.RecordDeadLetter(context.Background(), evt.Type())
	observability.LogDeadLetter(b.logger, evt.ID(), evt.Type(), reason)
}

func (b *Bus) runRetryProcessor() {
	defer close(b.retryDone)

	ticker := time.NewTicker(b.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopRetry:
			return
		case <-ticker.C:
			b.processRetries(context.Background())
		}
	}
}

// processRetries re-invokes up to one batch of due entries and returns
// how many were attempted.
func (b *Bus) processRetries(ctx context.Context) int {
	entries := b.retries.PopReady(time.Now(), b.cfg.RetryBatchSize)

	var wg sync.WaitGroup
	for _, entry := range entries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.stats.recordRetry()
			b.metrics.RecordRetry(ctx, entry.Event.Type())

			err := b.invoke(ctx, entry.sub, entry.Event, entry.timeout)
			if err == nil {
				b.logger.Debug("retry succeeded",
					slog.String("event_id", entry.Event.ID()),
					slog.String("subscription_id", entry.SubscriptionID),
					slog.Int("retry_count", entry.RetryCount+1),
				)
				return
			}
			entry.RetryCount++
			b.routeFailure(entry, err)
		}()
	}
	wg.Wait()
	return len(entries)
}

// Subscribe registers handler for eventType and returns the subscription id.
func (b *Bus) Subscribe(eventType string, handler HandlerFunc, opts ...SubscribeOption) string {
	o := defaultSubscribeOptions
	for _, opt := range opts {
		opt(&o)
	}

	sub := &subscription{
		id:        "sub-" + uuid.NewString(),
		eventType: eventType,
		handler:   handler,
		opts:      o,
		createdAt: time.Now(),
	}

	b.mu.Lock()
	byID, ok := b.subs[eventType]
	if !ok {
		byID = make(map[string]*subscription)
		b.subs[eventType] = byID
	}
	byID[sub.id] = sub
	b.mu.Unlock()

	b.logger.Debug("subscribed",
		slog.String("event_type", eventType),
		slog.String("subscription_id", sub.id),
	)
	return sub.id
}

// Unsubscribe removes the subscription with id. Pending retries for it
// still run.
func (b *Bus) Unsubscribe(eventType, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	byID, ok := b.subs[eventType]
	if !ok {
		return false
	}
	if _, ok := byID[id]; !ok {
		return false
	}
	delete(byID, id)
	if len(byID) == 0 {
		delete(b.subs, eventType)
	}
	return true
}

// Subscriptions returns snapshots of eventType's subscriptions, highest
// priority first.
func (b *Bus) Subscriptions(eventType string) []SubscriptionInfo {
	subs := b.subscriptionsFor(eventType)
	out := make([]SubscriptionInfo, len(subs))
	for i, sub := range subs {
		out[i] = sub.info()
	}
	return out
}

func (b *Bus) subscriptionsFor(eventType string) []*subscription {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subs[eventType]))
	for _, sub := range b.subs[eventType] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	slices.SortFunc(subs, func(a, c *subscription) int {
		if n := cmp.Compare(c.opts.priority, a.opts.priority); n != 0 {
			return n
		}
		if n := a.createdAt.Compare(c.createdAt); n != 0 {
			return n
		}
		return cmp.Compare(a.id, c.id)
	})
	return subs
}

// GetStats returns current bus statistics.
func (b *Bus) GetStats() Stats {
	s := b.stats.snapshot()
	s.RetryQueueSize = b.retries.Len()
	s.DeadLetterQueueSize = b.dlq.Len()
	return s
}

// GetDeadLetterQueue returns the dead-lettered events, oldest first.
func (b *Bus) GetDeadLetterQueue() []Event {
	return b.dlq.List()
}

// ClearDeadLetterQueue empties the dead-letter queue and returns how many
// events were discarded.
func (b *Bus) ClearDeadLetterQueue() int {
	n := b.dlq.Clear()
	b.logger.Info("dead letter queue cleared", slog.Int("count", n))
	return n
}

// GetRetryQueueSize returns the number of pending retries.
func (b *Bus) GetRetryQueueSize() int {
	return b.retries.Len()
}

// Shutdown stops accepting publishes, waits for in-flight deliveries and
// a bounded time for the retry queue to drain, then stops the retry
// processor and drops all subscriptions. Calling it again is a no-op.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.logger.Info("event bus shutting down", slog.Int("retry_queue", b.retries.Len()))

	// In-flight deliveries may still enqueue retries, so wait for them first.
	var errs []error
	if err := b.waitInflight(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := b.drainRetries(ctx); err != nil {
		errs = append(errs, err)
	}

	close(b.stopRetry)
	<-b.retryDone

	b.mu.Lock()
	b.subs = make(map[string]map[string]*subscription)
	b.mu.Unlock()

	if n := b.retries.Len(); n > 0 {
		b.logger.Warn("event bus shut down with pending retries", slog.Int("count", n))
	} else {
		b.logger.Info("event bus shut down")
	}
	return errors.Join(errs...)
}

func (b *Bus) drainRetries(ctx context.Context) error {
	for i := 0; i < b.cfg.DrainAttempts && b.retries.Len() > 0; i++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("drain retry queue: %w", ctx.Err())
		case <-time.After(b.cfg.DrainInterval):
		}
	}
	return nil
}

func (b *Bus) waitInflight(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for in-flight deliveries: %w", ctx.Err())
	}
}
