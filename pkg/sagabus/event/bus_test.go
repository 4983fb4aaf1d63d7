package event_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/sagabus/pkg/sagabus/config"
	sberrors "github.com/randalmurphal/sagabus/pkg/sagabus/errors"
	"github.com/randalmurphal/sagabus/pkg/sagabus/event"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fastConfig retries quickly so retry paths finish within a test.
func fastConfig() event.BusConfig {
	return event.BusConfig{
		RetryInterval: 10 * time.Millisecond,
		DrainInterval: 10 * time.Millisecond,
	}
}

func newTestBus(t *testing.T, cfg event.BusConfig) *event.Bus {
	t.Helper()
	bus := event.NewBus(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = bus.Shutdown(ctx)
	})
	return bus
}

func subscriptionInfo(t *testing.T, bus *event.Bus, eventType, id string) event.SubscriptionInfo {
	t.Helper()
	for _, info := range bus.Subscriptions(eventType) {
		if info.ID == id {
			return info
		}
	}
	t.Fatalf("subscription %s not found", id)
	return event.SubscriptionInfo{}
}

func TestBus_PublishDelivers(t *testing.T) {
	bus := newTestBus(t, fastConfig())

	got := make(chan event.Event, 1)
	bus.Subscribe("order.placed", func(_ context.Context, evt event.Event) error {
		got <- evt
		return nil
	})

	evt := event.New("orders", orderPlaced{OrderID: "o-1"})
	require.NoError(t, bus.Publish(context.Background(), evt))

	select {
	case received := <-got:
		assert.Equal(t, evt.ID(), received.ID())
	case <-time.After(waitFor):
		t.Fatal("handler was not invoked")
	}
}

func TestBus_PublishValidation(t *testing.T) {
	bus := newTestBus(t, fastConfig())

	var calls atomic.Int32
	bus.Subscribe("order.placed", func(context.Context, event.Event) error {
		calls.Add(1)
		return nil
	})

	invalid := []event.Event{
		event.New("orders", orderPlaced{}, event.WithEventID("")),
		event.New("", orderPlaced{}),
		event.New("orders", orderPlaced{}, event.WithTimestamp(time.Time{})),
	}
	for _, evt := range invalid {
		err := bus.Publish(context.Background(), evt)
		var valErr *sberrors.ValidationError
		assert.True(t, errors.As(err, &valErr), "expected validation error, got %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, calls.Load())
	assert.Zero(t, bus.GetStats().TotalEvents)
}

func TestBus_FanOutIndependence(t *testing.T) {
	bus := newTestBus(t, fastConfig())

	okID := bus.Subscribe("order.placed", func(context.Context, event.Event) error { return nil })
	failID := bus.Subscribe("order.placed", func(context.Context, event.Event) error {
		return errors.New("downstream unavailable")
	}, event.WithRetryAttempts(0), event.WithDeadLetter(false))

	require.NoError(t, bus.Publish(context.Background(), event.New("orders", orderPlaced{})))

	assert.Eventually(t, func() bool {
		return subscriptionInfo(t, bus, "order.placed", okID).ProcessedCount == 1 &&
			subscriptionInfo(t, bus, "order.placed", failID).FailedCount == 1
	}, waitFor, tick)

	assert.Zero(t, subscriptionInfo(t, bus, "order.placed", okID).FailedCount)
	assert.Zero(t, subscriptionInfo(t, bus, "order.placed", failID).ProcessedCount)
}

func TestBus_RetryThenDeadLetter(t *testing.T) {
	bus := newTestBus(t, fastConfig())
	baseline := bus.GetRetryQueueSize()

	var attempts atomic.Int32
	id := bus.Subscribe("order.placed", func(context.Context, event.Event) error {
		attempts.Add(1)
		return errors.New("always fails")
	}, event.WithRetryDelay(time.Millisecond))

	evt := event.New("orders", orderPlaced{OrderID: "o-9"})
	require.NoError(t, bus.Publish(context.Background(), evt))

	assert.Eventually(t, func() bool { return len(bus.GetDeadLetterQueue()) == 1 }, waitFor, tick)

	assert.Equal(t, int32(4), attempts.Load(), "one delivery plus three retries")
	assert.Equal(t, evt.ID(), bus.GetDeadLetterQueue()[0].ID())
	assert.Equal(t, baseline, bus.GetRetryQueueSize())

	stats := bus.GetStats()
	assert.Equal(t, int64(4), stats.FailedEvents)
	assert.Equal(t, int64(3), stats.RetriedEvents)
	assert.Equal(t, int64(1), stats.DeadLetteredEvents)
	assert.Equal(t, int64(4), subscriptionInfo(t, bus, "order.placed", id).FailedCount)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(4), attempts.Load(), "dead-lettered events are not retried")
}

func TestBus_RetryRecovers(t *testing.T) {
	bus := newTestBus(t, fastConfig())

	var attempts atomic.Int32
	id := bus.Subscribe("order.placed", func(context.Context, event.Event) error {
		if attempts.Add(1) < 3 {
			return errors.New("flaky")
		}
		return nil
	}, event.WithRetryDelay(time.Millisecond))

	require.NoError(t, bus.Publish(context.Background(), event.New("orders", orderPlaced{})))

	assert.Eventually(t, func() bool {
		return subscriptionInfo(t, bus, "order.placed", id).ProcessedCount == 1
	}, waitFor, tick)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Empty(t, bus.GetDeadLetterQueue())
	assert.Zero(t, bus.GetRetryQueueSize())
}

func TestBus_PerSubscriptionRetryAttempts(t *testing.T) {
	bus := newTestBus(t, fastConfig())

	var attempts atomic.Int32
	bus.Subscribe("order.placed", func(context.Context, event.Event) error {
		attempts.Add(1)
		return errors.New("fails")
	}, event.WithRetryAttempts(5), event.WithRetryDelay(time.Millisecond))

	require.NoError(t, bus.Publish(context.Background(), event.New("orders", orderPlaced{})))

	assert.Eventually(t, func() bool { return len(bus.GetDeadLetterQueue()) == 1 }, waitFor, tick)
	assert.Equal(t, int32(6), attempts.Load())
}

func TestBus_NoRetriesGoesStraightToDeadLetter(t *testing.T) {
	bus := newTestBus(t, fastConfig())

	bus.Subscribe("order.placed", func(context.Context, event.Event) error {
		return errors.New("fails")
	}, event.WithRetryAttempts(0))

	require.NoError(t, bus.Publish(context.Background(), event.New("orders", orderPlaced{})))

	assert.Eventually(t, func() bool { return len(bus.GetDeadLetterQueue()) == 1 }, waitFor, tick)
	assert.Zero(t, bus.GetStats().RetriedEvents)
}

func TestBus_PermanentErrorSkipsRetry(t *testing.T) {
	bus := newTestBus(t, fastConfig())

	var attempts atomic.Int32
	bus.Subscribe("order.placed", func(context.Context, event.Event) error {
		attempts.Add(1)
		return sberrors.Permanent(errors.New("malformed order"), "parse order")
	})

	require.NoError(t, bus.Publish(context.Background(), event.New("orders", orderPlaced{})))

	assert.Eventually(t, func() bool { return len(bus.GetDeadLetterQueue()) == 1 }, waitFor, tick)
	assert.Equal(t, int32(1), attempts.Load())
	assert.Zero(t, bus.GetRetryQueueSize())
}

func TestBus_DeadLetterDisabledDrops(t *testing.T) {
	bus := newTestBus(t, fastConfig())

	var attempts atomic.Int32
	bus.Subscribe("order.placed", func(context.Context, event.Event) error {
		attempts.Add(1)
		return errors.New("fails")
	}, event.WithRetryAttempts(1), event.WithRetryDelay(time.Millisecond), event.WithDeadLetter(false))

	require.NoError(t, bus.Publish(context.Background(), event.New("orders", orderPlaced{})))

	assert.Eventually(t, func() bool {
		return attempts.Load() == 2 && bus.GetRetryQueueSize() == 0
	}, waitFor, tick)
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, bus.GetDeadLetterQueue())
}

func TestBus_FilterSuppression(t *testing.T) {
	bus := newTestBus(t, fastConfig())

	var calls atomic.Int32
	id := bus.Subscribe("order.placed", func(context.Context, event.Event) error {
		calls.Add(1)
		return errors.New("would fail")
	}, event.WithFilter(func(evt event.Event) bool {
		return evt.Data().(orderPlaced).Total > 100
	}))

	require.NoError(t, bus.Publish(context.Background(), event.New("orders", orderPlaced{Total: 5})))

	time.Sleep(50 * time.Millisecond)
	info := subscriptionInfo(t, bus, "order.placed", id)
	assert.Zero(t, calls.Load())
	assert.Zero(t, info.ProcessedCount)
	assert.Zero(t, info.FailedCount)
	assert.True(t, info.Filtered)
}

func TestBus_PanickingFilterSkipsSubscription(t *testing.T) {
	bus := newTestBus(t, fastConfig())

	var filtered, plain atomic.Int32
	bus.Subscribe("order.placed", func(context.Context, event.Event) error {
		filtered.Add(1)
		return nil
	}, event.WithFilter(func(event.Event) bool {
		panic("bad filter")
	}))
	bus.Subscribe("order.placed", func(context.Context, event.Event) error {
		plain.Add(1)
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), event.New("orders", orderPlaced{Total: 5})))

	require.Eventually(t, func() bool { return plain.Load() == 1 }, waitFor, tick)
	assert.Zero(t, filtered.Load())
	assert.Empty(t, bus.GetDeadLetterQueue())
}

func TestBus_UnsubscribeByID(t *testing.T) {
	bus := newTestBus(t, fastConfig())

	var first, second atomic.Int32
	id1 := bus.Subscribe("order.placed", func(context.Context, event.Event) error {
		first.Add(1)
		return nil
	})
	id2 := bus.Subscribe("order.placed", func(context.Context, event.Event) error {
		second.Add(1)
		return nil
	})
	require.NotEqual(t, id1, id2)

	assert.True(t, bus.Unsubscribe("order.placed", id2))
	assert.False(t, bus.Unsubscribe("order.placed", id2))
	assert.False(t, bus.Unsubscribe("other.type", id1))

	infos := bus.Subscriptions("order.placed")
	require.Len(t, infos, 1)
	assert.Equal(t, id1, infos[0].ID)

	require.NoError(t, bus.Publish(context.Background(), event.New("orders", orderPlaced{})))
	assert.Eventually(t, func() bool { return first.Load() == 1 }, waitFor, tick)
	assert.Zero(t, second.Load())
}

func TestBus_SubscriptionsOrderedByPriority(t *testing.T) {
	bus := newTestBus(t, fastConfig())
	noop := func(context.Context, event.Event) error { return nil }

	low := bus.Subscribe("order.placed", noop, event.WithSubscriptionPriority(event.PriorityLow))
	normal := bus.Subscribe("order.placed", noop)
	critical := bus.Subscribe("order.placed", noop, event.WithSubscriptionPriority(event.PriorityCritical))

	infos := bus.Subscriptions("order.placed")
	require.Len(t, infos, 3)
	assert.Equal(t, []string{critical, normal, low}, []string{infos[0].ID, infos[1].ID, infos[2].ID})
	assert.Equal(t, 3, infos[1].RetryAttempts)
	assert.Equal(t, time.Second, infos[1].RetryDelay)
	assert.True(t, infos[1].DeadLetter)
}

func TestBus_DelayedPublish(t *testing.T) {
	bus := newTestBus(t, fastConfig())

	delivered := make(chan time.Time, 1)
	bus.Subscribe("order.placed", func(context.Context, event.Event) error {
		delivered <- time.Now()
		return nil
	})

	start := time.Now()
	require.NoError(t, bus.Publish(context.Background(), event.New("orders", orderPlaced{}),
		event.WithDelay(80*time.Millisecond)))
	assert.Less(t, time.Since(start), 50*time.Millisecond, "publish must not block on delay")

	select {
	case at := <-delivered:
		assert.GreaterOrEqual(t, at.Sub(start), 80*time.Millisecond)
	case <-time.After(waitFor):
		t.Fatal("delayed event was not delivered")
	}
}

func TestBus_PublishTimeoutBoundsHandler(t *testing.T) {
	bus := newTestBus(t, fastConfig())

	errs := make(chan error, 1)
	bus.Subscribe("order.placed", func(ctx context.Context, _ event.Event) error {
		<-ctx.Done()
		errs <- ctx.Err()
		return ctx.Err()
	}, event.WithRetryAttempts(0))

	require.NoError(t, bus.Publish(context.Background(), event.New("orders", orderPlaced{}),
		event.WithTimeout(20*time.Millisecond)))

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(waitFor):
		t.Fatal("handler context was not bounded")
	}
}

func TestBus_CallerCancellationDoesNotAbortHandlers(t *testing.T) {
	bus := newTestBus(t, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	result := make(chan error, 1)
	bus.Subscribe("order.placed", func(hctx context.Context, _ event.Event) error {
		<-release
		result <- hctx.Err()
		return nil
	})

	require.NoError(t, bus.Publish(ctx, event.New("orders", orderPlaced{})))
	cancel()
	close(release)

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("handler did not run")
	}
}

func TestBus_HandlerPanicIsAFailure(t *testing.T) {
	bus := newTestBus(t, fastConfig())

	id := bus.Subscribe("order.placed", func(context.Context, event.Event) error {
		panic("boom")
	}, event.WithRetryAttempts(0))

	require.NoError(t, bus.Publish(context.Background(), event.New("orders", orderPlaced{})))

	assert.Eventually(t, func() bool { return len(bus.GetDeadLetterQueue()) == 1 }, waitFor, tick)
	assert.Equal(t, int64(1), subscriptionInfo(t, bus, "order.placed", id).FailedCount)
}

func TestBus_Stats(t *testing.T) {
	bus := newTestBus(t, fastConfig())

	var processed atomic.Int32
	bus.Subscribe("order.placed", func(context.Context, event.Event) error {
		time.Sleep(2 * time.Millisecond)
		processed.Add(1)
		return nil
	})

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, event.New("orders", orderPlaced{})))
	require.NoError(t, bus.Publish(ctx, event.New("orders", orderPlaced{})))
	require.NoError(t, bus.Publish(ctx, event.New("billing", event.Generic{Type: "invoice.sent"})))

	assert.Eventually(t, func() bool { return processed.Load() == 2 }, waitFor, tick)

	stats := bus.GetStats()
	assert.Equal(t, int64(3), stats.TotalEvents)
	assert.Equal(t, map[string]int64{"order.placed": 2, "invoice.sent": 1}, stats.EventsByType)
	assert.Equal(t, map[string]int64{"orders": 2, "billing": 1}, stats.EventsBySource)
	assert.Zero(t, stats.FailedEvents)
	assert.GreaterOrEqual(t, stats.AverageProcessingTime, 2*time.Millisecond)
	assert.Zero(t, stats.ErrorRate())
}

func TestBus_HealthCheck(t *testing.T) {
	bus := newTestBus(t, fastConfig())

	health := bus.HealthCheck()
	assert.True(t, health.Healthy)
	assert.Empty(t, health.Issues)

	bus.Subscribe("order.placed", func(context.Context, event.Event) error {
		return errors.New("fails")
	}, event.WithRetryAttempts(0))

	bus.SetHealthLimits(event.HealthLimits{MaxDeadLetters: 1})
	for range 2 {
		require.NoError(t, bus.Publish(context.Background(), event.New("orders", orderPlaced{})))
	}
	assert.Eventually(t, func() bool { return len(bus.GetDeadLetterQueue()) == 2 }, waitFor, tick)

	health = bus.HealthCheck()
	assert.False(t, health.Healthy)
	assert.Equal(t, 2, health.Stats.DeadLetterQueueSize)
	require.Len(t, health.Issues, 2)
	assert.Contains(t, health.Issues[0], "dead letter queue size 2 exceeds 1")
	assert.Contains(t, health.Issues[1], "error rate 100.0% exceeds 10.0%")

	report := bus.HealthReport()
	assert.False(t, report.Healthy)
	assert.Equal(t, health.Issues, report.Issues)

	assert.Equal(t, 2, bus.ClearDeadLetterQueue())
	assert.Empty(t, bus.GetDeadLetterQueue())
}

func TestBus_HealthCheckRetryQueue(t *testing.T) {
	bus := newTestBus(t, event.BusConfig{RetryInterval: time.Hour, DrainAttempts: 1, DrainInterval: time.Millisecond})
	bus.SetHealthLimits(event.HealthLimits{MaxRetryQueue: 1, MaxErrorRate: 1})

	bus.Subscribe("order.placed", func(context.Context, event.Event) error {
		return errors.New("fails")
	})
	for range 2 {
		require.NoError(t, bus.Publish(context.Background(), event.New("orders", orderPlaced{})))
	}
	assert.Eventually(t, func() bool { return bus.GetRetryQueueSize() == 2 }, waitFor, tick)

	health := bus.HealthCheck()
	assert.False(t, health.Healthy)
	assert.Equal(t, []string{"retry queue size 2 exceeds 1"}, health.Issues)
}

func TestBus_ShutdownRejectsPublish(t *testing.T) {
	bus := event.NewBus(fastConfig())

	require.NoError(t, bus.Shutdown(context.Background()))
	err := bus.Publish(context.Background(), event.New("orders", orderPlaced{}))
	assert.ErrorIs(t, err, event.ErrBusShutdown)

	assert.NoError(t, bus.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestBus_ShutdownDrainsRetries(t *testing.T) {
	bus := event.NewBus(fastConfig())

	var attempts atomic.Int32
	bus.Subscribe("order.placed", func(context.Context, event.Event) error {
		if attempts.Add(1) == 1 {
			return errors.New("first attempt fails")
		}
		return nil
	}, event.WithRetryDelay(time.Millisecond))

	require.NoError(t, bus.Publish(context.Background(), event.New("orders", orderPlaced{})))
	assert.Eventually(t, func() bool { return attempts.Load() >= 1 }, waitFor, tick)

	require.NoError(t, bus.Shutdown(context.Background()))
	assert.Equal(t, int32(2), attempts.Load())
	assert.Zero(t, bus.GetRetryQueueSize())
	assert.Empty(t, bus.Subscriptions("order.placed"))
}

func TestBus_ShutdownHonorsContext(t *testing.T) {
	bus := event.NewBus(event.BusConfig{RetryInterval: time.Hour, DrainInterval: time.Second})

	bus.Subscribe("order.placed", func(context.Context, event.Event) error {
		return errors.New("fails")
	})
	require.NoError(t, bus.Publish(context.Background(), event.New("orders", orderPlaced{})))
	assert.Eventually(t, func() bool { return bus.GetRetryQueueSize() == 1 }, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := bus.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBusConfigFrom(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
bus:
  retry_interval: 250ms
  retry_batch_size: 25
  dead_letter_capacity: 50
  health:
    max_dead_letters: 7
    max_error_rate: 0.5
`))
	require.NoError(t, err)

	busCfg := event.BusConfigFrom(cfg.Sub("bus"))
	assert.Equal(t, 250*time.Millisecond, busCfg.RetryInterval)
	assert.Equal(t, 25, busCfg.RetryBatchSize)
	assert.Equal(t, 50, busCfg.DeadLetterCapacity)
	assert.Equal(t, event.DefaultBusConfig.DrainAttempts, busCfg.DrainAttempts)
	assert.Equal(t, event.DefaultBusConfig.StatsWindow, busCfg.StatsWindow)
	assert.Equal(t, 7, busCfg.Health.MaxDeadLetters)
	assert.Equal(t, event.DefaultHealthLimits.MaxRetryQueue, busCfg.Health.MaxRetryQueue)
	assert.Equal(t, 0.5, busCfg.Health.MaxErrorRate)
}
