package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest installs a manual-reader meter provider for the test.
func setupMetricsTest(t *testing.T) *sdkmetric.ManualReader {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	original := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	t.Cleanup(func() {
		otel.SetMeterProvider(original)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	})
	return reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the counter value for the data point carrying key=value.
func sumFor(t *testing.T, m *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "Expected Sum type")
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return 0
}

func TestNewMetricsRecorder(t *testing.T) {
	setupMetricsTest(t)

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)

	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop, "Expected real metrics recorder, got noop")
}

func TestRecordBusMetrics(t *testing.T) {
	reader := setupMetricsTest(t)
	m, err := newOtelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordPublish(ctx, "sample.created")
	m.RecordPublish(ctx, "sample.created")
	m.RecordDelivery(ctx, "sample.created", 5*time.Millisecond, nil)
	m.RecordDelivery(ctx, "sample.created", 5*time.Millisecond, errors.New("boom"))
	m.RecordRetry(ctx, "sample.created")
	m.RecordDeadLetter(ctx, "sample.created")

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumFor(t, findMetric(rm, "sagabus.events.published"), "event_type", "sample.created"))
	assert.Equal(t, int64(2), sumFor(t, findMetric(rm, "sagabus.handler.invocations"), "event_type", "sample.created"))
	assert.Equal(t, int64(1), sumFor(t, findMetric(rm, "sagabus.handler.errors"), "event_type", "sample.created"))
	assert.Equal(t, int64(1), sumFor(t, findMetric(rm, "sagabus.events.retried"), "event_type", "sample.created"))
	assert.Equal(t, int64(1), sumFor(t, findMetric(rm, "sagabus.events.dead_lettered"), "event_type", "sample.created"))

	latency := findMetric(rm, "sagabus.handler.latency_ms")
	require.NotNil(t, latency)
	hist, ok := latency.Data.(metricdata.Histogram[float64])
	require.True(t, ok, "Expected Histogram type")
	require.NotEmpty(t, hist.DataPoints)
}

func TestRecordSagaMetrics(t *testing.T) {
	reader := setupMetricsTest(t)
	m, err := newOtelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordStep(ctx, "sample-intake", "register", 10*time.Millisecond, nil)
	m.RecordStep(ctx, "sample-intake", "sequence", 10*time.Millisecond, errors.New("flowcell busy"))
	m.RecordSaga(ctx, "sample-intake", "compensated", 30*time.Millisecond)

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(1), sumFor(t, findMetric(rm, "sagabus.saga.step.errors"), "action", "sequence"))
	assert.Equal(t, int64(1), sumFor(t, findMetric(rm, "sagabus.saga.runs"), "status", "compensated"))
	assert.NotNil(t, findMetric(rm, "sagabus.saga.step.latency_ms"))
	assert.NotNil(t, findMetric(rm, "sagabus.saga.latency_ms"))
}

func TestNoopMetrics(t *testing.T) {
	var m MetricsRecorder = NoopMetrics{}
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordPublish(ctx, "x")
		m.RecordDelivery(ctx, "x", time.Second, errors.New("e"))
		m.RecordRetry(ctx, "x")
		m.RecordDeadLetter(ctx, "x")
		m.RecordStep(ctx, "s", "a", time.Second, nil)
		m.RecordSaga(ctx, "s", "completed", time.Second)
	})
}
