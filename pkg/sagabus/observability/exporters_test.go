package observability

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupPrometheusMetrics(t *testing.T) {
	original := otel.GetMeterProvider()
	t.Cleanup(func() { otel.SetMeterProvider(original) })

	ctx := context.Background()
	mp, handler, err := SetupPrometheusMetrics(ctx, "sagabus-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = Shutdown(ctx, mp, nil) })

	recorder := NewMetricsRecorder()
	recorder.RecordPublish(ctx, "sample.created")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sagabus_events_published")
	assert.Contains(t, rec.Body.String(), `event_type="sample.created"`)
}

func TestSetupStdoutTracing(t *testing.T) {
	original := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(original) })

	ctx := context.Background()
	var buf bytes.Buffer
	tp, err := SetupStdoutTracing(ctx, "sagabus-test", &buf)
	require.NoError(t, err)

	sm := NewSpanManager()
	_, span := sm.StartSagaSpan(ctx, "sample-intake", "saga-1")
	sm.EndSpanWithError(span, nil)

	require.NoError(t, Shutdown(ctx, nil, tp))
	assert.Contains(t, buf.String(), "sagabus.saga")
	assert.Contains(t, buf.String(), "saga-1")
}
