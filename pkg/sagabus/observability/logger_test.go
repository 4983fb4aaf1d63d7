package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &rec))
	return rec
}

func TestEnrichLogger(t *testing.T) {
	assert.Nil(t, EnrichLogger(nil, "a", "b"))

	var buf bytes.Buffer
	EnrichLogger(jsonLogger(&buf), "evt-1", "sample.created").Info("hello")

	rec := lastRecord(t, &buf)
	assert.Equal(t, "evt-1", rec["event_id"])
	assert.Equal(t, "sample.created", rec["event_type"])
}

func TestLogHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := jsonLogger(&buf)

	LogDeadLetter(logger, "evt-1", "sample.created", "retries exhausted")
	rec := lastRecord(t, &buf)
	assert.Equal(t, "ERROR", rec["level"])
	assert.Equal(t, "retries exhausted", rec["reason"])

	LogStepFailed(logger, "saga-1", "basecall", 2, errors.New("gpu busy"))
	rec = lastRecord(t, &buf)
	assert.Equal(t, "saga step failed", rec["msg"])
	assert.Equal(t, float64(2), rec["retry_count"])

	LogSagaFinished(logger, "saga-1", "intake", "completed", 12.5)
	rec = lastRecord(t, &buf)
	assert.Equal(t, "completed", rec["status"])
}

func TestLogHelpers_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		LogHandlerError(nil, "s", "e", 1, errors.New("x"))
		LogDeadLetter(nil, "e", "t", "r")
		LogSagaStart(nil, "s", "n", 1)
		LogSagaFinished(nil, "s", "n", "completed", 1)
		LogStepFailed(nil, "s", "st", 0, errors.New("x"))
		LogCompensationError(nil, "s", "st", errors.New("x"))
	})
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, done(), 5*time.Millisecond)
	assert.Equal(t, 1.5, Milliseconds(1500*time.Microsecond))
}
