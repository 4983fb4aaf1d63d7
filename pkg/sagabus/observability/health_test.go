package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticChecker struct{ report HealthReport }

func (s *staticChecker) HealthReport() HealthReport { return s.report }

func TestHealthMonitor_Check(t *testing.T) {
	var buf bytes.Buffer
	m := NewHealthMonitor(slog.New(slog.NewJSONHandler(&buf, nil)))

	bus := &staticChecker{report: HealthReport{Healthy: true}}
	sagas := &staticChecker{report: HealthReport{Healthy: true}}
	m.Register("bus", bus)
	m.Register("saga", sagas)

	healthy, reports := m.Check()
	assert.True(t, healthy)
	assert.Len(t, reports, 2)

	sagas.report = HealthReport{Healthy: false, Issues: []string{"too many active sagas"}}
	healthy, reports = m.Check()
	assert.False(t, healthy)
	assert.Equal(t, []string{"too many active sagas"}, reports["saga"].Issues)
	assert.Contains(t, buf.String(), "component unhealthy")

	sagas.report = HealthReport{Healthy: true}
	healthy, _ = m.Check()
	assert.True(t, healthy)
	assert.Contains(t, buf.String(), "component recovered")
}

func TestHealthMonitor_ServeHTTP(t *testing.T) {
	m := NewHealthMonitor(nil)
	m.Register("bus", &staticChecker{report: HealthReport{Healthy: false, Issues: []string{"dead letter queue size 101 exceeds 100"}}})

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Healthy    bool                    `json:"healthy"`
		Components map[string]HealthReport `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Healthy)
	assert.False(t, body.Components["bus"].Healthy)
}
