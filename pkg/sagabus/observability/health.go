package observability

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthReport is the health of a single component.
type HealthReport struct {
	Healthy bool     `json:"healthy"`
	Issues  []string `json:"issues,omitempty"`
}

// HealthChecker is implemented by components that can report their health.
type HealthChecker interface {
	HealthReport() HealthReport
}

// HealthMonitor aggregates health across named components and logs
// healthy/unhealthy transitions.
type HealthMonitor struct {
	mu         sync.RWMutex
	components map[string]HealthChecker
	last       map[string]bool
	logger     *slog.Logger
}

// NewHealthMonitor creates an empty monitor. A nil logger uses slog.Default().
func NewHealthMonitor(logger *slog.Logger) *HealthMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthMonitor{
		components: make(map[string]HealthChecker),
		last:       make(map[string]bool),
		logger:     logger,
	}
}

// Register adds a component. A component with the same name is replaced.
func (m *HealthMonitor) Register(name string, checker HealthChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[name] = checker
}

// Check queries every component and reports whether all are healthy.
func (m *HealthMonitor) Check() (bool, map[string]HealthReport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.components))
	for name := range m.components {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	reports := make(map[string]HealthReport, len(names))
	for _, name := range names {
		report := m.components[name].HealthReport()
		reports[name] = report
		if !report.Healthy {
			healthy = false
		}

		prev, seen := m.last[name]
		if seen && prev != report.Healthy {
			if report.Healthy {
				m.logger.Info("component recovered", slog.String("component", name))
			} else {
				m.logger.Warn("component unhealthy",
					slog.String("component", name),
					slog.Any("issues", report.Issues),
				)
			}
		}
		m.last[name] = report.Healthy
	}

	return healthy, reports
}

// ServeHTTP writes the aggregated health as JSON. Unhealthy responds 503.
func (m *HealthMonitor) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	healthy, reports := m.Check()

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(struct {
		Healthy    bool                    `json:"healthy"`
		CheckedAt  time.Time               `json:"checked_at"`
		Components map[string]HealthReport `json:"components"`
	}{healthy, time.Now().UTC(), reports})
}
