package saga

import (
	"fmt"
	"time"

	"github.com/randalmurphal/sagabus/pkg/sagabus/observability"
)

// HealthLimits are the thresholds past which the orchestrator reports
// unhealthy.
type HealthLimits struct {
	// MaxSagaAge is how long a saga may stay active. Default: 5m.
	MaxSagaAge time.Duration

	// MaxActiveSagas is the tolerated number of active sagas. Default: 100.
	MaxActiveSagas int
}

// DefaultHealthLimits provides the standard thresholds.
var DefaultHealthLimits = HealthLimits{
	MaxSagaAge:     5 * time.Minute,
	MaxActiveSagas: 100,
}

func (l HealthLimits) withDefaults() HealthLimits {
	if l.MaxSagaAge <= 0 {
		l.MaxSagaAge = DefaultHealthLimits.MaxSagaAge
	}
	if l.MaxActiveSagas <= 0 {
		l.MaxActiveSagas = DefaultHealthLimits.MaxActiveSagas
	}
	return l
}

// Health is the result of Orchestrator.HealthCheck.
type Health struct {
	Healthy     bool
	ActiveSagas int
	Issues      []string
}

// HealthCheck flags sagas active longer than MaxSagaAge and an active
// count above MaxActiveSagas.
func (o *Orchestrator) HealthCheck() Health {
	o.mu.RLock()
	limits := o.limits
	runs := make([]*run, 0, len(o.active))
	for _, r := range o.active {
		runs = append(runs, r)
	}
	o.mu.RUnlock()

	now := time.Now()
	var issues []string
	for _, r := range runs {
		if age := now.Sub(r.tx.StartedAt); age > limits.MaxSagaAge {
			issues = append(issues, fmt.Sprintf("saga %s (%s) active for %s, exceeds %s",
				r.tx.ID, r.tx.Name, age.Truncate(time.Second), limits.MaxSagaAge))
		}
	}
	if len(runs) > limits.MaxActiveSagas {
		issues = append(issues, fmt.Sprintf("%d active sagas exceeds %d", len(runs), limits.MaxActiveSagas))
	}

	return Health{Healthy: len(issues) == 0, ActiveSagas: len(runs), Issues: issues}
}

// HealthReport implements observability.HealthChecker.
func (o *Orchestrator) HealthReport() observability.HealthReport {
	h := o.HealthCheck()
	return observability.HealthReport{Healthy: h.Healthy, Issues: h.Issues}
}

// SetHealthLimits replaces the thresholds used by HealthCheck.
// Zero fields fall back to DefaultHealthLimits.
func (o *Orchestrator) SetHealthLimits(limits HealthLimits) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.limits = limits.withDefaults()
}
