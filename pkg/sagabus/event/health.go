package event

import (
	"fmt"

	"github.com/randalmurphal/sagabus/pkg/sagabus/observability"
)

// HealthLimits are the thresholds past which the bus reports unhealthy.
type HealthLimits struct {
	// MaxDeadLetters is the dead-letter queue size tolerated. Default: 100.
	MaxDeadLetters int

	// MaxRetryQueue is the retry queue size tolerated. Default: 50.
	MaxRetryQueue int

	// MaxErrorRate is the tolerated failed/total ratio. Default: 0.10.
	MaxErrorRate float64
}

// DefaultHealthLimits provides the standard thresholds.
var DefaultHealthLimits = HealthLimits{
	MaxDeadLetters: 100,
	MaxRetryQueue:  50,
	MaxErrorRate:   0.10,
}

func (l HealthLimits) withDefaults() HealthLimits {
	if l.MaxDeadLetters <= 0 {
		l.MaxDeadLetters = DefaultHealthLimits.MaxDeadLetters
	}
	if l.MaxRetryQueue <= 0 {
		l.MaxRetryQueue = DefaultHealthLimits.MaxRetryQueue
	}
	if l.MaxErrorRate <= 0 {
		l.MaxErrorRate = DefaultHealthLimits.MaxErrorRate
	}
	return l
}

// Health is the result of Bus.HealthCheck.
type Health struct {
	Healthy bool
	Stats   Stats
	Issues  []string
}

// HealthCheck evaluates the bus against its health limits.
func (b *Bus) HealthCheck() Health {
	stats := b.GetStats()

	b.mu.RLock()
	limits := b.limits
	b.mu.RUnlock()

	var issues []string
	if stats.DeadLetterQueueSize > limits.MaxDeadLetters {
		issues = append(issues, fmt.Sprintf("dead letter queue size %d exceeds %d",
			stats.DeadLetterQueueSize, limits.MaxDeadLetters))
	}
	if stats.RetryQueueSize > limits.MaxRetryQueue {
		issues = append(issues, fmt.Sprintf("retry queue size %d exceeds %d",
			stats.RetryQueueSize, limits.MaxRetryQueue))
	}
	if rate := stats.ErrorRate(); rate > limits.MaxErrorRate {
		issues = append(issues, fmt.Sprintf("error rate %.1f%% exceeds %.1f%%",
			rate*100, limits.MaxErrorRate*100))
	}

	return Health{Healthy: len(issues) == 0, Stats: stats, Issues: issues}
}

// HealthReport implements observability.HealthChecker.
func (b *Bus) HealthReport() observability.HealthReport {
	h := b.HealthCheck()
	return observability.HealthReport{Healthy: h.Healthy, Issues: h.Issues}
}

// SetHealthLimits replaces the thresholds used by HealthCheck.
// Zero fields fall back to DefaultHealthLimits.
func (b *Bus) SetHealthLimits(limits HealthLimits) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limits = limits.withDefaults()
}
