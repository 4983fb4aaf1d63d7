package saga

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/sagabus/pkg/sagabus/config"
	"github.com/randalmurphal/sagabus/pkg/sagabus/observability"
)

// Config holds orchestrator settings. Zero fields take the value from
// DefaultConfig.
type Config struct {
	// DefaultStepTimeout bounds a step attempt whose Timeout is zero.
	// Default: 30s.
	DefaultStepTimeout time.Duration

	// RetryBackoff is multiplied by the retry count to get the wait
	// before each step retry. Default: 1s.
	RetryBackoff time.Duration

	// Health holds the HealthCheck thresholds.
	Health HealthLimits
}

// DefaultConfig provides the standard settings.
var DefaultConfig = Config{
	DefaultStepTimeout: 30 * time.Second,
	RetryBackoff:       time.Second,
	Health:             DefaultHealthLimits,
}

func (c Config) withDefaults() Config {
	if c.DefaultStepTimeout <= 0 {
		c.DefaultStepTimeout = DefaultConfig.DefaultStepTimeout
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultConfig.RetryBackoff
	}
	c.Health = c.Health.withDefaults()
	return c
}

// ConfigFrom reads orchestrator settings from a "saga" config section:
//
//	default_step_timeout: 30s
//	retry_backoff: 1s
//	health:
//	  max_saga_age: 5m
//	  max_active_sagas: 100
func ConfigFrom(c config.Config) Config {
	d := DefaultConfig
	return Config{
		DefaultStepTimeout: c.Duration("default_step_timeout", d.DefaultStepTimeout),
		RetryBackoff:       c.Duration("retry_backoff", d.RetryBackoff),
		Health:             HealthLimitsFrom(c.Sub("health")),
	}
}

// HealthLimitsFrom reads the "health" subsection of the saga config.
func HealthLimitsFrom(c config.Config) HealthLimits {
	d := DefaultHealthLimits
	return HealthLimits{
		MaxSagaAge:     c.Duration("max_saga_age", d.MaxSagaAge),
		MaxActiveSagas: c.Int("max_active_sagas", d.MaxActiveSagas),
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics enables OpenTelemetry metrics for steps and sagas.
func WithMetrics(enabled bool) Option {
	return func(o *Orchestrator) {
		if enabled {
			o.metrics = observability.NewMetricsRecorder()
		} else {
			o.metrics = observability.NoopMetrics{}
		}
	}
}

// WithTracing enables OpenTelemetry spans for sagas and steps.
func WithTracing(enabled bool) Option {
	return func(o *Orchestrator) {
		if enabled {
			o.spans = observability.NewSpanManager()
		} else {
			o.spans = observability.NoopSpanManager{}
		}
	}
}

// WithStore persists every transaction that reaches a terminal status.
func WithStore(store Store) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg.withDefaults() }
}
