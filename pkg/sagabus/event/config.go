package event

import "github.com/randalmurphal/sagabus/pkg/sagabus/config"

// BusConfigFrom reads bus settings from a "bus" config section:
//
//	retry_interval: 5s
//	retry_batch_size: 10
//	drain_attempts: 10
//	drain_interval: 1s
//	stats_window: 1000
//	dead_letter_capacity: 10000
//	health:
//	  max_dead_letters: 100
//	  max_retry_queue: 50
//	  max_error_rate: 0.1
//
// Missing keys keep DefaultBusConfig values.
func BusConfigFrom(c config.Config) BusConfig {
	d := DefaultBusConfig
	return BusConfig{
		RetryInterval:      c.Duration("retry_interval", d.RetryInterval),
		RetryBatchSize:     c.Int("retry_batch_size", d.RetryBatchSize),
		DrainAttempts:      c.Int("drain_attempts", d.DrainAttempts),
		DrainInterval:      c.Duration("drain_interval", d.DrainInterval),
		StatsWindow:        c.Int("stats_window", d.StatsWindow),
		DeadLetterCapacity: c.Int("dead_letter_capacity", d.DeadLetterCapacity),
		Health:             HealthLimitsFrom(c.Sub("health")),
	}
}

// HealthLimitsFrom reads the "health" subsection of the bus config.
func HealthLimitsFrom(c config.Config) HealthLimits {
	d := DefaultHealthLimits
	return HealthLimits{
		MaxDeadLetters: c.Int("max_dead_letters", d.MaxDeadLetters),
		MaxRetryQueue:  c.Int("max_retry_queue", d.MaxRetryQueue),
		MaxErrorRate:   c.Float("max_error_rate", d.MaxErrorRate),
	}
}
