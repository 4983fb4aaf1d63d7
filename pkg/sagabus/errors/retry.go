package errors

import (
	"math/rand/v2"
	"time"
)

// BackoffStrategy selects how the wait grows between attempts.
type BackoffStrategy int

const (
	// BackoffLinear waits InitialBackoff * attempt.
	BackoffLinear BackoffStrategy = iota

	// BackoffExponential waits InitialBackoff * Factor^(attempt-1).
	BackoffExponential
)

// RetryPolicy configures retry behavior.
type RetryPolicy struct {
	// MaxAttempts is the number of retries after the first failure.
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait. Zero means uncapped.
	MaxBackoff time.Duration

	// Strategy selects linear or exponential growth.
	Strategy BackoffStrategy

	// Factor is the exponential multiplier. Default: 2.
	Factor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64
}

// DefaultStepRetry is the saga step policy: one second times the retry count.
var DefaultStepRetry = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 1 * time.Second,
	Strategy:       BackoffLinear,
}

// NoRetry disables retries.
var NoRetry = RetryPolicy{}

// ShouldRetry reports whether another attempt is allowed after retries
// attempts have already been made.
func (p RetryPolicy) ShouldRetry(retries int, err error) bool {
	return retries < p.MaxAttempts && IsRetryable(err)
}

// Delay returns the wait before retry number attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 || p.InitialBackoff <= 0 {
		return 0
	}

	var d time.Duration
	switch p.Strategy {
	case BackoffExponential:
		factor := p.Factor
		if factor <= 0 {
			factor = 2
		}
		f := float64(p.InitialBackoff)
		for i := 1; i < attempt; i++ {
			f *= factor
		}
		d = time.Duration(f)
	default:
		d = p.InitialBackoff * time.Duration(attempt)
	}

	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return applyJitter(d, p.Jitter)
}

// applyJitter returns the backoff duration with jitter applied.
func applyJitter(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}

	// base +/- (base * jitter * random)
	jitterAmount := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + jitterAmount)
}
