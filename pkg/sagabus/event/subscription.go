package event

import (
	"fmt"
	"sync"
	"time"
)

// SubscriptionInfo is a read-only snapshot of a subscription.
type SubscriptionInfo struct {
	ID                    string
	EventType             string
	Priority              Priority
	RetryAttempts         int
	RetryDelay            time.Duration
	DeadLetter            bool
	Filtered              bool
	ProcessedCount        int64
	FailedCount           int64
	LastProcessedAt       time.Time
	AverageProcessingTime time.Duration
	CreatedAt             time.Time
}

type subscription struct {
	id        string
	eventType string
	handler   HandlerFunc
	opts      subscribeOptions
	createdAt time.Time

	mu              sync.Mutex
	processed       int64
	failed          int64
	lastProcessedAt time.Time
	avgProcessing   time.Duration
}

// accepts runs the subscription filter. A panicking filter rejects the
// event and reports the panic as an error.
func (s *subscription) accepts(evt Event) (ok bool, err error) {
	if s.opts.filter == nil {
		return true, nil
	}
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("filter panic: %v", r)
		}
	}()
	return s.opts.filter(evt), nil
}

// recordSuccess folds d into a two-point moving average seeded at zero.
func (s *subscription) recordSuccess(d time.Duration, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	s.lastProcessedAt = at
	s.avgProcessing = (s.avgProcessing + d) / 2
}

func (s *subscription) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
}

func (s *subscription) info() SubscriptionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SubscriptionInfo{
		ID:                    s.id,
		EventType:             s.eventType,
		Priority:              s.opts.priority,
		RetryAttempts:         s.opts.retryAttempts,
		RetryDelay:            s.opts.retryDelay,
		DeadLetter:            s.opts.deadLetter,
		Filtered:              s.opts.filter != nil,
		ProcessedCount:        s.processed,
		FailedCount:           s.failed,
		LastProcessedAt:       s.lastProcessedAt,
		AverageProcessingTime: s.avgProcessing,
		CreatedAt:             s.createdAt,
	}
}
