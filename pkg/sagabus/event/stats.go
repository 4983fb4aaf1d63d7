package event

import (
	"maps"
	"sync"
	"time"
)

// Stats is a point-in-time view of bus activity.
type Stats struct {
	TotalEvents    int64
	EventsByType   map[string]int64
	EventsBySource map[string]int64

	// FailedEvents counts failed handler invocations, retries included.
	FailedEvents int64

	// RetriedEvents counts retry attempts made by the retry processor.
	RetriedEvents int64

	// DeadLetteredEvents counts events ever moved to the dead-letter queue.
	DeadLetteredEvents int64

	RetryQueueSize      int
	DeadLetterQueueSize int

	// AverageProcessingTime is the mean handler duration over the most
	// recent samples (see BusConfig.StatsWindow).
	AverageProcessingTime time.Duration
}

// ErrorRate returns FailedEvents / TotalEvents, or 0 with no traffic.
func (s Stats) ErrorRate() float64 {
	if s.TotalEvents == 0 {
		return 0
	}
	return float64(s.FailedEvents) / float64(s.TotalEvents)
}

type statsCollector struct {
	mu           sync.Mutex
	total        int64
	byType       map[string]int64
	bySource     map[string]int64
	failed       int64
	retried      int64
	deadLettered int64

	// ring buffer of handler durations
	samples []time.Duration
	next    int
	filled  bool
	sum     time.Duration
}

func newStatsCollector(window int) *statsCollector {
	if window <= 0 {
		window = 1
	}
	return &statsCollector{
		byType:   make(map[string]int64),
		bySource: make(map[string]int64),
		samples:  make([]time.Duration, window),
	}
}

func (c *statsCollector) recordPublish(eventType, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	c.byType[eventType]++
	c.bySource[source]++
}

func (c *statsCollector) recordDuration(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sum -= c.samples[c.next]
	c.samples[c.next] = d
	c.sum += d
	c.next++
	if c.next == len(c.samples) {
		c.next = 0
		c.filled = true
	}
}

func (c *statsCollector) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed++
}

func (c *statsCollector) recordRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retried++
}

func (c *statsCollector) recordDeadLetter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadLettered++
}

func (c *statsCollector) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.next
	if c.filled {
		n = len(c.samples)
	}
	var avg time.Duration
	if n > 0 {
		avg = c.sum / time.Duration(n)
	}

	return Stats{
		TotalEvents:           c.total,
		EventsByType:          maps.Clone(c.byType),
		EventsBySource:        maps.Clone(c.bySource),
		FailedEvents:          c.failed,
		RetriedEvents:         c.retried,
		DeadLetteredEvents:    c.deadLettered,
		AverageProcessingTime: avg,
	}
}
