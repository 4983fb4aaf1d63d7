package event

import (
	"sync"
	"time"
)

// RetryEntry is a failed delivery awaiting another attempt.
type RetryEntry struct {
	Event          Event
	SubscriptionID string
	RetryCount     int
	NextRetryAt    time.Time
	LastError      string

	sub     *subscription
	timeout time.Duration
}

// RetryQueue is a FIFO of pending retries.
type RetryQueue struct {
	mu      sync.Mutex
	entries []RetryEntry
}

// NewRetryQueue creates an empty queue.
func NewRetryQueue() *RetryQueue {
	return &RetryQueue{}
}

// Push appends an entry.
func (q *RetryQueue) Push(e RetryEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, e)
}

// PopReady removes and returns up to limit entries due at or before now,
// in queue order. Entries not yet due keep their position.
func (q *RetryQueue) PopReady(now time.Time, limit int) []RetryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ready []RetryEntry
	kept := q.entries[:0]
	for _, e := range q.entries {
		if (limit <= 0 || len(ready) < limit) && !e.NextRetryAt.After(now) {
			ready = append(ready, e)
			continue
		}
		kept = append(kept, e)
	}
	clear(q.entries[len(kept):])
	q.entries = kept
	return ready
}

// Len returns the number of pending entries.
func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
