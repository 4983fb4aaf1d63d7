package event

import "sync"

// DeadLetterQueue holds events whose delivery permanently failed.
// Entries are never retried automatically. When full, the oldest entry
// is dropped to make room.
type DeadLetterQueue struct {
	mu       sync.Mutex
	events   []Event
	capacity int
	dropped  int64
}

// NewDeadLetterQueue creates a queue bounded to capacity entries.
// Capacity <= 0 means unbounded.
func NewDeadLetterQueue(capacity int) *DeadLetterQueue {
	return &DeadLetterQueue{capacity: capacity}
}

// Push appends evt and reports whether an older entry was evicted.
func (q *DeadLetterQueue) Push(evt Event) (evicted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.capacity > 0 && len(q.events) >= q.capacity {
		q.events = q.events[1:]
		q.dropped++
		evicted = true
	}
	q.events = append(q.events, evt)
	return evicted
}

// List returns a copy of the queued events, oldest first.
func (q *DeadLetterQueue) List() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Event, len(q.events))
	copy(out, q.events)
	return out
}

// Len returns the number of queued events.
func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Dropped returns how many entries were evicted for capacity.
func (q *DeadLetterQueue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear empties the queue and returns how many events were removed.
func (q *DeadLetterQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.events)
	q.events = nil
	return n
}
