package saga

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
)

// Store persists finished transactions.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save inserts or replaces a transaction.
	Save(ctx context.Context, tx *Transaction) error

	// Get retrieves a transaction by id.
	Get(ctx context.Context, id string) (*Transaction, error)

	// List returns transactions matching filter, newest first.
	List(ctx context.Context, filter *ListFilter) ([]*Transaction, error)

	// Delete removes a transaction.
	Delete(ctx context.Context, id string) error

	// Close releases resources. Further calls return ErrStoreClosed.
	Close() error
}

// ListFilter narrows Store.List results. Zero fields match everything.
type ListFilter struct {
	Name   string
	Status Status
	Limit  int
	Offset int
}

func (f *ListFilter) matches(tx *Transaction) bool {
	if f == nil {
		return true
	}
	if f.Name != "" && tx.Name != f.Name {
		return false
	}
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	return true
}

func (f *ListFilter) page(txs []*Transaction) []*Transaction {
	if f == nil {
		return txs
	}
	if f.Offset > 0 {
		if f.Offset >= len(txs) {
			return []*Transaction{}
		}
		txs = txs[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(txs) {
		txs = txs[:f.Limit]
	}
	return txs
}

var (
	// ErrNotFound is returned when a transaction is not in the store.
	ErrNotFound = errors.New("saga transaction not found")

	// ErrStoreClosed is returned by a closed store.
	ErrStoreClosed = errors.New("saga store is closed")
)

// MemoryStore keeps transactions in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	txs    map[string]*Transaction
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txs: make(map[string]*Transaction)}
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, tx *Transaction) error {
	clone := tx.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.txs[clone.ID] = clone
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	tx, ok := s.txs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return tx.Clone(), nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, filter *ListFilter) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var out []*Transaction
	for _, tx := range s.txs {
		if filter.matches(tx) {
			out = append(out, tx.Clone())
		}
	}
	sortNewestFirst(out)
	return filter.page(out), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.txs[id]; !ok {
		return ErrNotFound
	}
	delete(s.txs, id)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func sortNewestFirst(txs []*Transaction) {
	slices.SortFunc(txs, func(a, b *Transaction) int {
		if n := b.StartedAt.Compare(a.StartedAt); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
