package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"budget/internal/core"
	"budget/internal/store"
)

// Store keeps transactions in process memory. It is the default backend and
// the store used by tests.
type Store struct {
	mu    sync.RWMutex
	items map[string]core.Transaction
	now   func() time.Time
}

var _ store.TransactionStore = (*Store)(nil)

func New() *Store {
	return &Store{items: make(map[string]core.Transaction), now: time.Now}
}

// NewWithClock is New with a custom source for CreatedAt.
func NewWithClock(now func() time.Time) *Store {
	s := New()
	s.now = now
	return s
}

// Seed inserts records as they are, keeping their IDs. Records without an ID
// get one assigned.
func (s *Store) Seed(items ...core.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range items {
		if t.ID == "" {
			t.ID = store.NewID()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = s.now().UTC()
		}
		s.items[t.ID] = t
	}
}

// List returns every record of kind, newest first.
func (s *Store) List(_ context.Context, kind core.Kind) ([]core.Transaction, error) {
	s.mu.RLock()
	out := make([]core.Transaction, 0, len(s.items))
	for _, t := range s.items {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	s.mu.RUnlock()
	store.SortNewestFirst(out)
	return out, nil
}

func (s *Store) Get(_ context.Context, id string) (core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.items[id]
	if !ok {
		return core.Transaction{}, fmt.Errorf("get %s: %w", id, store.ErrNotFound)
	}
	return t, nil
}

// Create validates t, assigns a fresh ID and CreatedAt and stores it.
func (s *Store) Create(_ context.Context, t core.Transaction) (core.Transaction, error) {
	t = t.Normalize()
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	t.ID = store.NewID()
	t.CreatedAt = s.now().UTC()

	s.mu.Lock()
	s.items[t.ID] = t
	s.mu.Unlock()
	return t, nil
}

// Update applies patch atomically with respect to other store calls.
func (s *Store) Update(_ context.Context, id string, patch core.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.items[id]
	if !ok {
		return fmt.Errorf("update %s: %w", id, store.ErrNotFound)
	}
	if patch.Conditional() && t.IsRecurring != *patch.ExpectRecurring {
		return fmt.Errorf("update %s: %w", id, store.ErrConflict)
	}
	t.IsRecurring = patch.IsRecurring
	s.items[id] = t
	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, store.ErrNotFound)
	}
	delete(s.items, id)
	return nil
}

// Len returns the number of stored records of every kind.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
