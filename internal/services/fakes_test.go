package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"budget/internal/core"
	"budget/internal/store"
	"budget/internal/store/memory"
)

var errBackendDown = errors.New("backend down")

// faultyStore wraps the memory store and fails selected operations.
type faultyStore struct {
	*memory.Store

	failList   atomic.Bool
	failCreate atomic.Bool
	failUpdate atomic.Bool
	failDelete atomic.Bool

	// failCreateFor fails Create only for children with this title.
	failCreateFor string

	creates atomic.Int32
	updates atomic.Int32
}

func newFaultyStore() *faultyStore {
	return &faultyStore{Store: memory.New()}
}

func (s *faultyStore) List(ctx context.Context, kind core.Kind) ([]core.Transaction, error) {
	if s.failList.Load() {
		return nil, errBackendDown
	}
	return s.Store.List(ctx, kind)
}

func (s *faultyStore) Create(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	s.creates.Add(1)
	if s.failCreate.Load() || (s.failCreateFor != "" && t.Title == s.failCreateFor) {
		return core.Transaction{}, errBackendDown
	}
	return s.Store.Create(ctx, t)
}

func (s *faultyStore) Update(ctx context.Context, id string, patch core.Patch) error {
	s.updates.Add(1)
	if s.failUpdate.Load() {
		return errBackendDown
	}
	return s.Store.Update(ctx, id, patch)
}

func (s *faultyStore) Delete(ctx context.Context, id string) error {
	if s.failDelete.Load() {
		return errBackendDown
	}
	return s.Store.Delete(ctx, id)
}

// barrierStore holds the first n List calls until all n have read, so n
// ticks observe the template before any of them commits. Later calls pass.
type barrierStore struct {
	*memory.Store

	mu      sync.Mutex
	waiting int
	release chan struct{}
}

func newBarrierStore(n int) *barrierStore {
	return &barrierStore{Store: memory.New(), waiting: n, release: make(chan struct{})}
}

func (s *barrierStore) List(ctx context.Context, kind core.Kind) ([]core.Transaction, error) {
	all, err := s.Store.List(ctx, kind)

	s.mu.Lock()
	if s.waiting == 0 {
		s.mu.Unlock()
		return all, err
	}
	s.waiting--
	if s.waiting == 0 {
		close(s.release)
	}
	s.mu.Unlock()

	<-s.release
	return all, err
}

var (
	_ store.TransactionStore = (*faultyStore)(nil)
	_ store.TransactionStore = (*barrierStore)(nil)
)

// children returns the non-recurring records of kind dated on day.
func children(st store.TransactionReader, kind core.Kind, day core.Date) []core.Transaction {
	all, _ := st.List(context.Background(), kind)
	var out []core.Transaction
	for _, t := range all {
		if !t.IsRecurring && t.OccurredOn.Equal(day) {
			out = append(out, t)
		}
	}
	return out
}
