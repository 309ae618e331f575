// Package memory is an in-process repository.Store. Every call is serialized
// by one mutex and WithinTx works on a copy that is swapped in on success,
// so a failing transaction leaves no trace. It is meant for tests and local runs.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/digkill/imagecredits/internal/models"
	"github.com/digkill/imagecredits/internal/repository"
)

type state struct {
	quotas        map[string]models.Quota
	transactions  map[string]models.QuotaTransaction
	allocations   map[string][]models.QuotaAllocation
	tasks         map[string]models.GenerationTask
	subscriptions map[string]models.Subscription
	payments      map[string]models.Payment
}

func newState() *state {
	return &state{
		quotas:        map[string]models.Quota{},
		transactions:  map[string]models.QuotaTransaction{},
		allocations:   map[string][]models.QuotaAllocation{},
		tasks:         map[string]models.GenerationTask{},
		subscriptions: map[string]models.Subscription{},
		payments:      map[string]models.Payment{},
	}
}

// clone copies the maps. Stored values are never mutated in place, so the
// slices and pointers inside them can be shared between copies.
func (s *state) clone() *state {
	return &state{
		quotas:        maps.Clone(s.quotas),
		transactions:  maps.Clone(s.transactions),
		allocations:   maps.Clone(s.allocations),
		tasks:         maps.Clone(s.tasks),
		subscriptions: maps.Clone(s.subscriptions),
		payments:      maps.Clone(s.payments),
	}
}

type shared struct {
	mu sync.Mutex
	st *state
}

// Store implements repository.Store in memory.
type Store struct {
	shared *shared
	// tx is the working copy while inside WithinTx; nil on the root store.
	tx *state
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{shared: &shared{st: newState()}}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	if s.tx != nil {
		return fn(ctx, s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()

	working := s.shared.st.clone()
	if err := fn(ctx, &Store{shared: s.shared, tx: working}); err != nil {
		return err
	}
	s.shared.st = working
	return nil
}

// do runs fn against the transaction copy, or against the shared state under the lock.
func (s *Store) do(fn func(st *state) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	return fn(s.shared.st)
}

func (s *Store) Quotas() repository.Quotas {
	return &quotaRepo{s: s}
}

func (s *Store) Tasks() repository.Tasks {
	return &taskRepo{s: s}
}

func (s *Store) Subscriptions() repository.Subscriptions {
	return &subscriptionRepo{s: s}
}

func (s *Store) Payments() repository.Payments {
	return &paymentRepo{s: s}
}
