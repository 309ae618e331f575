package memory

import (
	"context"
	"sort"
	"time"

	"github.com/digkill/imagecredits/internal/models"
	"github.com/digkill/imagecredits/internal/repository"
)

type subscriptionRepo struct {
	s *Store
}

func (r *subscriptionRepo) GetByUserID(_ context.Context, userID string) (*models.Subscription, error) {
	var out *models.Subscription
	err := r.s.do(func(st *state) error {
		if sub, ok := st.subscriptions[userID]; ok {
			out = &sub
		}
		return nil
	})
	return out, err
}

func (r *subscriptionRepo) LockByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	return r.GetByUserID(ctx, userID)
}

func (r *subscriptionRepo) Upsert(_ context.Context, sub *models.Subscription) error {
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	return r.s.do(func(st *state) error {
		if existing, ok := st.subscriptions[sub.UserID]; ok {
			sub.ID = existing.ID
			sub.CreatedAt = existing.CreatedAt
		}
		st.subscriptions[sub.UserID] = *sub
		return nil
	})
}

type paymentRepo struct {
	s *Store
}

func (r *paymentRepo) Create(_ context.Context, p *models.Payment) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return r.s.do(func(st *state) error {
		for _, existing := range st.payments {
			if existing.Provider == p.Provider && existing.ProviderTransactionID == p.ProviderTransactionID {
				return repository.ErrDuplicate
			}
		}
		st.payments[p.ID] = *p
		return nil
	})
}

func (r *paymentRepo) GetByProviderTransaction(_ context.Context, provider, providerTransactionID string) (*models.Payment, error) {
	var out *models.Payment
	err := r.s.do(func(st *state) error {
		for _, p := range st.payments {
			if p.Provider == provider && p.ProviderTransactionID == providerTransactionID {
				out = &p
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (r *paymentRepo) ListByUser(_ context.Context, userID string, limit int) ([]models.Payment, error) {
	var out []models.Payment
	err := r.s.do(func(st *state) error {
		for _, p := range st.payments {
			if p.UserID == userID {
				out = append(out, p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}
