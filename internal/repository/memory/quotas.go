package memory

import (
	"context"
	"sort"
	"time"

	"github.com/digkill/imagecredits/internal/models"
	"github.com/digkill/imagecredits/internal/repository"
)

type quotaRepo struct {
	s *Store
}

func (r *quotaRepo) Create(_ context.Context, q *models.Quota) error {
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	return r.s.do(func(st *state) error {
		if _, ok := st.quotas[q.ID]; ok {
			return repository.ErrDuplicate
		}
		if key := repository.DailyKey(q); key != nil {
			for _, existing := range st.quotas {
				if existing.UserID != q.UserID {
					continue
				}
				if other := repository.DailyKey(&existing); other != nil && *other == *key {
					return repository.ErrDuplicate
				}
			}
		}
		st.quotas[q.ID] = *q
		return nil
	})
}

func (r *quotaRepo) userQuotas(st *state, userID string) []models.Quota {
	var out []models.Quota
	for _, q := range st.quotas {
		if q.UserID == userID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.Before(out[j].IssuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *quotaRepo) ListByUser(_ context.Context, userID string) ([]models.Quota, error) {
	var out []models.Quota
	err := r.s.do(func(st *state) error {
		out = r.userQuotas(st, userID)
		return nil
	})
	return out, err
}

func (r *quotaRepo) AvailableBalance(_ context.Context, userID string, now time.Time) (int, error) {
	total := 0
	err := r.s.do(func(st *state) error {
		for _, q := range st.quotas {
			if q.UserID == userID && q.ActiveAt(now) {
				total += q.Available()
			}
		}
		return nil
	})
	return total, err
}

func (r *quotaRepo) LockSpendable(_ context.Context, userID string, now time.Time) ([]models.Quota, error) {
	var out []models.Quota
	err := r.s.do(func(st *state) error {
		for _, q := range r.userQuotas(st, userID) {
			if q.ActiveAt(now) && q.Available() > 0 {
				out = append(out, q)
			}
		}
		return nil
	})
	return out, err
}

func (r *quotaRepo) LockByID(_ context.Context, id string) (*models.Quota, error) {
	var out *models.Quota
	err := r.s.do(func(st *state) error {
		if q, ok := st.quotas[id]; ok {
			out = &q
		}
		return nil
	})
	return out, err
}

func (r *quotaRepo) SetConsumed(_ context.Context, id string, consumed int) error {
	return r.s.do(func(st *state) error {
		q, ok := st.quotas[id]
		if !ok {
			return nil
		}
		q.Consumed = consumed
		st.quotas[id] = q
		return nil
	})
}

func (r *quotaRepo) HasIssuedBetween(_ context.Context, userID string, typ models.QuotaType, start, end time.Time) (bool, error) {
	found := false
	err := r.s.do(func(st *state) error {
		for _, q := range st.quotas {
			if q.UserID == userID && q.Type == typ && !q.IssuedAt.Before(start) && q.IssuedAt.Before(end) {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (r *quotaRepo) CreateTransaction(_ context.Context, entry *models.QuotaTransaction, allocations []models.QuotaAllocation) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return r.s.do(func(st *state) error {
		if _, ok := st.transactions[entry.ID]; ok {
			return repository.ErrDuplicate
		}
		if entry.RelatedTransactionID != nil {
			for _, existing := range st.transactions {
				if existing.RelatedTransactionID != nil && *existing.RelatedTransactionID == *entry.RelatedTransactionID {
					return repository.ErrDuplicate
				}
			}
		}
		st.transactions[entry.ID] = *entry
		if len(allocations) > 0 {
			rows := make([]models.QuotaAllocation, len(allocations))
			for i, a := range allocations {
				a.TransactionID = entry.ID
				rows[i] = a
			}
			st.allocations[entry.ID] = rows
		}
		return nil
	})
}

func (r *quotaRepo) LockTransaction(_ context.Context, id string) (*models.QuotaTransaction, error) {
	var out *models.QuotaTransaction
	err := r.s.do(func(st *state) error {
		if tx, ok := st.transactions[id]; ok {
			out = &tx
		}
		return nil
	})
	return out, err
}

func (r *quotaRepo) FindRefundFor(_ context.Context, consumeID string) (*models.QuotaTransaction, error) {
	var out *models.QuotaTransaction
	err := r.s.do(func(st *state) error {
		for _, tx := range st.transactions {
			if tx.Type == models.TransactionRefund && tx.RelatedTransactionID != nil && *tx.RelatedTransactionID == consumeID {
				out = &tx
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (r *quotaRepo) ListAllocations(_ context.Context, transactionID string) ([]models.QuotaAllocation, error) {
	var out []models.QuotaAllocation
	err := r.s.do(func(st *state) error {
		out = append(out, st.allocations[transactionID]...)
		sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
		return nil
	})
	return out, err
}

func (r *quotaRepo) ListTransactions(_ context.Context, userID string, limit int) ([]models.QuotaTransaction, error) {
	var out []models.QuotaTransaction
	err := r.s.do(func(st *state) error {
		for _, tx := range st.transactions {
			if tx.UserID == userID {
				out = append(out, tx)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}
