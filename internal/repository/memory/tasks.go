package memory

import (
	"context"
	"sort"
	"time"

	"github.com/digkill/imagecredits/internal/models"
	"github.com/digkill/imagecredits/internal/repository"
)

type taskRepo struct {
	s *Store
}

func (r *taskRepo) Create(_ context.Context, task *models.GenerationTask) error {
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = task.CreatedAt
	}
	if task.StartedAt.IsZero() {
		task.StartedAt = task.CreatedAt
	}
	return r.s.do(func(st *state) error {
		if _, ok := st.tasks[task.ID]; ok {
			return repository.ErrDuplicate
		}
		for _, existing := range st.tasks {
			if existing.ShareID == task.ShareID {
				return repository.ErrDuplicate
			}
		}
		st.tasks[task.ID] = *task
		return nil
	})
}

func (r *taskRepo) GetByID(_ context.Context, id string) (*models.GenerationTask, error) {
	var out *models.GenerationTask
	err := r.s.do(func(st *state) error {
		if t, ok := st.tasks[id]; ok && t.DeletedAt == nil {
			out = &t
		}
		return nil
	})
	return out, err
}

func (r *taskRepo) GetByShareID(_ context.Context, shareID string) (*models.GenerationTask, error) {
	var out *models.GenerationTask
	err := r.s.do(func(st *state) error {
		for _, t := range st.tasks {
			if t.ShareID == shareID && t.DeletedAt == nil {
				out = &t
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (r *taskRepo) LockForUpdate(_ context.Context, id, provider string) (*models.GenerationTask, error) {
	var out *models.GenerationTask
	err := r.s.do(func(st *state) error {
		if t, ok := st.tasks[id]; ok && t.Provider == provider {
			out = &t
		}
		return nil
	})
	return out, err
}

func (r *taskRepo) SetProviderRequestID(_ context.Context, id, requestID string) error {
	return r.s.do(func(st *state) error {
		t, ok := st.tasks[id]
		if !ok || t.ProviderRequestID != "" {
			return nil
		}
		t.ProviderRequestID = requestID
		t.UpdatedAt = time.Now().UTC()
		st.tasks[id] = t
		return nil
	})
}

func (r *taskRepo) Update(_ context.Context, task *models.GenerationTask) error {
	task.UpdatedAt = time.Now().UTC()
	return r.s.do(func(st *state) error {
		current, ok := st.tasks[task.ID]
		if !ok {
			return nil
		}
		current.ProviderRequestID = task.ProviderRequestID
		current.Status = task.Status
		current.Progress = task.Progress
		current.Results = task.Results
		current.RefundTransactionID = task.RefundTransactionID
		current.Error = task.Error
		current.CompletedAt = task.CompletedAt
		current.UpdatedAt = task.UpdatedAt
		st.tasks[task.ID] = current
		return nil
	})
}

func (r *taskRepo) ListByUser(_ context.Context, userID string, limit, offset int) ([]models.GenerationTask, error) {
	var out []models.GenerationTask
	err := r.s.do(func(st *state) error {
		for _, t := range st.tasks {
			if t.UserID == userID && t.DeletedAt == nil {
				out = append(out, t)
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
	if offset >= len(out) {
		return nil, err
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *taskRepo) SoftDelete(_ context.Context, id, userID string, at time.Time) (bool, error) {
	deleted := false
	err := r.s.do(func(st *state) error {
		t, ok := st.tasks[id]
		if !ok || t.UserID != userID || t.DeletedAt != nil {
			return nil
		}
		at := at.UTC()
		t.DeletedAt = &at
		t.UpdatedAt = at
		st.tasks[id] = t
		deleted = true
		return nil
	})
	return deleted, err
}
