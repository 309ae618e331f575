package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/imagecredits/internal/models"
)

type TaskRepository struct {
	q querier
}

const taskColumns = `id, share_id, user_id, task_type, provider, provider_request_id, model, status, progress,
parameters, results, consume_transaction_id, refund_transaction_id, credits_cost, error,
started_at, completed_at, created_at, updated_at, deleted_at`

func (r *TaskRepository) Create(ctx context.Context, task *models.GenerationTask) error {
	const query = `
INSERT INTO media_generation_task (id, share_id, user_id, task_type, provider, provider_request_id, model, status, progress,
parameters, results, consume_transaction_id, refund_transaction_id, credits_cost, error,
started_at, completed_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
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
	params, results, taskErr, err := encodeTaskPayloads(task)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, query, task.ID, task.ShareID, task.UserID, string(task.TaskType), task.Provider,
		task.ProviderRequestID, task.Model, string(task.Status), task.Progress, params, results,
		task.ConsumeTransactionID, nullString(task.RefundTransactionID), task.CreditsCost, taskErr,
		task.StartedAt.UTC(), nullTime(task.CompletedAt), task.CreatedAt.UTC(), task.UpdatedAt.UTC())
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert generation task: %w", err)
	}
	return nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id string) (*models.GenerationTask, error) {
	query := `SELECT ` + taskColumns + ` FROM media_generation_task WHERE id = ? AND deleted_at IS NULL`
	return r.getOne(ctx, "get generation task", query, id)
}

func (r *TaskRepository) GetByShareID(ctx context.Context, shareID string) (*models.GenerationTask, error) {
	query := `SELECT ` + taskColumns + ` FROM media_generation_task WHERE share_id = ? AND deleted_at IS NULL`
	return r.getOne(ctx, "get shared generation task", query, shareID)
}

func (r *TaskRepository) LockForUpdate(ctx context.Context, id, provider string) (*models.GenerationTask, error) {
	query := `SELECT ` + taskColumns + ` FROM media_generation_task WHERE id = ? AND provider = ? FOR UPDATE`
	return r.getOne(ctx, "lock generation task", query, id, provider)
}

func (r *TaskRepository) getOne(ctx context.Context, op, query string, args ...any) (*models.GenerationTask, error) {
	task, err := scanTask(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return task, nil
}

func (r *TaskRepository) SetProviderRequestID(ctx context.Context, id, requestID string) error {
	const query = `
UPDATE media_generation_task
SET provider_request_id = ?, updated_at = ?
WHERE id = ? AND provider_request_id = ''`
	if _, err := r.q.ExecContext(ctx, query, requestID, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("set provider request id: %w", err)
	}
	return nil
}

// Update writes the fields a task may change after creation. The consume
// transaction id is deliberately absent from the statement.
func (r *TaskRepository) Update(ctx context.Context, task *models.GenerationTask) error {
	const query = `
UPDATE media_generation_task
SET provider_request_id = ?, status = ?, progress = ?, results = ?, refund_transaction_id = ?, error = ?,
    completed_at = ?, updated_at = ?
WHERE id = ?`
	task.UpdatedAt = time.Now().UTC()
	_, results, taskErr, err := encodeTaskPayloads(task)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, query, task.ProviderRequestID, string(task.Status), task.Progress, results,
		nullString(task.RefundTransactionID), taskErr, nullTime(task.CompletedAt), task.UpdatedAt, task.ID)
	if err != nil {
		return fmt.Errorf("update generation task: %w", err)
	}
	return nil
}

func (r *TaskRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.GenerationTask, error) {
	query := `SELECT ` + taskColumns + `
FROM media_generation_task
WHERE user_id = ? AND deleted_at IS NULL
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?`
	rows, err := r.q.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list generation tasks: %w", err)
	}
	defer rows.Close()

	var out []models.GenerationTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation task: %w", err)
		}
		out = append(out, *task)
	}
	return out, rows.Err()
}

func (r *TaskRepository) SoftDelete(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	const query = `
UPDATE media_generation_task SET deleted_at = ?, updated_at = ?
WHERE id = ? AND user_id = ? AND deleted_at IS NULL`
	res, err := r.q.ExecContext(ctx, query, at.UTC(), at.UTC(), id, userID)
	if err != nil {
		return false, fmt.Errorf("soft delete generation task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("soft delete rows affected: %w", err)
	}
	return affected > 0, nil
}

func encodeTaskPayloads(task *models.GenerationTask) (params []byte, results, taskErr sql.NullString, err error) {
	params, err = json.Marshal(task.Parameters)
	if err != nil {
		return nil, results, taskErr, fmt.Errorf("marshal task parameters: %w", err)
	}
	if len(task.Results) > 0 {
		raw, err := json.Marshal(task.Results)
		if err != nil {
			return nil, results, taskErr, fmt.Errorf("marshal task results: %w", err)
		}
		results = sql.NullString{String: string(raw), Valid: true}
	}
	if task.Error != nil {
		raw, err := json.Marshal(task.Error)
		if err != nil {
			return nil, results, taskErr, fmt.Errorf("marshal task error: %w", err)
		}
		taskErr = sql.NullString{String: string(raw), Valid: true}
	}
	return params, results, taskErr, nil
}

func scanTask(row rowScanner) (*models.GenerationTask, error) {
	var (
		t                        models.GenerationTask
		taskType, status         string
		params                   []byte
		results, taskErr, refund sql.NullString
		completed, deleted       sql.NullTime
	)
	err := row.Scan(&t.ID, &t.ShareID, &t.UserID, &taskType, &t.Provider, &t.ProviderRequestID, &t.Model, &status, &t.Progress,
		&params, &results, &t.ConsumeTransactionID, &refund, &t.CreditsCost, &taskErr,
		&t.StartedAt, &completed, &t.CreatedAt, &t.UpdatedAt, &deleted)
	if err != nil {
		return nil, err
	}
	t.TaskType = models.TaskType(taskType)
	t.Status = models.TaskStatus(status)
	t.RefundTransactionID = stringPtr(refund)
	t.StartedAt = t.StartedAt.UTC()
	t.CompletedAt = timePtr(completed)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	t.DeletedAt = timePtr(deleted)

	if len(params) > 0 {
		if err := json.Unmarshal(params, &t.Parameters); err != nil {
			return nil, fmt.Errorf("decode task parameters: %w", err)
		}
	}
	if results.Valid && results.String != "" {
		if err := json.Unmarshal([]byte(results.String), &t.Results); err != nil {
			return nil, fmt.Errorf("decode task results: %w", err)
		}
	}
	if taskErr.Valid && taskErr.String != "" {
		var te models.TaskError
		if err := json.Unmarshal([]byte(taskErr.String), &te); err != nil {
			return nil, fmt.Errorf("decode task error: %w", err)
		}
		t.Error = &te
	}
	return &t, nil
}
