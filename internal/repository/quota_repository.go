package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/imagecredits/internal/models"
)

type QuotaRepository struct {
	q querier
}

const quotaColumns = `id, user_id, type, amount, consumed, issued_at, expires_at, created_at`

func (r *QuotaRepository) Create(ctx context.Context, q *models.Quota) error {
	const query = `
INSERT INTO quota (id, user_id, type, amount, consumed, issued_at, expires_at, daily_key, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	_, err := r.q.ExecContext(ctx, query, q.ID, q.UserID, string(q.Type), q.Amount, q.Consumed,
		q.IssuedAt.UTC(), nullTime(q.ExpiresAt), nullString(DailyKey(q)), q.CreatedAt.UTC())
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert quota: %w", err)
	}
	return nil
}

func (r *QuotaRepository) ListByUser(ctx context.Context, userID string) ([]models.Quota, error) {
	query := `SELECT ` + quotaColumns + ` FROM quota WHERE user_id = ? ORDER BY issued_at, id`
	rows, err := r.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list quotas: %w", err)
	}
	return scanQuotas(rows)
}

func (r *QuotaRepository) AvailableBalance(ctx context.Context, userID string, now time.Time) (int, error) {
	const query = `
SELECT COALESCE(SUM(GREATEST(amount - consumed, 0)), 0)
FROM quota
WHERE user_id = ? AND (expires_at IS NULL OR expires_at > ?)`
	var total int
	if err := r.q.QueryRowContext(ctx, query, userID, now.UTC()).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum available quota: %w", err)
	}
	return total, nil
}

func (r *QuotaRepository) LockSpendable(ctx context.Context, userID string, now time.Time) ([]models.Quota, error) {
	query := `SELECT ` + quotaColumns + `
FROM quota
WHERE user_id = ? AND consumed < amount AND (expires_at IS NULL OR expires_at > ?)
ORDER BY issued_at, id
FOR UPDATE`
	rows, err := r.q.QueryContext(ctx, query, userID, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("lock spendable quotas: %w", err)
	}
	return scanQuotas(rows)
}

func (r *QuotaRepository) LockByID(ctx context.Context, id string) (*models.Quota, error) {
	query := `SELECT ` + quotaColumns + ` FROM quota WHERE id = ? FOR UPDATE`
	q, err := scanQuota(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock quota: %w", err)
	}
	return q, nil
}

func (r *QuotaRepository) SetConsumed(ctx context.Context, id string, consumed int) error {
	const query = `UPDATE quota SET consumed = ? WHERE id = ?`
	if _, err := r.q.ExecContext(ctx, query, consumed, id); err != nil {
		return fmt.Errorf("update quota consumed: %w", err)
	}
	return nil
}

func (r *QuotaRepository) HasIssuedBetween(ctx context.Context, userID string, typ models.QuotaType, start, end time.Time) (bool, error) {
	const query = `
SELECT 1 FROM quota
WHERE user_id = ? AND type = ? AND issued_at >= ? AND issued_at < ?
LIMIT 1`
	var dummy int
	err := r.q.QueryRowContext(ctx, query, userID, string(typ), start.UTC(), end.UTC()).Scan(&dummy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check issued quota: %w", err)
	}
	return true, nil
}

func (r *QuotaRepository) CreateTransaction(ctx context.Context, entry *models.QuotaTransaction, allocations []models.QuotaAllocation) error {
	const insertTx = `
INSERT INTO quota_transaction (id, user_id, quota_id, type, amount, balance_before, balance_after, related_transaction_id, note, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := r.q.ExecContext(ctx, insertTx, entry.ID, entry.UserID, entry.QuotaID, string(entry.Type), entry.Amount,
		entry.BalanceBefore, entry.BalanceAfter, nullString(entry.RelatedTransactionID), entry.Note, entry.CreatedAt.UTC())
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert quota transaction: %w", err)
	}

	const insertAllocation = `
INSERT INTO quota_transaction_allocation (transaction_id, quota_id, position, amount)
VALUES (?, ?, ?, ?)`
	for _, a := range allocations {
		if _, err := r.q.ExecContext(ctx, insertAllocation, entry.ID, a.QuotaID, a.Position, a.Amount); err != nil {
			return fmt.Errorf("insert quota allocation: %w", err)
		}
	}
	return nil
}

const transactionColumns = `id, user_id, quota_id, type, amount, balance_before, balance_after, related_transaction_id, note, created_at`

func (r *QuotaRepository) LockTransaction(ctx context.Context, id string) (*models.QuotaTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM quota_transaction WHERE id = ? FOR UPDATE`
	tx, err := scanTransaction(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock quota transaction: %w", err)
	}
	return tx, nil
}

func (r *QuotaRepository) FindRefundFor(ctx context.Context, consumeID string) (*models.QuotaTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM quota_transaction WHERE related_transaction_id = ? AND type = ?`
	tx, err := scanTransaction(r.q.QueryRowContext(ctx, query, consumeID, string(models.TransactionRefund)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find refund: %w", err)
	}
	return tx, nil
}

func (r *QuotaRepository) ListAllocations(ctx context.Context, transactionID string) ([]models.QuotaAllocation, error) {
	const query = `
SELECT transaction_id, quota_id, position, amount
FROM quota_transaction_allocation
WHERE transaction_id = ?
ORDER BY position`
	rows, err := r.q.QueryContext(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()

	var out []models.QuotaAllocation
	for rows.Next() {
		var a models.QuotaAllocation
		if err := rows.Scan(&a.TransactionID, &a.QuotaID, &a.Position, &a.Amount); err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *QuotaRepository) ListTransactions(ctx context.Context, userID string, limit int) ([]models.QuotaTransaction, error) {
	query := `SELECT ` + transactionColumns + `
FROM quota_transaction
WHERE user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`
	rows, err := r.q.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list quota transactions: %w", err)
	}
	defer rows.Close()

	var out []models.QuotaTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quota transaction: %w", err)
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuota(row rowScanner) (*models.Quota, error) {
	var q models.Quota
	var typ string
	var expires sql.NullTime
	if err := row.Scan(&q.ID, &q.UserID, &typ, &q.Amount, &q.Consumed, &q.IssuedAt, &expires, &q.CreatedAt); err != nil {
		return nil, err
	}
	q.Type = models.QuotaType(typ)
	q.IssuedAt = q.IssuedAt.UTC()
	q.ExpiresAt = timePtr(expires)
	q.CreatedAt = q.CreatedAt.UTC()
	return &q, nil
}

func scanQuotas(rows *sql.Rows) ([]models.Quota, error) {
	defer rows.Close()
	var out []models.Quota
	for rows.Next() {
		q, err := scanQuota(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quota: %w", err)
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

func scanTransaction(row rowScanner) (*models.QuotaTransaction, error) {
	var tx models.QuotaTransaction
	var typ string
	var related sql.NullString
	if err := row.Scan(&tx.ID, &tx.UserID, &tx.QuotaID, &typ, &tx.Amount, &tx.BalanceBefore, &tx.BalanceAfter, &related, &tx.Note, &tx.CreatedAt); err != nil {
		return nil, err
	}
	tx.Type = models.TransactionType(typ)
	tx.RelatedTransactionID = stringPtr(related)
	tx.CreatedAt = tx.CreatedAt.UTC()
	return &tx, nil
}
