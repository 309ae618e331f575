package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/imagecredits/internal/models"
)

type SubscriptionRepository struct {
	q querier
}

const subscriptionColumns = `id, user_id, plan_type, next_plan_type, status, amount_paid, currency, expires_at, next_billing_date, created_at, updated_at`

func (r *SubscriptionRepository) GetByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscription WHERE user_id = ?`
	return r.getOne(ctx, "get subscription", query, userID)
}

func (r *SubscriptionRepository) LockByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscription WHERE user_id = ? FOR UPDATE`
	return r.getOne(ctx, "lock subscription", query, userID)
}

func (r *SubscriptionRepository) getOne(ctx context.Context, op, query string, args ...any) (*models.Subscription, error) {
	var (
		s            models.Subscription
		plan, status string
		next         sql.NullString
		expires      sql.NullTime
		billing      sql.NullTime
	)
	err := r.q.QueryRowContext(ctx, query, args...).Scan(&s.ID, &s.UserID, &plan, &next, &status, &s.AmountPaid, &s.Currency,
		&expires, &billing, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.PlanType = models.QuotaType(plan)
	if next.Valid && next.String != "" {
		nt := models.QuotaType(next.String)
		s.NextPlanType = &nt
	}
	s.Status = models.SubscriptionStatus(status)
	s.ExpiresAt = timePtr(expires)
	s.NextBillingDate = timePtr(billing)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

// Upsert keys on user_id: one subscription row per user.
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub *models.Subscription) error {
	const query = `
INSERT INTO subscription (id, user_id, plan_type, next_plan_type, status, amount_paid, currency, expires_at, next_billing_date, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    plan_type = VALUES(plan_type),
    next_plan_type = VALUES(next_plan_type),
    status = VALUES(status),
    amount_paid = VALUES(amount_paid),
    currency = VALUES(currency),
    expires_at = VALUES(expires_at),
    next_billing_date = VALUES(next_billing_date),
    updated_at = VALUES(updated_at)`
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	var next sql.NullString
	if sub.NextPlanType != nil {
		next = sql.NullString{String: string(*sub.NextPlanType), Valid: true}
	}
	_, err := r.q.ExecContext(ctx, query, sub.ID, sub.UserID, string(sub.PlanType), next, string(sub.Status), sub.AmountPaid,
		sub.Currency, nullTime(sub.ExpiresAt), nullTime(sub.NextBillingDate), sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}
