package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/imagecredits/internal/models"
)

type PaymentRepository struct {
	q querier
}

const paymentColumns = `id, user_id, provider, provider_transaction_id, event_type, plan_type, amount, currency, status, COALESCE(raw_payload, ''), created_at`

// Create records a billing event. A second record for the same provider
// transaction returns ErrDuplicate, which is what makes event handling idempotent.
func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	const query = `
INSERT INTO ` + "`transaction`" + ` (id, user_id, provider, provider_transaction_id, event_type, plan_type, amount, currency, status, raw_payload, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?)`
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := r.q.ExecContext(ctx, query, p.ID, p.UserID, p.Provider, p.ProviderTransactionID, p.EventType, p.PlanType,
		p.AmountCents, p.Currency, p.Status, p.RawPayload, p.CreatedAt.UTC())
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByProviderTransaction(ctx context.Context, provider, providerTransactionID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + " FROM `transaction` WHERE provider = ? AND provider_transaction_id = ?"
	p, err := scanPayment(r.q.QueryRowContext(ctx, query, provider, providerTransactionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Payment, error) {
	query := `SELECT ` + paymentColumns + " FROM `transaction` WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?"
	rows, err := r.q.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var p models.Payment
	if err := row.Scan(&p.ID, &p.UserID, &p.Provider, &p.ProviderTransactionID, &p.EventType, &p.PlanType,
		&p.AmountCents, &p.Currency, &p.Status, &p.RawPayload, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}
