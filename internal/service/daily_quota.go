package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/imagecredits/internal/models"
	"github.com/digkill/imagecredits/internal/repository"
)

// DailyQuotaIssuer hands free users one daily-free grant per UTC calendar day.
type DailyQuotaIssuer struct {
	store  repository.Store
	quotas *QuotaService
	amount int
	log    *slog.Logger
	now    func() time.Time
}

func NewDailyQuotaIssuer(store repository.Store, quotas *QuotaService, amount int, log *slog.Logger) *DailyQuotaIssuer {
	return &DailyQuotaIssuer{
		store:  store,
		quotas: quotas,
		amount: amount,
		log:    log.With("component", "daily_quota"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CheckAndIssue returns true when a grant was issued by this call. The read
// check is only a shortcut: the (user_id, daily_key) unique key decides races.
func (d *DailyQuotaIssuer) CheckAndIssue(ctx context.Context, userID string, userType models.UserType) (bool, error) {
	if userType != models.UserTypeFree {
		return false, nil
	}
	now := d.now()
	start, end := dayWindow(now)

	issued := false
	err := d.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		exists, err := tx.Quotas().HasIssuedBetween(ctx, userID, models.QuotaDailyFree, start, end)
		if err != nil {
			return fmt.Errorf("check daily grant: %w", err)
		}
		if exists {
			return nil
		}
		if _, err := d.quotas.IssueGrantTx(ctx, tx, GrantInput{
			UserID:    userID,
			Type:      models.QuotaDailyFree,
			Amount:    d.amount,
			IssuedAt:  now,
			ExpiresAt: &end,
		}); err != nil {
			return err
		}
		issued = true
		return nil
	})
	if errors.Is(err, repository.ErrDuplicate) {
		d.log.Debug("daily grant issued concurrently", "user_id", userID)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return issued, nil
}

// dayWindow returns the [start, end) bounds of t's UTC calendar day.
func dayWindow(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}
