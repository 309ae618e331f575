package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/digkill/imagecredits/internal/models"
)

type AccountOverview struct {
	UserID      string          `json:"user_id"`
	UserType    models.UserType `json:"user_type"`
	Balance     int             `json:"balance"`
	DailyIssued bool            `json:"daily_issued"`
}

type UserService struct {
	log     *slog.Logger
	billing *BillingService
	daily   *DailyQuotaIssuer
	quotas  *QuotaService
}

func NewUserService(log *slog.Logger, billing *BillingService, daily *DailyQuotaIssuer, quotas *QuotaService) *UserService {
	return &UserService{
		log:     log.With("component", "user"),
		billing: billing,
		daily:   daily,
		quotas:  quotas,
	}
}

// Overview issues the day's free grant when due and reports the balance after it.
func (s *UserService) Overview(ctx context.Context, userID string) (*AccountOverview, error) {
	userType, err := s.billing.UserType(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve user type: %w", err)
	}
	issued, err := s.daily.CheckAndIssue(ctx, userID, userType)
	if err != nil {
		return nil, fmt.Errorf("issue daily quota: %w", err)
	}
	if issued {
		s.log.Info("daily quota issued", "user_id", userID)
	}
	balance, err := s.quotas.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &AccountOverview{
		UserID:      userID,
		UserType:    userType,
		Balance:     balance,
		DailyIssued: issued,
	}, nil
}
