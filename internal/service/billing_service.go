package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/imagecredits/internal/models"
	"github.com/digkill/imagecredits/internal/pricing"
	"github.com/digkill/imagecredits/internal/repository"
)

var ErrInvalidEvent = errors.New("invalid billing event")

const (
	EventPaymentSucceeded      = "payment.succeeded"
	EventPlanChanged           = "subscription.plan_changed"
	EventSubscriptionCanceled  = "subscription.canceled"
	EventSubscriptionExpired   = "subscription.expired"
	PurchaseKindSubscription   = "subscription"
	PurchaseKindQuotaPack      = "quota-pack"
	defaultBillingProviderName = "billing"
)

// BillingEvent is a normalized notification from the payment provider.
type BillingEvent struct {
	ID          string           `json:"id"`
	Provider    string           `json:"provider"`
	Type        string           `json:"type"`
	UserID      string           `json:"user_id"`
	Kind        string           `json:"kind"`
	PlanType    models.QuotaType `json:"plan_type"`
	PackID      string           `json:"pack_id"`
	AmountCents int64            `json:"amount_cents"`
	Currency    string           `json:"currency"`
	PeriodEnd   *time.Time       `json:"period_end"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

// BillingService turns payment events into subscriptions and credit grants.
type BillingService struct {
	log     *slog.Logger
	store   repository.Store
	quotas  *QuotaService
	catalog *pricing.Catalog
	now     func() time.Time
}

func NewBillingService(log *slog.Logger, store repository.Store, quotas *QuotaService, catalog *pricing.Catalog) *BillingService {
	return &BillingService{
		log:     log.With("component", "billing"),
		store:   store,
		quotas:  quotas,
		catalog: catalog,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ApplyEvent records the event and applies it in one transaction. It returns
// false when the event was applied before.
func (s *BillingService) ApplyEvent(ctx context.Context, ev BillingEvent) (bool, error) {
	if ev.Provider == "" {
		ev.Provider = defaultBillingProviderName
	}
	if ev.ID == "" || ev.UserID == "" || ev.Type == "" {
		return false, fmt.Errorf("%w: id, type and user_id are required", ErrInvalidEvent)
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("encode billing event: %w", err)
	}

	applied := false
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		applied = false
		payment := &models.Payment{
			ID:                    uuid.NewString(),
			UserID:                ev.UserID,
			Provider:              ev.Provider,
			ProviderTransactionID: ev.ID,
			EventType:             ev.Type,
			PlanType:              string(ev.PlanType),
			AmountCents:           ev.AmountCents,
			Currency:              ev.Currency,
			Status:                "processed",
			RawPayload:            string(raw),
			CreatedAt:             s.now(),
		}
		if ev.Kind == PurchaseKindQuotaPack {
			payment.PlanType = ev.PackID
		}
		if err := tx.Payments().Create(ctx, payment); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return nil
			}
			return fmt.Errorf("record billing event: %w", err)
		}

		switch ev.Type {
		case EventPaymentSucceeded:
			err = s.applyPayment(ctx, tx, ev)
		case EventPlanChanged:
			err = s.applyPlanChange(ctx, tx, ev)
		case EventSubscriptionCanceled:
			err = s.applyStatus(ctx, tx, ev, models.SubscriptionCanceled)
		case EventSubscriptionExpired:
			err = s.applyStatus(ctx, tx, ev, models.SubscriptionExpired)
		default:
			err = fmt.Errorf("%w: unsupported type %q", ErrInvalidEvent, ev.Type)
		}
		if err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if applied {
		s.log.Info("billing event applied", "event_id", ev.ID, "type", ev.Type, "user_id", ev.UserID)
	} else {
		s.log.Info("billing event already applied", "event_id", ev.ID, "type", ev.Type)
	}
	return applied, nil
}

func (s *BillingService) applyPayment(ctx context.Context, tx repository.Store, ev BillingEvent) error {
	now := s.now()
	switch ev.Kind {
	case PurchaseKindQuotaPack:
		pack, ok := s.catalog.Pack(ev.PackID)
		if !ok {
			return fmt.Errorf("%w: unknown pack %q", ErrInvalidEvent, ev.PackID)
		}
		var expires *time.Time
		if pack.ValidDays > 0 {
			t := now.AddDate(0, 0, pack.ValidDays)
			expires = &t
		}
		_, err := s.quotas.IssueGrantTx(ctx, tx, GrantInput{
			UserID:    ev.UserID,
			Type:      models.QuotaPack,
			Amount:    pack.Credits,
			IssuedAt:  now,
			ExpiresAt: expires,
		})
		return err

	case PurchaseKindSubscription, "":
		if ev.PeriodEnd == nil || !ev.PeriodEnd.After(now) {
			return fmt.Errorf("%w: period_end must be in the future", ErrInvalidEvent)
		}
		sub, err := tx.Subscriptions().LockByUserID(ctx, ev.UserID)
		if err != nil {
			return fmt.Errorf("lock subscription: %w", err)
		}
		planType := ev.PlanType
		if planType == "" && sub != nil && sub.NextPlanType != nil {
			planType = *sub.NextPlanType
		}
		plan, ok := s.catalog.Plan(planType)
		if !ok {
			return fmt.Errorf("%w: unknown plan %q", ErrInvalidEvent, planType)
		}
		if sub == nil {
			sub = &models.Subscription{ID: uuid.NewString(), UserID: ev.UserID}
		}
		periodEnd := ev.PeriodEnd.UTC()
		sub.PlanType = plan.Type
		sub.NextPlanType = nil
		sub.Status = models.SubscriptionActive
		sub.AmountPaid = ev.AmountCents
		sub.Currency = ev.Currency
		sub.ExpiresAt = &periodEnd
		sub.NextBillingDate = &periodEnd
		if err := tx.Subscriptions().Upsert(ctx, sub); err != nil {
			return fmt.Errorf("save subscription: %w", err)
		}
		_, err = s.quotas.IssueGrantTx(ctx, tx, GrantInput{
			UserID:    ev.UserID,
			Type:      plan.Type,
			Amount:    plan.Credits,
			IssuedAt:  now,
			ExpiresAt: &periodEnd,
		})
		return err
	}
	return fmt.Errorf("%w: unsupported kind %q", ErrInvalidEvent, ev.Kind)
}

// applyPlanChange switches an upgrade immediately and credits the difference
// until the current period ends. A downgrade waits for the next renewal.
func (s *BillingService) applyPlanChange(ctx context.Context, tx repository.Store, ev BillingEvent) error {
	sub, err := tx.Subscriptions().LockByUserID(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("lock subscription: %w", err)
	}
	now := s.now()
	if sub == nil || !sub.EntitledAt(now) {
		return fmt.Errorf("%w: no active subscription for %s", ErrInvalidEvent, ev.UserID)
	}
	next, ok := s.catalog.Plan(ev.PlanType)
	if !ok {
		return fmt.Errorf("%w: unknown plan %q", ErrInvalidEvent, ev.PlanType)
	}
	current, _ := s.catalog.Plan(sub.PlanType)

	switch {
	case next.Credits > current.Credits:
		sub.PlanType = next.Type
		sub.NextPlanType = nil
		if ev.AmountCents > 0 {
			sub.AmountPaid = ev.AmountCents
		}
		if _, err := s.quotas.IssueGrantTx(ctx, tx, GrantInput{
			UserID:    ev.UserID,
			Type:      models.QuotaSubscriptionChangeCompensation,
			Amount:    next.Credits - current.Credits,
			IssuedAt:  now,
			ExpiresAt: sub.ExpiresAt,
		}); err != nil {
			return err
		}
	case next.Credits < current.Credits:
		planType := next.Type
		sub.NextPlanType = &planType
	default:
		sub.PlanType = next.Type
		sub.NextPlanType = nil
	}
	if err := tx.Subscriptions().Upsert(ctx, sub); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

// applyStatus changes the subscription status only. Grants keep their own expiry.
func (s *BillingService) applyStatus(ctx context.Context, tx repository.Store, ev BillingEvent, status models.SubscriptionStatus) error {
	sub, err := tx.Subscriptions().LockByUserID(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("lock subscription: %w", err)
	}
	if sub == nil {
		s.log.Warn("status event for unknown subscription", "event_id", ev.ID, "user_id", ev.UserID)
		return nil
	}
	sub.Status = status
	if status == models.SubscriptionExpired {
		now := s.now()
		sub.ExpiresAt = &now
	}
	if err := tx.Subscriptions().Upsert(ctx, sub); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

// UserType is paid while the user holds an entitled subscription.
func (s *BillingService) UserType(ctx context.Context, userID string) (models.UserType, error) {
	sub, err := s.store.Subscriptions().GetByUserID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("get subscription: %w", err)
	}
	if sub != nil && sub.EntitledAt(s.now()) {
		return models.UserTypePaid, nil
	}
	return models.UserTypeFree, nil
}

func (s *BillingService) Subscription(ctx context.Context, userID string) (*models.Subscription, error) {
	sub, err := s.store.Subscriptions().GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}
