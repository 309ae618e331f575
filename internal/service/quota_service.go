package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/imagecredits/internal/models"
	"github.com/digkill/imagecredits/internal/repository"
)

var (
	ErrInsufficientCredits    = errors.New("insufficient credits")
	ErrTransactionNotFound    = errors.New("quota transaction not found")
	ErrInvalidTransactionType = errors.New("quota transaction is not a consume transaction")
	ErrAlreadyRefunded        = errors.New("quota transaction already refunded")
	ErrInvalidAmount          = errors.New("amount must be positive")
)

// InsufficientCreditsError carries the amounts the caller needs to show.
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// QuotaService owns every change to grant consumption and the ledger.
type QuotaService struct {
	store repository.Store
	log   *slog.Logger
	now   func() time.Time
}

func NewQuotaService(store repository.Store, log *slog.Logger) *QuotaService {
	return &QuotaService{
		store: store,
		log:   log.With("component", "quota"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

type GrantInput struct {
	UserID    string
	Type      models.QuotaType
	Amount    int
	IssuedAt  time.Time
	ExpiresAt *time.Time
}

type GrantView struct {
	ID        string           `json:"id"`
	Type      models.QuotaType `json:"type"`
	Amount    int              `json:"amount"`
	Consumed  int              `json:"consumed"`
	Available int              `json:"available"`
	IssuedAt  time.Time        `json:"issued_at"`
	ExpiresAt *time.Time       `json:"expires_at"`
}

type GrantOverview struct {
	Active  []GrantView `json:"active"`
	Expired []GrantView `json:"expired"`
}

// Balance is informational: it takes no locks and may be stale by the time
// the caller acts on it.
func (s *QuotaService) Balance(ctx context.Context, userID string) (int, error) {
	balance, err := s.store.Quotas().AvailableBalance(ctx, userID, s.now())
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func (s *QuotaService) Debit(ctx context.Context, userID string, amount int, note string) (string, error) {
	var txID string
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		id, err := s.DebitTx(ctx, tx, userID, amount, note)
		txID = id
		return err
	})
	if err != nil {
		return "", err
	}
	return txID, nil
}

// DebitTx draws amount from the user's grants, oldest issued first, and
// records one consume transaction tied to the first grant touched. The
// per-grant split goes to allocation rows so a refund can restore it exactly.
func (s *QuotaService) DebitTx(ctx context.Context, tx repository.Store, userID string, amount int, note string) (string, error) {
	if amount <= 0 {
		return "", ErrInvalidAmount
	}
	now := s.now()

	grants, err := tx.Quotas().LockSpendable(ctx, userID, now)
	if err != nil {
		return "", fmt.Errorf("lock grants: %w", err)
	}
	total := 0
	for _, g := range grants {
		total += g.Available()
	}
	if total < amount {
		return "", &InsufficientCreditsError{Required: amount, Available: total}
	}

	entry := &models.QuotaTransaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      models.TransactionConsume,
		Amount:    -amount,
		Note:      note,
		CreatedAt: now,
	}
	var allocations []models.QuotaAllocation
	remaining := amount
	for _, g := range grants {
		if remaining == 0 {
			break
		}
		take := min(g.Available(), remaining)
		if take == 0 {
			continue
		}
		if len(allocations) == 0 {
			entry.QuotaID = g.ID
			entry.BalanceBefore = g.Available()
			entry.BalanceAfter = g.Available() - take
		}
		if err := tx.Quotas().SetConsumed(ctx, g.ID, g.Consumed+take); err != nil {
			return "", fmt.Errorf("consume grant %s: %w", g.ID, err)
		}
		allocations = append(allocations, models.QuotaAllocation{
			QuotaID:  g.ID,
			Position: len(allocations),
			Amount:   take,
		})
		remaining -= take
	}

	if err := tx.Quotas().CreateTransaction(ctx, entry, allocations); err != nil {
		return "", fmt.Errorf("create consume transaction: %w", err)
	}
	return entry.ID, nil
}

func (s *QuotaService) Refund(ctx context.Context, consumeTxID, note string) (string, error) {
	var txID string
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		id, err := s.RefundTx(ctx, tx, consumeTxID, note)
		txID = id
		return err
	})
	if err != nil {
		return "", err
	}
	return txID, nil
}

// RefundTx returns the credits of a consume transaction to the grants it
// drew from. The refund row is written before any grant changes, so a lost
// race on the unique refund key leaves nothing half-applied.
func (s *QuotaService) RefundTx(ctx context.Context, tx repository.Store, consumeTxID, note string) (string, error) {
	consume, err := tx.Quotas().LockTransaction(ctx, consumeTxID)
	if err != nil {
		return "", fmt.Errorf("lock transaction: %w", err)
	}
	if consume == nil {
		return "", ErrTransactionNotFound
	}
	if consume.Type != models.TransactionConsume {
		return "", ErrInvalidTransactionType
	}
	existing, err := tx.Quotas().FindRefundFor(ctx, consumeTxID)
	if err != nil {
		return "", fmt.Errorf("find refund: %w", err)
	}
	if existing != nil {
		return "", ErrAlreadyRefunded
	}

	amount := consume.Amount
	if amount < 0 {
		amount = -amount
	}
	allocations, err := tx.Quotas().ListAllocations(ctx, consumeTxID)
	if err != nil {
		return "", fmt.Errorf("list allocations: %w", err)
	}
	if len(allocations) == 0 {
		allocations = []models.QuotaAllocation{{QuotaID: consume.QuotaID, Amount: amount}}
	}

	type restore struct {
		id       string
		consumed int
	}
	var restores []restore
	entry := &models.QuotaTransaction{
		ID:                   uuid.NewString(),
		UserID:               consume.UserID,
		QuotaID:              consume.QuotaID,
		Type:                 models.TransactionRefund,
		Amount:               amount,
		RelatedTransactionID: &consume.ID,
		Note:                 note,
		CreatedAt:            s.now(),
	}
	for _, a := range allocations {
		grant, err := tx.Quotas().LockByID(ctx, a.QuotaID)
		if err != nil {
			return "", fmt.Errorf("lock grant %s: %w", a.QuotaID, err)
		}
		if grant == nil {
			s.log.Warn("refund skips missing grant", "transaction_id", consumeTxID, "quota_id", a.QuotaID)
			continue
		}
		consumed := max(grant.Consumed-a.Amount, 0)
		if grant.ID == consume.QuotaID {
			entry.BalanceBefore = grant.Available()
			entry.BalanceAfter = max(grant.Amount-consumed, 0)
		}
		restores = append(restores, restore{id: grant.ID, consumed: consumed})
	}

	if err := tx.Quotas().CreateTransaction(ctx, entry, nil); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return "", ErrAlreadyRefunded
		}
		return "", fmt.Errorf("create refund transaction: %w", err)
	}
	for _, r := range restores {
		if err := tx.Quotas().SetConsumed(ctx, r.id, r.consumed); err != nil {
			return "", fmt.Errorf("restore grant %s: %w", r.id, err)
		}
	}
	return entry.ID, nil
}

func (s *QuotaService) IssueGrant(ctx context.Context, in GrantInput) (string, error) {
	var grantID string
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		id, err := s.IssueGrantTx(ctx, tx, in)
		grantID = id
		return err
	})
	if err != nil {
		return "", err
	}
	return grantID, nil
}

// IssueGrantTx inserts a grant. No balance check is made. A daily-free grant
// colliding with one already issued that UTC day returns repository.ErrDuplicate.
func (s *QuotaService) IssueGrantTx(ctx context.Context, tx repository.Store, in GrantInput) (string, error) {
	if in.UserID == "" {
		return "", fmt.Errorf("user id is required")
	}
	if !in.Type.Valid() {
		return "", fmt.Errorf("unknown quota type %q", in.Type)
	}
	if in.Amount < 0 {
		return "", ErrInvalidAmount
	}
	issuedAt := in.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = s.now()
	}
	grant := &models.Quota{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		Type:      in.Type,
		Amount:    in.Amount,
		IssuedAt:  issuedAt.UTC(),
		ExpiresAt: in.ExpiresAt,
		CreatedAt: s.now(),
	}
	if err := tx.Quotas().Create(ctx, grant); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return "", err
		}
		return "", fmt.Errorf("create grant: %w", err)
	}
	s.log.Info("grant issued", "user_id", in.UserID, "quota_id", grant.ID, "type", in.Type, "amount", in.Amount)
	return grant.ID, nil
}

func (s *QuotaService) Grants(ctx context.Context, userID string) (GrantOverview, error) {
	grants, err := s.store.Quotas().ListByUser(ctx, userID)
	if err != nil {
		return GrantOverview{}, fmt.Errorf("list grants: %w", err)
	}
	now := s.now()
	overview := GrantOverview{Active: []GrantView{}, Expired: []GrantView{}}
	for _, g := range grants {
		view := GrantView{
			ID:        g.ID,
			Type:      g.Type,
			Amount:    g.Amount,
			Consumed:  g.Consumed,
			Available: g.Available(),
			IssuedAt:  g.IssuedAt,
			ExpiresAt: g.ExpiresAt,
		}
		if g.ActiveAt(now) {
			overview.Active = append(overview.Active, view)
		} else {
			overview.Expired = append(overview.Expired, view)
		}
	}
	return overview, nil
}

func (s *QuotaService) Transactions(ctx context.Context, userID string, limit int) ([]models.QuotaTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	txs, err := s.store.Quotas().ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}
