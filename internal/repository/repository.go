package repository

import (
	"context"
	"errors"
	"time"

	"github.com/digkill/imagecredits/internal/models"
)

// ErrDuplicate is returned when an insert hits a unique constraint.
var ErrDuplicate = errors.New("duplicate record")

// Store is the transactional boundary over the ledger tables. Repositories
// obtained from the tx passed to WithinTx share that transaction; row locks
// taken through them are held until fn returns.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
	Quotas() Quotas
	Tasks() Tasks
	Subscriptions() Subscriptions
	Payments() Payments
}

// Quotas persists grants, ledger entries and their per-grant allocations.
// Lookups return nil, nil when the row does not exist.
type Quotas interface {
	Create(ctx context.Context, q *models.Quota) error
	ListByUser(ctx context.Context, userID string) ([]models.Quota, error)
	AvailableBalance(ctx context.Context, userID string, now time.Time) (int, error)
	// LockSpendable returns the active grants with credits left, oldest issued first.
	LockSpendable(ctx context.Context, userID string, now time.Time) ([]models.Quota, error)
	LockByID(ctx context.Context, id string) (*models.Quota, error)
	SetConsumed(ctx context.Context, id string, consumed int) error
	HasIssuedBetween(ctx context.Context, userID string, typ models.QuotaType, start, end time.Time) (bool, error)

	CreateTransaction(ctx context.Context, entry *models.QuotaTransaction, allocations []models.QuotaAllocation) error
	LockTransaction(ctx context.Context, id string) (*models.QuotaTransaction, error)
	FindRefundFor(ctx context.Context, consumeID string) (*models.QuotaTransaction, error)
	ListAllocations(ctx context.Context, transactionID string) ([]models.QuotaAllocation, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]models.QuotaTransaction, error)
}

// Tasks persists generation tasks. Soft-deleted tasks are hidden from every
// lookup except LockForUpdate, so late webhooks still settle their credits.
type Tasks interface {
	Create(ctx context.Context, task *models.GenerationTask) error
	GetByID(ctx context.Context, id string) (*models.GenerationTask, error)
	GetByShareID(ctx context.Context, shareID string) (*models.GenerationTask, error)
	LockForUpdate(ctx context.Context, id, provider string) (*models.GenerationTask, error)
	SetProviderRequestID(ctx context.Context, id, requestID string) error
	Update(ctx context.Context, task *models.GenerationTask) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.GenerationTask, error)
	SoftDelete(ctx context.Context, id, userID string, at time.Time) (bool, error)
}

type Subscriptions interface {
	GetByUserID(ctx context.Context, userID string) (*models.Subscription, error)
	LockByUserID(ctx context.Context, userID string) (*models.Subscription, error)
	Upsert(ctx context.Context, sub *models.Subscription) error
}

type Payments interface {
	Create(ctx context.Context, p *models.Payment) error
	GetByProviderTransaction(ctx context.Context, provider, providerTransactionID string) (*models.Payment, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Payment, error)
}

// DailyKey is the UTC calendar day a daily-free grant belongs to. Other grant
// types have no key, so the (user_id, daily_key) unique index ignores them.
func DailyKey(q *models.Quota) *string {
	if q.Type != models.QuotaDailyFree {
		return nil
	}
	key := q.IssuedAt.UTC().Format(time.DateOnly)
	return &key
}
