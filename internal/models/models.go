package models

import "time"

// QuotaType tags the origin of a credit grant.
type QuotaType string

const (
	QuotaDailyFree                      QuotaType = "daily-free"
	QuotaMonthlyBasic                   QuotaType = "monthly-basic"
	QuotaMonthlyPro                     QuotaType = "monthly-pro"
	QuotaYearlyBasic                    QuotaType = "yearly-basic"
	QuotaYearlyPro                      QuotaType = "yearly-pro"
	QuotaPack                           QuotaType = "quota-pack"
	QuotaSubscriptionChangeCompensation QuotaType = "subscription-change-compensation"
)

// Valid reports whether t is one of the known grant types.
func (t QuotaType) Valid() bool {
	switch t {
	case QuotaDailyFree, QuotaMonthlyBasic, QuotaMonthlyPro, QuotaYearlyBasic, QuotaYearlyPro,
		QuotaPack, QuotaSubscriptionChangeCompensation:
		return true
	}
	return false
}

// IsPlan reports whether t names a subscription plan.
func (t QuotaType) IsPlan() bool {
	switch t {
	case QuotaMonthlyBasic, QuotaMonthlyPro, QuotaYearlyBasic, QuotaYearlyPro:
		return true
	}
	return false
}

// Quota is a credit grant. Balance is always derived from grants, never stored.
type Quota struct {
	ID        string
	UserID    string
	Type      QuotaType
	Amount    int
	Consumed  int
	IssuedAt  time.Time
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// Available returns the credits still drawable from the grant.
func (q Quota) Available() int {
	if q.Consumed >= q.Amount {
		return 0
	}
	return q.Amount - q.Consumed
}

// ActiveAt reports whether the grant has not expired at t.
func (q Quota) ActiveAt(t time.Time) bool {
	return q.ExpiresAt == nil || q.ExpiresAt.After(t)
}

type TransactionType string

const (
	TransactionConsume TransactionType = "consume"
	TransactionRefund  TransactionType = "refund"
)

// QuotaTransaction is an append-only ledger entry. BalanceBefore and
// BalanceAfter describe the referenced grant only.
type QuotaTransaction struct {
	ID                   string
	UserID               string
	QuotaID              string
	Type                 TransactionType
	Amount               int
	BalanceBefore        int
	BalanceAfter         int
	RelatedTransactionID *string
	Note                 string
	CreatedAt            time.Time
}

// QuotaAllocation records how much of a consume transaction was drawn from one grant.
type QuotaAllocation struct {
	TransactionID string
	QuotaID       string
	Position      int
	Amount        int
}

type UserType string

const (
	UserTypeFree UserType = "free"
	UserTypePaid UserType = "paid"
)

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionExpired  SubscriptionStatus = "expired"
	SubscriptionPending  SubscriptionStatus = "pending"
)

type Subscription struct {
	ID              string
	UserID          string
	PlanType        QuotaType
	NextPlanType    *QuotaType
	Status          SubscriptionStatus
	AmountPaid      int64
	Currency        string
	ExpiresAt       *time.Time
	NextBillingDate *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EntitledAt reports whether the subscription still grants paid access at t.
// A canceled subscription stays entitled until it runs out.
func (s Subscription) EntitledAt(t time.Time) bool {
	switch s.Status {
	case SubscriptionActive, SubscriptionCanceled:
	default:
		return false
	}
	return s.ExpiresAt == nil || s.ExpiresAt.After(t)
}

// Payment is a billing event applied to the ledger, stored in the `transaction` table.
type Payment struct {
	ID                    string
	UserID                string
	Provider              string
	ProviderTransactionID string
	EventType             string
	PlanType              string
	AmountCents           int64
	Currency              string
	Status                string
	RawPayload            string
	CreatedAt             time.Time
}
