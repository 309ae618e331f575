package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQuotaAvailable(t *testing.T) {
	assert.Equal(t, 7, Quota{Amount: 10, Consumed: 3}.Available())
	assert.Equal(t, 0, Quota{Amount: 5, Consumed: 5}.Available())
	assert.Equal(t, 0, Quota{Amount: 5, Consumed: 9}.Available())
}

func TestQuotaActiveAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	assert.True(t, Quota{}.ActiveAt(now))
	assert.True(t, Quota{ExpiresAt: &future}.ActiveAt(now))
	assert.False(t, Quota{ExpiresAt: &past}.ActiveAt(now))
	assert.False(t, Quota{ExpiresAt: &now}.ActiveAt(now))
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to TaskStatus
		want     bool
	}{
		{TaskPending, TaskProcessing, true},
		{TaskPending, TaskCompleted, true},
		{TaskPending, TaskFailed, true},
		{TaskProcessing, TaskProcessing, true},
		{TaskProcessing, TaskCompleted, true},
		{TaskProcessing, TaskFailed, true},
		{TaskPending, TaskPending, false},
		{TaskProcessing, TaskPending, false},
		{TaskCompleted, TaskProcessing, false},
		{TaskCompleted, TaskFailed, false},
		{TaskCompleted, TaskCompleted, false},
		{TaskFailed, TaskCompleted, false},
		{TaskFailed, TaskProcessing, false},
		{TaskPending, TaskStatus("bogus"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestParseTaskStatus(t *testing.T) {
	st, ok := ParseTaskStatus(" Completed ")
	assert.True(t, ok)
	assert.Equal(t, TaskCompleted, st)

	_, ok = ParseTaskStatus("success")
	assert.False(t, ok)
}

func TestSubscriptionEntitledAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	later := now.AddDate(0, 1, 0)
	earlier := now.AddDate(0, -1, 0)

	assert.True(t, Subscription{Status: SubscriptionActive, ExpiresAt: &later}.EntitledAt(now))
	assert.True(t, Subscription{Status: SubscriptionCanceled, ExpiresAt: &later}.EntitledAt(now))
	assert.False(t, Subscription{Status: SubscriptionActive, ExpiresAt: &earlier}.EntitledAt(now))
	assert.False(t, Subscription{Status: SubscriptionExpired, ExpiresAt: &later}.EntitledAt(now))
	assert.False(t, Subscription{Status: SubscriptionPending}.EntitledAt(now))
}

func TestQuotaTypeIsPlan(t *testing.T) {
	assert.True(t, QuotaMonthlyPro.IsPlan())
	assert.False(t, QuotaPack.IsPlan())
	assert.False(t, QuotaType("lifetime").Valid())
}
