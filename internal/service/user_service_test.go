package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/imagecredits/internal/models"
)

func TestOverviewIssuesDailyGrantOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.users.Overview(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, &AccountOverview{UserID: "u1", UserType: models.UserTypeFree, Balance: 30, DailyIssued: true}, first)

	second, err := env.users.Overview(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, second.DailyIssued)
	assert.Equal(t, 30, second.Balance)
}

func TestOverviewPaidUserGetsNoDailyGrant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.billing.ApplyEvent(ctx, subscriptionPaid("evt-1", "u1", models.QuotaMonthlyBasic, time.Now().UTC().AddDate(0, 1, 0)))
	require.NoError(t, err)

	overview, err := env.users.Overview(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.UserTypePaid, overview.UserType)
	assert.False(t, overview.DailyIssued)
	assert.Equal(t, 600, overview.Balance)
}
