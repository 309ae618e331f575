package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/imagecredits/internal/models"
)

func TestCheckAndIssueOncePerUTCDay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	env.daily.now = func() time.Time { return day1 }
	env.quotas.now = func() time.Time { return day1 }

	issued, err := env.daily.CheckAndIssue(ctx, "u1", models.UserTypeFree)
	require.NoError(t, err)
	assert.True(t, issued)

	env.daily.now = func() time.Time { return day1.Add(13 * time.Hour) }
	issued, err = env.daily.CheckAndIssue(ctx, "u1", models.UserTypeFree)
	require.NoError(t, err)
	assert.False(t, issued)

	day2 := time.Date(2026, 3, 2, 0, 0, 1, 0, time.UTC)
	env.daily.now = func() time.Time { return day2 }
	issued, err = env.daily.CheckAndIssue(ctx, "u1", models.UserTypeFree)
	require.NoError(t, err)
	assert.True(t, issued)

	grants, err := env.store.Quotas().ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, grants, 2)
	for _, g := range grants {
		assert.Equal(t, models.QuotaDailyFree, g.Type)
		assert.Equal(t, 30, g.Amount)
		require.NotNil(t, g.ExpiresAt)
	}
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), *grants[0].ExpiresAt)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), *grants[1].ExpiresAt)
}

func TestCheckAndIssueSkipsPaidUsers(t *testing.T) {
	env := newTestEnv(t)
	issued, err := env.daily.CheckAndIssue(context.Background(), "u1", models.UserTypePaid)
	require.NoError(t, err)
	assert.False(t, issued)
	assert.Equal(t, 0, env.balance(t, "u1"))
}

func TestCheckAndIssueConcurrentCallsIssueOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			issued, err := env.daily.CheckAndIssue(ctx, "u1", models.UserTypeFree)
			assert.NoError(t, err)
			results <- issued
		}()
	}
	wg.Wait()
	close(results)

	count := 0
	for issued := range results {
		if issued {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, 30, env.balance(t, "u1"))
}

func TestDayWindow(t *testing.T) {
	start, end := dayWindow(time.Date(2026, 12, 31, 23, 59, 59, 0, time.FixedZone("UTC+3", 3*3600)))
	assert.Equal(t, time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), end)
}
