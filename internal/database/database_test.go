package database

import (
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDSN(t *testing.T) {
	out, err := NormalizeDSN("app:secret@tcp(db:3306)/credits")
	require.NoError(t, err)

	cfg, err := mysql.ParseDSN(out)
	require.NoError(t, err)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, "UTC", cfg.Loc.String())
	assert.Equal(t, "credits", cfg.DBName)
	assert.Equal(t, "'+00:00'", cfg.Params["time_zone"])
}

func TestNormalizeDSNKeepsExplicitTimeZone(t *testing.T) {
	out, err := NormalizeDSN("app:secret@tcp(db:3306)/credits?time_zone=%27%2B03%3A00%27")
	require.NoError(t, err)

	cfg, err := mysql.ParseDSN(out)
	require.NoError(t, err)
	assert.Equal(t, "'+03:00'", cfg.Params["time_zone"])
}

func TestNormalizeDSNRejectsGarbage(t *testing.T) {
	_, err := NormalizeDSN("not a dsn")
	assert.Error(t, err)
}

func TestSchemaCoversLedgerTables(t *testing.T) {
	joined := strings.Join(schema, "\n")
	for _, table := range []string{"quota", "quota_transaction", "quota_transaction_allocation", "media_generation_task", "subscription", "`transaction`"} {
		assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
	assert.Contains(t, joined, "UNIQUE KEY uniq_quota_daily (user_id, daily_key)")
	assert.Contains(t, joined, "UNIQUE KEY uniq_quota_transaction_related (related_transaction_id)")
	assert.Contains(t, joined, "UNIQUE KEY uniq_transaction_provider (provider, provider_transaction_id)")
}
