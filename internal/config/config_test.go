package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithoutAConfigFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	require.Len(t, cfg.Store.Addresses, 1)
	assert.Equal(t, "127.0.0.1:6379", cfg.Store.Addresses[0])
	assert.Equal(t, 50, cfg.Store.PoolSize)
	assert.Equal(t, 2*time.Second, cfg.Lane.IntakeDeadline)
	assert.Equal(t, 500, cfg.Synchroniser.BatchSize)
	assert.True(t, cfg.HealthChecks.FailFast)
	assert.Equal(t, 5, cfg.HealthChecks.MaxRetries)
	require.Len(t, cfg.Pairs, 1)
	assert.Equal(t, "BTCUSDT", cfg.Pairs[0].Symbol)
}

func TestRelationalConfigDSN(t *testing.T) {
	rc := RelationalConfig{
		Host: "db.internal", Port: 5432, User: "matchcore", Password: "secret",
		Database: "matchcore", SSLMode: "disable",
	}
	want := "host=db.internal port=5432 user=matchcore password=secret dbname=matchcore sslmode=disable"
	assert.Equal(t, want, rc.DSN())
}
