package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"DATABASE_URL", "JWT_SECRET", "HOUSE_ACCOUNT_ID", "REDIS_URL", "PORT", "TICK_RATE", "MAP_RADIUS", "ENV_NAME", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestLoadFailsWithoutRequiredVars(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://x")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("HOUSE_ACCOUNT_ID", "house-1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 30, cfg.TickRate)
	assert.Equal(t, 1000.0, cfg.MapRadius)
	assert.Equal(t, "", cfg.RedisURL)
}

func TestLoadHonorsOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://x")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("HOUSE_ACCOUNT_ID", "house-1")
	t.Setenv("PORT", "9090")
	t.Setenv("TICK_RATE", "60")
	t.Setenv("MAP_RADIUS", "2500.5")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 60, cfg.TickRate)
	assert.Equal(t, 2500.5, cfg.MapRadius)
	assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
}

func TestLoadRejectsInvalidTickRate(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://x")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("HOUSE_ACCOUNT_ID", "house-1")
	t.Setenv("TICK_RATE", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}
