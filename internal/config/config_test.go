package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appointment-sync/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":50051", cfg.GRPCAddr)
	assert.Equal(t, 15*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 3*time.Minute, cfg.WebhookTolerance)
	assert.Equal(t, config.NotifyLocal, cfg.NotifyBackend)
	assert.False(t, cfg.WebhookAllowUnsigned)
	assert.Equal(t, 10, cfg.RateLimitBurst)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", "127.0.0.1:9090")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("WEBHOOK_ALLOW_UNSIGNED", "true")
	t.Setenv("WEBHOOK_TOLERANCE", "0s")
	t.Setenv("PROVIDER_RPS", "2.5")
	t.Setenv("NOTIFY_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("SWEEP_SCHEDULE", "*/15 * * * *")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.HTTPAddr)
	assert.NoError(t, cfg.RequireSecret())
	assert.True(t, cfg.WebhookAllowUnsigned)
	assert.Zero(t, cfg.WebhookTolerance)
	assert.Equal(t, 2.5, cfg.ProviderRPS)
	assert.Equal(t, config.NotifyRedis, cfg.NotifyBackend)
	assert.Equal(t, "*/15 * * * *", cfg.SweepSchedule)
}

func TestLoadValidation(t *testing.T) {
	t.Setenv("NOTIFY_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")
	_, err := config.Load()
	assert.Error(t, err)

	t.Setenv("NOTIFY_BACKEND", "carrier-pigeon")
	_, err = config.Load()
	assert.Error(t, err)
}

func TestRequireSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Error(t, cfg.RequireSecret())
}
