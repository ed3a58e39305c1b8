package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"APP_ENV", "TIMEZONE", "DAILY_TOKEN_TTL", "MEETING_TOKEN_TTL", "QUEUE_BACKEND", "STORE_BACKEND", "METRICS_PORT"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "Asia/Kolkata", cfg.Timezone)
	assert.Equal(t, 30*time.Second, cfg.DailyTokenTTL)
	assert.Equal(t, 10*time.Minute, cfg.MeetingTokenTTL)
	assert.Equal(t, "redis", cfg.QueueBackend)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.Equal(t, "9091", cfg.MetricsPort)
	assert.False(t, cfg.Production())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("DAILY_TOKEN_TTL", "45s")
	t.Setenv("MEETING_TOKEN_TTL", "600s")
	t.Setenv("MIGRATE_ON_START", "false")
	t.Setenv("QR_SIZE", "512")

	cfg := Load()
	assert.True(t, cfg.Production())
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, 45*time.Second, cfg.DailyTokenTTL)
	assert.Equal(t, 10*time.Minute, cfg.MeetingTokenTTL)
	assert.False(t, cfg.MigrateOnStart)
	assert.Equal(t, 512, cfg.QRSize)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("DAILY_TOKEN_TTL", "soon")
	t.Setenv("MEETING_TOKEN_TTL", "-1m")
	t.Setenv("RATE_LIMIT_PER_MIN", "lots")
	t.Setenv("MIGRATE_ON_START", "maybe")

	cfg := Load()
	assert.Equal(t, 30*time.Second, cfg.DailyTokenTTL)
	assert.Equal(t, 10*time.Minute, cfg.MeetingTokenTTL)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
	assert.True(t, cfg.MigrateOnStart)
}
