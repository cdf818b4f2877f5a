package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"APP_ENV", "SESSION_TTL", "STREAM_HEARTBEAT", "COOKIE_SECURE", "REDIS_ADDR", "REDIS_HOST", "REDIS_PORT"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, 7*24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 25*time.Second, cfg.StreamHeartbeat)
	assert.True(t, cfg.CookieSecure)
	assert.False(t, cfg.StreamTrustQueryUser)
	assert.False(t, cfg.DemoEndpoints)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "task.events", cfg.EventsQueue)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SESSION_TTL", "1h")
	t.Setenv("COOKIE_SECURE", "off")
	t.Setenv("DEMO_ENDPOINTS", "yes")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_ADDR", "ignored:1")
	t.Setenv("RABBITMQ_URL", "")
	t.Setenv("AMQP_URL", "amqp://broker/")

	cfg := Load()

	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.False(t, cfg.CookieSecure)
	assert.True(t, cfg.DemoEndpoints)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, "amqp://broker/", cfg.RabbitURL)
}

func TestEnvHelpers_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("X_INT", "nope")
	t.Setenv("X_DUR", "soon")
	t.Setenv("X_BOOL", "maybe")

	assert.Equal(t, 3, envInt("X_INT", 3))
	assert.Equal(t, time.Minute, envDur("X_DUR", time.Minute))
	assert.True(t, envBool("X_BOOL", true))
}

func TestRateLimitConfig_Normalized(t *testing.T) {
	c := RateLimitConfig{Capacity: 0, RefillTokens: -1, RefillInterval: 0, TTL: time.Second}.normalized()

	assert.Equal(t, 1, c.Capacity)
	assert.Equal(t, 1, c.RefillTokens)
	assert.Equal(t, time.Second, c.RefillInterval)
	assert.Equal(t, 5*time.Second, c.TTL)
}
