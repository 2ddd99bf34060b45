package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":3001", cfg.Port)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.EqualValues(t, 4096, cfg.MaxMessageSize)
	assert.Equal(t, RateLimitConfig{Burst: 20, RefillInterval: time.Second}, cfg.RateLimit)
	assert.Equal(t, 10*time.Second, cfg.TypingTimeout)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.RequireAuth)
	assert.False(t, cfg.SuppressIdleTypingStop)
	assert.Empty(t, cfg.JWTSecret)
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MAX_MESSAGE_SIZE", "1024")
	t.Setenv("RATE_LIMIT_BURST", "7")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "3")
	t.Setenv("TYPING_TIMEOUT", "0")
	t.Setenv("REQUIRE_AUTH", "true")
	t.Setenv("SUPPRESS_IDLE_TYPING_STOP", "1")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("SHUTDOWN_TIMEOUT", "30")

	cfg := NewConfigFromEnv()

	assert.Equal(t, ":8081", cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.EqualValues(t, 1024, cfg.MaxMessageSize)
	assert.Equal(t, RateLimitConfig{Burst: 7, RefillInterval: 3 * time.Second}, cfg.RateLimit)
	assert.Zero(t, cfg.TypingTimeout, "zero disables typing expiry")
	assert.True(t, cfg.RequireAuth)
	assert.True(t, cfg.SuppressIdleTypingStop)
	assert.Equal(t, "secret", cfg.JWTSecret)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestNewConfigFromEnvFallsBack(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("SERVER_PORT", ":9000")
	t.Setenv("MAX_MESSAGE_SIZE", "-1")
	t.Setenv("RATE_LIMIT_BURST", "lots")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "0")
	t.Setenv("TYPING_TIMEOUT", "soon")
	t.Setenv("REQUIRE_AUTH", "maybe")
	t.Setenv("SHUTDOWN_TIMEOUT", "-5")

	cfg := NewConfigFromEnv()
	def := NewConfig()

	assert.Equal(t, ":9000", cfg.Port)
	assert.Equal(t, def.MaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, def.RateLimit, cfg.RateLimit)
	assert.Equal(t, def.TypingTimeout, cfg.TypingTimeout)
	assert.False(t, cfg.RequireAuth)
	assert.Equal(t, def.ShutdownTimeout, cfg.ShutdownTimeout)
}

func TestConfigSanitize(t *testing.T) {
	cfg := Config{
		Port:          "4000",
		TypingTimeout: -time.Second,
	}.sanitize()

	assert.Equal(t, ":4000", cfg.Port)
	assert.EqualValues(t, defaultMaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, defaultBurst, cfg.RateLimit.Burst)
	assert.Equal(t, defaultRefillInterval, cfg.RateLimit.RefillInterval)
	assert.Zero(t, cfg.TypingTimeout)
	assert.Equal(t, defaultShutdownTimeout, cfg.ShutdownTimeout)
}

func TestNormalizePort(t *testing.T) {
	assert.Equal(t, ":3001", normalizePort(""))
	assert.Equal(t, ":80", normalizePort("80"))
	assert.Equal(t, ":80", normalizePort(":80"))
	assert.Equal(t, "127.0.0.1:80", normalizePort("127.0.0.1:80"))
}
