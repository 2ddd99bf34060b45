package server

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig

	// TypingTimeout expires typing indicators nobody stopped. Zero disables it.
	TypingTimeout          time.Duration
	RequireAuth            bool
	SuppressIdleTypingStop bool

	// JWTSecret enables token verification on /ws when set.
	JWTSecret       string
	ShutdownTimeout time.Duration
}

const (
	defaultPort            = ":3001"
	defaultMaxMessageSize  = 4096
	defaultBurst           = 20
	defaultRefillInterval  = time.Second
	defaultTypingTimeout   = 10 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

func defaultConfig() Config {
	return Config{
		Port:           defaultPort,
		AllowedOrigins: []string{"*"},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: defaultRefillInterval,
		},
		TypingTimeout:   defaultTypingTimeout,
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

// sanitize replaces unusable values with defaults and returns the result.
func (cfg Config) sanitize() Config {
	cfg.Port = normalizePort(cfg.Port)

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}
	if cfg.TypingTimeout < 0 {
		cfg.TypingTimeout = 0
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// normalizePort accepts both "3001" and ":3001".
func normalizePort(port string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		return defaultPort
	}
	if _, err := strconv.Atoi(port); err == nil {
		return ":" + port
	}
	return port
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Unset or invalid variables keep their default values.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := firstEnv("PORT", "SERVER_PORT"); port != "" {
		cfg.Port = normalizePort(port)
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval, false)
	}

	if typing := os.Getenv("TYPING_TIMEOUT"); typing != "" {
		cfg.TypingTimeout = parseSeconds(typing, cfg.TypingTimeout, true)
	}

	if v := os.Getenv("REQUIRE_AUTH"); v != "" {
		cfg.RequireAuth = parseBool(v, cfg.RequireAuth)
	}

	if v := os.Getenv("SUPPRESS_IDLE_TYPING_STOP"); v != "" {
		cfg.SuppressIdleTypingStop = parseBool(v, cfg.SuppressIdleTypingStop)
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")

	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseSeconds(timeout, cfg.ShutdownTimeout, false)
	}

	return &cfg
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseSeconds reads a whole number of seconds. Zero is accepted only when
// allowZero is set.
func parseSeconds(value string, defaultValue time.Duration, allowZero bool) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds < 0 || (seconds == 0 && !allowZero) {
		return defaultValue
	}
	return time.Duration(seconds) * time.Second
}

func parseBool(value string, defaultValue bool) bool {
	if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
		return parsed
	}
	return defaultValue
}
