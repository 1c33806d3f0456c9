package relay

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// frameOverhead covers the envelope around the text.
const frameOverhead = 1024

const (
	developmentOrigin = "http://localhost:3000"
	productionOrigin  = "https://your-production-domain.com"
)

// Config holds the relay server settings.
type Config struct {
	Environment    string
	Host           string
	Port           int
	AllowedOrigins []string
	RequireUserID  bool

	PingInterval time.Duration
	PingTimeout  time.Duration
	WriteTimeout time.Duration

	SendQueueSize int
	MaxTextLength int
	// MaxFrameBytes caps an inbound frame. A larger frame closes the
	// connection with 1009 Message Too Big. See FrameLimit.
	MaxFrameBytes int64

	// RateLimit is messages per second per session; zero disables limiting.
	RateLimit int
	RateBurst int

	// RedisAddr switches rate limiting to a shared Redis sliding window.
	RedisAddr string
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		Environment:    "development",
		Port:           3001,
		AllowedOrigins: []string{developmentOrigin},
		RequireUserID:  true,
		PingInterval:   25 * time.Second,
		PingTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		SendQueueSize:  64,
		MaxTextLength:  2000,
		MaxFrameBytes:  16 * 1024,
		RateLimit:      10,
		RateBurst:      20,
	}
}

// LoadConfig reads the configuration from environment variables.
func LoadConfig() Config {
	cfg := DefaultConfig()

	cfg.Environment = getEnv("APP_ENV", getEnv("NODE_ENV", cfg.Environment))
	cfg.Host = getEnv("RELAY_HOST", cfg.Host)
	cfg.Port = getEnvInt("SOCKET_PORT", getEnvInt("PORT", cfg.Port))
	cfg.AllowedOrigins = defaultOrigins(cfg.Environment)
	if origins := getEnv("RELAY_ALLOWED_ORIGINS", ""); origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}
	cfg.RequireUserID = getEnvBool("RELAY_REQUIRE_USER_ID", cfg.RequireUserID)

	cfg.PingInterval = getEnvDuration("RELAY_PING_INTERVAL", cfg.PingInterval)
	cfg.PingTimeout = getEnvDuration("RELAY_PING_TIMEOUT", cfg.PingTimeout)
	cfg.WriteTimeout = getEnvDuration("RELAY_WRITE_TIMEOUT", cfg.WriteTimeout)

	cfg.SendQueueSize = getEnvInt("RELAY_SEND_QUEUE", cfg.SendQueueSize)
	cfg.MaxTextLength = getEnvInt("RELAY_MAX_TEXT_LENGTH", cfg.MaxTextLength)
	cfg.MaxFrameBytes = int64(getEnvInt("RELAY_MAX_FRAME_BYTES", int(cfg.MaxFrameBytes)))

	cfg.RateLimit = getEnvInt("RELAY_RATE_LIMIT", cfg.RateLimit)
	cfg.RateBurst = getEnvInt("RELAY_RATE_BURST", cfg.RateBurst)
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")

	return cfg
}

// Validate reports configuration values the relay cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Port))
	}
	if len(c.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("at least one allowed origin is required"))
	}
	if c.PingInterval <= 0 || c.PingTimeout <= 0 || c.WriteTimeout <= 0 {
		errs = append(errs, errors.New("ping interval, ping timeout and write timeout must be positive"))
	}
	if c.SendQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("send queue size must be positive: %d", c.SendQueueSize))
	}
	if c.MaxTextLength <= 0 {
		errs = append(errs, fmt.Errorf("max text length must be positive: %d", c.MaxTextLength))
	}
	if c.MaxFrameBytes <= 0 {
		errs = append(errs, fmt.Errorf("max frame bytes must be positive: %d", c.MaxFrameBytes))
	}
	if c.RateLimit < 0 || (c.RateLimit > 0 && c.RateBurst <= 0) {
		errs = append(errs, fmt.Errorf("invalid rate limit %d/s with burst %d", c.RateLimit, c.RateBurst))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FrameLimit returns the effective inbound frame cap. It never drops below
// what a maximal message needs with every byte JSON-escaped as \uXXXX, so an
// overlong text gets an error frame instead of a closed connection.
func (c Config) FrameLimit() int64 {
	floor := int64(6*c.MaxTextLength + frameOverhead)
	if c.MaxFrameBytes < floor {
		return floor
	}
	return c.MaxFrameBytes
}

// ReadTimeout is how long a connection may stay silent before it is dropped.
func (c Config) ReadTimeout() time.Duration {
	return c.PingInterval + c.PingTimeout
}

func defaultOrigins(env string) []string {
	if strings.EqualFold(env, "production") {
		return []string{productionOrigin}
	}
	return []string{developmentOrigin}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns environment variable value or default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns environment variable as int or default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		log.Printf("Warning: invalid int value for %s: %s, using default: %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
		log.Printf("Warning: invalid bool value for %s: %s, using default: %t", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Warning: invalid duration for %s: %s, using default: %s", key, value, defaultValue)
	}
	return defaultValue
}
