// Package config loads the process-wide settings once at startup.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const bytesPerMB = 1024 * 1024

// Config is built once by Load and never mutated afterwards.
type Config struct {
	OpenAIAPIKey         string
	OpenAIBaseURL        string
	Host                 string
	Port                 string
	MaxFileSizeMB        int
	CORSOrigins          []string
	TrustedProxies       []string
	RateLimit            RateLimit
	RedisAddr            string
	ModerationModel      string
	VisionModel          string
	DescriptionMaxTokens int
	RequestTimeout       time.Duration
	ShutdownTimeout      time.Duration
	LogLevel             string
}

// RateLimit is a request quota per client over a fixed period.
type RateLimit struct {
	Requests int
	Period   time.Duration
	// Unit is the period's name as written in the configuration ("minute").
	Unit string
}

// String renders the quota the way it is reported to throttled clients.
func (r RateLimit) String() string {
	return fmt.Sprintf("%d per 1 %s", r.Requests, r.Unit)
}

// MaxFileSizeBytes converts the configured megabyte ceiling into bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMB) * bytesPerMB
}

// ServerAddress is the listen address for the HTTP server.
func (c *Config) ServerAddress() string {
	return net.JoinHostPort(strings.TrimSpace(c.Host), strings.TrimSpace(c.Port))
}

// AllowAllOrigins reports whether no explicit CORS origin list was configured.
func (c *Config) AllowAllOrigins() bool {
	return len(c.CORSOrigins) == 0
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	// A missing .env is the normal case in containers.
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv builds a Config from environment variables only.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		OpenAIAPIKey:    strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:   strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		Host:            getEnvOrDefault("HOST", "0.0.0.0"),
		Port:            getEnvOrDefault("PORT", "8080"),
		CORSOrigins:     splitList(os.Getenv("CORS_ORIGINS")),
		TrustedProxies:  splitList(os.Getenv("TRUSTED_PROXIES")),
		RedisAddr:       strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		ModerationModel: getEnvOrDefault("MODERATION_MODEL", "omni-moderation-latest"),
		VisionModel:     getEnvOrDefault("VISION_MODEL", "gpt-4o"),
		RequestTimeout:  parseDurationOrDefault("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout: parseDurationOrDefault("SHUTDOWN_TIMEOUT", 15*time.Second),
		LogLevel:        getEnvOrDefault("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.MaxFileSizeMB, err = parseIntOrDefault("MAX_FILE_SIZE_MB", 25); err != nil {
		return nil, err
	}
	if cfg.DescriptionMaxTokens, err = parseIntOrDefault("DESCRIPTION_MAX_TOKENS", 300); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = ParseRateLimit(getEnvOrDefault("RATE_LIMIT", "10/minute")); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.OpenAIAPIKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxFileSizeMB <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE_MB must be > 0 (got %d)", c.MaxFileSizeMB)
	}
	if c.DescriptionMaxTokens <= 0 {
		return fmt.Errorf("DESCRIPTION_MAX_TOKENS must be > 0 (got %d)", c.DescriptionMaxTokens)
	}
	if c.RequestTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, shutdown=%s)", c.RequestTimeout, c.ShutdownTimeout)
	}
	return nil
}

var rateUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
}

// ParseRateLimit parses quotas such as "10/minute" or "100 per hour".
func ParseRateLimit(value string) (RateLimit, error) {
	raw := strings.ToLower(strings.TrimSpace(value))
	count, unit, ok := strings.Cut(raw, "/")
	if !ok {
		count, unit, ok = strings.Cut(raw, " per ")
	}
	if !ok {
		return RateLimit{}, fmt.Errorf("invalid RATE_LIMIT %q: expected <count>/<unit>", value)
	}

	n, err := strconv.Atoi(strings.TrimSpace(count))
	if err != nil || n <= 0 {
		return RateLimit{}, fmt.Errorf("invalid RATE_LIMIT %q: count must be a positive integer", value)
	}

	unit = strings.TrimSuffix(strings.TrimSpace(unit), "s")
	period, ok := rateUnits[unit]
	if !ok {
		return RateLimit{}, fmt.Errorf("invalid RATE_LIMIT %q: unknown unit %q", value, unit)
	}
	return RateLimit{Requests: n, Period: period, Unit: unit}, nil
}

func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func getEnvOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationOrDefault(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func parseIntOrDefault(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, value)
	}
	return n, nil
}
