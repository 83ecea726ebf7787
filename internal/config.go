package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration. It is built once in main and
// passed explicitly into each component; nothing reads the environment
// after NewConfig returns.
type Config struct {
	Env       string
	LogLevel  string
	Port      uint16
	ClientURL string // base URL of the client app, used for checkout redirect defaults

	Stripe       StripeConfig
	Database     DatabaseConfig
	Notification NotificationConfig
	Redis        RedisConfig
	Sentry       SentryConfig
}

// SentryConfig enables error tracking when DSN is set.
type SentryConfig struct {
	DSN     string
	Release string
}

type StripeConfig struct {
	SecretKey     string // sk_test_... or sk_live_...
	WebhookSecret string // whsec_...

	// Price IDs per plan type. A plan with no configured price cannot be
	// purchased.
	MonthlyPriceID string
	YearlyPriceID  string

	// AllowUnverifiedWebhooks selects a webhook verifier that decodes
	// event bodies without a signature check. Development only; NewConfig
	// rejects it in prod.
	AllowUnverifiedWebhooks bool
}

// IsTestMode returns true if using test mode API keys.
func (c *StripeConfig) IsTestMode() bool {
	return strings.HasPrefix(c.SecretKey, "sk_test_")
}

// DatabaseConfig points at the internal user/subscription database service.
type DatabaseConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NotificationConfig points at the internal notification service.
type NotificationConfig struct {
	BaseURL string
	Timeout time.Duration
}

// RedisConfig enables the Redis-backed webhook dedup store when URL is set.
// With an empty URL events are deduplicated in process memory instead.
type RedisConfig struct {
	URL         string
	DedupWindow time.Duration
}

func NewConfig() (*Config, error) {
	// Try to load .env from current directory, then walk up to find it (max 2 levels)
	err := godotenv.Load()
	if err != nil {
		dir, _ := os.Getwd()
		found := false
		for i := 0; i < 2; i++ {
			dir = filepath.Join(dir, "..")
			if err := godotenv.Load(filepath.Join(dir, ".env")); err == nil {
				found = true
				break
			}
		}
		if !found {
			slog.Default().Warn("Warning: .env file not found, using environment variables and defaults")
		}
	}

	cfg := &Config{
		Env:       getEnv("ENV", "dev"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		Port:      getEnvInt("PORT", 4242),
		ClientURL: getEnv("CLIENT_URL", "http://localhost:3000"),
		Stripe: StripeConfig{
			SecretKey:               getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret:           getEnv("STRIPE_WEBHOOK_SECRET", ""),
			MonthlyPriceID:          getEnv("STRIPE_MONTHLY_PRICE_ID", ""),
			YearlyPriceID:           getEnv("STRIPE_YEARLY_PRICE_ID", ""),
			AllowUnverifiedWebhooks: getEnvBool("WEBHOOK_ALLOW_UNVERIFIED", false),
		},
		Database: DatabaseConfig{
			BaseURL: getEnv("DATABASE_SERVICE_URL", "http://localhost:8080"),
			Timeout: getEnvDuration("DATABASE_SERVICE_TIMEOUT", 15*time.Second),
		},
		Notification: NotificationConfig{
			BaseURL: getEnv("NOTIFICATION_SERVICE_URL", "http://localhost:8081"),
			Timeout: getEnvDuration("NOTIFICATION_SERVICE_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			URL:         getEnv("REDIS_URL", ""),
			DedupWindow: getEnvDuration("WEBHOOK_DEDUP_WINDOW", 24*time.Hour),
		},
		Sentry: SentryConfig{
			DSN:     getEnv("SENTRY_DSN", ""),
			Release: getEnv("SENTRY_RELEASE", ""),
		},
	}

	// Validate env
	validEnv := cfg.Env == "dev" || cfg.Env == "prod"
	if !validEnv {
		slog.Default().Warn("Invalid environment. Using default: prod", slog.String("env", cfg.Env))
		cfg.Env = "prod"
	}

	// Validate log level
	validLevel := cfg.LogLevel == "info" || cfg.LogLevel == "debug" || cfg.LogLevel == "warn" || cfg.LogLevel == "error"
	if !validLevel {
		slog.Default().Warn("Invalid log level. Using default: info", slog.String("value", cfg.LogLevel))
		cfg.LogLevel = "info"
	}

	if cfg.Env == "prod" {
		if cfg.Stripe.SecretKey == "" {
			return nil, fmt.Errorf("STRIPE_SECRET_KEY must be set in production environment")
		}
		if cfg.Stripe.WebhookSecret == "" {
			return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET must be set in production environment")
		}
		if cfg.Stripe.AllowUnverifiedWebhooks {
			return nil, fmt.Errorf("WEBHOOK_ALLOW_UNVERIFIED must not be enabled in production environment")
		}
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue uint16) uint16 {
	if value := os.Getenv(key); value != "" {
		var intValue uint16
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
