// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Service identity
	ServiceName  string // this service's name, stamped on outgoing sync requests
	EntityDomain string // discriminator: only entities of this domain are materialized

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Ledger settings
	LowBalanceThreshold string // one-shot alert fires when balance drops below this

	// Sync protocol
	SyncTimeout    time.Duration // how long a caller may wait on a sync response
	SyncRequestTTL time.Duration // pending request lifetime before it is retired

	// Subscription expiry sweep
	SweepInterval time.Duration

	// Revocation guard
	RevocationURL    string // authority endpoint; empty disables the remote check
	RevocationPolicy string // "closed" (reject on authority failure) or "open"
	JWTSecret        string // HMAC secret for local token validation

	// Outbound event relay
	WebhookSecret string
	RelayTargets  []string // peer webhook endpoints, comma-separated in env

	// Rate limiting
	RateLimitRPM int

	// Observability
	OTLPEndpoint string
}

const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultServiceName   = "bizsync"
	DefaultEntityDomain  = "business"
	DefaultLowBalance    = "10.00"
	DefaultSyncTimeout   = 15 * time.Second
	DefaultSweepInterval = 1 * time.Hour
	DefaultRateLimit     = 100
	DefaultPolicy        = "closed"
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		ServiceName:         getEnv("SERVICE_NAME", DefaultServiceName),
		EntityDomain:        getEnv("ENTITY_DOMAIN", DefaultEntityDomain),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		LowBalanceThreshold: getEnv("LOW_BALANCE_THRESHOLD", DefaultLowBalance),
		SyncTimeout:         getEnvDuration("SYNC_TIMEOUT", DefaultSyncTimeout),
		SyncRequestTTL:      getEnvDuration("SYNC_REQUEST_TTL", 2*DefaultSyncTimeout),
		SweepInterval:       getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		RevocationURL:       os.Getenv("REVOCATION_URL"),
		RevocationPolicy:    getEnv("REVOCATION_POLICY", DefaultPolicy),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		WebhookSecret:       os.Getenv("WEBHOOK_SECRET"),
		RelayTargets:        splitList(os.Getenv("RELAY_TARGETS")),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", int64(DefaultRateLimit))),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.RevocationPolicy != "open" && c.RevocationPolicy != "closed" {
		return fmt.Errorf("REVOCATION_POLICY must be \"open\" or \"closed\", got %q", c.RevocationPolicy)
	}

	if _, err := strconv.ParseFloat(c.LowBalanceThreshold, 64); err != nil {
		return fmt.Errorf("LOW_BALANCE_THRESHOLD must be a decimal amount: %w", err)
	}

	if c.SyncTimeout <= 0 {
		return fmt.Errorf("SYNC_TIMEOUT must be positive")
	}

	return nil
}

// FailClosed reports whether the revocation guard rejects requests when
// the authority cannot be reached.
func (c *Config) FailClosed() bool {
	return c.RevocationPolicy == "closed"
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
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

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
