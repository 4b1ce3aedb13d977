// Package config provides configuration management for the telemetry
// gateway. It loads configuration from environment variables with sensible
// defaults and validates it so the application starts safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - TLS_CERT / TLS_KEY: optional TLS certificate pair
//
// Fleet Secrets (shared out-of-band with field devices):
//   - AES_KEY: hex AES key, 16/24/32 bytes decoded (required)
//   - AES_IV: hex AES IV, exactly 16 bytes decoded (required)
//   - HMAC_KEY: HMAC key, hex or raw passphrase (required)
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite file path (default: ./telemetry_gateway.db)
//   - POSTGRES_HOST / POSTGRES_PORT / POSTGRES_DB / POSTGRES_USER /
//     POSTGRES_PASSWORD / POSTGRES_SSL_MODE: PostgreSQL settings
//
// Scorer (external recommendation service):
//   - SCORER_URL: base URL of the scorer (empty disables enrichment)
//   - SCORER_TIMEOUT: per-call timeout (default: 10s)
//   - ENRICHMENT_WORKERS: worker pool size (default: 4)
//   - ENRICHMENT_QUEUE_SIZE: bounded task queue length (default: 256)
//   - ENRICHMENT_MAX_RETRIES: in-task retries with backoff (default: 2)
//   - SWEEP_SCHEDULE: cron spec re-enqueueing unenriched records
//     (empty disables the sweep; it is off by default)
//
// Redis (optional registry cache and distributed rate limiting):
//   - REDIS_ADDRESS, REDIS_PASSWORD, REDIS_DB, REDIS_POOL_SIZE
//
// Security:
//   - JWT_SECRET: signing secret for the read API (required, >= 32 chars)
//   - SETTINGS_ENCRYPTION_KEY: passphrase for encrypting stored secrets
//
// Rate Limiting:
//   - RATE_LIMIT_ENABLED (default: true)
//   - RATE_LIMIT_DEFAULT: requests per window per device (default: 60)
//   - RATE_LIMIT_WINDOW: window duration (default: 60s)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the telemetry gateway. Load it
// with Load() and call Validate() before use.
type Config struct {
	// Application settings
	Port     string // Server port number
	LogLevel string // Logging level (debug, info, warn, error)
	TLSCert  string // Optional TLS certificate file
	TLSKey   string // Optional TLS key file

	// Fleet secrets (hex-encoded, decoded once at startup)
	AESKey  string // AES key shared with the device fleet
	AESIV   string // Static AES IV shared with the device fleet
	HMACKey string // HMAC key shared with the device fleet

	// Database configuration
	DatabaseType     string // "sqlite" or "postgres"
	DatabasePath     string // SQLite database file path
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Scorer / enrichment configuration
	ScorerURL            string        // Base URL of the external scorer
	ScorerTimeout        time.Duration // Per-call timeout
	EnrichmentWorkers    int           // Worker pool size
	EnrichmentQueueSize  int           // Bounded queue length
	EnrichmentMaxRetries int           // In-task retries with backoff
	SweepSchedule        string        // Cron spec for the reconciliation sweep

	// Redis configuration
	RedisAddress  string
	RedisPassword string
	RedisDB       string
	RedisPoolSize string

	// Rate limiting configuration
	RateLimitEnabled bool
	RateLimitDefault string
	RateLimitWindow  string

	// Security configuration
	JWTSecret             string // Secret for the read API tokens (required)
	SettingsEncryptionKey string // Passphrase for encrypting stored secrets
}

// Load creates a Config from environment variables, applying defaults for
// anything unset. Load does not validate; call Validate() afterwards.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		TLSCert:  getEnv("TLS_CERT", ""),
		TLSKey:   getEnv("TLS_KEY", ""),

		AESKey:  getEnv("AES_KEY", ""),
		AESIV:   getEnv("AES_IV", ""),
		HMACKey: getEnv("HMAC_KEY", ""),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./telemetry_gateway.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "telemetry_gateway"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		ScorerURL:            getEnv("SCORER_URL", ""),
		ScorerTimeout:        getDurationEnv("SCORER_TIMEOUT", 10*time.Second),
		EnrichmentWorkers:    getIntEnv("ENRICHMENT_WORKERS", 4),
		EnrichmentQueueSize:  getIntEnv("ENRICHMENT_QUEUE_SIZE", 256),
		EnrichmentMaxRetries: getIntEnv("ENRICHMENT_MAX_RETRIES", 2),
		SweepSchedule:        getEnv("SWEEP_SCHEDULE", ""),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		RateLimitEnabled: getBoolEnv("RATE_LIMIT_ENABLED", true),
		RateLimitDefault: getEnv("RATE_LIMIT_DEFAULT", "60"),
		RateLimitWindow:  getEnv("RATE_LIMIT_WINDOW", "60s"),

		JWTSecret:             getEnv("JWT_SECRET", ""),
		SettingsEncryptionKey: getEnv("SETTINGS_ENCRYPTION_KEY", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate checks required fields, field formats, and cross-field
// dependencies. Fleet secret contents are validated separately when the
// envelope.Secrets struct is built from them.
func (c *Config) Validate() error {
	if c.AESKey == "" {
		return fmt.Errorf("AES_KEY environment variable is required")
	}
	if c.AESIV == "" {
		return fmt.Errorf("AES_IV environment variable is required")
	}
	if c.HMACKey == "" {
		return fmt.Errorf("HMAC_KEY environment variable is required")
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long for security")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.DatabaseType {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	if c.DatabaseType == "postgres" || c.DatabaseType == "postgresql" {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	}

	if c.RedisAddress != "" {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	if c.RateLimitEnabled {
		if limit, err := strconv.Atoi(c.RateLimitDefault); err != nil || limit < 1 {
			return fmt.Errorf("RATE_LIMIT_DEFAULT must be a positive number")
		}
		if _, err := time.ParseDuration(c.RateLimitWindow); err != nil {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be a valid duration (e.g., '60s', '1m')")
		}
	}

	if c.ScorerTimeout <= 0 {
		return fmt.Errorf("SCORER_TIMEOUT must be positive")
	}
	if c.EnrichmentWorkers < 1 {
		return fmt.Errorf("ENRICHMENT_WORKERS must be at least 1")
	}
	if c.EnrichmentQueueSize < 1 {
		return fmt.Errorf("ENRICHMENT_QUEUE_SIZE must be at least 1")
	}
	if c.EnrichmentMaxRetries < 0 {
		return fmt.Errorf("ENRICHMENT_MAX_RETRIES cannot be negative")
	}

	return nil
}
