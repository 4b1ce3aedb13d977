package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := Load()
	cfg.AESKey = "000102030405060708090a0b0c0d0e0f"
	cfg.AESIV = "101112131415161718191a1b1c1d1e1f"
	cfg.HMACKey = "202122232425262728292a2b2c2d2e2f"
	cfg.JWTSecret = "0123456789abcdef0123456789abcdef"
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.DatabaseType != "sqlite" {
		t.Errorf("DatabaseType = %q, want sqlite", cfg.DatabaseType)
	}
	if cfg.ScorerTimeout != 10*time.Second {
		t.Errorf("ScorerTimeout = %v, want 10s", cfg.ScorerTimeout)
	}
	if cfg.EnrichmentWorkers != 4 {
		t.Errorf("EnrichmentWorkers = %d, want 4", cfg.EnrichmentWorkers)
	}
	if cfg.SweepSchedule != "" {
		t.Errorf("SweepSchedule = %q, want empty (sweep off by default)", cfg.SweepSchedule)
	}
	if !cfg.RateLimitEnabled {
		t.Error("RateLimitEnabled = false, want true")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("SCORER_TIMEOUT", "3s")
	t.Setenv("ENRICHMENT_WORKERS", "8")
	t.Setenv("RATE_LIMIT_ENABLED", "false")

	cfg := Load()
	if cfg.Port != "9999" {
		t.Errorf("Port = %q, want 9999", cfg.Port)
	}
	if cfg.ScorerTimeout != 3*time.Second {
		t.Errorf("ScorerTimeout = %v, want 3s", cfg.ScorerTimeout)
	}
	if cfg.EnrichmentWorkers != 8 {
		t.Errorf("EnrichmentWorkers = %d, want 8", cfg.EnrichmentWorkers)
	}
	if cfg.RateLimitEnabled {
		t.Error("RateLimitEnabled = true, want false")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing AES key", func(c *Config) { c.AESKey = "" }, true},
		{"missing AES IV", func(c *Config) { c.AESIV = "" }, true},
		{"missing HMAC key", func(c *Config) { c.HMACKey = "" }, true},
		{"missing JWT secret", func(c *Config) { c.JWTSecret = "" }, true},
		{"short JWT secret", func(c *Config) { c.JWTSecret = "short" }, true},
		{"bad port", func(c *Config) { c.Port = "not-a-port" }, true},
		{"port out of range", func(c *Config) { c.Port = "70000" }, true},
		{"bad database type", func(c *Config) { c.DatabaseType = "mongodb" }, true},
		{"postgres without host", func(c *Config) {
			c.DatabaseType = "postgres"
			c.PostgresHost = ""
		}, true},
		{"postgres valid", func(c *Config) { c.DatabaseType = "postgres" }, false},
		{"bad redis db", func(c *Config) {
			c.RedisAddress = "localhost:6379"
			c.RedisDB = "99"
		}, true},
		{"bad rate limit window", func(c *Config) { c.RateLimitWindow = "soon" }, true},
		{"rate limit disabled skips window check", func(c *Config) {
			c.RateLimitEnabled = false
			c.RateLimitWindow = "soon"
		}, false},
		{"zero scorer timeout", func(c *Config) { c.ScorerTimeout = 0 }, true},
		{"zero workers", func(c *Config) { c.EnrichmentWorkers = 0 }, true},
		{"negative retries", func(c *Config) { c.EnrichmentMaxRetries = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
