package postgres

import (
	"fmt"
	"strconv"

	"telemetry-gateway/internal/storage"
)

type Factory struct{}

func (f *Factory) GetType() string {
	return "postgres"
}

func (f *Factory) Create(config storage.StorageConfig) (storage.Storage, error) {
	switch cfg := config.(type) {
	case *Config:
		return NewAdapter(cfg)
	case storage.GenericConfig:
		pgConfig, err := configFromGeneric(cfg)
		if err != nil {
			return nil, err
		}
		return NewAdapter(pgConfig)
	default:
		return nil, fmt.Errorf("invalid config type for PostgreSQL storage: %T", config)
	}
}

func configFromGeneric(cfg storage.GenericConfig) (*Config, error) {
	port := 5432
	if raw := cfg.GetString("port"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid postgres port %q: %w", raw, err)
		}
		port = parsed
	}

	return &Config{
		Host:     cfg.GetString("host"),
		Port:     port,
		Database: cfg.GetString("database"),
		Username: cfg.GetString("username"),
		Password: cfg.GetString("password"),
		SSLMode:  cfg.GetString("sslmode"),
	}, nil
}

func init() {
	storage.Register("postgres", &Factory{})
	storage.Register("postgresql", &Factory{})
}
