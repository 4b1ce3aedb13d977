// Package app wires the telemetry gateway together: configuration,
// storage, the ingestion pipeline, the enrichment reconciler, and the
// HTTP surface. Components are initialized in dependency order and torn
// down in reverse.
package app

import (
	"context"
	"strconv"
	"time"

	"telemetry-gateway/internal/auth"
	"telemetry-gateway/internal/circuitbreaker"
	"telemetry-gateway/internal/common/logging"
	"telemetry-gateway/internal/config"
	"telemetry-gateway/internal/crypto"
	"telemetry-gateway/internal/enrichment"
	"telemetry-gateway/internal/envelope"
	"telemetry-gateway/internal/pipeline"
	"telemetry-gateway/internal/redis"
	"telemetry-gateway/internal/registry"
	"telemetry-gateway/internal/scheduler"
	"telemetry-gateway/internal/storage"

	_ "telemetry-gateway/internal/storage/postgres"
	_ "telemetry-gateway/internal/storage/sqlite"
)

// App holds all the application dependencies.
type App struct {
	Config      *config.Config
	Secrets     *envelope.Secrets
	Storage     storage.Storage
	RedisClient *redis.Client
	Registry    *registry.Registry
	Encryptor   *crypto.SettingsEncryptor
	Scorer      *enrichment.Scorer
	Reconciler  *enrichment.Reconciler
	Pipeline    *pipeline.Pipeline
	Reader      *pipeline.Reader
	Auth        *auth.Auth
	Sweeper     *scheduler.Sweeper
	Logger      logging.Logger
}

// New creates a new application instance with all dependencies.
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	secrets, err := envelope.NewSecrets(cfg.AESKey, cfg.AESIV, cfg.HMACKey)
	if err != nil {
		return nil, err
	}
	app.Secrets = secrets

	store, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, err
	}
	app.Storage = store

	if err := app.initializeRedis(); err != nil {
		// Redis is optional, just log the error
		app.Logger.Warn("Redis initialization failed, continuing without Redis",
			logging.Field{Key: "error", Value: err.Error()})
	}

	registryOpts := []registry.Option{}
	if app.RedisClient != nil {
		registryOpts = append(registryOpts, registry.WithCache(app.RedisClient))
	}
	app.Registry = registry.New(store, app.Logger, registryOpts...)

	if err := app.initializeEncryption(); err != nil {
		// Encryption is optional
		app.Logger.Warn("Settings encryption initialization failed",
			logging.Field{Key: "error", Value: err.Error()})
	}

	if err := app.initializeEnrichment(); err != nil {
		return nil, err
	}

	var enqueuer pipeline.Enqueuer
	if app.Reconciler != nil {
		enqueuer = app.Reconciler
	}
	app.Pipeline = pipeline.New(secrets, store, app.Registry, enqueuer, app.Logger)
	app.Reader = pipeline.NewReader(secrets, store, app.Logger)

	authService, err := auth.New(store, cfg)
	if err != nil {
		return nil, err
	}
	app.Auth = authService

	if err := app.initializeSweeper(); err != nil {
		return nil, err
	}

	return app, nil
}

func (app *App) initializeRedis() error {
	if app.Config.RedisAddress == "" {
		return nil
	}

	db, _ := strconv.Atoi(app.Config.RedisDB)
	poolSize, _ := strconv.Atoi(app.Config.RedisPoolSize)

	client, err := redis.NewClient(&redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       db,
		PoolSize: poolSize,
	})
	if err != nil {
		return err
	}

	app.RedisClient = client
	app.Logger.Info("Redis connected", logging.Field{Key: "address", Value: app.Config.RedisAddress})
	return nil
}

func (app *App) initializeEncryption() error {
	if app.Config.SettingsEncryptionKey == "" {
		return nil
	}

	encryptor, err := crypto.NewSettingsEncryptor(app.Config.SettingsEncryptionKey)
	if err != nil {
		return err
	}
	app.Encryptor = encryptor
	return nil
}

// initializeEnrichment builds the scorer client and its worker pool.
// An empty SCORER_URL disables enrichment entirely; ingestion still
// acknowledges submissions, they just never receive a recommendation.
func (app *App) initializeEnrichment() error {
	if app.Config.ScorerURL == "" {
		app.Logger.Info("Scorer URL not configured, enrichment disabled")
		return nil
	}

	breaker := circuitbreaker.NewGoBreaker("scorer", circuitbreaker.ScorerConfig, app.Logger)

	scorer, err := enrichment.NewScorer(app.Config.ScorerURL, app.Config.ScorerTimeout, breaker)
	if err != nil {
		return err
	}
	app.loadScorerCredential(scorer)
	app.Scorer = scorer

	rcfg := enrichment.DefaultReconcilerConfig()
	rcfg.Workers = app.Config.EnrichmentWorkers
	rcfg.QueueSize = app.Config.EnrichmentQueueSize
	rcfg.CallTimeout = app.Config.ScorerTimeout
	rcfg.MaxRetries = app.Config.EnrichmentMaxRetries

	app.Reconciler = enrichment.NewReconciler(scorer, app.Storage, app.Registry, rcfg, app.Logger)
	app.Reconciler.Start()
	return nil
}

// loadScorerCredential reads the scorer API key from stored settings,
// decrypting it when an encryptor is configured. A missing key is fine;
// the scorer then calls without credentials.
func (app *App) loadScorerCredential(scorer *enrichment.Scorer) {
	value, err := app.Storage.GetSetting("scorer_api_key")
	if err != nil || value == "" {
		return
	}

	if app.Encryptor != nil {
		decrypted, err := app.Encryptor.Decrypt(value)
		if err != nil {
			app.Logger.Warn("Failed to decrypt scorer API key, calling without credentials",
				logging.Field{Key: "error", Value: err.Error()})
			return
		}
		value = decrypted
	}
	scorer.SetAPIKey(value)
}

func (app *App) initializeSweeper() error {
	if app.Config.SweepSchedule == "" || app.Reconciler == nil {
		return nil
	}

	sweeper, err := scheduler.NewSweeper(app.Config.SweepSchedule, app.Storage, app.Reconciler, app.RedisClient, app.Logger)
	if err != nil {
		return err
	}
	app.Sweeper = sweeper
	sweeper.Start()
	app.Logger.Info("Enrichment sweep scheduled", logging.Field{Key: "schedule", Value: app.Config.SweepSchedule})
	return nil
}

// Shutdown stops background work so in-flight enrichment can finish
// before Cleanup closes the underlying connections.
func (app *App) Shutdown(ctx context.Context) error {
	if app.Sweeper != nil {
		app.Sweeper.Stop()
	}
	if app.Reconciler != nil {
		done := make(chan struct{})
		go func() {
			app.Reconciler.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			app.Logger.Warn("Reconciler did not drain before shutdown deadline")
		}
	}
	return nil
}

// Cleanup releases all resources.
func (app *App) Cleanup() {
	if app.Storage != nil {
		app.Storage.Close()
	}
	if app.RedisClient != nil {
		app.RedisClient.Close()
	}
}

// ShutdownTimeout bounds graceful shutdown of the server and workers.
const ShutdownTimeout = 30 * time.Second
