// Package scheduler runs the enrichment sweep: a periodic scan for
// recent readings that never received a recommendation, re-queued onto
// the reconciler. Off by default; the per-ingest enrichment task is not
// retried once its in-task attempts are spent unless the sweep is
// enabled.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"telemetry-gateway/internal/common/logging"
	"telemetry-gateway/internal/pipeline"
	"telemetry-gateway/internal/redis"
	"telemetry-gateway/internal/storage"
)

const (
	// sweepWindow bounds how far back a sweep looks. Older records
	// without a recommendation stay as they are.
	sweepWindow = 24 * time.Hour
	sweepBatch  = 100
	lockKey     = "enrichment-sweep"
	lockTTL     = time.Minute
)

type Sweeper struct {
	store      storage.Storage
	reconciler pipeline.Enqueuer
	redis      *redis.Client
	logger     logging.Logger
	cron       *cron.Cron
}

// NewSweeper builds a sweeper on the given cron schedule spec. The
// Redis client is optional; when present it serializes sweeps across
// replicas.
func NewSweeper(schedule string, store storage.Storage, reconciler pipeline.Enqueuer, redisClient *redis.Client, logger logging.Logger) (*Sweeper, error) {
	s := &Sweeper{
		store:      store,
		reconciler: reconciler,
		redis:      redisClient,
		logger:     logger,
		cron:       cron.New(),
	}

	if _, err := s.cron.AddFunc(schedule, s.Sweep); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("enrichment sweep scheduled")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("enrichment sweep stopped")
}

// Sweep re-enqueues recent unenriched readings. Exported so operators
// can trigger one off-schedule.
func (s *Sweeper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), lockTTL)
	defer cancel()

	if s.redis != nil {
		acquired, err := s.redis.AcquireLock(ctx, lockKey, lockTTL)
		if err != nil {
			s.logger.Warn("sweep lock unavailable, skipping", logging.Err(err))
			return
		}
		if !acquired {
			s.logger.Debug("sweep already running on another replica")
			return
		}
		defer s.redis.ReleaseLock(ctx, lockKey)
	}

	since := time.Now().UTC().Add(-sweepWindow)
	readings, err := s.store.ListUnenriched(since, sweepBatch)
	if err != nil {
		s.logger.Error("sweep failed to list unenriched readings", err)
		return
	}

	enqueued := 0
	for _, reading := range readings {
		if s.reconciler.Enqueue(reading) {
			enqueued++
		}
	}

	if len(readings) > 0 {
		s.logger.Info("enrichment sweep completed",
			logging.Int("candidates", len(readings)),
			logging.Int("enqueued", enqueued),
		)
	}
}
