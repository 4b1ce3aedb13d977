package enrichment

import (
	"context"
	"sync"
	"time"

	"telemetry-gateway/internal/common/logging"
	"telemetry-gateway/internal/registry"
	"telemetry-gateway/internal/storage"
)

// Task asks the reconciler to score one stored reading. The reading
// must be interpreted; uninterpreted records have nothing to score.
type Task struct {
	Reading *storage.Reading
}

// ReconcilerConfig bounds the worker pool. Workers and QueueSize keep
// a scorer outage from accumulating goroutines; CallTimeout keeps one
// slow call from holding a worker slot.
type ReconcilerConfig struct {
	Workers     int
	QueueSize   int
	CallTimeout time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
}

func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Workers:     4,
		QueueSize:   256,
		CallTimeout: 10 * time.Second,
		MaxRetries:  2,
		RetryDelay:  2 * time.Second,
	}
}

// Reconciler runs the enrichment stage: a bounded pool of workers that
// score accepted readings and patch the recommendation back. Failures
// are logged and swallowed; the ingest path never learns about them.
type Reconciler struct {
	scorer   *Scorer
	store    storage.Storage
	registry *registry.Registry
	config   ReconcilerConfig
	logger   logging.Logger

	queue  chan Task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewReconciler(scorer *Scorer, store storage.Storage, reg *registry.Registry, config ReconcilerConfig, logger logging.Logger) *Reconciler {
	if config.Workers <= 0 {
		config.Workers = DefaultReconcilerConfig().Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultReconcilerConfig().QueueSize
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultReconcilerConfig().CallTimeout
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultReconcilerConfig().RetryDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		scorer:   scorer,
		store:    store,
		registry: reg,
		config:   config,
		logger:   logger,
		queue:    make(chan Task, config.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (r *Reconciler) Start() {
	r.startOnce.Do(func() {
		for i := 0; i < r.config.Workers; i++ {
			r.wg.Add(1)
			go r.worker()
		}
		r.logger.Info("enrichment reconciler started",
			logging.Int("workers", r.config.Workers),
			logging.Int("queue_size", r.config.QueueSize),
		)
	})
}

// Stop cancels the pool and returns once all workers exit. The queue
// stays open so an Enqueue racing Stop can never panic; tasks still
// waiting are abandoned for the sweep to pick up later.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		r.cancel()
		r.wg.Wait()
		r.logger.Info("enrichment reconciler stopped")
	})
}

// Enqueue hands a reading to the pool without blocking. A full queue
// drops the task; the record stays stored and the sweep can pick it up
// later.
func (r *Reconciler) Enqueue(reading *storage.Reading) bool {
	if reading == nil || !reading.Interpreted() {
		return false
	}
	if r.ctx.Err() != nil {
		return false
	}

	select {
	case r.queue <- Task{Reading: reading}:
		return true
	default:
		r.logger.Warn("enrichment queue full, dropping task",
			logging.String("reading_id", reading.ID),
		)
		return false
	}
}

// QueueDepth reports how many tasks are waiting.
func (r *Reconciler) QueueDepth() int {
	return len(r.queue)
}

func (r *Reconciler) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case task := <-r.queue:
			r.process(task)
		}
	}
}

func (r *Reconciler) process(task Task) {
	reading := task.Reading

	gender := ""
	if device, err := r.registry.Find(r.ctx, *reading.DeviceUID); err == nil {
		gender = device.Gender
	} else {
		r.logger.Warn("device lookup failed during enrichment",
			logging.String("reading_id", reading.ID),
			logging.Err(err),
		)
	}

	req := ScoreRequest{
		ID:     reading.ID,
		Age:    *reading.Age,
		Height: *reading.Height,
		Gender: gender,
		Status: *reading.Status,
	}

	recommendation, err := r.scoreWithRetry(req)
	if err != nil {
		r.logger.Warn("enrichment failed, leaving record without recommendation",
			logging.String("reading_id", reading.ID),
			logging.Err(err),
		)
		return
	}
	if recommendation == "" {
		r.logger.Debug("scorer returned no recommendation",
			logging.String("reading_id", reading.ID),
		)
		return
	}

	if err := r.store.UpdateRecommendation(reading.ID, recommendation); err != nil {
		r.logger.Error("failed to patch recommendation", err,
			logging.String("reading_id", reading.ID),
		)
		return
	}

	r.logger.Info("recommendation reconciled",
		logging.String("reading_id", reading.ID),
	)
}

func (r *Reconciler) scoreWithRetry(req ScoreRequest) (string, error) {
	var lastErr error
	attempts := r.config.MaxRetries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := r.config.RetryDelay * time.Duration(attempt)
			select {
			case <-r.ctx.Done():
				return "", r.ctx.Err()
			case <-time.After(delay):
			}
		}

		ctx, cancel := context.WithTimeout(r.ctx, r.config.CallTimeout)
		recommendation, err := r.scorer.Score(ctx, req)
		cancel()
		if err == nil {
			return recommendation, nil
		}
		lastErr = err
	}

	return "", lastErr
}
