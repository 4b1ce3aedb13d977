// Package registry resolves device UIDs reported in telemetry to
// registered devices. Lookups go through an optional Redis read-through
// cache; the source of truth is the storage layer. Devices are enrolled
// out-of-band, so a UID that does not resolve stays unresolved here and
// the caller decides what that means for the reading.
package registry

import (
	"context"
	"fmt"
	"time"

	"telemetry-gateway/internal/common/errors"
	"telemetry-gateway/internal/common/logging"
	"telemetry-gateway/internal/redis"
	"telemetry-gateway/internal/storage"
)

const defaultCacheTTL = 5 * time.Minute

type Registry struct {
	store    storage.Storage
	cache    *redis.Client
	cacheTTL time.Duration
	logger   logging.Logger
}

type Option func(*Registry)

// WithCache enables the Redis read-through cache. A nil client leaves
// caching off.
func WithCache(client *redis.Client) Option {
	return func(r *Registry) {
		r.cache = client
	}
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.cacheTTL = ttl
		}
	}
}

func New(store storage.Storage, logger logging.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		cacheTTL: defaultCacheTTL,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func cacheKey(uid string) string {
	return fmt.Sprintf("device:%s", uid)
}

// Find returns the device registered under uid, consulting the cache
// first. Cache failures degrade to a storage lookup.
func (r *Registry) Find(ctx context.Context, uid string) (*storage.Device, error) {
	if uid == "" {
		return nil, errors.ValidationError("device uid is required")
	}

	if r.cache != nil {
		var device storage.Device
		err := r.cache.GetJSON(ctx, cacheKey(uid), &device)
		if err == nil {
			return &device, nil
		}
		if !redis.IsNotFound(err) {
			r.logger.Warn("device cache read failed", logging.String("uid", uid), logging.Err(err))
		}
	}

	device, err := r.store.GetDevice(uid)
	if err != nil {
		return nil, err
	}

	r.fillCache(ctx, device)
	return device, nil
}

// Register enrolls a device and primes the cache. Exposed for
// provisioning tooling rather than the ingest path.
func (r *Registry) Register(ctx context.Context, device *storage.Device) error {
	if err := r.store.CreateDevice(device); err != nil {
		return err
	}
	r.fillCache(ctx, device)
	return nil
}

// Invalidate drops the cached entry for uid after a device update.
func (r *Registry) Invalidate(ctx context.Context, uid string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, cacheKey(uid)); err != nil {
		r.logger.Warn("device cache invalidation failed", logging.String("uid", uid), logging.Err(err))
	}
}

func (r *Registry) fillCache(ctx context.Context, device *storage.Device) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(device.UID), device, r.cacheTTL); err != nil {
		r.logger.Warn("device cache write failed", logging.String("uid", device.UID), logging.Err(err))
	}
}
