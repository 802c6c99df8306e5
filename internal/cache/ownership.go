package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prudhvinik1/activitysync/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// loadTimeout bounds a shared store lookup, which outlives any single caller's context.
const loadTimeout = 5 * time.Second

// DeviceLoader is the source of truth consulted on a cache miss.
type DeviceLoader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Device, error)
}

// Resolver is a read-through view over an OwnershipCache. Cache failures
// degrade to a store lookup; store errors are returned unchanged.
type Resolver struct {
	cache   OwnershipCache
	devices DeviceLoader
	ttl     time.Duration
	logger  *logrus.Entry
	lookups *prometheus.CounterVec
	group   singleflight.Group

	// generations counts invalidations per device; a load that overlaps
	// one does not populate the cache.
	mu          sync.Mutex
	generations map[uuid.UUID]uint64
}

type ResolverOption func(*Resolver)

// WithLookupCounter counts lookups by result label: hit, miss or error.
func WithLookupCounter(counter *prometheus.CounterVec) ResolverOption {
	return func(r *Resolver) {
		r.lookups = counter
	}
}

func NewResolver(cache OwnershipCache, devices DeviceLoader, ttl time.Duration, logger *logrus.Entry, opts ...ResolverOption) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Resolver{
		cache:   cache,
		devices: devices,
		ttl:     ttl,
		logger:  logger,

		generations: make(map[uuid.UUID]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Resolve(ctx context.Context, deviceID uuid.UUID) (*models.DeviceOwnership, error) {
	ownership, err := r.cache.Get(ctx, deviceID)
	if err == nil {
		r.observe("hit")
		return ownership, nil
	}
	if !errors.Is(err, ErrMiss) {
		r.observe("error")
		r.logger.WithError(err).WithField("device_id", deviceID).Warn("ownership cache read failed, falling back to store")
	} else {
		r.observe("miss")
	}

	// Concurrent misses for the same device share one store lookup.
	v, err, _ := r.group.Do(deviceID.String(), func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		gen := r.generation(deviceID)
		device, err := r.devices.GetByID(loadCtx, deviceID)
		if err != nil {
			return nil, err
		}

		loaded := device.Ownership()
		r.populate(loadCtx, deviceID, &loaded, gen)
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}

	loaded := v.(models.DeviceOwnership)
	return &loaded, nil
}

// Invalidate drops the cached entry so the next Resolve reads the store.
func (r *Resolver) Invalidate(ctx context.Context, deviceID uuid.UUID) error {
	r.mu.Lock()
	r.generations[deviceID]++
	r.mu.Unlock()

	r.group.Forget(deviceID.String())
	return r.cache.Invalidate(ctx, deviceID)
}

func (r *Resolver) generation(deviceID uuid.UUID) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generations[deviceID]
}

// populate caches a loaded value unless the device was invalidated after gen
// was read. The check and the write happen under one lock so an Invalidate
// either precedes the skip or deletes the written entry.
func (r *Resolver) populate(ctx context.Context, deviceID uuid.UUID, ownership *models.DeviceOwnership, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.generations[deviceID] != gen {
		r.logger.WithField("device_id", deviceID).Debug("device invalidated during load, not caching")
		return
	}
	if err := r.cache.Set(ctx, deviceID, ownership, r.ttl); err != nil {
		r.logger.WithError(err).WithField("device_id", deviceID).Warn("failed to populate ownership cache")
	}
}

func (r *Resolver) observe(result string) {
	if r.lookups != nil {
		r.lookups.WithLabelValues(result).Inc()
	}
}
