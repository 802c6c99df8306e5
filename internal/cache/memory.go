package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/activitysync/internal/models"
)

// MemoryCache is a process-local OwnershipCache. Expired entries are evicted
// lazily on Get and periodically by Run.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*entry
	now   func() time.Time
}

type entry struct {
	value     models.DeviceOwnership
	expiresAt time.Time
}

type MemoryOption func(*MemoryCache)

// WithClock overrides the time source, mostly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) {
		c.now = now
	}
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		items: make(map[uuid.UUID]*entry),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MemoryCache) Get(_ context.Context, deviceID uuid.UUID) (*models.DeviceOwnership, error) {
	c.mu.RLock()
	item, exists := c.items[deviceID]
	c.mu.RUnlock()

	if !exists {
		return nil, ErrMiss
	}

	if !c.now().Before(item.expiresAt) {
		c.mu.Lock()
		// Only evict the entry we saw; a concurrent Set may have replaced it.
		if current, ok := c.items[deviceID]; ok && current == item {
			delete(c.items, deviceID)
		}
		c.mu.Unlock()
		return nil, ErrMiss
	}

	value := item.value
	return &value, nil
}

func (c *MemoryCache) Set(_ context.Context, deviceID uuid.UUID, ownership *models.DeviceOwnership, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[deviceID] = &entry{
		value:     *ownership,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, deviceID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, deviceID)
	return nil
}

func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[uuid.UUID]*entry)
	return nil
}

// Len returns the number of entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

// Sweep removes every expired entry and returns how many were removed.
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, item := range c.items {
		if !now.Before(item.expiresAt) {
			delete(c.items, id)
			removed++
		}
	}
	return removed
}

// Run sweeps expired entries every interval until ctx is done.
func (c *MemoryCache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
