package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/activitysync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func ownership(deviceID uuid.UUID) *models.DeviceOwnership {
	return &models.DeviceOwnership{DeviceID: deviceID, OwnerID: uuid.New(), Active: true}
}

func TestMemoryCache_SetGet(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	deviceID := uuid.New()
	want := ownership(deviceID)

	require.NoError(t, c.Set(ctx, deviceID, want, time.Minute))

	got, err := c.Get(ctx, deviceID)
	require.NoError(t, err)
	assert.Equal(t, *want, *got)
}

func TestMemoryCache_Miss(t *testing.T) {
	c := NewMemoryCache()

	_, err := c.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrMiss)
}

// TestMemoryCache_LazyExpiry tests that an expired entry is evicted on read
func TestMemoryCache_LazyExpiry(t *testing.T) {
	clock := newFakeClock()
	c := NewMemoryCache(WithClock(clock.Now))
	ctx := context.Background()
	deviceID := uuid.New()

	require.NoError(t, c.Set(ctx, deviceID, ownership(deviceID), time.Minute))

	clock.Advance(59 * time.Second)
	_, err := c.Get(ctx, deviceID)
	require.NoError(t, err, "Entry should still be live before its TTL")

	clock.Advance(time.Second)
	_, err = c.Get(ctx, deviceID)
	assert.ErrorIs(t, err, ErrMiss, "Entry should expire exactly at its TTL")
	assert.Equal(t, 0, c.Len(), "Expired entry should be evicted on read")
}

func TestMemoryCache_DefaultTTL(t *testing.T) {
	clock := newFakeClock()
	c := NewMemoryCache(WithClock(clock.Now))
	ctx := context.Background()
	deviceID := uuid.New()

	require.NoError(t, c.Set(ctx, deviceID, ownership(deviceID), 0))

	clock.Advance(DefaultTTL - time.Second)
	_, err := c.Get(ctx, deviceID)
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = c.Get(ctx, deviceID)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryCache_InvalidateAndClear(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, c.Set(ctx, a, ownership(a), time.Minute))
	require.NoError(t, c.Set(ctx, b, ownership(b), time.Minute))

	require.NoError(t, c.Invalidate(ctx, a))
	_, err := c.Get(ctx, a)
	assert.ErrorIs(t, err, ErrMiss)
	_, err = c.Get(ctx, b)
	assert.NoError(t, err)

	require.NoError(t, c.Invalidate(ctx, uuid.New()), "Invalidating an absent key is a no-op")

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_Sweep(t *testing.T) {
	clock := newFakeClock()
	c := NewMemoryCache(WithClock(clock.Now))
	ctx := context.Background()
	short, long := uuid.New(), uuid.New()

	require.NoError(t, c.Set(ctx, short, ownership(short), time.Minute))
	require.NoError(t, c.Set(ctx, long, ownership(long), time.Hour))

	clock.Advance(2 * time.Minute)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
	_, err := c.Get(ctx, long)
	assert.NoError(t, err)
}

func TestMemoryCache_RunStopsOnCancel(t *testing.T) {
	c := NewMemoryCache()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.Run(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	ids := make([]uuid.UUID, 16)
	for i := range ids {
		ids[i] = uuid.New()
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				id := ids[(worker+j)%len(ids)]
				switch j % 3 {
				case 0:
					c.Set(ctx, id, ownership(id), time.Minute)
				case 1:
					c.Get(ctx, id)
				case 2:
					c.Invalidate(ctx, id)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), len(ids))
}
