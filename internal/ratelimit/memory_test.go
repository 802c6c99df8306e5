package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(limit int, window time.Duration, now *time.Time) *MemoryLimiter {
	l := NewMemoryLimiter(limit, window)
	l.now = func() time.Time { return *now }
	return l
}

func TestMemoryLimiter_AdmitsUpToLimit(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 10, 0, time.UTC)
	l := newTestLimiter(3, time.Minute, &now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "device-a")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := l.Allow(ctx, "device-a")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 50*time.Second, d.RetryAfter, "Retry after should point at the next window")
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLimiter(1, time.Minute, &now)
	ctx := context.Background()

	d, _ := l.Allow(ctx, "device-a")
	assert.True(t, d.Allowed)
	d, _ = l.Allow(ctx, "device-b")
	assert.True(t, d.Allowed)
	d, _ = l.Allow(ctx, "device-a")
	assert.False(t, d.Allowed)
}

func TestMemoryLimiter_WindowResets(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLimiter(1, time.Minute, &now)
	ctx := context.Background()

	d, _ := l.Allow(ctx, "device-a")
	require.True(t, d.Allowed)
	d, _ = l.Allow(ctx, "device-a")
	require.False(t, d.Allowed)

	now = now.Add(time.Minute)
	d, _ = l.Allow(ctx, "device-a")
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLimiter(5, time.Minute, &now)
	ctx := context.Background()

	l.Allow(ctx, "device-a")
	l.Allow(ctx, "device-b")
	assert.Equal(t, 0, l.Sweep(), "Open windows are kept")

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 2, l.Sweep())
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	l := NewMemoryLimiter(50, time.Hour)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Allow(ctx, "device-a")
			if err == nil && d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}
