package ratelimit

import (
	"context"
	"sync"
	"time"
)

type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	windows map[string]*counter
}

type counter struct {
	start time.Time
	count int64
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*counter),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()
	start := windowStart(now, l.window)

	l.mu.Lock()
	c, ok := l.windows[key]
	if !ok || !c.start.Equal(start) {
		c = &counter{start: start}
		l.windows[key] = c
	}
	c.count++
	count := c.count
	l.mu.Unlock()

	return decide(count, l.limit, now, start, l.window), nil
}

// Sweep drops counters of windows that have already closed.
func (l *MemoryLimiter) Sweep() int {
	start := windowStart(l.now(), l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, c := range l.windows {
		if c.start.Before(start) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Run sweeps closed windows once per window length until ctx is done.
func (l *MemoryLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
