// Package ratelimit provides best-effort fixed-window admission control that
// runs before the sync engine. It is approximate under concurrency and is
// never used to arbitrate event writes.
package ratelimit

import (
	"context"
	"time"
)

type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// windowStart truncates now to the start of its fixed window.
func windowStart(now time.Time, window time.Duration) time.Time {
	return now.Truncate(window)
}

func decide(count int64, limit int, now, start time.Time, window time.Duration) Decision {
	d := Decision{Limit: limit}
	if count <= int64(limit) {
		d.Allowed = true
		d.Remaining = limit - int(count)
		return d
	}
	d.RetryAfter = start.Add(window).Sub(now)
	if d.RetryAfter <= 0 {
		d.RetryAfter = time.Millisecond
	}
	return d
}
