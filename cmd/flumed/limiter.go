package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flumechat/flume"
)

// quotaLimiter enforces a per-user daily turn quota in memory. Counts reset
// at midnight UTC and do not survive a restart — acceptable for a limiter
// whose job is protecting the upstream bill, not billing.
type quotaLimiter struct {
	limit int

	mu     sync.Mutex
	day    string // YYYY-MM-DD of the counts
	counts map[string]int

	now func() time.Time // injectable for tests
}

func newQuotaLimiter(limit int) *quotaLimiter {
	return &quotaLimiter{
		limit:  limit,
		counts: make(map[string]int),
		now:    time.Now,
	}
}

// Check implements flume.RateLimiter.
func (l *quotaLimiter) Check(_ context.Context, id flume.Identity) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := l.now().UTC().Format(time.DateOnly)
	if today != l.day {
		l.day = today
		l.counts = make(map[string]int)
	}

	used := l.counts[id.ID]
	if used >= l.limit {
		return 0, fmt.Errorf("daily quota of %d turns exhausted: %w", l.limit, flume.ErrRateLimited)
	}
	l.counts[id.ID] = used + 1
	return l.limit - used - 1, nil
}
