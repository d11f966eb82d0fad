package signal

import (
	"sync"
	"time"

	"github.com/dkeye/Telecall/internal/core"
)

// WriteRateLimiter bounds store writes per client over a sliding window.
type WriteRateLimiter struct {
	mu       sync.Mutex
	history  map[core.SessionID][]time.Time
	limit    int
	interval time.Duration
}

func NewWriteRateLimiter(limit int, interval time.Duration) *WriteRateLimiter {
	return &WriteRateLimiter{
		history:  make(map[core.SessionID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *WriteRateLimiter) Allow(sid core.SessionID) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[sid]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[sid] = fresh
		return false
	}

	rl.history[sid] = append(fresh, now)
	return true
}

func (rl *WriteRateLimiter) Forget(sid core.SessionID) {
	rl.mu.Lock()
	delete(rl.history, sid)
	rl.mu.Unlock()
}
