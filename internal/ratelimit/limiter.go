package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a per-user sliding window limiter.
type Limiter struct {
	mu       sync.Mutex
	history  map[int][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

// New allows limit actions per user within interval. A non-positive limit disables limiting.
func New(limit int, interval time.Duration) *Limiter {
	return &Limiter{
		history:  make(map[int][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow records an attempt by userID and reports whether it fits the window.
func (rl *Limiter) Allow(userID int) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[userID]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[userID] = fresh
		return false
	}

	rl.history[userID] = append(fresh, now)
	return true
}

// Sweep drops users with no attempt inside the window.
func (rl *Limiter) Sweep() {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	windowStart := rl.now().Add(-rl.interval)
	for uid, attempts := range rl.history {
		if len(attempts) == 0 || !attempts[len(attempts)-1].After(windowStart) {
			delete(rl.history, uid)
		}
	}
}
