package billing

import (
	"sync"
	"time"
)

// RateLimiter is a fixed-window counter keyed by sales point. The
// authority throttles registration traffic, so the service refuses to
// hammer it from a misbehaving client.
type RateLimiter struct {
	mu     sync.Mutex
	perKey map[string]*windowState
	limit  int
	window time.Duration
}

type windowState struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter allows limit calls per window per key. A limit of zero
// disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		return &RateLimiter{limit: 0}
	}
	return &RateLimiter{
		perKey: map[string]*windowState{},
		limit:  limit,
		window: window,
	}
}

// Allow reports whether a call for key may proceed now; when it may
// not, the second value says how long until the window resets.
func (r *RateLimiter) Allow(key string) (bool, time.Duration) {
	if r == nil || r.limit == 0 {
		return true, 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	state, ok := r.perKey[key]
	if !ok {
		state = &windowState{windowStart: now}
		r.perKey[key] = state
	}
	if now.Sub(state.windowStart) >= r.window {
		state.windowStart = now
		state.count = 0
	}
	if state.count >= r.limit {
		return false, state.windowStart.Add(r.window).Sub(now)
	}
	state.count++
	return true, 0
}
