package resilience

import (
	"errors"
	"sync"
	"time"

	"pricewatch/internal/config"
)

// ErrRateLimitExceeded indicates the fixed window is exhausted; callers must
// retry in a later window.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Limiter is a fixed-window request counter. State is owned by the instance
// and guarded by a mutex so independent engines never share a window.
type Limiter struct {
	mu          sync.Mutex
	window      time.Duration
	maxRequests int
	windowStart time.Time
	count       int
	now         func() time.Time
}

// NewLimiter constructs a Limiter from config.
func NewLimiter(cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		window:      cfg.Window,
		maxRequests: cfg.MaxRequests,
		now:         time.Now,
	}
}

// Allow consumes one slot of the current window. It resets the counter once
// the window has elapsed, and fails with ErrRateLimitExceeded when the
// pre-increment count has already reached the maximum.
func (l *Limiter) Allow() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.windowStart) > l.window {
		l.count = 0
		l.windowStart = now
	}

	if l.count >= l.maxRequests {
		return ErrRateLimitExceeded
	}

	l.count++
	return nil
}
