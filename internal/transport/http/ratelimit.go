package http

import (
	"sync"
	"time"
)

// windowLimiter admits up to limit requests per fixed window.
type windowLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	started time.Time
	used    int
}

func newWindowLimiter(limit int, window time.Duration) *windowLimiter {
	return &windowLimiter{limit: limit, window: window, now: time.Now}
}

// allow spends one unit of the current window. A non-positive limit admits everything.
func (l *windowLimiter) allow() bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.started.IsZero() || now.Sub(l.started) >= l.window {
		l.started = now
		l.used = 0
	}
	if l.used >= l.limit {
		return false
	}
	l.used++
	return true
}

// retryAfter is the time left until the current window rolls over.
func (l *windowLimiter) retryAfter() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	left := l.window - l.now().Sub(l.started)
	if left < 0 {
		return 0
	}
	return left
}
