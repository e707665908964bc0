package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per key.
type Limiter struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	m     map[string]*rate.Limiter
}

// New returns a limiter allowing perSec events per key with the given burst.
// perSec <= 0 disables limiting.
func New(perSec float64, burst int) *Limiter {
	l := &Limiter{limit: rate.Inf, burst: burst, m: make(map[string]*rate.Limiter)}
	if perSec > 0 {
		l.limit = rate.Limit(perSec)
	}
	if l.burst <= 0 {
		l.burst = 1
	}
	return l
}

// Allow reports whether one event for key may happen now.
func (l *Limiter) Allow(key string) bool {
	if l.limit == rate.Inf {
		return true
	}
	l.mu.Lock()
	b, ok := l.m[key]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.m[key] = b
	}
	l.mu.Unlock()
	return b.Allow()
}

// Forget drops the bucket for key.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	delete(l.m, key)
	l.mu.Unlock()
}
