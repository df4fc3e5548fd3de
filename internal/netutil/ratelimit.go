// Package netutil holds small networking helpers shared by outbound clients.
package netutil

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimiter provides per-host token-bucket rate limiting, so the broker
// REST host and any future data host are throttled independently.
type HostLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewHostLimiter creates a limiter granting rps requests per second with the
// given burst per host.
func NewHostLimiter(rps float64, burst int) *HostLimiter {
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *HostLimiter) limiter(host string) *rate.Limiter {
	l.mu.RLock()
	limiter, ok := l.limiters[host]
	l.mu.RUnlock()
	if ok {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[host]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[host] = limiter
	return limiter
}

// Allow reports whether a request to host may proceed right now.
func (l *HostLimiter) Allow(host string) bool {
	return l.limiter(host).Allow()
}

// Wait blocks until a request to host is allowed or ctx is cancelled.
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	return l.limiter(host).Wait(ctx)
}
