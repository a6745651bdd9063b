package proxy

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter applies a static per-service token bucket to proxied requests.
//
// Simplified from the teacher's features/model/middleware.AdaptiveRateLimiter
// (AIMD budget that grows/shrinks in response to provider throttling
// signals, optionally coordinated across a cluster via goa.design/pulse's
// rmap): this proxy has no equivalent "provider told us to back off" signal
// to adapt from, and runs as a single process per control-plane instance, so
// a fixed rate.Limiter per service name is the right-sized version of the
// same golang.org/x/time/rate primitive.
type Limiter struct {
	rps   float64
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLimiter returns a Limiter allowing rps requests per second per service
// name, with the given burst.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{rps: rps, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether a request to service may proceed now.
func (l *Limiter) Allow(service string) bool {
	return l.limiterFor(service).Allow()
}

func (l *Limiter) limiterFor(service string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[service]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.limiters[service] = lim
	}
	return lim
}
