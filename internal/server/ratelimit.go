package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiters hands out one token bucket per client IP. The whole map is
// dropped every hour so idle clients do not accumulate.
type ipLimiters struct {
	limit rate.Limit
	burst int

	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	lastCleanup time.Time
	now         func() time.Time
}

func newIPLimiters(perSecond float64, burst int) *ipLimiters {
	if burst <= 0 {
		burst = 1
	}
	return &ipLimiters{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

func (l *ipLimiters) allow(ip string) bool {
	if l.limit <= 0 {
		return true
	}

	l.mu.Lock()
	now := l.now()
	if l.lastCleanup.IsZero() {
		l.lastCleanup = now
	}
	if now.Sub(l.lastCleanup) > time.Hour {
		l.limiters = make(map[string]*rate.Limiter)
		l.lastCleanup = now
	}
	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = limiter
	}
	l.mu.Unlock()

	return limiter.AllowN(now, 1)
}

func (l *ipLimiters) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
