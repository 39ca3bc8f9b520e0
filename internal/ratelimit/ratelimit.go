// Package ratelimit implements a keyed token-bucket limiter over
// golang.org/x/time/rate, used both by the login throttle and the
// general API rate-limit middleware. Buckets are keyed by a
// caller-supplied identifier (client IP or authenticated subject), so
// one noisy client can't consume another's budget.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a registry of per-key token buckets. Keys idle for longer
// than idleTTL are swept whenever the registry grows past 10000 keys, so
// a long-running process doesn't accumulate one bucket per distinct IP
// forever.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rps      rate.Limit
	burst    int
	idleTTL  time.Duration
}

type bucket struct {
	limiter    *rate.Limiter
	lastSeenAt time.Time
}

// New builds a Limiter allowing ratePerMinute requests per minute per
// key, with the given burst capacity.
func New(ratePerMinute float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rps:     rate.Limit(ratePerMinute / 60),
		burst:   burst,
		idleTTL: 10 * time.Minute,
	}
}

// Allow reports whether a request keyed by key may proceed right now,
// consuming one token if so.
func (l *Limiter) Allow(key string) bool {
	return l.bucketFor(key).Allow()
}

func (l *Limiter) bucketFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	now := time.Now()
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeenAt = now

	if len(l.buckets) > 10000 {
		l.sweepLocked(now)
	}
	return b.limiter
}

func (l *Limiter) sweepLocked(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.lastSeenAt) > l.idleTTL {
			delete(l.buckets, k)
		}
	}
}
