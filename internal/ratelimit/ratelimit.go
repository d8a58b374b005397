// Package ratelimit throttles new session acceptance per client key (IP or
// forwarded-for header). Not present in original_source — the Cloudflare
// Workers runtime has its own platform-level rate limiting the spec's
// distillation dropped; this is an ambient-stack addition so the gateway
// still degrades gracefully under load when run as a standalone process.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether a new session for key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Local is an in-process, per-key token bucket limiter.
type Local struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	r        rate.Limit
	burst    int
	lastSeen map[string]time.Time
}

// NewLocal builds a Local limiter allowing r sessions/sec per key, with
// burst capacity burst.
func NewLocal(r float64, burst int) *Local {
	return &Local{
		buckets:  make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		r:        rate.Limit(r),
		burst:    burst,
	}
}

func (l *Local) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.r, l.burst)
		l.buckets[key] = b
	}
	l.lastSeen[key] = time.Now()
	return b.Allow(), nil
}

// Sweep evicts buckets idle longer than maxIdle, bounding memory for a
// long-running process seeing many distinct keys.
func (l *Local) Sweep(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	for k, seen := range l.lastSeen {
		if seen.Before(cutoff) {
			delete(l.buckets, k)
			delete(l.lastSeen, k)
		}
	}
}
