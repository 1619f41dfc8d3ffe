// Package ratelimit implements per-client token bucket rate limiting for HTTP
// handlers.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"
)

// staleAfter is how long an idle, full bucket is kept.
const staleAfter = 10 * time.Minute

// Result contains the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Limit      int           // requests per window
	Remaining  int           // requests left in current window
	ResetAt    time.Time     // when the bucket will be full again
	RetryAfter time.Duration // how long to wait before retrying (0 if allowed)
}

// Limiter manages rate limit buckets per key using the token bucket algorithm.
type Limiter struct {
	buckets  *xsync.MapOf[string, *bucket]
	requests int
	rate     rate.Limit
	burst    int

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanoseconds
}

// NewLimiter creates a rate limiter allowing requests tokens per window with
// burst capacity. It starts a goroutine sweeping idle buckets; call Close to
// stop it.
func NewLimiter(requests int, window time.Duration, burst int) *Limiter {
	l := &Limiter{
		buckets:  xsync.NewMapOf[string, *bucket](),
		requests: requests,
		rate:     rate.Limit(float64(requests) / window.Seconds()),
		burst:    burst,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go l.cleanupLoop(staleAfter)
	return l
}

// Allow consumes a token for key and reports whether the request may proceed.
func (l *Limiter) Allow(key string) Result {
	now := time.Now()
	b, _ := l.buckets.LoadOrCompute(key, func() *bucket {
		return &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
	})
	b.lastSeen.Store(now.UnixNano())

	res := Result{Limit: l.requests}
	r := b.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); r.OK() && delay == 0 {
		res.Allowed = true
	} else {
		if r.OK() {
			r.CancelAt(now)
		}
		// Retry-After is in whole seconds; round up.
		res.RetryAfter = max((delay + time.Second - 1).Truncate(time.Second), time.Second)
	}
	tokens := b.limiter.TokensAt(now)
	res.Remaining = max(int(tokens), 0)
	refill := (float64(l.burst) - tokens) / float64(l.rate)
	res.ResetAt = now.Add(time.Duration(refill * float64(time.Second)))
	return res
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	return l.buckets.Size()
}

func (l *Limiter) cleanupLoop(every time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			l.cleanup(now)
		case <-l.stop:
			return
		}
	}
}

// cleanup removes buckets that haven't been used recently and are full.
func (l *Limiter) cleanup(now time.Time) {
	threshold := now.Add(-staleAfter).UnixNano()
	l.buckets.Range(func(key string, b *bucket) bool {
		if b.lastSeen.Load() < threshold && b.limiter.TokensAt(now) >= float64(l.burst) {
			l.buckets.Delete(key)
		}
		return true
	})
}

// Close stops the cleanup goroutine and waits for it to exit. It is safe to
// call more than once.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
}
