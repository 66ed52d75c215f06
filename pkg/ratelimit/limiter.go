// Package ratelimit provides in-process request limiting keyed by caller.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether the caller identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Reset(ctx context.Context, key string) error
}

// TokenBucketLimiter implements token bucket rate limiting. Each key owns a
// bucket of capacity tokens that refills one token per interval.
type TokenBucketLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity int
	interval time.Duration
	idleTTL  time.Duration
	now      func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewTokenBucketLimiter creates a limiter and starts its idle bucket sweeper.
// Call Stop to release the sweeper.
func NewTokenBucketLimiter(capacity int, interval time.Duration) *TokenBucketLimiter {
	if capacity < 1 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	l := &TokenBucketLimiter{
		buckets:  make(map[string]*bucket),
		capacity: capacity,
		interval: interval,
		idleTTL:  time.Hour,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	go l.sweep(5 * time.Minute)
	return l
}

// PerMinute allows bursts of n requests and refills n tokens a minute
func PerMinute(n int) *TokenBucketLimiter {
	if n < 1 {
		n = 1
	}
	return NewTokenBucketLimiter(n, time.Minute/time.Duration(n))
}

// Allow takes a token from key's bucket if one is left
func (l *TokenBucketLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, lastRefill: now}
		l.buckets[key] = b
	}

	if add := int(now.Sub(b.lastRefill) / l.interval); add > 0 {
		b.tokens = min(b.tokens+add, l.capacity)
		// keep the partial interval so slow trickles still refill
		b.lastRefill = b.lastRefill.Add(time.Duration(add) * l.interval)
		if b.tokens == l.capacity {
			b.lastRefill = now
		}
	}

	if b.tokens == 0 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Reset forgets key's bucket
func (l *TokenBucketLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
	return nil
}

// Len is the number of tracked keys
func (l *TokenBucketLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Stop ends the sweeper. It is safe to call more than once.
func (l *TokenBucketLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *TokenBucketLimiter) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.prune()
		}
	}
}

// prune drops buckets idle for longer than idleTTL
func (l *TokenBucketLimiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.lastRefill) > l.idleTTL {
			delete(l.buckets, key)
		}
	}
}
