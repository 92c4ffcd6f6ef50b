// Package ratelimit implements the per-supplier token-bucket scheduler:
// a call blocks until a token is available or the caller-supplied
// deadline expires.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter abstracts the token-bucket backend so callers can swap a
// process-local bucket for a Redis-backed one (keyed ratelimit:{supplier})
// without changing call sites.
type Limiter interface {
	// Wait blocks until a token is available for key, or ctx is done.
	// Returns context.DeadlineExceeded (wrapped) if the deadline elapses
	// first.
	Wait(ctx context.Context, key string, cost int) error
}

// TokenBucket is a thread-safe, process-local token bucket.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewTokenBucket sizes a bucket to perMinuteQuota, refilling continuously.
func NewTokenBucket(perMinuteQuota int) *TokenBucket {
	return &TokenBucket{
		tokens:     float64(perMinuteQuota),
		capacity:   float64(perMinuteQuota),
		refillRate: float64(perMinuteQuota) / 60.0,
		lastRefill: time.Now(),
	}
}

func (tb *TokenBucket) tryTake(cost int) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= float64(cost) {
		tb.tokens -= float64(cost)
		return true
	}
	return false
}

// InMemoryLimiter keeps one TokenBucket per key.
type InMemoryLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*TokenBucket
	newBucket func(key string) *TokenBucket
}

// NewInMemoryLimiter creates a limiter that lazily builds a bucket for each
// new key via newBucket (typically NewTokenBucket bound to that supplier's
// declared per-minute quota).
func NewInMemoryLimiter(newBucket func(key string) *TokenBucket) *InMemoryLimiter {
	return &InMemoryLimiter{
		buckets:   make(map[string]*TokenBucket),
		newBucket: newBucket,
	}
}

func (l *InMemoryLimiter) bucketFor(key string) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	tb, ok := l.buckets[key]
	if !ok {
		tb = l.newBucket(key)
		l.buckets[key] = tb
	}
	return tb
}

func (l *InMemoryLimiter) Wait(ctx context.Context, key string, cost int) error {
	tb := l.bucketFor(key)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		if tb.tryTake(cost) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("ratelimit: deadline exceeded waiting for %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}
