package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/bomforge/core/pkg/ratelimit"
)

func TestTokenBucket_ExhaustsAndRefills(t *testing.T) {
	tb := ratelimit.NewTokenBucket(60) // 1 token/sec, capacity 60
	limiter := ratelimit.NewInMemoryLimiter(func(string) *ratelimit.TokenBucket { return tb })

	ctx := context.Background()
	for i := 0; i < 60; i++ {
		require.NoError(t, limiter.Wait(ctx, "mouser", 1))
	}

	shortCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	err := limiter.Wait(shortCtx, "mouser", 1)
	require.Error(t, err, "bucket exhausted, deadline must trip before refill")
}

func TestInMemoryLimiter_PerKeyIsolation(t *testing.T) {
	limiter := ratelimit.NewInMemoryLimiter(func(string) *ratelimit.TokenBucket { return ratelimit.NewTokenBucket(1) })
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx, "mouser", 1))
	// digikey has its own bucket and must not be affected by mouser's consumption.
	require.NoError(t, limiter.Wait(ctx, "digikey", 1))
}
