package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewTokenBucketStartsFull(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(10, 1)
	require.Equal(t, float64(10), tb.tokens)
}

func TestTokenBucketWaitImmediateWhileTokensRemain(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(5, 1)

	for i := 0; i < 5; i++ {
		start := time.Now()
		require.NoError(t, tb.Wait(context.Background()))
		require.Lessf(t, time.Since(start), 50*time.Millisecond, "token %d should not block", i)
	}
}

func TestTokenBucketWaitBlocksOnceExhausted(t *testing.T) {
	t.Parallel()
	// 1 token capacity, refills at 10/sec -> ~100ms for the next token.
	tb := NewTokenBucket(1, 10)
	require.NoError(t, tb.Wait(context.Background()))

	start := time.Now()
	require.NoError(t, tb.Wait(context.Background()))
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	require.LessOrEqual(t, elapsed, 300*time.Millisecond)
}

func TestTokenBucketWaitReturnsOnContextCancellation(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(1, 0.1) // very slow refill
	require.NoError(t, tb.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.Error(t, tb.Wait(ctx))
}

func TestNewRateLimiterBuildsAllBuckets(t *testing.T) {
	rl := NewRateLimiter()
	require.NotNil(t, rl.Order)
	require.NotNil(t, rl.Position)
	require.NotNil(t, rl.Market)
}
