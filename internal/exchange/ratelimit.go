package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a continuously-refilling token bucket. Callers block in Wait
// until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens refilled per second
	lastTime time.Time
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RateLimiter groups token buckets by Bybit V5 endpoint category. Each gateway
// method calls the matching bucket's Wait before issuing its HTTP request.
// Capacities follow Bybit's published per-UID limits for a standard (non-VIP)
// account: 10 req/s for order placement/amend/cancel, 10 req/s for position
// actions (leverage/margin-mode/TP-SL), 50 req/s for public market data.
type RateLimiter struct {
	Order    *TokenBucket // place/amend/cancel active & conditional orders
	Position *TokenBucket // set_leverage, position_mode, margin switches, TP/SL
	Market   *TokenBucket // kline, instrument info, wallet balance, trade records
}

// NewRateLimiter creates rate limiters tuned to Bybit's standard account limits.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:    NewTokenBucket(20, 10),
		Position: NewTokenBucket(20, 10),
		Market:   NewTokenBucket(100, 50),
	}
}
