// Package orderbook maintains a local top-of-book mirror for a single linear
// perpetual pair, fed by the exchange gateway's orderbook.25 topic.
package orderbook

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"bybit-perp-bot/internal/exchange"
)

// defaultWaitCeiling bounds how long top1/entries will block for a fresher
// snapshot before giving up, per spec's 60-120s ceiling.
const defaultWaitCeiling = 90 * time.Second

// Book mirrors the top-N order book for one symbol. Readers block in Top1 or
// Entries until a snapshot fresher than the one they last consumed arrives,
// using an edge-triggered sync.Cond rather than polling.
type Book struct {
	mu   sync.Mutex
	cond *sync.Cond

	symbol      string
	bids        []exchange.PriceLevel // best-first
	asks        []exchange.PriceLevel // best-first
	timestampE6 int64

	waitCeiling time.Duration
}

// New creates an empty Book for symbol.
func New(symbol string) *Book {
	b := &Book{symbol: symbol, waitCeiling: defaultWaitCeiling}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Apply installs a fresher snapshot and wakes any blocked readers. Snapshots
// older than or equal to the currently held one (by TimestampE6) are ignored.
func (b *Book) Apply(snap exchange.OrderBookSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if snap.TimestampE6 <= b.timestampE6 {
		return
	}
	b.bids = snap.Bids
	b.asks = snap.Asks
	b.timestampE6 = snap.TimestampE6
	b.cond.Broadcast()
}

// Run drains the gateway's order book channel into Apply until ctx is cancelled.
func (b *Book) Run(ctx context.Context, ch <-chan exchange.OrderBookSnapshot) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-ch:
			if !ok {
				return nil
			}
			b.Apply(snap)
		}
	}
}

// Top1 blocks until a snapshot fresher than lastSeenE6 is available (or the
// wait ceiling elapses, or ctx is cancelled) and returns the best bid, best
// ask, and the spread between them.
func (b *Book) Top1(ctx context.Context, lastSeenE6 int64) (bid, ask, spread decimal.Decimal, tsE6 int64, err error) {
	bids, asks, ts, err := b.Entries(ctx, lastSeenE6, 1)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, 0, err
	}
	if len(bids) > 0 {
		bid = bids[0].Price
	}
	if len(asks) > 0 {
		ask = asks[0].Price
	}
	return bid, ask, ask.Sub(bid).Abs(), ts, nil
}

// Entries blocks until a snapshot fresher than lastSeenE6 is available and
// returns up to n bid/ask levels plus the fresh timestamp.
func (b *Book) Entries(ctx context.Context, lastSeenE6 int64, n int) (bids, asks []exchange.PriceLevel, tsE6 int64, err error) {
	done := make(chan struct{})
	timer := time.AfterFunc(b.waitCeiling, func() { close(done) })
	defer timer.Stop()

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	}()

	b.mu.Lock()
	defer b.mu.Unlock()
	for b.timestampE6 <= lastSeenE6 {
		select {
		case <-ctx.Done():
			return nil, nil, 0, ctx.Err()
		case <-done:
			return nil, nil, b.timestampE6, nil
		default:
		}
		b.cond.Wait()
	}

	return topN(b.bids, n), topN(b.asks, n), b.timestampE6, nil
}

func topN(levels []exchange.PriceLevel, n int) []exchange.PriceLevel {
	if n > len(levels) {
		n = len(levels)
	}
	out := make([]exchange.PriceLevel, n)
	copy(out, levels[:n])
	return out
}
