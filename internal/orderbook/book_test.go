package orderbook

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bybit-perp-bot/internal/exchange"
)

func lvl(price, size float64) exchange.PriceLevel {
	return exchange.PriceLevel{Price: decimal.NewFromFloat(price), Size: decimal.NewFromFloat(size)}
}

func TestTop1ReturnsSpread(t *testing.T) {
	b := New("BTCUSDT")
	b.Apply(exchange.OrderBookSnapshot{
		Symbol:      "BTCUSDT",
		Bids:        []exchange.PriceLevel{lvl(100, 1)},
		Asks:        []exchange.PriceLevel{lvl(101, 1)},
		TimestampE6: 1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bid, ask, spread, ts, err := b.Top1(ctx, 0)
	require.NoError(t, err)
	assert.True(t, bid.Equal(decimal.NewFromFloat(100)))
	assert.True(t, ask.Equal(decimal.NewFromFloat(101)))
	assert.True(t, spread.Equal(decimal.NewFromFloat(1)))
	assert.Equal(t, int64(1), ts)
}

func TestTop1BlocksUntilFresherSnapshot(t *testing.T) {
	b := New("BTCUSDT")
	b.Apply(exchange.OrderBookSnapshot{Bids: []exchange.PriceLevel{lvl(100, 1)}, Asks: []exchange.PriceLevel{lvl(101, 1)}, TimestampE6: 1})

	go func() {
		time.Sleep(20 * time.Millisecond)
		b.Apply(exchange.OrderBookSnapshot{Bids: []exchange.PriceLevel{lvl(102, 1)}, Asks: []exchange.PriceLevel{lvl(103, 1)}, TimestampE6: 2})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bid, _, _, ts, err := b.Top1(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ts)
	assert.True(t, bid.Equal(decimal.NewFromFloat(102)))
}

func TestStaleSnapshotIgnored(t *testing.T) {
	b := New("BTCUSDT")
	b.Apply(exchange.OrderBookSnapshot{Bids: []exchange.PriceLevel{lvl(100, 1)}, TimestampE6: 5})
	b.Apply(exchange.OrderBookSnapshot{Bids: []exchange.PriceLevel{lvl(999, 1)}, TimestampE6: 3})

	assert.True(t, b.bids[0].Price.Equal(decimal.NewFromFloat(100)))
}

func TestEntriesReturnsUpToN(t *testing.T) {
	b := New("BTCUSDT")
	b.Apply(exchange.OrderBookSnapshot{
		Bids:        []exchange.PriceLevel{lvl(100, 1), lvl(99, 2), lvl(98, 3)},
		Asks:        []exchange.PriceLevel{lvl(101, 1)},
		TimestampE6: 1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bids, asks, _, err := b.Entries(ctx, 0, 2)
	require.NoError(t, err)
	assert.Len(t, bids, 2)
	assert.Len(t, asks, 1)
}
