package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bybit-perp-bot/internal/candle"
	"bybit-perp-bot/internal/config"
	"bybit-perp-bot/pkg/types"
)

func TestNoTradeAlwaysReturnsNoTrade(t *testing.T) {
	s := newNoTrade(config.StrategyConfig{}, config.TradingConfig{})

	window := candle.Window{
		Pair:     "BTCUSDT",
		Interval: "5",
		Candles: []types.Candle{
			{Close: decimal.NewFromInt(100), Confirm: true},
		},
	}

	_, sig := s.FindEntry(window)

	require.Equal(t, types.NoTrade, sig.SignalName)
	require.True(t, sig.EntryPrice.Equal(decimal.NewFromInt(100)))
	require.Equal(t, "BTCUSDT", sig.Pair)
}
