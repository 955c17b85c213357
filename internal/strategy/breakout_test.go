package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bybit-perp-bot/internal/candle"
	"bybit-perp-bot/internal/config"
	"bybit-perp-bot/pkg/types"
)

func candleAt(high, low, close float64, confirm bool) types.Candle {
	return types.Candle{
		High:    decimal.NewFromFloat(high),
		Low:     decimal.NewFromFloat(low),
		Close:   decimal.NewFromFloat(close),
		Confirm: confirm,
	}
}

func TestBreakoutSignalsEnterLongOnUpsideBreak(t *testing.T) {
	s := newBreakout(config.StrategyConfig{MinimumCandlesToStart: 4}, config.TradingConfig{})
	window := candle.Window{
		Pair: "BTCUSDT",
		Candles: []types.Candle{
			candleAt(101, 99, 100, true),
			candleAt(102, 98, 101, true),
			candleAt(103, 97, 100, true),
			candleAt(104, 96, 105, true), // closes above the prior 103 high
		},
	}

	_, sig := s.FindEntry(window)

	require.Equal(t, types.EnterLong, sig.SignalName)
	require.Equal(t, types.Buy, sig.Side)
}

func TestBreakoutSignalsEnterShortOnDownsideBreak(t *testing.T) {
	s := newBreakout(config.StrategyConfig{MinimumCandlesToStart: 4}, config.TradingConfig{})
	window := candle.Window{
		Pair: "BTCUSDT",
		Candles: []types.Candle{
			candleAt(101, 99, 100, true),
			candleAt(102, 98, 101, true),
			candleAt(103, 97, 100, true),
			candleAt(104, 96, 90, true), // closes below the prior 97 low
		},
	}

	_, sig := s.FindEntry(window)

	require.Equal(t, types.EnterShort, sig.SignalName)
	require.Equal(t, types.Sell, sig.Side)
}

func TestBreakoutNoSignalWhenTailUnconfirmed(t *testing.T) {
	s := newBreakout(config.StrategyConfig{MinimumCandlesToStart: 4}, config.TradingConfig{})
	window := candle.Window{
		Candles: []types.Candle{
			candleAt(101, 99, 100, true),
			candleAt(104, 96, 200, false),
		},
	}

	_, sig := s.FindEntry(window)

	require.Equal(t, types.NoTrade, sig.SignalName)
}

func TestBreakoutNoSignalInsideRange(t *testing.T) {
	s := newBreakout(config.StrategyConfig{MinimumCandlesToStart: 4}, config.TradingConfig{})
	window := candle.Window{
		Candles: []types.Candle{
			candleAt(101, 99, 100, true),
			candleAt(102, 98, 101, true),
			candleAt(103, 97, 100, true),
			candleAt(102, 98, 100.5, true),
		},
	}

	_, sig := s.FindEntry(window)

	require.Equal(t, types.NoTrade, sig.SignalName)
}
