package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"bybit-perp-bot/internal/candle"
	"bybit-perp-bot/internal/config"
	"bybit-perp-bot/pkg/types"
)

func init() {
	Register("no_trade", newNoTrade)
}

// noTrade never signals an entry. It exists as the minimal reference
// implementation of Strategy and as a safe default for configs that wire up
// the bot's plumbing before a real strategy is ready; indicator math belongs
// in a separate implementation, not here.
type noTrade struct {
	pair string
}

func newNoTrade(strategyCfg config.StrategyConfig, tradingCfg config.TradingConfig) Strategy {
	return &noTrade{}
}

func (s *noTrade) FindEntry(window candle.Window) (candle.Window, types.TradeSignal) {
	var entryPrice decimal.Decimal
	if n := len(window.Candles); n > 0 {
		entryPrice = window.Candles[n-1].Close
	}
	return window, types.TradeSignal{
		DateTime:   time.Now(),
		Pair:       window.Pair,
		Interval:   window.Interval,
		SignalName: types.NoTrade,
		EntryPrice: entryPrice,
	}
}
