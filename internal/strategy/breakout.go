package strategy

import (
	"time"

	"bybit-perp-bot/internal/candle"
	"bybit-perp-bot/internal/config"
	"bybit-perp-bot/pkg/types"
)

func init() {
	Register("breakout", newBreakout)
}

// breakout signals EnterLong when the latest confirmed close exceeds the
// highest high of the preceding lookback candles, and EnterShort on the
// mirrored break of the lowest low. It is a reference strategy, not a tuned
// one: lookback is minimum_candles_to_start - 1 (every earlier candle of a
// window of that size), and never less than 2.
type breakout struct {
	lookback int
}

func newBreakout(strategyCfg config.StrategyConfig, tradingCfg config.TradingConfig) Strategy {
	lookback := strategyCfg.MinimumCandlesToStart - 1
	if lookback < 2 {
		lookback = 2
	}
	return &breakout{lookback: lookback}
}

func (b *breakout) FindEntry(window candle.Window) (candle.Window, types.TradeSignal) {
	sig := types.TradeSignal{
		DateTime:   time.Now(),
		Pair:       window.Pair,
		Interval:   window.Interval,
		SignalName: types.NoTrade,
	}

	tail, ok := window.Tail()
	if !ok || !tail.Confirm {
		return window, sig
	}
	sig.EntryPrice = tail.Close

	history := priorCandles(window, b.lookback)
	if len(history) < 2 {
		return window, sig
	}

	high, low := history[0].High, history[0].Low
	for _, c := range history[1:] {
		if c.High.GreaterThan(high) {
			high = c.High
		}
		if c.Low.LessThan(low) {
			low = c.Low
		}
	}

	switch {
	case tail.Close.GreaterThan(high):
		sig.SignalName = types.EnterLong
		sig.Side = types.Buy
		sig.Details = "close broke above lookback high"
	case tail.Close.LessThan(low):
		sig.SignalName = types.EnterShort
		sig.Side = types.Sell
		sig.Details = "close broke below lookback low"
	}

	return window, sig
}

// priorCandles returns up to n candles preceding the window's tail.
func priorCandles(window candle.Window, n int) []types.Candle {
	all := window.Candles
	if len(all) < 2 {
		return nil
	}
	body := all[:len(all)-1]
	if len(body) > n {
		body = body[len(body)-n:]
	}
	return body
}
