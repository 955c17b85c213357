// Package candle implements CandleAggregator: it turns the exchange gateway's
// raw websocket candle pushes into a maintained, gap-checked window of OHLCV
// bars, reported to the strategy layer according to one of three signal
// modes (Interval, Realtime, SubInterval).
package candle

import "bybit-perp-bot/pkg/types"

// dropOldRowsThreshold bounds how many rows beyond minimumCandlesToStart the
// window retains before truncating the oldest entries.
const dropOldRowsThreshold = 500

// Window is an immutable snapshot of the maintained candle history, handed
// out by Aggregator.Refreshed. Callers never see the live mutable slice.
type Window struct {
	Pair     string
	Interval string
	Candles  []types.Candle
}

// Tail returns the most recent candle, or the zero value if the window is empty.
func (w Window) Tail() (types.Candle, bool) {
	if len(w.Candles) == 0 {
		return types.Candle{}, false
	}
	return w.Candles[len(w.Candles)-1], true
}

// Len reports the number of candles currently held.
func (w Window) Len() int { return len(w.Candles) }

func cloneCandles(src []types.Candle) []types.Candle {
	out := make([]types.Candle, len(src))
	copy(out, src)
	return out
}

// appendRule implements the spec's append table: a confirmed tail always
// gets c appended; an unconfirmed tail is replaced by c regardless of c's
// own confirm state.
func appendRule(window []types.Candle, c types.Candle) []types.Candle {
	if len(window) == 0 {
		return append(window, c)
	}
	tail := window[len(window)-1]
	if tail.Confirm {
		return append(window, c)
	}
	window[len(window)-1] = c
	return window
}

// hasGap reports whether the window's last two rows are non-contiguous.
func hasGap(window []types.Candle) bool {
	if len(window) < 2 {
		return false
	}
	tail := window[len(window)-1]
	prev := window[len(window)-2]
	return tail.Start != prev.End
}

func truncateToRetention(window []types.Candle, minimumCandles int) []types.Candle {
	limit := minimumCandles + dropOldRowsThreshold
	if len(window) <= limit {
		return window
	}
	drop := len(window) - dropOldRowsThreshold
	return cloneCandles(window[drop:])
}
