package candle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bybit-perp-bot/pkg/types"
)

// Mode selects how Refreshed decides a new snapshot is worth reporting.
type Mode string

const (
	ModeInterval    Mode = "interval"
	ModeRealtime    Mode = "realtime"
	ModeSubInterval Mode = "sub_interval"
)

// KlineBackfiller is the subset of the exchange gateway the aggregator needs
// for cold-start backfill and gap recovery.
type KlineBackfiller interface {
	QueryKline(ctx context.Context, symbol, interval string, start, end int64, limit int) ([]types.Candle, error)
}

// Config configures one Aggregator instance.
type Config struct {
	Pair                  string
	IntervalLabel         string // Bybit wire interval, e.g. "5" or "D"
	IntervalSeconds       int64
	Mode                  Mode
	SubIntervalSecs       int64
	MinimumCandlesToStart int
	Backfill              KlineBackfiller
	Logger                *slog.Logger
}

// Aggregator is the single owner of a candle window. It consumes raw candle
// pushes from the exchange gateway's per-topic channel(s) and exposes the
// maintained window only through Refreshed's snapshot.
type Aggregator struct {
	cfg Config

	mu           sync.Mutex
	window       []types.Candle
	started      bool
	dataChanged  bool
	lastSubFlush time.Time
}

// New creates an Aggregator from cfg.
func New(cfg Config) *Aggregator {
	return &Aggregator{cfg: cfg}
}

// Run consumes the main-interval candle channel (and, for the SubInterval
// "minute" variant, an optional confirmed-1m channel) until ctx is cancelled.
// minuteCh may be nil when the configured strategy does not need the minute
// variant.
func (a *Aggregator) Run(ctx context.Context, mainCh <-chan types.Candle, minuteCh <-chan types.Candle) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-mainCh:
			if !ok {
				return fmt.Errorf("main candle channel closed")
			}
			a.onMainCandle(ctx, c)
		case c, ok := <-minuteCh:
			if !ok {
				minuteCh = nil // disable this case for remaining iterations
				continue
			}
			a.onMinuteCandle(c)
		}
	}
}

// Refreshed returns the current window snapshot and whether new data has
// arrived since the previous call, per the configured signal mode.
func (a *Aggregator) Refreshed() (Window, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Window{Pair: a.cfg.Pair, Interval: a.cfg.IntervalLabel, Candles: cloneCandles(a.window)}
	changed := a.dataChanged
	a.dataChanged = false
	return snap, changed
}

func (a *Aggregator) onMainCandle(ctx context.Context, c types.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		a.coldStartBackfill(ctx, c)
		a.started = true
	}

	a.appendAndRecover(ctx, c)
	a.markChanged(c.Confirm)
}

// onMinuteCandle merges a confirmed secondary 1-minute candle into the
// unconfirmed tail of the main window, per the SubInterval "minute" variant:
// a faster-ticking subscription stands in for partial updates of the main
// timeframe's still-open candle.
func (a *Aggregator) onMinuteCandle(c types.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.window) == 0 {
		return
	}
	tail := a.window[len(a.window)-1]
	if tail.Confirm {
		return
	}

	tail.Close = c.Close
	if c.High.GreaterThan(tail.High) {
		tail.High = c.High
	}
	if c.Low.LessThan(tail.Low) {
		tail.Low = c.Low
	}
	tail.Volume = tail.Volume.Add(c.Volume)
	tail.Timestamp = c.Timestamp
	a.window[len(a.window)-1] = tail

	a.markChanged(false)
}

func (a *Aggregator) markChanged(confirmed bool) {
	switch a.cfg.Mode {
	case ModeInterval:
		if confirmed {
			a.dataChanged = true
		}
	case ModeRealtime:
		a.dataChanged = true
	case ModeSubInterval:
		if confirmed {
			a.dataChanged = true
			a.lastSubFlush = time.Now()
			return
		}
		if time.Since(a.lastSubFlush) >= time.Duration(a.cfg.SubIntervalSecs)*time.Second {
			a.dataChanged = true
			a.lastSubFlush = time.Now()
		}
	}
}

func (a *Aggregator) appendAndRecover(ctx context.Context, c types.Candle) {
	a.window = appendRule(a.window, c)

	if hasGap(a.window) {
		if a.tolerateGap(c) {
			a.cfg.Logger.Warn("tolerating small sub-interval gap", "pair", a.cfg.Pair)
		} else {
			a.cfg.Logger.Error("candle window gap detected, recovering from REST", "pair", a.cfg.Pair)
			a.recoverFromGap(ctx, c)
		}
	}

	a.window = truncateToRetention(a.window, a.cfg.MinimumCandlesToStart)
}

func (a *Aggregator) tolerateGap(c types.Candle) bool {
	if a.cfg.Mode != ModeSubInterval || c.Confirm {
		return false
	}
	if len(a.window) < 2 {
		return false
	}
	tail := a.window[len(a.window)-1]
	prev := a.window[len(a.window)-2]
	gapSeconds := tail.Start - prev.End
	minutesInInterval := a.cfg.IntervalSeconds / 60
	return gapSeconds <= (minutesInInterval-1)*60
}

func (a *Aggregator) recoverFromGap(ctx context.Context, current types.Candle) {
	a.window = nil

	start := a.alignedBackfillStart(current.Start)
	candles, err := a.cfg.Backfill.QueryKline(ctx, a.cfg.Pair, a.cfg.IntervalLabel, start, current.Start, a.cfg.MinimumCandlesToStart)
	if err != nil {
		a.cfg.Logger.Error("gap recovery backfill failed", "error", err)
	} else {
		a.window = candles
	}

	a.window = appendRule(a.window, current)
}

func (a *Aggregator) coldStartBackfill(ctx context.Context, first types.Candle) {
	end := a.alignedBackfillStart(first.Start) - 1
	start := end + 1 - int64(a.cfg.MinimumCandlesToStart)*a.cfg.IntervalSeconds
	candles, err := a.cfg.Backfill.QueryKline(ctx, a.cfg.Pair, a.cfg.IntervalLabel, start, end, a.cfg.MinimumCandlesToStart)
	if err != nil {
		a.cfg.Logger.Error("cold-start backfill failed", "error", err)
		return
	}
	a.window = candles
}

// alignedBackfillStart aligns a backfill boundary to the start of the
// containing main interval in sub-interval mode: windowEnd - (current_minute
// mod minutes_in_interval) * 60. In every other mode it returns windowEnd.
func (a *Aggregator) alignedBackfillStart(windowEnd int64) int64 {
	if a.cfg.Mode != ModeSubInterval {
		return windowEnd
	}
	minutesInInterval := a.cfg.IntervalSeconds / 60
	if minutesInInterval <= 1 {
		return windowEnd
	}
	currentMinute := (windowEnd / 60) % minutesInInterval
	return windowEnd - currentMinute*60
}
