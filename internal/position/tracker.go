// Package position maintains the (long, short) position pair for a single
// symbol, sourced from the private position websocket topic with a REST
// fallback, and reconciles configured leverage against the venue.
package position

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"bybit-perp-bot/pkg/types"
)

// Gateway is the subset of exchange.Client the tracker needs.
type Gateway interface {
	MyPosition(ctx context.Context, symbol string) ([]types.Position, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetTradingStop(ctx context.Context, symbol string, side types.Side, stopLoss decimal.Decimal) error
}

// Tracker holds the current long and short positions for one symbol, mutex
// protected, borrowing the snapshot-under-lock shape of the teacher's
// inventory bookkeeping generalized from a single-sided token pair to the
// venue's long/short hedge-mode position pair.
type Tracker struct {
	mu      sync.RWMutex
	symbol  string
	long    types.Position
	short   types.Position
	gateway Gateway
	logger  *slog.Logger
}

// New creates a Tracker for symbol.
func New(symbol string, gateway Gateway, logger *slog.Logger) *Tracker {
	return &Tracker{
		symbol:  symbol,
		gateway: gateway,
		logger:  logger.With("component", "position_tracker"),
		long:    types.Position{Symbol: symbol, Side: types.Buy},
		short:   types.Position{Symbol: symbol, Side: types.Sell},
	}
}

// OnUpdate applies a position push from the private websocket topic.
func (t *Tracker) OnUpdate(p types.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p.Side == types.Buy {
		t.long = p
	} else {
		t.short = p
	}
}

// RefreshFromREST falls back to a REST my_position call when the position
// topic has produced nothing yet (e.g. immediately after startup).
func (t *Tracker) RefreshFromREST(ctx context.Context) error {
	positions, err := t.gateway.MyPosition(ctx, t.symbol)
	if err != nil {
		return fmt.Errorf("my_position: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range positions {
		if p.Side == types.Buy {
			t.long = p
		} else if p.Side == types.Sell {
			t.short = p
		}
	}
	return nil
}

// InPosition reports whether any (or a specific) side currently holds size.
// Called with no side it checks both sides.
func (t *Tracker) InPosition(side ...types.Side) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(side) == 0 {
		return t.long.IsOpen() || t.short.IsOpen()
	}
	if side[0] == types.Buy {
		return t.long.IsOpen()
	}
	return t.short.IsOpen()
}

// Snapshot returns copies of the current long and short positions.
func (t *Tracker) Snapshot() (long, short types.Position) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.long, t.short
}

// ReconcileLeverage compares the configured leverage against the venue and
// calls set_leverage when they differ and no position is currently open. If
// a position is already open the mismatch is logged and left unchanged;
// callers are expected to call this again just before each new trade entry,
// per spec.
func (t *Tracker) ReconcileLeverage(ctx context.Context, desired int) error {
	t.mu.RLock()
	long, short := t.long, t.short
	t.mu.RUnlock()

	if long.IsOpen() || short.IsOpen() {
		current := long.Leverage
		if short.IsOpen() {
			current = short.Leverage
		}
		if !current.Equal(decimal.NewFromInt(int64(desired))) {
			t.logger.Warn("leverage mismatch while position is open, leaving unchanged",
				"desired", desired, "current", current.String())
		}
		return nil
	}

	want := decimal.NewFromInt(int64(desired))
	if long.Leverage.Equal(want) && short.Leverage.Equal(want) {
		return nil
	}
	return t.gateway.SetLeverage(ctx, t.symbol, desired)
}

// SetTradingStop updates the venue-side stop loss on an open position.
func (t *Tracker) SetTradingStop(ctx context.Context, side types.Side, stopLoss decimal.Decimal) error {
	return t.gateway.SetTradingStop(ctx, t.symbol, side, stopLoss)
}

// Run drains the gateway's private position topic into the tracker until ctx
// is cancelled.
func (t *Tracker) Run(ctx context.Context, ch <-chan types.Position) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-ch:
			if !ok {
				return nil
			}
			t.OnUpdate(p)
		}
	}
}
