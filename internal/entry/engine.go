// Package entry implements TradeEntryEngine: the market (taker) and limit
// (maker) entry paths, and the dynamic take-profit mirroring that tracks
// fills against a resting entry order.
package entry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"bybit-perp-bot/internal/config"
	"bybit-perp-bot/internal/exchange"
	"bybit-perp-bot/pkg/money"
	"bybit-perp-bot/pkg/types"
)

// minTradableFloor is the hard floor below which a market entry aborts with
// no side effects, in quote-currency units.
const minTradableFloor = 20

// sanityTimeout bounds every inner wait in the limit-entry state machine so
// none spins forever. A wait that crosses it ends the entry with an error,
// except waitTerminal, which logs and returns the last order it saw; the
// process does not exit.
const sanityTimeout = 5 * time.Minute

// pauseTime is the default pacing sleep between order operations.
const pauseTime = 300 * time.Millisecond

// Gateway is the subset of exchange.Client the entry engine needs directly.
// Instrument metadata (tick_size/qty_step) is supplied once at construction
// rather than queried per trade.
type Gateway interface {
	GetWalletBalance(ctx context.Context, coin string) (*types.WalletBalance, error)
}

// OrderManager is the subset of orders.Manager the entry engine drives.
type OrderManager interface {
	PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (*types.Order, error)
	ReplaceActiveOrder(ctx context.Context, orderID string, price, qty, stopLoss decimal.Decimal) error
	CancelActiveOrder(ctx context.Context, orderID string) error
	GetOrderByIDHybrid(ctx context.Context, orderID string) (*types.Order, error)
}

// PositionTracker is the subset of position.Tracker the entry engine polls.
type PositionTracker interface {
	InPosition(side ...types.Side) bool
	Snapshot() (long, short types.Position)
	SetTradingStop(ctx context.Context, side types.Side, stopLoss decimal.Decimal) error
}

// Book is the subset of orderbook.Book the entry engine reads top-of-book from.
type Book interface {
	Top1(ctx context.Context, lastSeenE6 int64) (bid, ask, spread decimal.Decimal, tsE6 int64, err error)
}

// Engine implements the market and limit entry flows against one symbol.
type Engine struct {
	symbol     string
	stakeCoin  string
	trading    config.TradingConfig
	limitCfg   config.LimitEntryConfig
	instrument types.InstrumentInfo
	gateway    Gateway
	orders     OrderManager
	positions  PositionTracker
	book       Book
	executions <-chan types.Execution
	logger     *slog.Logger
}

// New creates an Engine.
func New(symbol, stakeCoin string, trading config.TradingConfig, limitCfg config.LimitEntryConfig,
	instrument types.InstrumentInfo, gateway Gateway, orderMgr OrderManager, positions PositionTracker,
	book Book, executions <-chan types.Execution, logger *slog.Logger) *Engine {
	return &Engine{
		symbol:     symbol,
		stakeCoin:  stakeCoin,
		trading:    trading,
		limitCfg:   limitCfg,
		instrument: instrument,
		gateway:    gateway,
		orders:     orderMgr,
		positions:  positions,
		book:       book,
		executions: executions,
		logger:     logger.With("component", "trade_entry_engine"),
	}
}

// sizing holds the values computed once at the start of an entry: stop-loss
// and take-profit (rounded to tick_size) and qty (rounded down to qty_step).
type sizing struct {
	qty        decimal.Decimal
	stopLoss   decimal.Decimal
	takeProfit decimal.Decimal
}

// computeSizing implements 4.6.1 steps 1-3: tradable balance, SL/TP from
// configured percentages, and qty = (tradable * leverage) / entry_price.
func (e *Engine) computeSizing(ctx context.Context, side types.Side, entryPrice decimal.Decimal) (*sizing, error) {
	balance, err := e.gateway.GetWalletBalance(ctx, e.stakeCoin)
	if err != nil {
		return nil, fmt.Errorf("get_wallet_balance: %w", err)
	}

	tradable := balance.AvailableBalance.Mul(decimal.NewFromFloat(e.trading.TradableBalanceRatio))
	if tradable.LessThan(decimal.NewFromInt(minTradableFloor)) {
		return nil, fmt.Errorf("tradable balance %s below floor %d, aborting with no side effects", tradable.String(), minTradableFloor)
	}

	leverage := e.trading.LeverageLong
	if side == types.Sell {
		leverage = e.trading.LeverageShort
	}

	stopLossAdd := side == types.Sell   // shorts: SL above entry
	takeProfitAdd := side == types.Buy  // longs: TP above entry
	stopLoss := money.PctOffset(entryPrice, decimal.NewFromFloat(e.trading.StopLoss), stopLossAdd)
	takeProfit := money.PctOffset(entryPrice, decimal.NewFromFloat(e.trading.TakeProfit), takeProfitAdd)
	stopLoss = money.RoundPriceNearest(stopLoss, e.instrument.TickSize)
	takeProfit = money.RoundPriceNearest(takeProfit, e.instrument.TickSize)

	qty := tradable.Mul(decimal.NewFromInt(int64(leverage))).Div(entryPrice)
	qty = money.RoundQtyDown(qty, e.instrument.QtyStep)
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("computed qty is zero, aborting")
	}

	return &sizing{qty: qty, stopLoss: stopLoss, takeProfit: takeProfit}, nil
}

// Sizing exposes the 4.6.1 steps 1-3 computation (tradable balance floor
// check, stop_loss/take_profit, qty) for callers that must compute an
// entry's size before choosing which entry path to drive, notably the limit
// entry path whose qty and stop_loss are supplied by the caller.
func (e *Engine) Sizing(ctx context.Context, side types.Side, entryPrice decimal.Decimal) (qty, stopLoss, takeProfit decimal.Decimal, err error) {
	s, err := e.computeSizing(ctx, side, entryPrice)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	return s.qty, s.stopLoss, s.takeProfit, nil
}

// EnterMarket implements the 4.6.1 taker entry flow.
func (e *Engine) EnterMarket(ctx context.Context, signal types.TradeSignal) error {
	side := signal.Side
	s, err := e.computeSizing(ctx, side, signal.EntryPrice)
	if err != nil {
		return err
	}

	order, err := e.orders.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Symbol:      e.symbol,
		Side:        side,
		OrderType:   types.Market,
		Qty:         s.qty,
		TimeInForce: types.IOC,
		StopLoss:    s.stopLoss,
		OrderLinkID: signal.OrderLinkID,
	})
	if err != nil {
		return fmt.Errorf("place_order (market): %w", err)
	}

	if err := e.waitForPosition(ctx, side, s.qty); err != nil {
		return err
	}

	mirror := newTPMirror(side, s.takeProfit, e.trading.ConstantTakeProfit, e.orders, e.book, e.instrument.TickSize, e.logger)
	if err := mirror.poll(ctx, order, e.drainExecutionsFor(order.OrderID)); err != nil {
		e.logger.Error("tp mirroring failed after market entry", "error", err)
	}
	if err := mirror.finalize(ctx, order, e.drainExecutionsFor(order.OrderID)); err != nil {
		e.logger.Error("tp mirroring finalization failed", "error", err)
	}

	long, short := e.positions.Snapshot()
	avgEntry := long.EntryPrice
	if side == types.Sell {
		avgEntry = short.EntryPrice
	}
	recomputedSL := money.RoundPriceNearest(
		money.PctOffset(avgEntry, decimal.NewFromFloat(e.trading.StopLoss), side == types.Sell),
		e.instrument.TickSize,
	)
	if !recomputedSL.Equal(s.stopLoss) {
		if err := e.positions.SetTradingStop(ctx, side, recomputedSL); err != nil {
			e.logger.Error("set_trading_stop after market entry failed", "error", err)
		}
	}

	return nil
}

func (e *Engine) waitForPosition(ctx context.Context, side types.Side, qty decimal.Decimal) error {
	deadline := time.Now().Add(sanityTimeout)
	for {
		if e.positions.InPosition(side) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("fatal: position for side %s never appeared within sanity timeout", side)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pauseTime):
		}
	}
}

// drainExecutionsFor returns a closure that non-blockingly drains the
// execution channel for fills matching orderID, used by the TP mirror.
func (e *Engine) drainExecutionsFor(orderID string) func() []types.Execution {
	return func() []types.Execution {
		var out []types.Execution
		for {
			select {
			case ex, ok := <-e.executions:
				if !ok {
					return out
				}
				if ex.OrderID == orderID {
					out = append(out, ex)
				}
			default:
				return out
			}
		}
	}
}

// EnterLimit implements the 4.6.2 maker entry state machine. Parameter order
// is (side, qty, price, stopLoss) per the Design Notes' Open Question
// resolution; stopLoss is pre-computed by the caller and held constant
// across all re-prices within this entry session.
func (e *Engine) EnterLimit(ctx context.Context, side types.Side, qty, price, stopLoss decimal.Decimal) error {
	tradeStartPrice := price
	startTime := time.Now()

	spreadTolerance := e.instrument.TickSize.Mul(decimal.NewFromInt(2))
	top, err := e.waitForNarrowSpread(ctx, spreadTolerance)
	if err != nil {
		return err
	}
	if side == types.Buy {
		tradeStartPrice = top.bid
	} else {
		tradeStartPrice = top.ask
	}
	price = tradeStartPrice

	takeProfitAdd := side == types.Buy
	takeProfit := money.RoundPriceNearest(
		money.PctOffset(tradeStartPrice, decimal.NewFromFloat(e.trading.TakeProfit), takeProfitAdd),
		e.instrument.TickSize,
	)

	order, err := e.placeLimitAt(ctx, side, qty, price, stopLoss, "")
	if err != nil {
		return fmt.Errorf("place_order (limit): %w", err)
	}

	mirror := newTPMirror(side, takeProfit, e.trading.ConstantTakeProfit, e.orders, e.book, e.instrument.TickSize, e.logger)

	for {
		deadline := time.Now().Add(sanityTimeout)
		for order.OrderStatus == "" {
			if time.Now().After(deadline) {
				return fmt.Errorf("fatal: order %s never became visible in topic cache", order.OrderID)
			}
			refreshed, err := e.orders.GetOrderByIDHybrid(ctx, order.OrderID)
			if err == nil && refreshed != nil {
				order = refreshed
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pauseTime):
			}
		}

		ageExceeded := time.Since(startTime) > time.Duration(e.limitCfg.AbortTimeCandleRatio*float64(e.intervalSeconds()))*time.Second
		bid, ask, _, _, err := e.book.Top1(ctx, 0)
		if err != nil {
			return fmt.Errorf("top1: %w", err)
		}
		currentTop := bid
		if side == types.Sell {
			currentTop = ask
		}
		deviation := currentTop.Sub(tradeStartPrice).Abs()
		threshold := tradeStartPrice.Mul(decimal.NewFromFloat(e.limitCfg.AbortPricePct / 100))
		priceDeviationExceeded := deviation.GreaterThan(threshold)

		if ageExceeded || priceDeviationExceeded {
			_ = e.orders.CancelActiveOrder(ctx, order.OrderID)
			order = e.waitTerminal(ctx, order.OrderID)
			return mirror.finalize(ctx, order, e.drainExecutionsFor(order.OrderID))
		}

		switch order.OrderStatus {
		case types.Created, types.New, types.PartiallyFilled:
			newPrice := currentTop
			moved := (side == types.Buy && newPrice.GreaterThan(order.Price)) ||
				(side == types.Sell && newPrice.LessThan(order.Price))
			if moved {
				remaining := order.Remaining()
				if err := e.orders.ReplaceActiveOrder(ctx, order.OrderID, newPrice, remaining, stopLoss); err != nil {
					e.logger.Warn("replace_active_order failed", "error", err)
				}
			}
			if err := mirror.poll(ctx, order, e.drainExecutionsFor(order.OrderID)); err != nil {
				e.logger.Error("tp mirroring failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pauseTime):
			}
			refreshed, err := e.orders.GetOrderByIDHybrid(ctx, order.OrderID)
			if err == nil && refreshed != nil {
				order = refreshed
			}
			continue

		case types.Filled:
			return mirror.finalize(ctx, order, e.drainExecutionsFor(order.OrderID))

		case types.Rejected, types.PendingCancel, types.Cancelled:
			if err := mirror.finalize(ctx, order, e.drainExecutionsFor(order.OrderID)); err != nil {
				e.logger.Error("tp mirroring failed on reopen", "error", err)
			}
			newOrder, err := e.placeLimitAt(ctx, side, qty, currentTop, stopLoss, "")
			if err != nil {
				return fmt.Errorf("re-place after %s: %w", order.OrderStatus, err)
			}
			order = newOrder
			mirror = newTPMirror(side, takeProfit, e.trading.ConstantTakeProfit, e.orders, e.book, e.instrument.TickSize, e.logger)
			continue
		}
	}
}

type topOfBook struct {
	bid, ask decimal.Decimal
}

// waitForNarrowSpread re-reads the book until the spread is within tolerance,
// per 4.6.2's placement precondition.
func (e *Engine) waitForNarrowSpread(ctx context.Context, tolerance decimal.Decimal) (topOfBook, error) {
	deadline := time.Now().Add(sanityTimeout)
	for {
		bid, ask, spread, _, err := e.book.Top1(ctx, 0)
		if err != nil {
			return topOfBook{}, fmt.Errorf("top1: %w", err)
		}
		if spread.LessThanOrEqual(tolerance) {
			return topOfBook{bid: bid, ask: ask}, nil
		}
		if time.Now().After(deadline) {
			return topOfBook{}, fmt.Errorf("fatal: spread never narrowed to tolerance within sanity timeout")
		}
		select {
		case <-ctx.Done():
			return topOfBook{}, ctx.Err()
		case <-time.After(pauseTime):
		}
	}
}

func (e *Engine) placeLimitAt(ctx context.Context, side types.Side, qty, price, stopLoss decimal.Decimal, linkID string) (*types.Order, error) {
	tick := e.instrument.TickSize
	entryPrice := money.OneTickInside(price, tick, side == types.Buy)
	return e.orders.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Symbol:      e.symbol,
		Side:        side,
		OrderType:   types.Limit,
		Qty:         qty,
		Price:       entryPrice,
		TimeInForce: types.PostOnly,
		StopLoss:    stopLoss,
		OrderLinkID: linkID,
	})
}

func (e *Engine) waitTerminal(ctx context.Context, orderID string) *types.Order {
	deadline := time.Now().Add(sanityTimeout)
	for {
		order, err := e.orders.GetOrderByIDHybrid(ctx, orderID)
		if err == nil && order.OrderStatus.IsTerminal() {
			return order
		}
		if time.Now().After(deadline) {
			e.logger.Error("fatal: order never reached terminal status within sanity timeout", "order_id", orderID)
			return order
		}
		select {
		case <-ctx.Done():
			return order
		case <-time.After(pauseTime):
		}
	}
}

// intervalSeconds converts the configured trading interval to seconds for the
// abort-time math, falling back to 60 when the interval label does not parse.
func (e *Engine) intervalSeconds() int64 {
	seconds, err := config.IntervalSeconds(e.trading.Interval)
	if err != nil {
		return 60
	}
	return seconds
}
