package entry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"bybit-perp-bot/internal/exchange"
	"bybit-perp-bot/pkg/types"
)

// tpMirror tracks the reduce-only take-profit order(s) mirroring an entry
// order's fills. It owns tp_order_id/tp_cum_qty state for the duration of one
// trade, per the dynamic take-profit mirroring contract.
type tpMirror struct {
	side       types.Side
	constant   bool
	takeProfit decimal.Decimal // fixed target price; also used by finalize under both policies

	orderMgr OrderManager
	book     Book
	tick     decimal.Decimal
	logger   *slog.Logger

	tpOrderID string
	tpCumQty  decimal.Decimal
	mirrored  map[string]bool // execIDs already accounted for
}

func newTPMirror(side types.Side, takeProfit decimal.Decimal, constant bool, orderMgr OrderManager, book Book, tick decimal.Decimal, logger *slog.Logger) *tpMirror {
	return &tpMirror{
		side:       side,
		constant:   constant,
		takeProfit: takeProfit,
		orderMgr:   orderMgr,
		book:       book,
		tick:       tick,
		logger:     logger.With("component", "tp_mirror"),
		tpCumQty:   decimal.Zero,
		mirrored:   make(map[string]bool),
	}
}

// tpSide is the opposite side of the entry, since TP orders close the
// position rather than add to it.
func (m *tpMirror) tpSide() types.Side {
	return m.side.Opposite()
}

// poll re-quantifies the TP mirror against newly observed executions on the
// entry order. Called after every order-status check in both the market and
// limit entry flows.
func (m *tpMirror) poll(ctx context.Context, order *types.Order, fetchExecutions func() []types.Execution) error {
	fresh := m.newExecutions(fetchExecutions())
	if len(fresh) == 0 {
		return nil
	}

	if m.constant {
		return m.mirrorConstant(ctx, order)
	}
	return m.mirrorPerFill(ctx, order.Symbol, fresh)
}

// newExecutions filters out executions already folded into tp_cum_qty.
func (m *tpMirror) newExecutions(execs []types.Execution) []types.Execution {
	var fresh []types.Execution
	for _, ex := range execs {
		if m.mirrored[ex.ExecID] {
			continue
		}
		m.mirrored[ex.ExecID] = true
		fresh = append(fresh, ex)
	}
	return fresh
}

// mirrorConstant maintains a single reduce-only limit order at takeProfit,
// re-quantified to the entry order's current cumulative fill size. If the
// current market has already crossed takeProfit, the order is placed one
// tick beyond the current price instead so it never crosses the spread. If
// the replace fails because the resting tp order was already filled or
// cancelled venue-side, a new order is placed for the missing quantity
// rather than leaving the gap unmirrored.
func (m *tpMirror) mirrorConstant(ctx context.Context, order *types.Order) error {
	qty := order.CumExecQty
	if qty.IsZero() {
		return nil
	}

	price := m.tpPrice(ctx)

	if m.tpOrderID == "" {
		placed, err := m.placeTPOrder(ctx, order.Symbol, qty, price)
		if err != nil {
			return fmt.Errorf("place tp order: %w", err)
		}
		m.tpOrderID = placed.OrderID
		m.tpCumQty = qty
		return nil
	}

	if qty.Equal(m.tpCumQty) {
		return nil
	}
	if err := m.orderMgr.ReplaceActiveOrder(ctx, m.tpOrderID, price, qty, decimal.Zero); err != nil {
		m.logger.Warn("replace tp order failed, placing new order for missing qty", "error", err)
		gap := qty.Sub(m.tpCumQty)
		if gap.IsPositive() {
			placed, placeErr := m.placeTPOrder(ctx, order.Symbol, gap, price)
			if placeErr != nil {
				return fmt.Errorf("place tp order after failed replace: %w", placeErr)
			}
			m.tpOrderID = placed.OrderID
		}
		m.tpCumQty = qty
		return nil
	}
	m.tpCumQty = qty
	return nil
}

func (m *tpMirror) placeTPOrder(ctx context.Context, symbol string, qty, price decimal.Decimal) (*types.Order, error) {
	return m.orderMgr.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Symbol:      symbol,
		Side:        m.tpSide(),
		OrderType:   types.Limit,
		Qty:         qty,
		Price:       price,
		TimeInForce: types.GTC,
		ReduceOnly:  true,
	})
}

// tpPrice returns takeProfit, shifted one tick beyond the current top-of-book
// price if the market already crossed it, so the resting tp order is never
// immediately marketable against the book it is meant to close into.
func (m *tpMirror) tpPrice(ctx context.Context) decimal.Decimal {
	if m.book == nil {
		return m.takeProfit
	}
	bid, ask, _, _, err := m.book.Top1(ctx, 0)
	if err != nil {
		m.logger.Warn("top1 failed while pricing tp order, using configured take_profit", "error", err)
		return m.takeProfit
	}
	if m.tpSide() == types.Sell {
		if bid.GreaterThanOrEqual(m.takeProfit) {
			return bid.Add(m.tick)
		}
		return m.takeProfit
	}
	if ask.LessThanOrEqual(m.takeProfit) {
		return ask.Sub(m.tick)
	}
	return m.takeProfit
}

// mirrorPerFill groups unmirrored executions by (order_id, price) and places
// an independent reduce-only limit order per group, per the Per-fill policy.
func (m *tpMirror) mirrorPerFill(ctx context.Context, symbol string, fresh []types.Execution) error {
	type key struct {
		orderID string
		price   string
	}
	groups := make(map[key]decimal.Decimal)
	for _, ex := range fresh {
		k := key{orderID: ex.OrderID, price: ex.ExecPrice.String()}
		groups[k] = groups[k].Add(ex.ExecQty)
	}

	for k, qty := range groups {
		if _, err := m.orderMgr.PlaceOrder(ctx, exchange.PlaceOrderRequest{
			Symbol:      symbol,
			Side:        m.tpSide(),
			OrderType:   types.Limit,
			Qty:         qty,
			Price:       decimalFromString(k.price),
			TimeInForce: types.GTC,
			ReduceOnly:  true,
		}); err != nil {
			return fmt.Errorf("place per-fill tp order: %w", err)
		}
		m.tpCumQty = m.tpCumQty.Add(qty)
	}
	return nil
}

func decimalFromString(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// finalize runs a last poll, then validates tp_cum_qty against the entry
// order's final cumulative fill (validate_tp=true): if they differ, places a
// correction order for the gap so the position is never left unmirrored.
func (m *tpMirror) finalize(ctx context.Context, order *types.Order, fetchExecutions func() []types.Execution) error {
	if err := m.poll(ctx, order, fetchExecutions); err != nil {
		m.logger.Error("tp poll during finalize failed", "error", err)
	}

	gap := order.CumExecQty.Sub(m.tpCumQty)
	if gap.IsZero() || gap.IsNegative() {
		return nil
	}

	m.logger.Warn("tp_cum_qty behind cum_exec_qty at finalization, placing correction order",
		"gap", gap.String(), "tp_cum_qty", m.tpCumQty.String(), "cum_exec_qty", order.CumExecQty.String())

	price := m.takeProfit
	if price.IsZero() {
		price = order.Price
	}
	if _, err := m.orderMgr.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Symbol:      order.Symbol,
		Side:        m.tpSide(),
		OrderType:   types.Limit,
		Qty:         gap,
		Price:       price,
		TimeInForce: types.GTC,
		ReduceOnly:  true,
	}); err != nil {
		return fmt.Errorf("place tp correction order: %w", err)
	}
	m.tpCumQty = order.CumExecQty
	return nil
}
