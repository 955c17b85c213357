package entry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bybit-perp-bot/internal/exchange"
	"bybit-perp-bot/pkg/types"
)

type fakeOrderMgr struct {
	placed    []exchange.PlaceOrderRequest
	replaced  []struct {
		orderID    string
		price, qty decimal.Decimal
	}
	cancelled  []string
	byID       map[string]*types.Order
	nextID     int
	replaceErr error
}

func newFakeOrderMgr() *fakeOrderMgr {
	return &fakeOrderMgr{byID: make(map[string]*types.Order)}
}

func (f *fakeOrderMgr) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (*types.Order, error) {
	f.nextID++
	f.placed = append(f.placed, req)
	o := &types.Order{
		OrderID: "tp" + string(rune('0'+f.nextID)), Symbol: req.Symbol, Side: req.Side,
		OrderType: req.OrderType, Price: req.Price, Qty: req.Qty, OrderStatus: types.New,
	}
	f.byID[o.OrderID] = o
	return o, nil
}

func (f *fakeOrderMgr) ReplaceActiveOrder(ctx context.Context, orderID string, price, qty, stopLoss decimal.Decimal) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.replaced = append(f.replaced, struct {
		orderID    string
		price, qty decimal.Decimal
	}{orderID, price, qty})
	if o, ok := f.byID[orderID]; ok {
		o.Price = price
		o.Qty = qty
	}
	return nil
}

func (f *fakeOrderMgr) CancelActiveOrder(ctx context.Context, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeOrderMgr) GetOrderByIDHybrid(ctx context.Context, orderID string) (*types.Order, error) {
	if o, ok := f.byID[orderID]; ok {
		return o, nil
	}
	return &types.Order{OrderID: orderID}, nil
}

func tpTestLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func execsOf(execs ...types.Execution) func() []types.Execution {
	return func() []types.Execution { return execs }
}

func TestMirrorConstantPlacesThenRequantifies(t *testing.T) {
	mgr := newFakeOrderMgr()
	m := newTPMirror(types.Buy, decimal.NewFromInt(110), true, mgr, staticBook(decimal.NewFromInt(100), decimal.NewFromFloat(100.5)), decimal.NewFromFloat(0.5), tpTestLogger())

	entry := &types.Order{OrderID: "e1", Symbol: "BTCUSDT", Price: decimal.NewFromInt(100), CumExecQty: decimal.NewFromInt(1)}
	require.NoError(t, m.poll(context.Background(), entry, execsOf(types.Execution{ExecID: "x1", OrderID: "e1", ExecQty: decimal.NewFromInt(1)})))
	require.Len(t, mgr.placed, 1)
	assert.Equal(t, types.Sell, mgr.placed[0].Side, "tp side must be opposite of entry side")
	assert.True(t, mgr.placed[0].ReduceOnly)

	entry.CumExecQty = decimal.NewFromInt(2)
	require.NoError(t, m.poll(context.Background(), entry, execsOf(types.Execution{ExecID: "x2", OrderID: "e1", ExecQty: decimal.NewFromInt(1)})))
	require.Len(t, mgr.replaced, 1)
	assert.True(t, mgr.replaced[0].qty.Equal(decimal.NewFromInt(2)))
}

func TestMirrorPerFillGroupsByOrderAndPrice(t *testing.T) {
	mgr := newFakeOrderMgr()
	m := newTPMirror(types.Buy, decimal.Zero, false, mgr, staticBook(decimal.NewFromInt(100), decimal.NewFromFloat(100.5)), decimal.NewFromFloat(0.5), tpTestLogger())

	entry := &types.Order{OrderID: "e1", Symbol: "BTCUSDT", CumExecQty: decimal.NewFromInt(2)}
	execs := execsOf(
		types.Execution{ExecID: "x1", OrderID: "e1", ExecPrice: decimal.NewFromInt(100), ExecQty: decimal.NewFromFloat(0.5)},
		types.Execution{ExecID: "x2", OrderID: "e1", ExecPrice: decimal.NewFromInt(100), ExecQty: decimal.NewFromFloat(0.5)},
		types.Execution{ExecID: "x3", OrderID: "e1", ExecPrice: decimal.NewFromInt(101), ExecQty: decimal.NewFromInt(1)},
	)
	require.NoError(t, m.poll(context.Background(), entry, execs))
	require.Len(t, mgr.placed, 2, "executions at distinct prices must each get their own tp order")
}

func TestFinalizePlacesCorrectionOrderForGap(t *testing.T) {
	mgr := newFakeOrderMgr()
	m := newTPMirror(types.Buy, decimal.NewFromInt(110), true, mgr, staticBook(decimal.NewFromInt(100), decimal.NewFromFloat(100.5)), decimal.NewFromFloat(0.5), tpTestLogger())

	entry := &types.Order{OrderID: "e1", Symbol: "BTCUSDT", Price: decimal.NewFromInt(100), CumExecQty: decimal.NewFromInt(1)}
	require.NoError(t, m.finalize(context.Background(), entry, execsOf()))

	require.Len(t, mgr.placed, 1, "finalize must place a correction order when tp_cum_qty is behind cum_exec_qty")
	assert.True(t, mgr.placed[0].Qty.Equal(decimal.NewFromInt(1)))
}

func TestMirrorConstantAdjustsPriceWhenMarketHasCrossedTakeProfit(t *testing.T) {
	mgr := newFakeOrderMgr()
	// Entry is long, tp side is sell at 110, but the book has already run past
	// it: a resting sell at 110 would immediately cross the bid.
	book := staticBook(decimal.NewFromInt(112), decimal.NewFromFloat(112.5))
	m := newTPMirror(types.Buy, decimal.NewFromInt(110), true, mgr, book, decimal.NewFromFloat(0.5), tpTestLogger())

	entry := &types.Order{OrderID: "e1", Symbol: "BTCUSDT", Price: decimal.NewFromInt(100), CumExecQty: decimal.NewFromInt(1)}
	require.NoError(t, m.poll(context.Background(), entry, execsOf(types.Execution{ExecID: "x1", OrderID: "e1", ExecQty: decimal.NewFromInt(1)})))

	require.Len(t, mgr.placed, 1)
	assert.True(t, mgr.placed[0].Price.Equal(decimal.NewFromFloat(112.5)),
		"crossed market must place one tick beyond the current bid instead of the stale take_profit")
}

func TestMirrorConstantFallsBackToNewOrderWhenReplaceFails(t *testing.T) {
	mgr := newFakeOrderMgr()
	book := staticBook(decimal.NewFromInt(100), decimal.NewFromFloat(100.5))
	m := newTPMirror(types.Buy, decimal.NewFromInt(110), true, mgr, book, decimal.NewFromFloat(0.5), tpTestLogger())

	entry := &types.Order{OrderID: "e1", Symbol: "BTCUSDT", Price: decimal.NewFromInt(100), CumExecQty: decimal.NewFromInt(1)}
	require.NoError(t, m.poll(context.Background(), entry, execsOf(types.Execution{ExecID: "x1", OrderID: "e1", ExecQty: decimal.NewFromInt(1)})))
	require.Len(t, mgr.placed, 1, "initial tp order")

	mgr.replaceErr = errors.New("order not exists")
	entry.CumExecQty = decimal.NewFromInt(3)
	require.NoError(t, m.poll(context.Background(), entry, execsOf(types.Execution{ExecID: "x2", OrderID: "e1", ExecQty: decimal.NewFromInt(2)})))

	require.Len(t, mgr.placed, 2, "replace failure must fall back to placing a new order for the missing qty")
	assert.True(t, mgr.placed[1].Qty.Equal(decimal.NewFromInt(2)), "fallback order must cover only the gap, not the full position")
}

func TestFinalizeNoopWhenFullyMirrored(t *testing.T) {
	mgr := newFakeOrderMgr()
	m := newTPMirror(types.Buy, decimal.NewFromInt(110), true, mgr, staticBook(decimal.NewFromInt(100), decimal.NewFromFloat(100.5)), decimal.NewFromFloat(0.5), tpTestLogger())

	entry := &types.Order{OrderID: "e1", Symbol: "BTCUSDT", Price: decimal.NewFromInt(100), CumExecQty: decimal.NewFromInt(1)}
	require.NoError(t, m.poll(context.Background(), entry, execsOf(types.Execution{ExecID: "x1", OrderID: "e1", ExecQty: decimal.NewFromInt(1)})))
	mgr.placed = nil

	require.NoError(t, m.finalize(context.Background(), entry, execsOf()))
	assert.Empty(t, mgr.placed, "no correction order needed once tp_cum_qty matches cum_exec_qty")
}
