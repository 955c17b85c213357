package orders

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bybit-perp-bot/internal/exchange"
	"bybit-perp-bot/pkg/types"
)

type fakeGateway struct {
	placeResult *types.Order
	placeErr    error
	lastReq     exchange.PlaceOrderRequest
}

func (g *fakeGateway) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (*types.Order, error) {
	g.lastReq = req
	if g.placeErr != nil {
		return nil, g.placeErr
	}
	if g.placeResult != nil {
		return g.placeResult, nil
	}
	return &types.Order{OrderID: "o1", OrderType: req.OrderType, Price: req.Price, Qty: req.Qty}, nil
}

func (g *fakeGateway) ReplaceActiveOrder(ctx context.Context, symbol, orderID string, price, qty, stopLoss decimal.Decimal) error {
	return nil
}
func (g *fakeGateway) CancelActiveOrder(ctx context.Context, symbol, orderID string) error { return nil }
func (g *fakeGateway) GetOrderByID(ctx context.Context, symbol, orderID string) (*types.Order, error) {
	return &types.Order{OrderID: orderID}, nil
}
func (g *fakeGateway) GetActiveOrder(ctx context.Context, symbol string) ([]types.Order, error) {
	return nil, nil
}
func (g *fakeGateway) GetConditionalOrder(ctx context.Context, symbol string) ([]types.ConditionalOrder, error) {
	return nil, nil
}

type fakeRecorder struct {
	recorded []types.Order
}

func (r *fakeRecorder) RecordOrder(ctx context.Context, order types.Order) error {
	r.recorded = append(r.recorded, order)
	return nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPlaceOrderZeroesPriceForMarket(t *testing.T) {
	gw := &fakeGateway{}
	rec := &fakeRecorder{}
	ch := make(chan types.Order)
	mgr := New("BTCUSDT", gw, ch, rec, testLogger())

	order, err := mgr.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{
		Symbol: "BTCUSDT", OrderType: types.Market, Price: decimal.NewFromInt(50000), Qty: decimal.NewFromInt(1),
	})

	require.NoError(t, err)
	assert.True(t, order.Price.IsZero())
	require.Len(t, rec.recorded, 1)
	assert.NotEmpty(t, gw.lastReq.OrderLinkID, "PlaceOrder should generate an order_link_id when none given")
}

func TestPlaceOrderKeepsPriceForLimit(t *testing.T) {
	gw := &fakeGateway{}
	ch := make(chan types.Order)
	mgr := New("BTCUSDT", gw, ch, nil, testLogger())

	order, err := mgr.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{
		Symbol: "BTCUSDT", OrderType: types.Limit, Price: decimal.NewFromInt(49000), Qty: decimal.NewFromInt(1),
	})

	require.NoError(t, err)
	assert.True(t, order.Price.Equal(decimal.NewFromInt(49000)))
}

func TestGetOrderByIDHybridPrefersTopic(t *testing.T) {
	gw := &fakeGateway{}
	ch := make(chan types.Order, 1)
	ch <- types.Order{OrderID: "o1", OrderStatus: types.New}
	mgr := New("BTCUSDT", gw, ch, nil, testLogger())

	order, err := mgr.GetOrderByIDHybrid(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, types.New, order.OrderStatus)
}

func TestGetOrderByIDHybridFallsBackToREST(t *testing.T) {
	gw := &fakeGateway{}
	ch := make(chan types.Order, 1)
	mgr := New("BTCUSDT", gw, ch, nil, testLogger())

	order, err := mgr.GetOrderByIDHybrid(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, "missing", order.OrderID)
}

func TestGetOrderByIDWSOnlyDoesNotFallBack(t *testing.T) {
	gw := &fakeGateway{}
	ch := make(chan types.Order, 1)
	mgr := New("BTCUSDT", gw, ch, nil, testLogger())

	_, found := mgr.GetOrderByIDWSOnly("missing")
	assert.False(t, found)
}
