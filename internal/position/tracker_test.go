package position

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bybit-perp-bot/pkg/types"
)

type fakeGateway struct {
	positions       []types.Position
	leverageCalls   int
	lastLeverage    int
	setStopCalls    int
}

func (g *fakeGateway) MyPosition(ctx context.Context, symbol string) ([]types.Position, error) {
	return g.positions, nil
}

func (g *fakeGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	g.leverageCalls++
	g.lastLeverage = leverage
	return nil
}

func (g *fakeGateway) SetTradingStop(ctx context.Context, symbol string, side types.Side, stopLoss decimal.Decimal) error {
	g.setStopCalls++
	return nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestReconcileLeverageCallsWhenFlat(t *testing.T) {
	gw := &fakeGateway{}
	tr := New("BTCUSDT", gw, testLogger())

	require.NoError(t, tr.ReconcileLeverage(context.Background(), 10))
	assert.Equal(t, 1, gw.leverageCalls)
	assert.Equal(t, 10, gw.lastLeverage)
}

func TestReconcileLeverageSkipsWhenPositionOpen(t *testing.T) {
	gw := &fakeGateway{}
	tr := New("BTCUSDT", gw, testLogger())
	tr.OnUpdate(types.Position{Symbol: "BTCUSDT", Side: types.Buy, Size: decimal.NewFromInt(1), Leverage: decimal.NewFromInt(5)})

	require.NoError(t, tr.ReconcileLeverage(context.Background(), 10))
	assert.Equal(t, 0, gw.leverageCalls, "must not adjust leverage while a position is open")
}

func TestInPosition(t *testing.T) {
	gw := &fakeGateway{}
	tr := New("BTCUSDT", gw, testLogger())
	assert.False(t, tr.InPosition())

	tr.OnUpdate(types.Position{Symbol: "BTCUSDT", Side: types.Buy, Size: decimal.NewFromInt(1)})
	assert.True(t, tr.InPosition())
	assert.True(t, tr.InPosition(types.Buy))
	assert.False(t, tr.InPosition(types.Sell))
}

func TestRefreshFromREST(t *testing.T) {
	gw := &fakeGateway{positions: []types.Position{{Symbol: "BTCUSDT", Side: types.Sell, Size: decimal.NewFromInt(2)}}}
	tr := New("BTCUSDT", gw, testLogger())

	require.NoError(t, tr.RefreshFromREST(context.Background()))
	assert.True(t, tr.InPosition(types.Sell))
}
