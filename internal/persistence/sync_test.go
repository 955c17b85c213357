package persistence

import (
	"context"
	"io"
	"log/slog"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bybit-perp-bot/pkg/types"
)

type fakeSource struct {
	orders      []types.Order
	conditional []types.ConditionalOrder
	closedPnl   []types.ClosedPnL
	userTrades  []types.Execution
}

func (s *fakeSource) GetActiveOrder(ctx context.Context, symbol string) ([]types.Order, error) {
	return s.orders, nil
}
func (s *fakeSource) GetConditionalOrder(ctx context.Context, symbol string) ([]types.ConditionalOrder, error) {
	return s.conditional, nil
}
func (s *fakeSource) ClosedProfitAndLoss(ctx context.Context, symbol string, limit int) ([]types.ClosedPnL, error) {
	return s.closedPnl, nil
}
func (s *fakeSource) UserTradeRecords(ctx context.Context, symbol string, limit int) ([]types.Execution, error) {
	return s.userTrades, nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSyncOrdersDeletesNonTerminalThenInserts(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db := &DB{DB: sqlDB}
	source := &fakeSource{orders: []types.Order{
		{OrderID: "o1", Symbol: "BTCUSDT", Side: types.Buy, OrderType: types.Limit, Price: decimal.NewFromInt(100),
			Qty: decimal.NewFromInt(1), TimeInForce: types.GTC, OrderStatus: types.Filled},
	}}
	s := New(db, source, testLogger())

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "Orders"`).WithArgs("BTCUSDT").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "Orders"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.SyncOrders(context.Background(), "BTCUSDT"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncClosedPnLSkipsExistingPrimaryKeys(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db := &DB{DB: sqlDB}
	source := &fakeSource{closedPnl: []types.ClosedPnL{
		{ID: 1, Symbol: "BTCUSDT", Side: types.Buy, OrderType: types.Limit},
	}}
	s := New(db, source, testLogger())

	mock.ExpectExec(`INSERT INTO "ClosedPnL"`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.SyncClosedPnL(context.Background(), "BTCUSDT"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncAllRunsEveryTableInOrder(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db := &DB{DB: sqlDB}
	s := New(db, &fakeSource{}, testLogger())

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "Orders"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "ConditionalOrders"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, s.SyncAll(context.Background(), "BTCUSDT"))
	require.NoError(t, mock.ExpectationsWereMet())
}
