package persistence

import (
	"context"
	"fmt"
	"log/slog"

	"bybit-perp-bot/pkg/types"
)

// Source is the subset of exchange.Client PersistenceSync pulls venue
// history from.
type Source interface {
	GetActiveOrder(ctx context.Context, symbol string) ([]types.Order, error)
	GetConditionalOrder(ctx context.Context, symbol string) ([]types.ConditionalOrder, error)
	ClosedProfitAndLoss(ctx context.Context, symbol string, limit int) ([]types.ClosedPnL, error)
	UserTradeRecords(ctx context.Context, symbol string, limit int) ([]types.Execution, error)
}

const historyPageLimit = 200

// Sync mirrors venue order/fill/signal history into Postgres.
type Sync struct {
	db     *DB
	source Source
	logger *slog.Logger
}

// New creates a Sync.
func New(db *DB, source Source, logger *slog.Logger) *Sync {
	return &Sync{db: db, source: source, logger: logger.With("component", "persistence_sync")}
}

// RecordOrder upserts a single order row, satisfying orders.Recorder for the
// live streaming insert path (as opposed to the periodic bulk SyncOrders).
func (s *Sync) RecordOrder(ctx context.Context, o types.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO "Orders" (order_id, user_id, symbol, side, order_type, price, qty, time_in_force,
			order_status, take_profit, stop_loss, last_exec_price, cum_exec_qty, cum_exec_value, cum_exec_fee,
			order_link_id, reduce_only, close_on_trigger, created_time, updated_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		ON CONFLICT (order_id) DO UPDATE SET
			order_status = EXCLUDED.order_status,
			last_exec_price = EXCLUDED.last_exec_price,
			cum_exec_qty = EXCLUDED.cum_exec_qty,
			cum_exec_value = EXCLUDED.cum_exec_value,
			cum_exec_fee = EXCLUDED.cum_exec_fee,
			updated_time = EXCLUDED.updated_time
	`, o.OrderID, o.UserID, o.Symbol, string(o.Side), string(o.OrderType), o.Price, o.Qty,
		string(o.TimeInForce), string(o.OrderStatus), o.TakeProfit, o.StopLoss,
		o.LastExecPrice, o.CumExecQty, o.CumExecValue,
		o.CumExecFee, o.OrderLinkID, o.ReduceOnly, o.CloseOnTrigger, o.CreatedTime, o.UpdatedTime)
	if err != nil {
		return fmt.Errorf("record order: %w", err)
	}
	return nil
}

// RecordSignal inserts one TradeSignals row. The table is append-only: a
// signal is generated once by the strategy and never revised.
func (s *Sync) RecordSignal(ctx context.Context, sig types.TradeSignal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO "TradeSignals" (id_timestamp, date_time, pair, interval, signal, side, entry_price,
			indicator_values, details, order_link_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, sig.IDTimestamp, sig.DateTime, sig.Pair, sig.Interval, string(sig.SignalName), string(sig.Side),
		sig.EntryPrice, sig.IndicatorValues, sig.Details, sig.OrderLinkID)
	if err != nil {
		return fmt.Errorf("record signal: %w", err)
	}
	return nil
}

// SyncAll runs every per-table sync routine for pair, in the order the
// original system does: orders, closed P&L, user trades, conditional orders.
func (s *Sync) SyncAll(ctx context.Context, pair string) error {
	if err := s.SyncOrders(ctx, pair); err != nil {
		return err
	}
	if err := s.SyncClosedPnL(ctx, pair); err != nil {
		return err
	}
	if err := s.SyncUserTrades(ctx, pair); err != nil {
		return err
	}
	if err := s.SyncConditionalOrders(ctx, pair); err != nil {
		return err
	}
	return nil
}

// SyncOrders deletes local rows whose status is not terminal (they may have
// been updated venue-side since the last sync) and re-inserts every
// venue-reported order whose primary key is not already present.
func (s *Sync) SyncOrders(ctx context.Context, pair string) error {
	s.logger.Info("syncing order records", "pair", pair)
	orders, err := s.source.GetActiveOrder(ctx, pair)
	if err != nil {
		return fmt.Errorf("fetch orders: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM "Orders" WHERE symbol = $1 AND order_status NOT IN ('Filled', 'Cancelled')
	`, pair); err != nil {
		return fmt.Errorf("delete non-terminal orders: %w", err)
	}

	for _, o := range orders {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO "Orders" (order_id, user_id, symbol, side, order_type, price, qty, time_in_force,
				order_status, take_profit, stop_loss, last_exec_price, cum_exec_qty, cum_exec_value, cum_exec_fee,
				order_link_id, reduce_only, close_on_trigger, created_time, updated_time)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
			ON CONFLICT (order_id) DO NOTHING
		`, o.OrderID, o.UserID, o.Symbol, string(o.Side), string(o.OrderType), o.Price, o.Qty,
			string(o.TimeInForce), string(o.OrderStatus), o.TakeProfit, o.StopLoss,
			o.LastExecPrice, o.CumExecQty, o.CumExecValue,
			o.CumExecFee, o.OrderLinkID, o.ReduceOnly, o.CloseOnTrigger, o.CreatedTime, o.UpdatedTime); err != nil {
			return fmt.Errorf("insert order %s: %w", o.OrderID, err)
		}
	}

	return tx.Commit()
}

// SyncConditionalOrders mirrors SyncOrders for the stop/conditional order table.
func (s *Sync) SyncConditionalOrders(ctx context.Context, pair string) error {
	s.logger.Info("syncing conditional order records", "pair", pair)
	orders, err := s.source.GetConditionalOrder(ctx, pair)
	if err != nil {
		return fmt.Errorf("fetch conditional orders: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM "ConditionalOrders" WHERE symbol = $1 AND order_status NOT IN ('Filled', 'Cancelled')
	`, pair); err != nil {
		return fmt.Errorf("delete non-terminal conditional orders: %w", err)
	}

	for _, o := range orders {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO "ConditionalOrders" (stop_order_id, user_id, symbol, side, order_type, price, qty,
				time_in_force, order_status, trigger_price, order_link_id, created_time, updated_time)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (stop_order_id) DO NOTHING
		`, o.StopOrderID, o.UserID, o.Symbol, string(o.Side), string(o.OrderType), o.Price, o.Qty,
			string(o.TimeInForce), string(o.OrderStatus), o.TriggerPrice, o.OrderLinkID,
			o.CreatedTime, o.UpdatedTime); err != nil {
			return fmt.Errorf("insert conditional order %s: %w", o.StopOrderID, err)
		}
	}

	return tx.Commit()
}

// SyncClosedPnL is append-only: existing primary keys are skipped, never
// deleted or overwritten.
func (s *Sync) SyncClosedPnL(ctx context.Context, pair string) error {
	s.logger.Info("syncing closed pnl records", "pair", pair)
	records, err := s.source.ClosedProfitAndLoss(ctx, pair, historyPageLimit)
	if err != nil {
		return fmt.Errorf("fetch closed pnl: %w", err)
	}

	for _, r := range records {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO "ClosedPnL" (id, user_id, symbol, order_id, side, qty, order_price, order_type,
				exec_type, closed_size, cum_entry_value, avg_entry_price, cum_exit_value, avg_exit_price,
				closed_pnl, fill_count, leverage, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, r.UserID, r.Symbol, r.OrderID, string(r.Side), r.Qty, r.OrderPrice,
			string(r.OrderType), r.ExecType, r.ClosedSize, r.CumEntryValue,
			r.AvgEntryPrice, r.CumExitValue, r.AvgExitPrice,
			r.ClosedPnl, r.FillCount, r.Leverage, r.CreatedAt); err != nil {
			return fmt.Errorf("insert closed pnl %d: %w", r.ID, err)
		}
	}
	return nil
}

// SyncUserTrades is append-only, keyed on exec_id.
func (s *Sync) SyncUserTrades(ctx context.Context, pair string) error {
	s.logger.Info("syncing user trade records", "pair", pair)
	execs, err := s.source.UserTradeRecords(ctx, pair, historyPageLimit)
	if err != nil {
		return fmt.Errorf("fetch user trades: %w", err)
	}

	for _, e := range execs {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO "UserTrades" (exec_id, order_id, side, symbol, order_price, order_qty, order_type,
				fee_rate, exec_price, exec_type, exec_qty, exec_fee, exec_value, is_maker, trade_time)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			ON CONFLICT (exec_id) DO NOTHING
		`, e.ExecID, e.OrderID, string(e.Side), e.Symbol, e.OrderPrice, e.OrderQty,
			string(e.OrderType), e.FeeRate, e.ExecPrice, e.ExecType,
			e.ExecQty, e.ExecFee, e.ExecValue, e.IsMaker,
			e.TradeTimeMs); err != nil {
			return fmt.Errorf("insert user trade %s: %w", e.ExecID, err)
		}
	}
	return nil
}
