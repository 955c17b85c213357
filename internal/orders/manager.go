// Package orders provides a thin CRUD layer over the exchange gateway for
// active and conditional orders, plus a post-processor that normalizes
// responses and optionally persists them.
package orders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bybit-perp-bot/internal/exchange"
	"bybit-perp-bot/pkg/types"
)

// Gateway is the subset of exchange.Client the manager needs.
type Gateway interface {
	PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (*types.Order, error)
	ReplaceActiveOrder(ctx context.Context, symbol, orderID string, price, qty, stopLoss decimal.Decimal) error
	CancelActiveOrder(ctx context.Context, symbol, orderID string) error
	GetOrderByID(ctx context.Context, symbol, orderID string) (*types.Order, error)
	GetActiveOrder(ctx context.Context, symbol string) ([]types.Order, error)
	GetConditionalOrder(ctx context.Context, symbol string) ([]types.ConditionalOrder, error)
}

// Recorder is the persistence hook a successful placement is optionally
// written through.
type Recorder interface {
	RecordOrder(ctx context.Context, order types.Order) error
}

// Manager provides CRUD over active/conditional orders plus the
// hybrid/ws-only order-status query strategy described in the spec.
type Manager struct {
	symbol   string
	gateway  Gateway
	recorder Recorder // may be nil
	orderCh  <-chan types.Order
	logger   *slog.Logger
}

// New creates a Manager. orderCh is the gateway's private order-topic
// channel, used by GetOrderByIDHybrid/WSOnly; recorder may be nil to skip
// persistence.
func New(symbol string, gateway Gateway, orderCh <-chan types.Order, recorder Recorder, logger *slog.Logger) *Manager {
	return &Manager{
		symbol:   symbol,
		gateway:  gateway,
		recorder: recorder,
		orderCh:  orderCh,
		logger:   logger.With("component", "order_manager"),
	}
}

// PlaceOrder submits an order and runs the post-processor on success: it
// normalizes the price field for market orders to zero, stamps localized
// timestamps, logs a human-readable line, and (if a recorder is configured)
// persists the normalized order.
func (m *Manager) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (*types.Order, error) {
	if req.OrderLinkID == "" {
		req.OrderLinkID = uuid.NewString()
	}

	order, err := m.gateway.PlaceOrder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("place_order: %w", err)
	}

	m.postProcess(order)
	if m.recorder != nil {
		if err := m.recorder.RecordOrder(ctx, *order); err != nil {
			m.logger.Warn("failed to persist order", "order_id", order.OrderID, "error", err)
		}
	}

	return order, nil
}

func (m *Manager) postProcess(order *types.Order) {
	if order.OrderType == types.Market {
		order.Price = decimal.Zero
	}
	now := time.Now()
	if order.CreatedTime.IsZero() {
		order.CreatedTime = now
	}
	order.UpdatedTime = now

	m.logger.Info("order placed",
		"order_id", order.OrderID,
		"order_link_id", order.OrderLinkID,
		"side", order.Side,
		"type", order.OrderType,
		"qty", order.Qty.String(),
		"price", order.Price.String(),
	)
}

// ReplaceActiveOrder amends a resting order's price/qty, resending stopLoss
// unchanged so the venue never drops the protective stop on a reprice.
func (m *Manager) ReplaceActiveOrder(ctx context.Context, orderID string, price, qty, stopLoss decimal.Decimal) error {
	return m.gateway.ReplaceActiveOrder(ctx, m.symbol, orderID, price, qty, stopLoss)
}

// CancelActiveOrder cancels a resting order.
func (m *Manager) CancelActiveOrder(ctx context.Context, orderID string) error {
	return m.gateway.CancelActiveOrder(ctx, m.symbol, orderID)
}

// GetActiveOrder lists open active orders.
func (m *Manager) GetActiveOrder(ctx context.Context) ([]types.Order, error) {
	return m.gateway.GetActiveOrder(ctx, m.symbol)
}

// GetConditionalOrder lists open conditional (stop) orders.
func (m *Manager) GetConditionalOrder(ctx context.Context) ([]types.ConditionalOrder, error) {
	return m.gateway.GetConditionalOrder(ctx, m.symbol)
}

// GetOrderByIDHybrid drains any buffered order-topic pushes for orderID
// first; if none is found it falls back to a real-time REST query.
func (m *Manager) GetOrderByIDHybrid(ctx context.Context, orderID string) (*types.Order, error) {
	if o, ok := m.drainTopicFor(orderID); ok {
		return o, nil
	}
	return m.gateway.GetOrderByID(ctx, m.symbol, orderID)
}

// GetOrderByIDWSOnly never falls back to REST; callers that must not block
// on a network round trip use this variant and accept a possible miss.
func (m *Manager) GetOrderByIDWSOnly(orderID string) (*types.Order, bool) {
	return m.drainTopicFor(orderID)
}

func (m *Manager) drainTopicFor(orderID string) (*types.Order, bool) {
	var found *types.Order
	for {
		select {
		case o, ok := <-m.orderCh:
			if !ok {
				return found, found != nil
			}
			cp := o
			if o.OrderID == orderID {
				found = &cp
			}
		default:
			return found, found != nil
		}
	}
}
