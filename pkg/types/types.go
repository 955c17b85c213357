// Package types defines the shared data model for the trading bot: candles, orders,
// positions, executions, and trade signals, plus the small enumerations that gate
// their valid states. All monetary and quantity fields use decimal.Decimal rather
// than float64 so precision survives the full path from websocket ingestion through
// persistence.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or position.
type Side string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType distinguishes market orders from resting limit orders.
type OrderType string

const (
	Market OrderType = "Market"
	Limit  OrderType = "Limit"
)

// TimeInForce is the venue time-in-force instruction for an order.
type TimeInForce string

const (
	GTC      TimeInForce = "GoodTillCancel"
	IOC      TimeInForce = "ImmediateOrCancel"
	FOK      TimeInForce = "FillOrKill"
	PostOnly TimeInForce = "PostOnly"
)

// OrderStatus is the venue-reported lifecycle state of an order.
type OrderStatus string

const (
	Created         OrderStatus = "Created"
	Rejected        OrderStatus = "Rejected"
	New             OrderStatus = "New"
	PartiallyFilled OrderStatus = "PartiallyFilled"
	Filled          OrderStatus = "Filled"
	Cancelled       OrderStatus = "Cancelled"
	PendingCancel   OrderStatus = "PendingCancel"
)

// IsTerminal reports whether the order can no longer transition further.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case Filled, Cancelled, Rejected:
		return true
	default:
		return false
	}
}

// Signal is the strategy's recommended action for the current bar.
type Signal string

const (
	EnterLong  Signal = "EnterLong"
	LongHold   Signal = "Long"
	ExitLong   Signal = "ExitLong"
	EnterShort Signal = "EnterShort"
	ShortHold  Signal = "Short"
	ExitShort  Signal = "ExitShort"
	NoTrade    Signal = "NoTrade"
)

// IsEntry reports whether the signal should cause TradeEntryEngine to act.
func (s Signal) IsEntry() bool {
	return s == EnterLong || s == EnterShort
}

// Side maps an entry signal to the order side it implies.
func (s Signal) Side() Side {
	if s == EnterShort {
		return Sell
	}
	return Buy
}

// Candle is one OHLCV bar.
type Candle struct {
	Start     int64 // epoch seconds, interval start
	End       int64 // epoch seconds, interval end
	Pair      string
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	Confirm   bool  // true iff the venue considers the candle closed
	Timestamp int64 // venue-assigned microsecond ordering key
}

// TradeSignal is the record persisted to the TradeSignals table and the payload
// passed out of a Strategy implementation.
type TradeSignal struct {
	IDTimestamp     int64 // epoch microseconds, doubles as identity with OrderLinkID
	DateTime        time.Time
	Pair            string
	Interval        string
	SignalName      Signal
	Side            Side
	EntryPrice      decimal.Decimal
	IndicatorValues string // free-form, strategy-defined
	Details         string
	OrderLinkID     string
}

// Order mirrors the venue's order record.
type Order struct {
	OrderID        string
	UserID         string
	Symbol         string
	Side           Side
	OrderType      OrderType
	Price          decimal.Decimal
	Qty            decimal.Decimal
	TimeInForce    TimeInForce
	OrderStatus    OrderStatus
	TakeProfit     decimal.Decimal
	StopLoss       decimal.Decimal
	LastExecPrice  decimal.Decimal
	CumExecQty     decimal.Decimal
	CumExecValue   decimal.Decimal
	CumExecFee     decimal.Decimal
	OrderLinkID    string
	ReduceOnly     bool
	CloseOnTrigger bool
	CreatedTime    time.Time
	UpdatedTime    time.Time
}

// Remaining returns Qty - CumExecQty, floored at zero.
func (o Order) Remaining() decimal.Decimal {
	r := o.Qty.Sub(o.CumExecQty)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// ConditionalOrder mirrors the venue's stop/conditional order record.
type ConditionalOrder struct {
	StopOrderID    string
	UserID         string
	Symbol         string
	Side           Side
	OrderType      OrderType
	Price          decimal.Decimal
	Qty            decimal.Decimal
	TimeInForce    TimeInForce
	OrderStatus    OrderStatus
	TriggerPrice   decimal.Decimal
	OrderLinkID    string
	CreatedTime    time.Time
	UpdatedTime    time.Time
	TakeProfit     decimal.Decimal
	StopLoss       decimal.Decimal
	TPTriggerBy    string
	SLTriggerBy    string
	BasePrice      decimal.Decimal
	TriggerBy      string
	ReduceOnly     bool
	CloseOnTrigger bool
}

// Position is indexed by (symbol, side); at most one per pair exists at a time.
type Position struct {
	Symbol        string
	Side          Side
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	Leverage      decimal.Decimal
	Isolated      bool
	StopLoss      decimal.Decimal
	TakeProfit    decimal.Decimal
	PositionValue decimal.Decimal
	UnrealisedPnl decimal.Decimal
	RealisedPnl   decimal.Decimal
	LiqPrice      decimal.Decimal
}

// IsOpen reports whether the position currently holds size.
func (p Position) IsOpen() bool {
	return p.Size.IsPositive()
}

// Execution is a single fill against an order.
type Execution struct {
	ExecID           string
	OrderID          string
	Side             Side
	Symbol           string
	OrderPrice       decimal.Decimal
	OrderQty         decimal.Decimal
	OrderType        OrderType
	FeeRate          decimal.Decimal
	ExecPrice        decimal.Decimal
	ExecType         string // Trade, AdlTrade, BustTrade, Funding
	ExecQty          decimal.Decimal
	ExecFee          decimal.Decimal
	ExecValue        decimal.Decimal
	LeavesQty        decimal.Decimal
	ClosedSize       decimal.Decimal
	LastLiquidityInd string
	TradeTimeMs      time.Time
	IsMaker          bool
}

// ClosedPnL is a closed-position realized P&L record.
type ClosedPnL struct {
	ID            int64
	UserID        int64
	Symbol        string
	OrderID       string
	Side          Side
	Qty           decimal.Decimal
	OrderPrice    decimal.Decimal
	OrderType     OrderType
	ExecType      string
	ClosedSize    decimal.Decimal
	CumEntryValue decimal.Decimal
	AvgEntryPrice decimal.Decimal
	CumExitValue  decimal.Decimal
	AvgExitPrice  decimal.Decimal
	ClosedPnl     decimal.Decimal
	FillCount     int
	Leverage      decimal.Decimal
	CreatedAt     time.Time
}

// InstrumentInfo carries the tick_size/qty_step metadata queried from the venue.
type InstrumentInfo struct {
	Symbol   string
	TickSize decimal.Decimal
	QtyStep  decimal.Decimal
	MinQty   decimal.Decimal
}

// WalletBalance is the free/used balance snapshot for the stake currency.
type WalletBalance struct {
	Currency         string
	AvailableBalance decimal.Decimal
	WalletBalance    decimal.Decimal
}
