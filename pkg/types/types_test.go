package types

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())
}

func TestOrderStatusIsTerminal(t *testing.T) {
	terminal := []OrderStatus{Filled, Cancelled, Rejected}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}
	nonTerminal := []OrderStatus{Created, New, PartiallyFilled, PendingCancel}
	for _, s := range nonTerminal {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}

func TestSignalIsEntryAndSide(t *testing.T) {
	assert.True(t, EnterLong.IsEntry())
	assert.True(t, EnterShort.IsEntry())
	assert.False(t, NoTrade.IsEntry())
	assert.False(t, LongHold.IsEntry())

	assert.Equal(t, Buy, EnterLong.Side())
	assert.Equal(t, Sell, EnterShort.Side())
}

func TestOrderRemaining(t *testing.T) {
	o := Order{Qty: decimal.NewFromFloat(1.0), CumExecQty: decimal.NewFromFloat(0.3)}
	assert.True(t, o.Remaining().Equal(decimal.NewFromFloat(0.7)))

	overfilled := Order{Qty: decimal.NewFromFloat(1.0), CumExecQty: decimal.NewFromFloat(1.5)}
	assert.True(t, overfilled.Remaining().IsZero())
}

func TestPositionIsOpen(t *testing.T) {
	open := Position{Size: decimal.NewFromFloat(0.5)}
	assert.True(t, open.IsOpen())

	flat := Position{Size: decimal.Zero}
	assert.False(t, flat.IsOpen())
}
