// Package money provides decimal rounding helpers for instrument price/qty steps.
//
// Prices and quantities round to the instrument's tick_size and qty_step. Quantity
// always rounds down-to-step (never over-spend balance); price rounds to nearest
// unless a caller explicitly needs a directional rounding (e.g. placing one tick
// inside the spread).
package money

import "github.com/shopspring/decimal"

// RoundQtyDown truncates qty to the nearest multiple of step, rounding toward zero.
func RoundQtyDown(qty, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return qty
	}
	return qty.Div(step).Truncate(0).Mul(step)
}

// RoundPriceNearest rounds price to the nearest multiple of tick, half away from zero.
func RoundPriceNearest(price, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	return price.DivRound(tick, 0).Mul(tick)
}

// RoundPriceUp rounds price up to the next multiple of tick.
func RoundPriceUp(price, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	q := price.Div(tick)
	rounded := q.Ceil()
	return rounded.Mul(tick)
}

// RoundPriceDown rounds price down to the previous multiple of tick.
func RoundPriceDown(price, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	q := price.Div(tick)
	rounded := q.Floor()
	return rounded.Mul(tick)
}

// OneTickInside returns price shifted one tick toward the inside of the spread:
// add a tick for a buy (bid side), subtract a tick for a sell (ask side).
func OneTickInside(price, tick decimal.Decimal, isBuy bool) decimal.Decimal {
	if isBuy {
		return price.Add(tick)
	}
	return price.Sub(tick)
}

// PctOffset applies a fractional offset to a base price, e.g. stop-loss/take-profit
// percentages. add=true moves the price up (longs' TP / shorts' SL), add=false moves
// it down (longs' SL / shorts' TP).
func PctOffset(base, pct decimal.Decimal, add bool) decimal.Decimal {
	offset := base.Mul(pct)
	if add {
		return base.Add(offset)
	}
	return base.Sub(offset)
}
