package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide is the direction of a futures position.
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// MarginMode is the margin assignment mode of a position.
type MarginMode string

const (
	MarginModeCross    MarginMode = "cross"
	MarginModeIsolated MarginMode = "isolated"
)

// PositionKey identifies a position. In hedge mode an account may hold both
// a long and a short position on the same symbol.
type PositionKey struct {
	Symbol string
	Side   PositionSide
}

// Position is an open futures position. Zero-size rows are pruned at parse
// time, so Amount is non-zero for every retained position.
type Position struct {
	Symbol           string
	Side             PositionSide
	Amount           decimal.Decimal // signed: negative for shorts
	EntryPrice       decimal.Decimal
	MarkPrice        decimal.Decimal
	LiquidationPrice decimal.Decimal
	UnrealizedPnl    decimal.Decimal
	Notional         decimal.Decimal
	Leverage         decimal.Decimal
	MarginMode       MarginMode
	UpdatedAt        time.Time
}

// Key returns the (symbol, side) identity of the position.
func (p Position) Key() PositionKey {
	return PositionKey{Symbol: p.Symbol, Side: p.Side}
}

// Size returns the unsigned position size.
func (p Position) Size() decimal.Decimal {
	return p.Amount.Abs()
}

// IsLong reports whether the position is long.
func (p Position) IsLong() bool {
	return p.Side == PositionSideLong
}
