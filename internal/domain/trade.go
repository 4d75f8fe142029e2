package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is a single executed fill. Trades are immutable historical records;
// ids are unique and non-decreasing per symbol on the exchange side.
type Trade struct {
	ID              int64
	Symbol          string
	Side            string // BUY or SELL
	Price           decimal.Decimal
	Quantity        decimal.Decimal
	QuoteQuantity   decimal.Decimal
	Commission      decimal.Decimal
	CommissionAsset string
	RealizedPnl     decimal.Decimal
	Time            time.Time
}
