// Package domain holds the core account, position, trade and income types
// shared by the gateway, cache and metrics layers. All monetary values use
// decimal arithmetic; float64 is never used for money.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetBalance is the per-asset slice of the account snapshot. Assets with
// zero balance and zero unrealized P&L are pruned at parse time.
type AssetBalance struct {
	Asset            string
	WalletBalance    decimal.Decimal
	UnrealizedPnl    decimal.Decimal
	MarginBalance    decimal.Decimal
	MaintMargin      decimal.Decimal
	AvailableBalance decimal.Decimal
}

// AccountSnapshot is the account state as of a single fetch. FetchedAt is
// the local receive time, not the exchange's.
type AccountSnapshot struct {
	WalletBalance    decimal.Decimal
	AvailableBalance decimal.Decimal
	MarginBalance    decimal.Decimal
	UnrealizedPnl    decimal.Decimal
	MaintMargin      decimal.Decimal
	Assets           []AssetBalance
	FetchedAt        time.Time
}

// Equity is wallet balance plus unrealized P&L.
func (s AccountSnapshot) Equity() decimal.Decimal {
	return s.WalletBalance.Add(s.UnrealizedPnl)
}
