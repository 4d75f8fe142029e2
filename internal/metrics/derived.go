package metrics

import (
	"github.com/shopspring/decimal"

	"github.com/terryso/binance-dashboard/internal/domain"
)

// PositionMetrics is the derived view of a single open position.
type PositionMetrics struct {
	Symbol        string
	Side          domain.PositionSide
	ROE           decimal.Decimal
	Bucket        LeverageBucket
	UnrealizedPnl decimal.Decimal
	Notional      decimal.Decimal
}

// Derived bundles the metrics computed from an account snapshot and its
// position set. It is never stored: always recomputed from the freshest
// inputs so it cannot diverge from them.
type Derived struct {
	TotalEquity  decimal.Decimal
	MarginRatio  decimal.Decimal
	ElevatedRisk bool
	Positions    []PositionMetrics
	Leverage     map[LeverageBucket]decimal.Decimal
	Summary      PositionSummary
}

// Compute derives the full metric set. marginAlert is the margin-ratio
// threshold above which ElevatedRisk is flagged; the flag is surfaced,
// never enforced here.
func Compute(snap domain.AccountSnapshot, positions []domain.Position, marginAlert decimal.Decimal) Derived {
	d := Derived{
		TotalEquity: TotalEquity(snap.WalletBalance, positions),
		MarginRatio: MarginRatio(snap.MaintMargin, snap.MarginBalance),
		Leverage:    LeverageDistribution(positions),
		Summary:     SummarizePositions(positions),
	}
	d.ElevatedRisk = !marginAlert.IsZero() && d.MarginRatio.GreaterThan(marginAlert)

	d.Positions = make([]PositionMetrics, 0, len(positions))
	for _, p := range positions {
		d.Positions = append(d.Positions, PositionMetrics{
			Symbol:        p.Symbol,
			Side:          p.Side,
			ROE:           ROE(p),
			Bucket:        BucketForLeverage(p.Leverage),
			UnrealizedPnl: p.UnrealizedPnl,
			Notional:      p.Notional,
		})
	}
	return d
}
