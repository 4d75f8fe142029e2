// Package metrics derives presentation-ready financial metrics from raw
// account, position, trade and income data. Everything here is pure and
// deterministic: no I/O, no caching, recomputed from the freshest inputs
// on every read so derived values can never diverge from their sources.
package metrics

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/terryso/binance-dashboard/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// TotalEquity is wallet balance plus the unrealized P&L of every open
// position.
func TotalEquity(walletBalance decimal.Decimal, positions []domain.Position) decimal.Decimal {
	equity := walletBalance
	for _, p := range positions {
		equity = equity.Add(p.UnrealizedPnl)
	}
	return equity
}

// MarginRatio is maintenance margin over margin balance. A zero margin
// balance yields zero rather than a division error.
func MarginRatio(maintMargin, marginBalance decimal.Decimal) decimal.Decimal {
	if marginBalance.IsZero() {
		return decimal.Zero
	}
	return maintMargin.Div(marginBalance)
}

// ROE returns the position's return on equity in percent: unrealized P&L
// over the initial margin (entry price × size / leverage). Positions with
// zero entry price, size or leverage yield zero.
func ROE(p domain.Position) decimal.Decimal {
	if p.EntryPrice.IsZero() || p.Amount.IsZero() || p.Leverage.IsZero() {
		return decimal.Zero
	}
	margin := p.EntryPrice.Mul(p.Size()).Div(p.Leverage)
	if margin.IsZero() {
		return decimal.Zero
	}
	return p.UnrealizedPnl.Div(margin).Mul(hundred)
}

// LeverageBucket groups leverage into the risk bands the portfolio
// breakdown reports on.
type LeverageBucket string

const (
	LeverageLow      LeverageBucket = "1-2x"
	LeverageMedium   LeverageBucket = "3-5x"
	LeverageHigh     LeverageBucket = "6-10x"
	LeverageVeryHigh LeverageBucket = ">10x"
)

var (
	leverageTwo = decimal.NewFromInt(2)
	leverageTen = decimal.NewFromInt(10)
	leverageFiv = decimal.NewFromInt(5)
)

// BucketForLeverage maps a leverage value onto its bucket.
func BucketForLeverage(leverage decimal.Decimal) LeverageBucket {
	switch {
	case leverage.LessThanOrEqual(leverageTwo):
		return LeverageLow
	case leverage.LessThanOrEqual(leverageFiv):
		return LeverageMedium
	case leverage.LessThanOrEqual(leverageTen):
		return LeverageHigh
	default:
		return LeverageVeryHigh
	}
}

// LeverageDistribution aggregates position notional by leverage bucket.
func LeverageDistribution(positions []domain.Position) map[LeverageBucket]decimal.Decimal {
	dist := make(map[LeverageBucket]decimal.Decimal)
	for _, p := range positions {
		bucket := BucketForLeverage(p.Leverage)
		dist[bucket] = dist[bucket].Add(p.Notional)
	}
	return dist
}

// PositionSummary is the header-level view of the open position set.
type PositionSummary struct {
	LongCount     int
	ShortCount    int
	TotalNotional decimal.Decimal
	TotalPnl      decimal.Decimal
	AvgLeverage   decimal.Decimal
}

// SummarizePositions computes the position summary; an empty set yields
// zeroed counts and totals.
func SummarizePositions(positions []domain.Position) PositionSummary {
	var s PositionSummary
	if len(positions) == 0 {
		return s
	}

	levSum := decimal.Zero
	for _, p := range positions {
		if p.IsLong() {
			s.LongCount++
		} else {
			s.ShortCount++
		}
		s.TotalNotional = s.TotalNotional.Add(p.Notional)
		s.TotalPnl = s.TotalPnl.Add(p.UnrealizedPnl)
		levSum = levSum.Add(p.Leverage)
	}
	s.AvgLeverage = levSum.Div(decimal.NewFromInt(int64(len(positions))))
	return s
}

// TradeStats are windowed aggregates over a trade set.
type TradeStats struct {
	Count       int
	Volume      decimal.Decimal // quote-denominated turnover
	Commission  decimal.Decimal
	RealizedPnl decimal.Decimal

	WinCount     int
	LossCount    int
	WinRate      decimal.Decimal // percent of non-zero-P&L trades that won
	ProfitFactor decimal.Decimal // gross profit over gross loss; zero without losses
	AvgWin       decimal.Decimal
	AvgLoss      decimal.Decimal
	LargestWin   decimal.Decimal
	LargestLoss  decimal.Decimal

	BySymbol map[string]SymbolStats
}

// SymbolStats is the per-symbol slice of TradeStats.
type SymbolStats struct {
	Count      int
	Volume     decimal.Decimal
	Commission decimal.Decimal
}

// ComputeTradeStats aggregates trades whose timestamp falls inside
// [from, to]. A zero `to` means no upper bound. An empty window yields
// zeroed statistics, never an error.
func ComputeTradeStats(trades []domain.Trade, from, to time.Time) TradeStats {
	stats := TradeStats{BySymbol: make(map[string]SymbolStats)}

	var winSum, lossSum decimal.Decimal
	for _, t := range trades {
		if t.Time.Before(from) {
			continue
		}
		if !to.IsZero() && t.Time.After(to) {
			continue
		}

		stats.Count++
		stats.Volume = stats.Volume.Add(t.QuoteQuantity)
		stats.Commission = stats.Commission.Add(t.Commission)
		stats.RealizedPnl = stats.RealizedPnl.Add(t.RealizedPnl)

		sym := stats.BySymbol[t.Symbol]
		sym.Count++
		sym.Volume = sym.Volume.Add(t.QuoteQuantity)
		sym.Commission = sym.Commission.Add(t.Commission)
		stats.BySymbol[t.Symbol] = sym

		switch {
		case t.RealizedPnl.IsPositive():
			stats.WinCount++
			winSum = winSum.Add(t.RealizedPnl)
			if t.RealizedPnl.GreaterThan(stats.LargestWin) {
				stats.LargestWin = t.RealizedPnl
			}
		case t.RealizedPnl.IsNegative():
			stats.LossCount++
			lossSum = lossSum.Add(t.RealizedPnl)
			if t.RealizedPnl.LessThan(stats.LargestLoss) {
				stats.LargestLoss = t.RealizedPnl
			}
		}
	}

	if decided := stats.WinCount + stats.LossCount; decided > 0 {
		stats.WinRate = decimal.NewFromInt(int64(stats.WinCount)).
			Div(decimal.NewFromInt(int64(decided))).Mul(hundred)
	}
	if stats.WinCount > 0 {
		stats.AvgWin = winSum.Div(decimal.NewFromInt(int64(stats.WinCount)))
	}
	if stats.LossCount > 0 {
		stats.AvgLoss = lossSum.Div(decimal.NewFromInt(int64(stats.LossCount)))
		stats.ProfitFactor = winSum.Div(lossSum.Abs())
	}
	return stats
}

// IncomeSummary aggregates the income ledger over a window.
type IncomeSummary struct {
	Total  decimal.Decimal
	ByType map[domain.IncomeType]decimal.Decimal
}

// SummarizeIncome totals income records inside [from, to]; a zero `to`
// means no upper bound.
func SummarizeIncome(records []domain.IncomeRecord, from, to time.Time) IncomeSummary {
	summary := IncomeSummary{ByType: make(map[domain.IncomeType]decimal.Decimal)}
	for _, r := range records {
		if r.Time.Before(from) {
			continue
		}
		if !to.IsZero() && r.Time.After(to) {
			continue
		}
		summary.Total = summary.Total.Add(r.Amount)
		summary.ByType[r.Type] = summary.ByType[r.Type].Add(r.Amount)
	}
	return summary
}
