// Package monitor is the read surface consumed by the presentation layer:
// account snapshot, positions, trade and income history, each cached on
// its own cadence, plus derived risk metrics recomputed on every read.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/terryso/binance-dashboard/internal/cache"
	"github.com/terryso/binance-dashboard/internal/clock"
	"github.com/terryso/binance-dashboard/internal/domain"
	"github.com/terryso/binance-dashboard/internal/metrics"
	"github.com/terryso/binance-dashboard/internal/refresh"
)

const (
	keyAccount   = "account"
	keyPositions = "positions"

	defaultTradeLimit = 100
)

// ExchangeAPI is the slice of the gateway the monitor consumes.
type ExchangeAPI interface {
	Account(ctx context.Context) (domain.AccountSnapshot, error)
	PositionRisk(ctx context.Context) ([]domain.Position, error)
	AccountTrades(ctx context.Context, symbol string, limit int) ([]domain.Trade, error)
	IncomeHistory(ctx context.Context, symbol string, from, to time.Time, limit int) ([]domain.IncomeRecord, error)
}

// Config sets the per-category cache cadences and metric thresholds.
// Account data expires fast; trade and income history tolerate longer TTLs.
type Config struct {
	AccountTTL   time.Duration
	PositionsTTL time.Duration
	TradesTTL    time.Duration
	IncomeTTL    time.Duration

	// MaxStaleAge bounds stale fallbacks; zero serves any prior value.
	MaxStaleAge time.Duration

	// MarginRatioAlert flags derived metrics as elevated risk above this
	// ratio. Zero disables the flag.
	MarginRatioAlert decimal.Decimal
}

// PositionFilter narrows the position list. Zero values match everything.
type PositionFilter struct {
	Symbol string
	Side   domain.PositionSide
}

// Service's methods are safe for concurrent use; refreshes for distinct
// datasets proceed fully in parallel.
type Service struct {
	cfg    Config
	logger *zap.Logger

	mu  sync.RWMutex
	api ExchangeAPI

	accounts  *refresh.Coordinator[domain.AccountSnapshot]
	positions *refresh.Coordinator[[]domain.Position]
	trades    *refresh.Coordinator[[]domain.Trade]
	income    *refresh.Coordinator[[]domain.IncomeRecord]
}

// New constructs the monitor over the given gateway.
func New(api ExchangeAPI, cfg Config, clk clock.Clock, logger *zap.Logger) *Service {
	policy := refresh.Policy{MaxStaleAge: cfg.MaxStaleAge}
	return &Service{
		cfg:       cfg,
		logger:    logger.Named("monitor"),
		api:       api,
		accounts:  refresh.NewCoordinator(cache.NewStore[domain.AccountSnapshot](clk), clk, policy, logger),
		positions: refresh.NewCoordinator(cache.NewStore[[]domain.Position](clk), clk, policy, logger),
		trades:    refresh.NewCoordinator(cache.NewStore[[]domain.Trade](clk), clk, policy, logger),
		income:    refresh.NewCoordinator(cache.NewStore[[]domain.IncomeRecord](clk), clk, policy, logger),
	}
}

func (s *Service) gateway() ExchangeAPI {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.api
}

// AccountSnapshot returns the cached account state, refreshing when
// expired.
func (s *Service) AccountSnapshot(ctx context.Context) (refresh.Result[domain.AccountSnapshot], error) {
	return s.accounts.GetOrRefresh(ctx, keyAccount, s.cfg.AccountTTL, func(ctx context.Context) (domain.AccountSnapshot, error) {
		return s.gateway().Account(ctx)
	})
}

// Positions returns open positions, optionally filtered.
func (s *Service) Positions(ctx context.Context, filter PositionFilter) (refresh.Result[[]domain.Position], error) {
	res, err := s.positions.GetOrRefresh(ctx, keyPositions, s.cfg.PositionsTTL, func(ctx context.Context) ([]domain.Position, error) {
		return s.gateway().PositionRisk(ctx)
	})
	if err != nil {
		return res, err
	}

	if filter == (PositionFilter{}) {
		return res, nil
	}
	filtered := make([]domain.Position, 0, len(res.Value))
	for _, p := range res.Value {
		if filter.Symbol != "" && p.Symbol != filter.Symbol {
			continue
		}
		if filter.Side != "" && p.Side != filter.Side {
			continue
		}
		filtered = append(filtered, p)
	}
	res.Value = filtered
	return res, nil
}

// RecentTrades returns the latest fills, optionally scoped to a symbol.
func (s *Service) RecentTrades(ctx context.Context, symbol string, limit int) (refresh.Result[[]domain.Trade], error) {
	if limit <= 0 {
		limit = defaultTradeLimit
	}
	key := fmt.Sprintf("trades:%s:%d", symbol, limit)
	return s.trades.GetOrRefresh(ctx, key, s.cfg.TradesTTL, func(ctx context.Context) ([]domain.Trade, error) {
		return s.gateway().AccountTrades(ctx, symbol, limit)
	})
}

// IncomeHistory returns income records inside [from, to].
func (s *Service) IncomeHistory(ctx context.Context, from, to time.Time) (refresh.Result[[]domain.IncomeRecord], error) {
	key := fmt.Sprintf("income:%d:%d", from.UnixMilli(), to.UnixMilli())
	return s.income.GetOrRefresh(ctx, key, s.cfg.IncomeTTL, func(ctx context.Context) ([]domain.IncomeRecord, error) {
		return s.gateway().IncomeHistory(ctx, "", from, to, 0)
	})
}

// DerivedResult carries recomputed metrics plus the staleness of the
// inputs they were derived from.
type DerivedResult struct {
	Metrics   metrics.Derived
	Stale     bool
	FetchedAt time.Time
}

// Derived recomputes risk and P&L metrics from the freshest snapshot and
// position set. Metrics are never cached independently of their inputs.
func (s *Service) Derived(ctx context.Context) (DerivedResult, error) {
	account, err := s.AccountSnapshot(ctx)
	if err != nil {
		return DerivedResult{}, err
	}
	positions, err := s.Positions(ctx, PositionFilter{})
	if err != nil {
		return DerivedResult{}, err
	}

	fetchedAt := account.FetchedAt
	if positions.FetchedAt.Before(fetchedAt) {
		fetchedAt = positions.FetchedAt
	}
	return DerivedResult{
		Metrics:   metrics.Compute(account.Value, positions.Value, s.cfg.MarginRatioAlert),
		Stale:     account.Stale || positions.Stale,
		FetchedAt: fetchedAt,
	}, nil
}

// TradeStats aggregates the cached trade window over [from, to].
func (s *Service) TradeStats(ctx context.Context, symbol string, from, to time.Time) (metrics.TradeStats, bool, error) {
	res, err := s.RecentTrades(ctx, symbol, 0)
	if err != nil {
		return metrics.TradeStats{}, false, err
	}
	return metrics.ComputeTradeStats(res.Value, from, to), res.Stale, nil
}

// IncomeSummary aggregates the cached income window over [from, to].
func (s *Service) IncomeSummary(ctx context.Context, from, to time.Time) (metrics.IncomeSummary, bool, error) {
	res, err := s.IncomeHistory(ctx, from, to)
	if err != nil {
		return metrics.IncomeSummary{}, false, err
	}
	return metrics.SummarizeIncome(res.Value, from, to), res.Stale, nil
}

// InvalidateAll drops every cached dataset.
func (s *Service) InvalidateAll() {
	s.accounts.InvalidateAll()
	s.positions.InvalidateAll()
	s.trades.InvalidateAll()
	s.income.InvalidateAll()
}

// Rotate swaps in a gateway built from new credentials and invalidates
// every cache key, so data fetched under the old identity is never served
// under the new one. Live credentials are never mutated in place.
func (s *Service) Rotate(api ExchangeAPI) {
	s.mu.Lock()
	s.api = api
	s.mu.Unlock()

	s.InvalidateAll()
	s.logger.Info("credentials rotated, caches invalidated")
}
