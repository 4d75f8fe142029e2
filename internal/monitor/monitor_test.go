package monitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/terryso/binance-dashboard/internal/clock"
	"github.com/terryso/binance-dashboard/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeAPI counts calls per endpoint and returns canned data or an
// injected error.
type fakeAPI struct {
	accountCalls  atomic.Int64
	positionCalls atomic.Int64
	tradeCalls    atomic.Int64
	incomeCalls   atomic.Int64
	err           error
	walletBalance decimal.Decimal
	positions     []domain.Position
	trades        []domain.Trade
	incomeRecords []domain.IncomeRecord
}

func (f *fakeAPI) Account(ctx context.Context) (domain.AccountSnapshot, error) {
	f.accountCalls.Add(1)
	if f.err != nil {
		return domain.AccountSnapshot{}, f.err
	}
	return domain.AccountSnapshot{
		WalletBalance: f.walletBalance,
		MarginBalance: f.walletBalance,
		MaintMargin:   dec("10"),
		FetchedAt:     time.Now(),
	}, nil
}

func (f *fakeAPI) PositionRisk(ctx context.Context) ([]domain.Position, error) {
	f.positionCalls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.positions, nil
}

func (f *fakeAPI) AccountTrades(ctx context.Context, symbol string, limit int) ([]domain.Trade, error) {
	f.tradeCalls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.trades, nil
}

func (f *fakeAPI) IncomeHistory(ctx context.Context, symbol string, from, to time.Time, limit int) ([]domain.IncomeRecord, error) {
	f.incomeCalls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.incomeRecords, nil
}

func testConfig() Config {
	return Config{
		AccountTTL:       30 * time.Second,
		PositionsTTL:     30 * time.Second,
		TradesTTL:        time.Minute,
		IncomeTTL:        5 * time.Minute,
		MarginRatioAlert: dec("0.8"),
	}
}

func TestService_AccountSnapshotCached(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	api := &fakeAPI{walletBalance: dec("1000")}
	svc := New(api, testConfig(), clk, zap.NewNop())

	res, err := svc.AccountSnapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Value.WalletBalance.Equal(dec("1000")))

	// Inside the TTL the gateway is not touched again.
	clk.Advance(10 * time.Second)
	_, err = svc.AccountSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), api.accountCalls.Load())

	clk.Advance(25 * time.Second)
	_, err = svc.AccountSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), api.accountCalls.Load())
}

func TestService_PositionsFiltered(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	api := &fakeAPI{positions: []domain.Position{
		{Symbol: "BTCUSDT", Side: domain.PositionSideLong, Amount: dec("1")},
		{Symbol: "BTCUSDT", Side: domain.PositionSideShort, Amount: dec("-2")},
		{Symbol: "ETHUSDT", Side: domain.PositionSideLong, Amount: dec("3")},
	}}
	svc := New(api, testConfig(), clk, zap.NewNop())

	t.Run("no filter", func(t *testing.T) {
		res, err := svc.Positions(context.Background(), PositionFilter{})
		require.NoError(t, err)
		assert.Len(t, res.Value, 3)
	})

	t.Run("by symbol", func(t *testing.T) {
		res, err := svc.Positions(context.Background(), PositionFilter{Symbol: "BTCUSDT"})
		require.NoError(t, err)
		assert.Len(t, res.Value, 2)
	})

	t.Run("by symbol and side", func(t *testing.T) {
		res, err := svc.Positions(context.Background(), PositionFilter{Symbol: "BTCUSDT", Side: domain.PositionSideShort})
		require.NoError(t, err)
		require.Len(t, res.Value, 1)
		assert.True(t, res.Value[0].Amount.IsNegative())
	})

	// Filtering happens on the cached set; one upstream call serves all.
	assert.Equal(t, int64(1), api.positionCalls.Load())
}

func TestService_StaleServedOnFailure(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	api := &fakeAPI{walletBalance: dec("1000")}
	svc := New(api, testConfig(), clk, zap.NewNop())

	res, err := svc.AccountSnapshot(context.Background())
	require.NoError(t, err)
	require.False(t, res.Stale)

	api.err = errors.New("exchange down")
	clk.Advance(time.Minute)

	res, err = svc.AccountSnapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.True(t, res.Value.WalletBalance.Equal(dec("1000")))
	assert.Equal(t, time.Minute, res.Age)
}

func TestService_Derived(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	api := &fakeAPI{
		walletBalance: dec("1000"),
		positions: []domain.Position{{
			Symbol:        "BTCUSDT",
			Side:          domain.PositionSideLong,
			Amount:        dec("10"),
			EntryPrice:    dec("100"),
			Leverage:      dec("5"),
			UnrealizedPnl: dec("50"),
			Notional:      dec("1050"),
		}},
	}
	svc := New(api, testConfig(), clk, zap.NewNop())

	d, err := svc.Derived(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Metrics.TotalEquity.Equal(dec("1050")))
	assert.False(t, d.Stale)
	assert.Equal(t, 1, d.Metrics.Summary.LongCount)

	t.Run("staleness propagates from either input", func(t *testing.T) {
		api.err = errors.New("exchange down")
		clk.Advance(time.Minute)

		d, err := svc.Derived(context.Background())
		require.NoError(t, err)
		assert.True(t, d.Stale, "metrics derived from a stale input are stale")
	})
}

func TestService_TradeStats(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	base := time.Unix(1699990000, 0)
	api := &fakeAPI{trades: []domain.Trade{
		{Symbol: "BTCUSDT", QuoteQuantity: dec("1000"), RealizedPnl: dec("100"), Time: base},
		{Symbol: "BTCUSDT", QuoteQuantity: dec("2000"), RealizedPnl: dec("-50"), Time: base.Add(time.Hour)},
	}}
	svc := New(api, testConfig(), clk, zap.NewNop())

	stats, stale, err := svc.TradeStats(context.Background(), "BTCUSDT", base, time.Time{})
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, 1, stats.WinCount)
	assert.True(t, stats.RealizedPnl.Equal(dec("50")))
}

func TestService_IncomeSummary(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	base := time.Unix(1699990000, 0)
	api := &fakeAPI{incomeRecords: []domain.IncomeRecord{
		{Type: domain.IncomeTypeRealizedPnl, Amount: dec("100"), Time: base},
		{Type: domain.IncomeTypeFundingFee, Amount: dec("-5"), Time: base},
	}}
	svc := New(api, testConfig(), clk, zap.NewNop())

	summary, stale, err := svc.IncomeSummary(context.Background(), base, time.Time{})
	require.NoError(t, err)
	assert.False(t, stale)
	assert.True(t, summary.Total.Equal(dec("95")))
}

func TestService_Rotate(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	oldAPI := &fakeAPI{walletBalance: dec("1000")}
	svc := New(oldAPI, testConfig(), clk, zap.NewNop())

	_, err := svc.AccountSnapshot(context.Background())
	require.NoError(t, err)

	newAPI := &fakeAPI{walletBalance: dec("2000")}
	svc.Rotate(newAPI)

	// Rotation drops every cache entry: data fetched under the old
	// identity is never served under the new one.
	res, err := svc.AccountSnapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Value.WalletBalance.Equal(dec("2000")))
	assert.Equal(t, int64(1), newAPI.accountCalls.Load())
	assert.Equal(t, int64(1), oldAPI.accountCalls.Load())
}

func TestService_DistinctDatasetsIndependent(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	api := &fakeAPI{walletBalance: dec("1000")}
	svc := New(api, testConfig(), clk, zap.NewNop())

	_, err := svc.AccountSnapshot(context.Background())
	require.NoError(t, err)
	_, err = svc.RecentTrades(context.Background(), "", 0)
	require.NoError(t, err)

	// Account expires at 30s, trades at 60s: only the account refetches.
	clk.Advance(45 * time.Second)
	_, err = svc.AccountSnapshot(context.Background())
	require.NoError(t, err)
	_, err = svc.RecentTrades(context.Background(), "", 0)
	require.NoError(t, err)

	assert.Equal(t, int64(2), api.accountCalls.Load())
	assert.Equal(t, int64(1), api.tradeCalls.Load())
}
