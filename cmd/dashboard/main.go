// Command dashboard runs the futures account monitor: it keeps the
// account, position, trade and income caches warm on their own cadences
// and logs the derived portfolio metrics each refresh interval. The web
// presentation layer consumes the same monitor service.
//
// Usage:
//
//	dashboard --config config.yaml
//
// Required environment variables (or .env): BINANCE_API_KEY,
// BINANCE_API_SECRET.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/terryso/binance-dashboard/config"
	"github.com/terryso/binance-dashboard/internal/clock"
	"github.com/terryso/binance-dashboard/internal/gateway"
	"github.com/terryso/binance-dashboard/internal/monitor"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.System()
	gw := gateway.New(gateway.Config{
		Credentials: gateway.Credentials{APIKey: cfg.APIKey, APISecret: cfg.APISecret},
		UseTestnet:  cfg.UseTestnet,
		Timeout:     cfg.RequestTimeout,
		RecvWindow:  cfg.RecvWindow,
		MaxRetries:  cfg.MaxRetries,
	}, clk, logger)

	svc := monitor.New(gw, monitor.Config{
		AccountTTL:       cfg.AccountTTL,
		PositionsTTL:     cfg.PositionsTTL,
		TradesTTL:        cfg.TradesTTL,
		IncomeTTL:        cfg.IncomeTTL,
		MaxStaleAge:      cfg.MaxStaleAge,
		MarginRatioAlert: cfg.MarginRatioAlert,
	}, clk, logger)

	if err := gw.Ping(ctx); err != nil {
		logger.Fatal("exchange unreachable", zap.Error(err))
	}

	warmUp(ctx, svc, logger)

	ticker := time.NewTicker(cfg.RefreshInterval)
	defer ticker.Stop()

	logger.Info("monitor started",
		zap.Bool("testnet", cfg.UseTestnet),
		zap.String("base_currency", cfg.BaseCurrency),
		zap.Duration("refresh_interval", cfg.RefreshInterval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case <-ticker.C:
			report(ctx, svc, logger)
		}
	}
}

// warmUp fetches all datasets in parallel so the first report serves from
// a populated cache. Refreshes for distinct keys never block each other.
func warmUp(ctx context.Context, svc *monitor.Service, logger *zap.Logger) {
	weekAgo := time.Now().AddDate(0, 0, -7)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := svc.AccountSnapshot(gctx)
		return err
	})
	g.Go(func() error {
		_, err := svc.Positions(gctx, monitor.PositionFilter{})
		return err
	})
	g.Go(func() error {
		_, err := svc.RecentTrades(gctx, "", 0)
		return err
	})
	g.Go(func() error {
		_, err := svc.IncomeHistory(gctx, weekAgo, time.Time{})
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Warn("cache warm-up incomplete", zap.Error(err))
	}
}

func report(ctx context.Context, svc *monitor.Service, logger *zap.Logger) {
	derived, err := svc.Derived(ctx)
	if err != nil {
		logger.Error("metrics unavailable", zap.Error(err))
		return
	}

	logger.Info("portfolio",
		zap.String("equity", derived.Metrics.TotalEquity.StringFixed(2)),
		zap.String("margin_ratio", derived.Metrics.MarginRatio.StringFixed(4)),
		zap.Bool("elevated_risk", derived.Metrics.ElevatedRisk),
		zap.Int("long_positions", derived.Metrics.Summary.LongCount),
		zap.Int("short_positions", derived.Metrics.Summary.ShortCount),
		zap.Bool("stale", derived.Stale),
		zap.Time("as_of", derived.FetchedAt))
}
