package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Brostafa/trading-bot/config"
	"github.com/Brostafa/trading-bot/internal/gateway"
	"github.com/Brostafa/trading-bot/internal/ledger"
	"github.com/Brostafa/trading-bot/internal/services/coordinator"
	signalengine "github.com/Brostafa/trading-bot/internal/services/signal"
	"github.com/Brostafa/trading-bot/internal/setup"
	"github.com/Brostafa/trading-bot/internal/storage/events"
)

// strategyParams fills the strategy defaults with any overrides from config.
func strategyParams(s config.Strategy) signalengine.Params {
	params := signalengine.DefaultParams()
	if !s.MinBullishChangePct.IsZero() {
		params.MinBullishChangePct = s.MinBullishChangePct
	}
	if s.RSIPeriod > 0 {
		params.RSIPeriod = s.RSIPeriod
	}
	if s.RSISMAPeriod > 0 {
		params.RSISMAPeriod = s.RSISMAPeriod
	}
	if !s.CrossoverThreshold.IsZero() {
		params.CrossoverThreshold = s.CrossoverThreshold
	}
	if !s.RSILowerBound.IsZero() {
		params.RSILowerBound = s.RSILowerBound
	}
	if !s.RSIUpperBound.IsZero() {
		params.RSIUpperBound = s.RSIUpperBound
	}
	if !s.MinProfitPct.IsZero() {
		params.MinProfitPct = s.MinProfitPct
	}
	if !s.RiskReward.IsZero() {
		params.RiskReward = s.RiskReward
	}
	return params
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Get()
	if err != nil {
		logger.Fatal("failed to get configuration", zap.Error(err))
	}

	store, err := ledger.NewGormStore(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("failed to open ledger database", zap.Error(err))
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Setup {
		if err := setup.RunTUI(ctx, store); err != nil {
			logger.Fatal("setup wizard failed", zap.Error(err))
		}
		return
	}

	eventLog, err := events.NewWALStore(cfg.EventLogDir)
	if err != nil {
		logger.Fatal("failed to open event log", zap.Error(err))
	}
	defer eventLog.Close()

	gw := gateway.NewBinance(cfg.APIKey, cfg.SecretKey, logger)

	coord := coordinator.New(logger, gw, store, eventLog)
	coord.SetTiming(cfg.DiscoveryInterval, cfg.RestartDelay)
	coord.SetParams(strategyParams(cfg.Strategy))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coord.Run(gctx)
	})

	logger.Info("trading bot started",
		zap.String("database", cfg.DatabasePath),
		zap.String("event_log", cfg.EventLogDir))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("coordinator stopped with error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
