package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	ossignal "os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/algomatic/decision-service/internal/accounts"
	"github.com/algomatic/decision-service/internal/config"
	"github.com/algomatic/decision-service/internal/db"
	"github.com/algomatic/decision-service/internal/metrics"
	"github.com/algomatic/decision-service/internal/redisbus"
	"github.com/algomatic/decision-service/internal/repository"
	"github.com/algomatic/decision-service/internal/service"
	"github.com/algomatic/decision-service/pkg/regime"
	"github.com/algomatic/decision-service/pkg/risk"
	"github.com/algomatic/decision-service/pkg/signal"
	"github.com/algomatic/decision-service/pkg/strategy"
	"github.com/algomatic/decision-service/pkg/trailing"
	"github.com/algomatic/decision-service/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "Path to config.json")
	flag.Parse()

	// .env is optional; a missing file is the normal production case.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: loading .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Service.LogLevel)
	logger.Info("Starting decision-service",
		"symbols", cfg.Service.Symbols,
		"timeframe", cfg.Service.Timeframe,
		"eval_interval_seconds", cfg.Service.EvalIntervalSeconds,
		"redis_host", cfg.Redis.Host,
	)

	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Database.ConnString(), cfg.Database.MaxConns, cfg.Database.MinConns, logger)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	bus := redisbus.NewBus(
		cfg.Redis.Addr(),
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Redis.ChannelPrefix,
		logger,
	)
	defer bus.Close()

	if err := bus.HealthCheck(ctx); err != nil {
		logger.Error("Redis health check failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Health checks passed")

	engine, err := buildEngine(cfg, pool, bus, logger)
	if err != nil {
		logger.Error("Failed to build engine", "error", err)
		os.Exit(1)
	}

	reg := engine.Metrics()
	metricsSrv := &http.Server{
		Addr:    cfg.Service.MetricsAddr,
		Handler: promhttp.HandlerFor(reg.Registry, promhttp.HandlerOpts{}),
	}

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		engine.RunEvalLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		engine.RunTrailingLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		engine.RunResetScheduler(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := engine.RunPriceFeed(ctx, bus); err != nil {
			logger.Error("Price feed error", "error", err)
		}
	}()

	go func() {
		logger.Info("Metrics server listening", "addr", cfg.Service.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", "error", err)
		}
	}()

	logger.Info("Service running", "pid", os.Getpid())

	<-ctx.Done()
	logger.Info("Shutdown signal received, waiting for goroutines to finish...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics server shutdown error", "error", err)
	}

	wg.Wait()
	logger.Info("Shutdown complete")
}

func buildEngine(cfg *config.Config, pool *pgxpool.Pool, bus *redisbus.Bus, logger *slog.Logger) (*service.Engine, error) {
	strategies := []strategy.Strategy{
		strategy.NewMomentum(strategy.Config{MinStrength: cfg.Service.MinStrength}),
		strategy.NewBreakout(strategy.Config{MinStrength: cfg.Service.MinStrength}),
		strategy.NewMeanReversion(strategy.Config{MinStrength: cfg.Service.MinStrength}),
	}
	sigMgr := signal.NewManager(signal.Config{
		MaxSignalsPerSymbol:     cfg.Service.MaxSignalsPerSymbol,
		MinStrength:             cfg.Service.MinStrength,
		TimeFilterEnabled:       cfg.Service.TimeFilterEnabled,
		TradingWindows:          signal.DefaultTradingWindows(),
		VolatilityFilterEnabled: cfg.Service.VolatilityFilter,
	}, regime.Config{}, strategies, logger)

	riskMgr, err := risk.NewManager(riskConfig(cfg.Risk), logger)
	if err != nil {
		return nil, fmt.Errorf("building risk manager: %w", err)
	}

	trailMgr, err := trailing.NewManager(trailing.Config{
		TrailPercent:          cfg.Trailing.TrailPercent,
		ActivationPercent:     cfg.Trailing.ActivationPercent,
		MinTrailPercent:       cfg.Trailing.MinTrailPercent,
		UpdateIntervalSeconds: cfg.Trailing.UpdateIntervalSeconds,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("building trailing manager: %w", err)
	}

	var sources []accounts.Source
	if cfg.Accounts.FuturesURL != "" {
		sources = append(sources, accounts.NewHTTPSource("futures", cfg.Accounts.FuturesURL))
	}
	if cfg.Accounts.EquitiesURL != "" {
		sources = append(sources, accounts.NewHTTPSource("equities", cfg.Accounts.EquitiesURL))
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no account sources configured")
	}
	aggregator := accounts.NewAggregator(sources,
		time.Duration(cfg.Accounts.TimeoutSeconds)*time.Second, logger)

	assetClasses := make(map[string]types.AssetClass, len(cfg.Service.AssetClasses))
	for symbol, class := range cfg.Service.AssetClasses {
		assetClasses[symbol] = types.AssetClass(class)
	}

	engineCfg := service.Config{
		Symbols:           cfg.Service.Symbols,
		AssetClasses:      assetClasses,
		Timeframe:         types.Timeframe(cfg.Service.Timeframe),
		BarWindow:         cfg.Service.BarWindow,
		AccountID:         cfg.Service.AccountID,
		StartingEquity:    fmt.Sprintf("%.2f", cfg.Service.StartingEquityDollars),
		EvalInterval:      time.Duration(cfg.Service.EvalIntervalSeconds) * time.Second,
		TrailingInterval:  time.Duration(cfg.Trailing.UpdateIntervalSeconds) * time.Second,
		DailyResetHourUTC: cfg.Service.DailyResetHourUTC,
	}

	return service.NewEngine(
		engineCfg,
		sigMgr, riskMgr, trailMgr,
		repository.NewBarRepo(pool, logger),
		aggregator,
		repository.NewRiskStateRepo(pool, logger),
		repository.NewSignalRepo(pool, logger),
		repository.NewEvaluationRepo(pool, logger),
		bus,
		redisbus.NewPriceFeed(logger),
		metrics.NewRegistry(),
		logger,
	), nil
}

func riskConfig(rc config.RiskConfig) risk.Config {
	cfg := risk.DefaultConfig()
	if rc.MaxRiskPerTradePercent > 0 {
		cfg.MaxRiskPerTradePercent = rc.MaxRiskPerTradePercent
	}
	if rc.MaxPositionPercent > 0 {
		cfg.MaxPositionPercent = rc.MaxPositionPercent
	}
	if rc.MaxConcurrentPositions > 0 {
		cfg.MaxConcurrentPositions = rc.MaxConcurrentPositions
	}
	if rc.MaxDailyLossPercent > 0 {
		cfg.MaxDailyLossPercent = rc.MaxDailyLossPercent
	}
	if rc.MaxWeeklyLossPercent > 0 {
		cfg.MaxWeeklyLossPercent = rc.MaxWeeklyLossPercent
	}
	if rc.MaxDrawdownPercent > 0 {
		cfg.MaxDrawdownPercent = rc.MaxDrawdownPercent
	}
	if rc.ConsecutiveLossLimit > 0 {
		cfg.ConsecutiveLossLimit = rc.ConsecutiveLossLimit
	}
	if rc.CooldownMinutes > 0 {
		cfg.CooldownMinutes = rc.CooldownMinutes
	}
	return cfg
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}
