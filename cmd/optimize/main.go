package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/quantdesk/backtest-engine/internal/config"
	"github.com/quantdesk/backtest-engine/internal/data"
	"github.com/quantdesk/backtest-engine/internal/metrics"
	"github.com/quantdesk/backtest-engine/internal/optimizer"
	"github.com/quantdesk/backtest-engine/internal/strategy"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file")
		stratName  = flag.String("strategy", "", "strategy id (overrides config)")
		symbols    = flag.String("symbols", "", "comma-separated symbols (overrides config)")
		dataDir    = flag.String("data", "", "directory with <SYMBOL>.csv files (overrides config)")
		iterations = flag.Int("iterations", 0, "iteration budget (overrides config)")
		seed       = flag.Int64("seed", 0, "rng seed, 0 for non-reproducible (overrides config)")
		objective  = flag.String("objective", "", "metric to optimize (overrides config)")
		restarts   = flag.Int("restarts", 0, "number of restarts (overrides config)")
		outPath    = flag.String("out", "", "write all sampled results JSON to file")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *stratName != "" {
		cfg.Backtest.Strategy = *stratName
	}
	if *symbols != "" {
		cfg.Backtest.Symbols = strings.Split(*symbols, ",")
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *iterations > 0 {
		cfg.Optimizer.Iterations = *iterations
	}
	if *seed != 0 {
		cfg.Optimizer.Seed = *seed
	}
	if *objective != "" {
		cfg.Optimizer.Objective = *objective
	}
	if *restarts > 0 {
		cfg.Optimizer.Restarts = *restarts
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	bars, err := data.LoadSymbolFiles(cfg.DataDir, cfg.Backtest.Symbols)
	if err != nil {
		logger.Fatal("load data", zap.Error(err))
	}

	registry := strategy.NewRegistry(logger)
	opt, err := optimizer.New(logger, registry, cfg.Optimizer, cfg.Backtest, bars)
	if err != nil {
		logger.Fatal("create optimizer", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var best *optimizer.OptimizationResult
	if cfg.Optimizer.Restarts > 1 {
		best, err = opt.OptimizeWithRestarts(ctx, cfg.Optimizer.Restarts)
	} else {
		best, err = opt.Optimize(ctx)
	}
	if err != nil {
		logger.Warn("search interrupted, reporting best so far", zap.Error(err))
	}

	stats := opt.GetExplorationStats()
	fmt.Printf("evaluations: %d (seed %d)\n", len(opt.Results()), stats.Seed)
	fmt.Printf("best %s: %.6f\n", cfg.Optimizer.Objective, best.Score)
	fmt.Println("best parameters:")
	names := make([]string, 0, len(best.Parameters))
	for name := range best.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %s = %g\n", name, best.Parameters[name])
	}
	fmt.Printf("score distribution: mean %.4f std %.4f min %.4f max %.4f, converged at iteration %d\n",
		stats.Mean, stats.Std, stats.Min, stats.Max, stats.ConvergenceIteration)

	if *outPath != "" {
		buf, err := json.MarshalIndent(opt.Results(), "", "  ")
		if err != nil {
			logger.Fatal("marshal results", zap.Error(err))
		}
		if err := os.WriteFile(*outPath, buf, 0o644); err != nil {
			logger.Fatal("write results", zap.Error(err))
		}
		logger.Info("results written", zap.String("path", *outPath))
	}
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
