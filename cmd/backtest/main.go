package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/quantdesk/backtest-engine/internal/backtester"
	"github.com/quantdesk/backtest-engine/internal/config"
	"github.com/quantdesk/backtest-engine/internal/data"
	"github.com/quantdesk/backtest-engine/internal/metrics"
	"github.com/quantdesk/backtest-engine/internal/strategy"
	"github.com/quantdesk/backtest-engine/pkg/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file")
		stratName  = flag.String("strategy", "", "strategy id (overrides config)")
		symbols    = flag.String("symbols", "", "comma-separated symbols (overrides config)")
		dataDir    = flag.String("data", "", "directory with <SYMBOL>.csv files (overrides config)")
		outPath    = flag.String("out", "", "write full result JSON to file")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath, *stratName, *symbols, *dataDir)
	if err != nil {
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
	logger.Info("data loaded",
		zap.Int("bars", len(bars)),
		zap.Strings("symbols", cfg.Backtest.Symbols))

	registry := strategy.NewRegistry(logger)
	engine, err := backtester.NewEngine(logger, registry, cfg.Backtest)
	if err != nil {
		logger.Fatal("create engine", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := engine.Run(ctx, bars)
	if err != nil {
		logger.Warn("run interrupted, reporting partial result", zap.Error(err))
	}

	printReport(result.Report)
	if result.MonteCarlo != nil {
		fmt.Printf("monte carlo (%d iterations): median pnl %s, p5 %s, p95 %s, ruin %s\n",
			result.MonteCarlo.Iterations,
			result.MonteCarlo.MedianPnL.StringFixed(2),
			result.MonteCarlo.P5PnL.StringFixed(2),
			result.MonteCarlo.P95PnL.StringFixed(2),
			result.MonteCarlo.ProbabilityRuin.StringFixed(4))
	}

	if *outPath != "" {
		buf, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			logger.Fatal("marshal result", zap.Error(err))
		}
		if err := os.WriteFile(*outPath, buf, 0o644); err != nil {
			logger.Fatal("write result", zap.Error(err))
		}
		logger.Info("result written", zap.String("path", *outPath))
	}
}

func loadConfig(path, stratName, symbols, dataDir string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if stratName != "" {
		cfg.Backtest.Strategy = stratName
	}
	if symbols != "" {
		cfg.Backtest.Symbols = strings.Split(symbols, ",")
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, cfg.Validate()
}

func printReport(report types.PerformanceReport) {
	fmt.Printf("total return:   %s\n", report.TotalReturn.StringFixed(4))
	fmt.Printf("annual return:  %s\n", report.AnnualReturn.StringFixed(4))
	fmt.Printf("sharpe ratio:   %s\n", report.SharpeRatio.StringFixed(4))
	fmt.Printf("max drawdown:   %s\n", report.MaxDrawdown.StringFixed(4))
	fmt.Printf("win rate:       %s\n", report.WinRate.StringFixed(4))
	fmt.Printf("profit factor:  %s\n", report.ProfitFactor.StringFixed(4))
	fmt.Printf("total trades:   %d\n", report.TotalTrades)
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
