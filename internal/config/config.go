// Package config loads runtime configuration from file and environment.
package config

import (
	"fmt"
	"strings"

	"github.com/quantdesk/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration for the binaries.
type Config struct {
	LogLevel    string
	MetricsAddr string

	// DataDir holds one <SYMBOL>.csv per configured symbol.
	DataDir string

	Backtest  types.BacktestConfig
	Optimizer types.OptimizerConfig
}

// Load reads the named config file (optional) and environment overrides
// with the BACKTEST_ prefix, over the built-in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BACKTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	bt := types.DefaultBacktestConfig()
	bt.Strategy = v.GetString("backtest.strategy")
	bt.Symbols = v.GetStringSlice("backtest.symbols")
	bt.InitialCapital = dec(v, "backtest.initial_capital", bt.InitialCapital)
	bt.LotSize = v.GetInt64("backtest.lot_size")
	bt.RiskFreeRate = dec(v, "backtest.risk_free_rate", bt.RiskFreeRate)

	bt.Execution.CommissionRate = dec(v, "execution.commission_rate", bt.Execution.CommissionRate)
	bt.Execution.MinCommission = dec(v, "execution.min_commission", bt.Execution.MinCommission)
	bt.Execution.SlippageRate = dec(v, "execution.slippage_rate", bt.Execution.SlippageRate)

	bt.Risk.MaxPositionSize = dec(v, "risk.max_position_size", bt.Risk.MaxPositionSize)
	bt.Risk.MaxTotalPosition = dec(v, "risk.max_total_position", bt.Risk.MaxTotalPosition)
	bt.Risk.MaxDailyLoss = dec(v, "risk.max_daily_loss", bt.Risk.MaxDailyLoss)
	bt.Risk.MaxDrawdown = dec(v, "risk.max_drawdown", bt.Risk.MaxDrawdown)
	bt.Risk.StopLossPct = dec(v, "risk.stop_loss_pct", bt.Risk.StopLossPct)
	bt.Risk.TakeProfitPct = dec(v, "risk.take_profit_pct", bt.Risk.TakeProfitPct)

	bt.MonteCarlo.Enabled = v.GetBool("monte_carlo.enabled")
	bt.MonteCarlo.Iterations = v.GetInt("monte_carlo.iterations")
	bt.MonteCarlo.Seed = v.GetInt64("monte_carlo.seed")

	if params := v.GetStringMap("backtest.parameters"); len(params) > 0 {
		bt.Parameters = make(map[string]float64, len(params))
		for name := range params {
			bt.Parameters[name] = v.GetFloat64("backtest.parameters." + name)
		}
	}

	opt := types.DefaultOptimizerConfig()
	opt.Objective = v.GetString("optimizer.objective")
	opt.Minimize = v.GetBool("optimizer.minimize")
	opt.Iterations = v.GetInt("optimizer.iterations")
	opt.EarlyStop = v.GetBool("optimizer.early_stop")
	opt.Patience = v.GetInt("optimizer.patience")
	opt.MinImprovement = v.GetFloat64("optimizer.min_improvement")
	opt.Seed = v.GetInt64("optimizer.seed")
	opt.MaxRedraws = v.GetInt("optimizer.max_redraws")
	opt.Restarts = v.GetInt("optimizer.restarts")

	return &Config{
		LogLevel:    v.GetString("log_level"),
		MetricsAddr: v.GetString("metrics_addr"),
		DataDir:     v.GetString("data_dir"),
		Backtest:    bt,
		Optimizer:   opt,
	}, nil
}

// Validate is called after command-line overrides are applied.
func (c *Config) Validate() error {
	if c.Backtest.Strategy == "" {
		return fmt.Errorf("backtest.strategy is required")
	}
	if len(c.Backtest.Symbols) == 0 {
		return fmt.Errorf("backtest.symbols is required")
	}
	if !c.Backtest.InitialCapital.IsPositive() {
		return fmt.Errorf("backtest.initial_capital must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("data_dir", "data")

	bt := types.DefaultBacktestConfig()
	v.SetDefault("backtest.initial_capital", bt.InitialCapital.InexactFloat64())
	v.SetDefault("backtest.lot_size", bt.LotSize)
	v.SetDefault("backtest.risk_free_rate", bt.RiskFreeRate.InexactFloat64())
	v.SetDefault("execution.commission_rate", bt.Execution.CommissionRate.InexactFloat64())
	v.SetDefault("execution.min_commission", bt.Execution.MinCommission.InexactFloat64())
	v.SetDefault("execution.slippage_rate", bt.Execution.SlippageRate.InexactFloat64())
	v.SetDefault("risk.max_position_size", bt.Risk.MaxPositionSize.InexactFloat64())
	v.SetDefault("risk.max_total_position", bt.Risk.MaxTotalPosition.InexactFloat64())
	v.SetDefault("risk.max_daily_loss", bt.Risk.MaxDailyLoss.InexactFloat64())
	v.SetDefault("risk.max_drawdown", bt.Risk.MaxDrawdown.InexactFloat64())
	v.SetDefault("risk.stop_loss_pct", bt.Risk.StopLossPct.InexactFloat64())
	v.SetDefault("risk.take_profit_pct", bt.Risk.TakeProfitPct.InexactFloat64())
	v.SetDefault("monte_carlo.enabled", false)
	v.SetDefault("monte_carlo.iterations", 1000)
	v.SetDefault("monte_carlo.seed", int64(0))

	opt := types.DefaultOptimizerConfig()
	v.SetDefault("optimizer.objective", opt.Objective)
	v.SetDefault("optimizer.minimize", opt.Minimize)
	v.SetDefault("optimizer.iterations", opt.Iterations)
	v.SetDefault("optimizer.early_stop", opt.EarlyStop)
	v.SetDefault("optimizer.patience", opt.Patience)
	v.SetDefault("optimizer.min_improvement", opt.MinImprovement)
	v.SetDefault("optimizer.seed", opt.Seed)
	v.SetDefault("optimizer.max_redraws", opt.MaxRedraws)
	v.SetDefault("optimizer.restarts", opt.Restarts)
}

func dec(v *viper.Viper, key string, fallback decimal.Decimal) decimal.Decimal {
	if !v.IsSet(key) {
		return fallback
	}
	return decimal.NewFromFloat(v.GetFloat64(key))
}
