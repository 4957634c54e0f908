// Package types provides configuration types for the backtest engine.
package types

import (
	"github.com/shopspring/decimal"
)

// BacktestConfig represents the configuration for one backtest run
type BacktestConfig struct {
	ID             string             `json:"id"`
	Strategy       string             `json:"strategy"`
	Parameters     map[string]float64 `json:"parameters"`
	Symbols        []string           `json:"symbols"`
	InitialCapital decimal.Decimal    `json:"initialCapital"`
	LotSize        int64              `json:"lotSize"`
	RiskFreeRate   decimal.Decimal    `json:"riskFreeRate"`
	Execution      ExecutionConfig    `json:"execution"`
	Risk           RiskLimits         `json:"risk"`
	MonteCarlo     MonteCarloConfig   `json:"monteCarlo"`
}

// ExecutionConfig configures the simulated execution handler
type ExecutionConfig struct {
	CommissionRate decimal.Decimal `json:"commissionRate"`
	MinCommission  decimal.Decimal `json:"minCommission"`
	SlippageRate   decimal.Decimal `json:"slippageRate"`
}

// RiskLimits represents risk management limits. Fractions are of equity.
type RiskLimits struct {
	MaxPositionSize  decimal.Decimal `json:"maxPositionSize"`
	MaxTotalPosition decimal.Decimal `json:"maxTotalPosition"`
	MaxDailyLoss     decimal.Decimal `json:"maxDailyLoss"`
	MaxDrawdown      decimal.Decimal `json:"maxDrawdown"`
	StopLossPct      decimal.Decimal `json:"stopLossPct"`
	TakeProfitPct    decimal.Decimal `json:"takeProfitPct"`
}

// MonteCarloConfig configures trade-resampling validation
type MonteCarloConfig struct {
	Enabled    bool  `json:"enabled"`
	Iterations int   `json:"iterations"`
	Seed       int64 `json:"seed"`
}

// OptimizerConfig configures the random-search optimizer. A Seed of zero
// derives a seed from the clock, making the run non-reproducible.
type OptimizerConfig struct {
	Objective      string  `json:"objective"`
	Minimize       bool    `json:"minimize"`
	Iterations     int     `json:"iterations"`
	EarlyStop      bool    `json:"earlyStop"`
	Patience       int     `json:"patience"`
	MinImprovement float64 `json:"minImprovement"`
	Seed           int64   `json:"seed"`
	MaxRedraws     int     `json:"maxRedraws"`
	Restarts       int     `json:"restarts"`
}

// DefaultBacktestConfig returns a config with conventional simulation
// defaults; strategy, symbols, and parameters must still be set.
func DefaultBacktestConfig() BacktestConfig {
	return BacktestConfig{
		InitialCapital: decimal.NewFromInt(100000),
		LotSize:        100,
		RiskFreeRate:   decimal.NewFromFloat(0.03),
		Execution: ExecutionConfig{
			CommissionRate: decimal.NewFromFloat(0.0003),
			MinCommission:  decimal.NewFromInt(5),
			SlippageRate:   decimal.NewFromFloat(0.001),
		},
		Risk: RiskLimits{
			MaxPositionSize:  decimal.NewFromFloat(0.2),
			MaxTotalPosition: decimal.NewFromFloat(0.8),
			MaxDailyLoss:     decimal.NewFromFloat(0.05),
			MaxDrawdown:      decimal.NewFromFloat(0.2),
			StopLossPct:      decimal.NewFromFloat(0.08),
			TakeProfitPct:    decimal.NewFromFloat(0.2),
		},
	}
}

// DefaultOptimizerConfig returns sensible random-search defaults.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		Objective:      "sharpe_ratio",
		Iterations:     100,
		EarlyStop:      false,
		Patience:       10,
		MinImprovement: 1e-4,
		MaxRedraws:     100,
	}
}
