package backtester

import (
	"math/rand"
	"sort"
	"time"

	"github.com/quantdesk/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// MonteCarloSimulator bootstrap-resamples the closing-trade PnL sequence
// to estimate the dispersion of outcomes around the single observed run.
type MonteCarloSimulator struct {
	iterations int
	seed       int64
}

func NewMonteCarloSimulator(cfg types.MonteCarloConfig) *MonteCarloSimulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &MonteCarloSimulator{iterations: cfg.Iterations, seed: seed}
}

// Run resamples the realized PnL of closing trades with replacement,
// once per iteration, and summarizes the final-PnL and drawdown
// distributions. Returns nil when there are no closing trades.
func (s *MonteCarloSimulator) Run(initialCapital decimal.Decimal, trades []types.Trade) *types.MonteCarloResult {
	pnls := make([]decimal.Decimal, 0, len(trades))
	for _, t := range trades {
		if t.Closing {
			pnls = append(pnls, t.RealizedPnL)
		}
	}
	if len(pnls) == 0 || s.iterations <= 0 {
		return nil
	}

	rng := rand.New(rand.NewSource(s.seed))
	finals := make([]decimal.Decimal, 0, s.iterations)
	drawdowns := make([]decimal.Decimal, 0, s.iterations)
	ruined := 0

	for i := 0; i < s.iterations; i++ {
		equity := initialCapital
		peak := initialCapital
		worst := decimal.Zero
		bust := false

		for j := 0; j < len(pnls); j++ {
			equity = equity.Add(pnls[rng.Intn(len(pnls))])
			if equity.GreaterThan(peak) {
				peak = equity
			}
			if peak.IsPositive() {
				dd := peak.Sub(equity).Div(peak)
				if dd.GreaterThan(worst) {
					worst = dd
				}
			}
			if !equity.IsPositive() {
				bust = true
			}
		}

		finals = append(finals, equity.Sub(initialCapital))
		drawdowns = append(drawdowns, worst)
		if bust {
			ruined++
		}
	}

	sortDecimals(finals)
	sortDecimals(drawdowns)

	return &types.MonteCarloResult{
		Iterations:      s.iterations,
		MedianPnL:       percentile(finals, 0.50),
		P5PnL:           percentile(finals, 0.05),
		P95PnL:          percentile(finals, 0.95),
		MaxDrawdownP95:  percentile(drawdowns, 0.95),
		ProbabilityRuin: decimal.NewFromInt(int64(ruined)).Div(decimal.NewFromInt(int64(s.iterations))),
	}
}

func sortDecimals(vals []decimal.Decimal) {
	sort.Slice(vals, func(i, j int) bool { return vals[i].LessThan(vals[j]) })
}

// percentile indexes the sorted slice at floor(p * (n-1)).
func percentile(sorted []decimal.Decimal, p float64) decimal.Decimal {
	if len(sorted) == 0 {
		return decimal.Zero
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
