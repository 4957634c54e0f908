package backtester

import (
	"math"

	"github.com/quantdesk/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// MetricsCalculator derives a performance report from a finished run.
// Money stays decimal end to end; the annualization and volatility
// steps go through float64 because they need powers and square roots,
// and the result is only a reported statistic.
type MetricsCalculator struct {
	riskFreeRate decimal.Decimal
}

func NewMetricsCalculator(riskFreeRate decimal.Decimal) *MetricsCalculator {
	return &MetricsCalculator{riskFreeRate: riskFreeRate}
}

// Calculate builds the full report. Every ratio falls back to zero when
// its inputs are degenerate (empty curve, zero variance, no trades).
func (m *MetricsCalculator) Calculate(
	initialCapital decimal.Decimal,
	curve []types.EquityCurvePoint,
	trades []types.Trade,
) types.PerformanceReport {
	report := types.PerformanceReport{}
	if len(curve) == 0 || !initialCapital.IsPositive() {
		m.tradeStats(&report, trades)
		return report
	}

	final := curve[len(curve)-1].Equity
	report.TotalReturn = final.Sub(initialCapital).Div(initialCapital)
	report.AnnualReturn = m.annualize(report.TotalReturn, curve)
	report.SharpeRatio = m.sharpe(report.AnnualReturn, curve)
	report.MaxDrawdown = maxDrawdown(curve)
	m.tradeStats(&report, trades)
	return report
}

// annualize converts the total return to an annual rate over the
// calendar span of the curve: (1+tr)^(365/days) - 1.
func (m *MetricsCalculator) annualize(totalReturn decimal.Decimal, curve []types.EquityCurvePoint) decimal.Decimal {
	days := curve[len(curve)-1].Date.Sub(curve[0].Date).Hours() / 24
	if days < 1 {
		days = 1
	}
	base := 1 + totalReturn.InexactFloat64()
	if base <= 0 {
		return decimal.NewFromInt(-1)
	}
	annual := math.Pow(base, 365/days) - 1
	return decimal.NewFromFloat(annual)
}

// sharpe computes (annual return - risk free) / annualized volatility,
// with volatility from per-point equity returns scaled by sqrt(252).
func (m *MetricsCalculator) sharpe(annualReturn decimal.Decimal, curve []types.EquityCurvePoint) decimal.Decimal {
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if !prev.IsPositive() {
			continue
		}
		r := curve[i].Equity.Sub(prev).Div(prev)
		returns = append(returns, r.InexactFloat64())
	}
	if len(returns) < 2 {
		return decimal.Zero
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return decimal.Zero
	}

	annVol := math.Sqrt(variance) * math.Sqrt(252)
	sharpe := (annualReturn.InexactFloat64() - m.riskFreeRate.InexactFloat64()) / annVol
	return decimal.NewFromFloat(sharpe)
}

// tradeStats fills the closing-trade statistics. Only closing legs
// carry realized PnL; opening legs are ignored.
func (m *MetricsCalculator) tradeStats(report *types.PerformanceReport, trades []types.Trade) {
	var wins, losses int
	winSum, lossSum := decimal.Zero, decimal.Zero

	for _, t := range trades {
		if !t.Closing {
			continue
		}
		report.TotalTrades++
		if t.RealizedPnL.IsPositive() {
			wins++
			winSum = winSum.Add(t.RealizedPnL)
		} else if t.RealizedPnL.IsNegative() {
			losses++
			lossSum = lossSum.Add(t.RealizedPnL.Abs())
		}
	}

	if report.TotalTrades > 0 {
		report.WinRate = decimal.NewFromInt(int64(wins)).
			Div(decimal.NewFromInt(int64(report.TotalTrades)))
	}
	if wins > 0 {
		report.AvgWin = winSum.Div(decimal.NewFromInt(int64(wins)))
	}
	if losses > 0 {
		report.AvgLoss = lossSum.Div(decimal.NewFromInt(int64(losses)))
	}
	if lossSum.IsPositive() {
		report.ProfitFactor = winSum.Div(lossSum)
	}
}

// maxDrawdown scans the curve against its running peak.
func maxDrawdown(curve []types.EquityCurvePoint) decimal.Decimal {
	peak, worst := decimal.Zero, decimal.Zero
	for _, pt := range curve {
		if pt.Equity.GreaterThan(peak) {
			peak = pt.Equity
		}
		if peak.IsPositive() {
			dd := peak.Sub(pt.Equity).Div(peak)
			if dd.GreaterThan(worst) {
				worst = dd
			}
		}
	}
	return worst
}
