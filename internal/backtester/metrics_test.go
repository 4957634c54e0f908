package backtester_test

import (
	"testing"
	"time"

	"github.com/quantdesk/backtest-engine/internal/backtester"
	"github.com/quantdesk/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

func point(day int, equity string) types.EquityCurvePoint {
	return types.EquityCurvePoint{
		Date:   time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		Equity: dec(equity),
	}
}

func TestCalculateEmptyInputsYieldZeros(t *testing.T) {
	calc := backtester.NewMetricsCalculator(dec("0.03"))
	report := calc.Calculate(dec("100000"), nil, nil)

	zero := decimal.Decimal{}
	if !report.TotalReturn.Equal(zero) || !report.SharpeRatio.Equal(zero) ||
		!report.MaxDrawdown.Equal(zero) || !report.WinRate.Equal(zero) ||
		!report.ProfitFactor.Equal(zero) || report.TotalTrades != 0 {
		t.Fatalf("empty inputs must produce an all-zero report, got %+v", report)
	}
}

func TestCalculateTotalReturn(t *testing.T) {
	calc := backtester.NewMetricsCalculator(dec("0"))
	curve := []types.EquityCurvePoint{point(1, "100000"), point(2, "105000"), point(3, "110000")}

	report := calc.Calculate(dec("100000"), curve, nil)
	if got, want := report.TotalReturn, dec("0.1"); !got.Equal(want) {
		t.Fatalf("total return = %s, want %s", got, want)
	}
	if !report.AnnualReturn.GreaterThan(report.TotalReturn) {
		t.Fatalf("10%% over two days must annualize far above 10%%, got %s", report.AnnualReturn)
	}
}

func TestCalculateZeroVolatilitySharpeFallsBackToZero(t *testing.T) {
	calc := backtester.NewMetricsCalculator(dec("0.03"))
	curve := []types.EquityCurvePoint{point(1, "100000"), point(2, "100000"), point(3, "100000")}

	report := calc.Calculate(dec("100000"), curve, nil)
	if !report.SharpeRatio.IsZero() {
		t.Fatalf("zero-variance curve must give sharpe 0, got %s", report.SharpeRatio)
	}
}

func TestCalculateMaxDrawdown(t *testing.T) {
	calc := backtester.NewMetricsCalculator(dec("0"))
	curve := []types.EquityCurvePoint{
		point(1, "100000"),
		point(2, "120000"),
		point(3, "90000"), // 25% off the 120000 peak
		point(4, "110000"),
	}

	report := calc.Calculate(dec("100000"), curve, nil)
	if got, want := report.MaxDrawdown, dec("0.25"); !got.Equal(want) {
		t.Fatalf("max drawdown = %s, want %s", got, want)
	}
}

func TestCalculateTradeStats(t *testing.T) {
	calc := backtester.NewMetricsCalculator(dec("0"))
	trades := []types.Trade{
		{Closing: false, RealizedPnL: decimal.Zero}, // opening legs are ignored
		{Closing: true, RealizedPnL: dec("100")},
		{Closing: true, RealizedPnL: dec("300")},
		{Closing: true, RealizedPnL: dec("-200")},
		{Closing: true, RealizedPnL: decimal.Zero}, // break-even counts as neither
	}

	report := calc.Calculate(dec("100000"), []types.EquityCurvePoint{point(1, "100000")}, trades)

	if report.TotalTrades != 4 {
		t.Fatalf("total trades = %d, want 4 closing legs", report.TotalTrades)
	}
	if got, want := report.WinRate, dec("0.5"); !got.Equal(want) {
		t.Fatalf("win rate = %s, want %s", got, want)
	}
	if got, want := report.AvgWin, dec("200"); !got.Equal(want) {
		t.Fatalf("avg win = %s, want %s", got, want)
	}
	if got, want := report.AvgLoss, dec("200"); !got.Equal(want) {
		t.Fatalf("avg loss = %s, want %s", got, want)
	}
	if got, want := report.ProfitFactor, dec("2"); !got.Equal(want) {
		t.Fatalf("profit factor = %s, want %s", got, want)
	}
}
