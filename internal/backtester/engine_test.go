package backtester_test

import (
	"context"
	"testing"
	"time"

	"github.com/quantdesk/backtest-engine/internal/backtester"
	"github.com/quantdesk/backtest-engine/internal/strategy"
	"github.com/quantdesk/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// scriptedStrategy emits a fixed signal per bar index, for exercising
// the engine pipeline without indicator warm-up.
type scriptedStrategy struct {
	script map[int]*types.StrategySignal
	bar    int
}

func (s *scriptedStrategy) Name() string                          { return "scripted" }
func (s *scriptedStrategy) DefaultParameters() map[string]float64 { return map[string]float64{} }
func (s *scriptedStrategy) ParameterSchema() []strategy.ParameterSpec {
	return nil
}
func (s *scriptedStrategy) SetParameters(map[string]float64) error { return nil }
func (s *scriptedStrategy) Reset()                                 { s.bar = 0 }

func (s *scriptedStrategy) GenerateSignal(bar types.Bar, _ *types.Position) (*types.StrategySignal, error) {
	signal := s.script[s.bar]
	s.bar++
	if signal != nil {
		signal.Symbol = bar.Symbol
	}
	return signal, nil
}

func newTestRegistry(t *testing.T, script map[int]*types.StrategySignal) *strategy.Registry {
	t.Helper()
	r := strategy.NewRegistry(zap.NewNop())
	r.Register("scripted", func() strategy.Strategy { return &scriptedStrategy{script: script} })
	return r
}

func flatBars(symbol string, n int, price string) []types.Bar {
	bars := make([]types.Bar, n)
	for i := range bars {
		bars[i] = types.Bar{
			Symbol: symbol,
			Date:   time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC),
			Open:   dec(price), High: dec(price), Low: dec(price), Close: dec(price),
			Volume: dec("10000"),
		}
	}
	return bars
}

func testConfig(strategyName string) types.BacktestConfig {
	cfg := types.DefaultBacktestConfig()
	cfg.Strategy = strategyName
	cfg.Symbols = []string{"AAPL"}
	// disable the percentage breakers so scripted exits drive the test
	cfg.Risk.StopLossPct = decimal.Zero
	cfg.Risk.TakeProfitPct = decimal.Zero
	return cfg
}

func TestEngineRoundTrip(t *testing.T) {
	script := map[int]*types.StrategySignal{
		2: {Type: types.SignalLong, Strength: dec("1"), Reason: "entry"},
		5: {Type: types.SignalExit, Strength: dec("1"), Reason: "exit"},
	}
	registry := newTestRegistry(t, script)

	engine, err := backtester.NewEngine(zap.NewNop(), registry, testConfig("scripted"))
	if err != nil {
		t.Fatal(err)
	}

	result, err := engine.Run(context.Background(), flatBars("AAPL", 8, "100"))
	if err != nil {
		t.Fatal(err)
	}

	if result.BarsProcessed != 8 {
		t.Fatalf("bars processed = %d, want 8", result.BarsProcessed)
	}
	if len(result.EquityCurve) != 8 {
		t.Fatalf("equity curve has %d points, want 8", len(result.EquityCurve))
	}
	if len(result.TradeHistory) != 2 {
		t.Fatalf("got %d trades, want entry and exit", len(result.TradeHistory))
	}
	if result.Report.TotalTrades != 1 {
		t.Fatalf("total trades = %d, want 1 closing leg", result.Report.TotalTrades)
	}
	if engine.Portfolio().Position("AAPL") != nil {
		t.Fatal("position should be flat after the scripted exit")
	}
	// flat prices with commission and slippage must lose money
	if !result.Report.TotalReturn.IsNegative() {
		t.Fatalf("total return = %s, want negative from costs", result.Report.TotalReturn)
	}
}

func TestEngineNoSignalsNoTrades(t *testing.T) {
	registry := newTestRegistry(t, nil)

	engine, err := backtester.NewEngine(zap.NewNop(), registry, testConfig("scripted"))
	if err != nil {
		t.Fatal(err)
	}

	result, err := engine.Run(context.Background(), flatBars("AAPL", 10, "50"))
	if err != nil {
		t.Fatal(err)
	}

	if len(result.TradeHistory) != 0 {
		t.Fatalf("got %d trades, want none", len(result.TradeHistory))
	}
	if !result.Report.TotalReturn.IsZero() {
		t.Fatalf("total return = %s, want exactly zero", result.Report.TotalReturn)
	}
}

func TestEngineDeterministicAcrossRuns(t *testing.T) {
	script := map[int]*types.StrategySignal{
		1: {Type: types.SignalLong, Strength: dec("0.5"), Reason: "entry"},
		4: {Type: types.SignalExit, Strength: dec("1"), Reason: "exit"},
	}

	run := func() *types.BacktestResult {
		registry := newTestRegistry(t, script)
		engine, err := backtester.NewEngine(zap.NewNop(), registry, testConfig("scripted"))
		if err != nil {
			t.Fatal(err)
		}
		bars := flatBars("AAPL", 6, "10")
		for i := range bars {
			bars[i].Close = dec("10").Add(decimal.NewFromInt(int64(i)))
			bars[i].High = bars[i].Close
		}
		result, err := engine.Run(context.Background(), bars)
		if err != nil {
			t.Fatal(err)
		}
		return result
	}

	a, b := run(), run()
	if len(a.EquityCurve) != len(b.EquityCurve) {
		t.Fatal("curve lengths differ between identical runs")
	}
	for i := range a.EquityCurve {
		if !a.EquityCurve[i].Equity.Equal(b.EquityCurve[i].Equity) {
			t.Fatalf("equity diverges at point %d: %s vs %s",
				i, a.EquityCurve[i].Equity, b.EquityCurve[i].Equity)
		}
	}
	if !a.Report.TotalReturn.Equal(b.Report.TotalReturn) {
		t.Fatal("total return differs between identical runs")
	}
}

func TestEngineSignalStopLossForcesExit(t *testing.T) {
	script := map[int]*types.StrategySignal{
		1: {Type: types.SignalLong, Strength: dec("1"), Reason: "entry", StopLoss: dec("95")},
	}
	registry := newTestRegistry(t, script)

	engine, err := backtester.NewEngine(zap.NewNop(), registry, testConfig("scripted"))
	if err != nil {
		t.Fatal(err)
	}

	bars := flatBars("AAPL", 5, "100")
	bars[3].Close = dec("94") // below the signal's stop level
	bars[3].Low = dec("94")

	result, err := engine.Run(context.Background(), bars)
	if err != nil {
		t.Fatal(err)
	}

	if engine.Portfolio().Position("AAPL") != nil {
		t.Fatal("stop loss should have flattened the position")
	}
	if result.Report.TotalTrades != 1 {
		t.Fatalf("total trades = %d, want 1 forced close", result.Report.TotalTrades)
	}
}

func TestEngineCancellationReturnsPartialResult(t *testing.T) {
	registry := newTestRegistry(t, nil)
	engine, err := backtester.NewEngine(zap.NewNop(), registry, testConfig("scripted"))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := engine.Run(ctx, flatBars("AAPL", 10, "100"))
	if err == nil {
		t.Fatal("expected a context error")
	}
	if result == nil {
		t.Fatal("cancelled run must still return the partial result")
	}
	if result.BarsProcessed != 0 {
		t.Fatalf("bars processed = %d, want 0 for pre-cancelled context", result.BarsProcessed)
	}
}

func TestEngineRejectsUnknownStrategy(t *testing.T) {
	registry := strategy.NewRegistry(zap.NewNop())
	if _, err := backtester.NewEngine(zap.NewNop(), registry, testConfig("nope")); err == nil {
		t.Fatal("expected an error for an unknown strategy id")
	}
}
