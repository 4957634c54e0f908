package strategy_test

import (
	"testing"

	"github.com/quantdesk/backtest-engine/internal/strategy"
	"github.com/quantdesk/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

func TestKDJFlatSeriesNeverSignals(t *testing.T) {
	s := strategy.NewKDJStrategy()

	// zero range pins RSV at 50, so K and D never separate
	for day := 0; day < 60; day++ {
		signal, err := s.GenerateSignal(barAt(day, "100"), nil)
		if err != nil {
			t.Fatal(err)
		}
		if signal != nil {
			t.Fatalf("day %d: flat prices produced %s signal", day, signal.Type)
		}
	}
}

func TestKDJGoldenCrossOnRise(t *testing.T) {
	s := strategy.NewKDJStrategy()
	if err := s.SetParameters(map[string]float64{"require_extreme_area": 0}); err != nil {
		t.Fatal(err)
	}

	// each close is the window high, so RSV is 100 and K crosses D
	// upward from the 50/50 seed on the first bar past the lookback
	price := decimal.NewFromInt(100)
	var entry *types.StrategySignal
	for day := 0; day < 15 && entry == nil; day++ {
		signal, err := s.GenerateSignal(barAt(day, price.String()), nil)
		if err != nil {
			t.Fatal(err)
		}
		if signal != nil {
			entry = signal
		}
		price = price.Add(decimal.NewFromInt(1))
	}

	if entry == nil {
		t.Fatal("rising series never produced a golden cross")
	}
	if entry.Type != types.SignalLong {
		t.Fatalf("signal type = %s, want LONG", entry.Type)
	}
	if !entry.Strength.Equal(decimal.NewFromFloat(0.8)) {
		t.Fatalf("strength = %s, want 0.8", entry.Strength)
	}
	if entry.Metadata["k"] == "" || entry.Metadata["d"] == "" || entry.Metadata["j"] == "" {
		t.Fatalf("metadata must carry k/d/j, got %v", entry.Metadata)
	}
}

func TestKDJExtremeAreaGateBlocksMidRangeCross(t *testing.T) {
	s := strategy.NewKDJStrategy()

	// default require_extreme_area=1: the same rising series must stay
	// silent because K and D never dipped below the oversold threshold
	price := decimal.NewFromInt(100)
	for day := 0; day < 15; day++ {
		signal, err := s.GenerateSignal(barAt(day, price.String()), nil)
		if err != nil {
			t.Fatal(err)
		}
		if signal != nil {
			t.Fatalf("day %d: gated cross still fired %s", day, signal.Type)
		}
		price = price.Add(decimal.NewFromInt(1))
	}
}

func TestKDJCeilingExitWhileLong(t *testing.T) {
	s := strategy.NewKDJStrategy()
	if err := s.SetParameters(map[string]float64{"j_ceiling": 100}); err != nil {
		t.Fatal(err)
	}
	long := &types.Position{Symbol: "TEST", Quantity: 100, AvgCost: dec("100")}

	price := decimal.NewFromInt(100)
	var exit *types.StrategySignal
	for day := 0; day < 20 && exit == nil; day++ {
		signal, err := s.GenerateSignal(barAt(day, price.String()), long)
		if err != nil {
			t.Fatal(err)
		}
		if signal != nil && signal.Type == types.SignalExit {
			exit = signal
		}
		price = price.Add(decimal.NewFromInt(2))
	}

	if exit == nil {
		t.Fatal("sustained rise never pushed J through the ceiling")
	}
	if !exit.Strength.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("ceiling exit strength = %s, want partial 0.5", exit.Strength)
	}
}
