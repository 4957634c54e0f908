package optimizer_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/quantdesk/backtest-engine/internal/optimizer"
	"github.com/quantdesk/backtest-engine/internal/strategy"
	"github.com/quantdesk/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func testSchema() []strategy.ParameterSpec {
	return []strategy.ParameterSpec{
		{Name: "fast", Type: "int", Min: 5, Max: 20},
		{Name: "slow", Type: "int", Min: 20, Max: 60},
		{Name: "threshold", Type: "float", Min: 0, Max: 1, Step: 0.05},
	}
}

// parabolicEvaluator scores combinations by closeness of fast to 12,
// giving the search a smooth surface with a known optimum region.
func parabolicEvaluator(ctx context.Context, params map[string]float64) (*types.BacktestResult, error) {
	d := params["fast"] - 12
	score := 1 - d*d/100
	return &types.BacktestResult{
		Report: types.PerformanceReport{SharpeRatio: decimal.NewFromFloat(score)},
	}, nil
}

func testOptConfig() types.OptimizerConfig {
	cfg := types.DefaultOptimizerConfig()
	cfg.Iterations = 30
	cfg.Seed = 42
	return cfg
}

func TestOptimizeSeededRunsAreIdentical(t *testing.T) {
	run := func() []optimizer.OptimizationResult {
		o := optimizer.NewWithEvaluator(zap.NewNop(), testOptConfig(), testSchema(), parabolicEvaluator)
		if _, err := o.Optimize(context.Background()); err != nil {
			t.Fatal(err)
		}
		return o.Results()
	}

	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("run lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if !reflect.DeepEqual(a[i].Parameters, b[i].Parameters) {
			t.Fatalf("iteration %d sampled different parameters: %v vs %v",
				i, a[i].Parameters, b[i].Parameters)
		}
		if a[i].Score != b[i].Score {
			t.Fatalf("iteration %d scores differ", i)
		}
	}
}

func TestOptimizeBestIsMaxOfSamples(t *testing.T) {
	o := optimizer.NewWithEvaluator(zap.NewNop(), testOptConfig(), testSchema(), parabolicEvaluator)
	best, err := o.Optimize(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	results := o.Results()
	if len(results) == 0 || len(results) > 30 {
		t.Fatalf("got %d results, want 1..30", len(results))
	}
	for _, r := range results {
		if r.Score > best.Score {
			t.Fatalf("best score %f is not the maximum (found %f)", best.Score, r.Score)
		}
	}
	if !reflect.DeepEqual(best.Parameters, results[bestIndex(results)].Parameters) {
		t.Fatal("best result must be one of the sampled results")
	}
}

func bestIndex(results []optimizer.OptimizationResult) int {
	idx := 0
	for i, r := range results {
		if r.Score > results[idx].Score {
			idx = i
		}
	}
	return idx
}

func TestOptimizeMinimizeDirection(t *testing.T) {
	cfg := testOptConfig()
	cfg.Minimize = true
	o := optimizer.NewWithEvaluator(zap.NewNop(), cfg, testSchema(), parabolicEvaluator)

	best, err := o.Optimize(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range o.Results() {
		if r.Score < best.Score {
			t.Fatalf("minimize: best %f is not the minimum (found %f)", best.Score, r.Score)
		}
	}
}

func TestOptimizeEarlyStopBoundsIterations(t *testing.T) {
	cfg := testOptConfig()
	cfg.Iterations = 50
	cfg.EarlyStop = true
	cfg.Patience = 5
	cfg.MinImprovement = 2 // unreachable, every iteration counts as stale

	o := optimizer.NewWithEvaluator(zap.NewNop(), cfg, testSchema(), parabolicEvaluator)
	if _, err := o.Optimize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := len(o.Results()); got > 50 {
		t.Fatalf("got %d results, budget is 50", got)
	}
	if got := len(o.Results()); got > 10 {
		t.Fatalf("early stop never engaged: %d iterations for patience 5", got)
	}
}

func TestOptimizeConvergenceCurveMonotonic(t *testing.T) {
	o := optimizer.NewWithEvaluator(zap.NewNop(), testOptConfig(), testSchema(), parabolicEvaluator)
	if _, err := o.Optimize(context.Background()); err != nil {
		t.Fatal(err)
	}

	curve := o.GetConvergenceCurve()
	if len(curve) != len(o.Results()) {
		t.Fatalf("curve has %d points for %d results", len(curve), len(o.Results()))
	}
	for i := 1; i < len(curve); i++ {
		if curve[i] < curve[i-1] {
			t.Fatalf("best-so-far regressed at iteration %d: %f < %f", i, curve[i], curve[i-1])
		}
	}
}

func TestOptimizeExplorationStats(t *testing.T) {
	o := optimizer.NewWithEvaluator(zap.NewNop(), testOptConfig(), testSchema(), parabolicEvaluator)
	best, err := o.Optimize(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	stats := o.GetExplorationStats()
	if stats.Seed != 42 {
		t.Fatalf("seed = %d, want 42", stats.Seed)
	}
	if stats.Min > stats.Mean || stats.Mean > stats.Max {
		t.Fatalf("stats out of order: min %f mean %f max %f", stats.Min, stats.Mean, stats.Max)
	}
	if stats.Max != best.Score {
		t.Fatalf("max sampled score %f should equal the best score %f", stats.Max, best.Score)
	}
	if stats.ConvergenceIteration < 1 || stats.ConvergenceIteration > len(o.Results()) {
		t.Fatalf("convergence iteration %d out of range", stats.ConvergenceIteration)
	}
}

func TestOptimizeWithRestartsFoldsGlobalBest(t *testing.T) {
	cfg := testOptConfig()
	cfg.Iterations = 30
	o := optimizer.NewWithEvaluator(zap.NewNop(), cfg, testSchema(), parabolicEvaluator)

	best, err := o.OptimizeWithRestarts(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(o.Results()) == 0 || len(o.Results()) > 30 {
		t.Fatalf("got %d results, want the split budget respected", len(o.Results()))
	}
	for _, r := range o.Results() {
		if r.Score > best.Score {
			t.Fatal("restart folding lost the global best")
		}
	}
}

func TestOptimizeSkipsFailedEvaluations(t *testing.T) {
	calls := 0
	flaky := func(ctx context.Context, params map[string]float64) (*types.BacktestResult, error) {
		calls++
		if calls%2 == 0 {
			return nil, errors.New("synthetic failure")
		}
		return parabolicEvaluator(ctx, params)
	}

	cfg := testOptConfig()
	cfg.Iterations = 10
	o := optimizer.NewWithEvaluator(zap.NewNop(), cfg, testSchema(), flaky)

	best, err := o.Optimize(context.Background())
	if err != nil {
		t.Fatalf("individual failures must not abort the sweep: %v", err)
	}
	if len(o.Results()) != 5 {
		t.Fatalf("got %d results from 10 draws with every other failing, want 5", len(o.Results()))
	}
	if best.Result == nil {
		t.Fatal("best must still be populated")
	}
}

func TestOptimizeCancelledReturnsBestSoFar(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := optimizer.NewWithEvaluator(zap.NewNop(), testOptConfig(), testSchema(), parabolicEvaluator)
	best, err := o.Optimize(ctx)
	if err == nil {
		t.Fatal("expected a context error")
	}
	if best == nil || best.Result == nil {
		t.Fatal("cancelled search must synthesize an empty best result")
	}
	if len(best.Parameters) != 0 {
		t.Fatalf("no iterations ran, parameters should be empty: %v", best.Parameters)
	}
}
