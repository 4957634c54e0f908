// Package optimizer implements seeded random search over a strategy's
// parameter space, driving one independent backtest per sampled
// combination.
package optimizer

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/quantdesk/backtest-engine/internal/backtester"
	"github.com/quantdesk/backtest-engine/internal/metrics"
	"github.com/quantdesk/backtest-engine/internal/strategy"
	"github.com/quantdesk/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// restartSeedStride offsets the seed per restart so every restart
// explores a distinct but reproducible sampling sequence.
const restartSeedStride = 9973

// OptimizationResult pairs one sampled combination with its run outcome.
type OptimizationResult struct {
	Parameters map[string]float64    `json:"parameters"`
	Result     *types.BacktestResult `json:"result"`
	Score      float64               `json:"score"`
}

// ExplorationStats summarizes the score distribution of a finished search.
type ExplorationStats struct {
	Mean                 float64 `json:"mean"`
	Std                  float64 `json:"std"`
	Min                  float64 `json:"min"`
	Max                  float64 `json:"max"`
	ConvergenceIteration int     `json:"convergenceIteration"`
	Seed                 int64   `json:"seed"`
}

// Evaluator runs one backtest for a parameter combination. Injected so
// tests can substitute a synthetic objective surface for the full engine.
type Evaluator func(ctx context.Context, params map[string]float64) (*types.BacktestResult, error)

// RandomSearchOptimizer samples parameter combinations from a strategy's
// schema with a seeded RNG, evaluates each with a fresh engine, and
// tracks the best by the configured objective.
type RandomSearchOptimizer struct {
	logger   *zap.Logger
	cfg      types.OptimizerConfig
	specs    []strategy.ParameterSpec
	evaluate Evaluator

	seed    int64
	results []OptimizationResult
	best    *OptimizationResult
	curve   []float64
}

// New builds an optimizer whose evaluator runs the full engine with the
// given backtest config and bar data. A zero seed falls back to the
// clock, making the run non-reproducible.
func New(logger *zap.Logger, registry *strategy.Registry, cfg types.OptimizerConfig, btCfg types.BacktestConfig, bars []types.Bar) (*RandomSearchOptimizer, error) {
	strat, err := registry.Create(btCfg.Strategy)
	if err != nil {
		return nil, err
	}

	evaluate := func(ctx context.Context, params map[string]float64) (*types.BacktestResult, error) {
		runCfg := btCfg
		runCfg.ID = ""
		runCfg.Parameters = params
		runCfg.MonteCarlo.Enabled = false
		engine, err := backtester.NewEngine(logger, registry, runCfg)
		if err != nil {
			return nil, err
		}
		return engine.Run(ctx, bars)
	}

	return NewWithEvaluator(logger, cfg, strat.ParameterSchema(), evaluate), nil
}

// NewWithEvaluator builds an optimizer over an explicit schema and
// evaluator.
func NewWithEvaluator(logger *zap.Logger, cfg types.OptimizerConfig, specs []strategy.ParameterSpec, evaluate Evaluator) *RandomSearchOptimizer {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomSearchOptimizer{
		logger:   logger,
		cfg:      cfg,
		specs:    specs,
		evaluate: evaluate,
		seed:     seed,
	}
}

// Optimize runs up to cfg.Iterations evaluations and returns the best
// sampled result. It always returns the best found so far, even on
// cancellation or when the parameter space is exhausted; with no
// completed iterations the result is a synthesized empty one.
func (o *RandomSearchOptimizer) Optimize(ctx context.Context) (*OptimizationResult, error) {
	return o.run(ctx, o.seed, o.cfg.Iterations)
}

// OptimizeWithRestarts splits the iteration budget evenly across
// restarts, re-seeding deterministically per restart, and folds every
// restart's samples into a single global best. The even split trades
// per-restart depth for independent coverage.
func (o *RandomSearchOptimizer) OptimizeWithRestarts(ctx context.Context, restarts int) (*OptimizationResult, error) {
	if restarts < 1 {
		restarts = 1
	}
	perRestart := o.cfg.Iterations / restarts
	if perRestart < 1 {
		perRestart = 1
	}

	for i := 0; i < restarts; i++ {
		if _, err := o.run(ctx, o.seed+int64(i)*restartSeedStride, perRestart); err != nil {
			return o.bestOrEmpty(), err
		}
	}
	return o.bestOrEmpty(), nil
}

func (o *RandomSearchOptimizer) run(ctx context.Context, seed int64, iterations int) (*OptimizationResult, error) {
	rng := rand.New(rand.NewSource(seed))
	seen := make(map[uint64]struct{}, iterations+len(o.results))
	for _, r := range o.results {
		seen[paramKey(r.Parameters)] = struct{}{}
	}

	stale := 0
	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return o.bestOrEmpty(), err
		}

		params, ok := o.draw(rng, seen)
		if !ok {
			o.logger.Info("parameter space exhausted",
				zap.Int("iterations_completed", i))
			break
		}

		result, err := o.evaluate(ctx, params)
		metrics.OptimizerEvaluations.Inc()
		if err != nil {
			o.logger.Warn("evaluation failed, skipping combination",
				zap.Error(err))
			continue
		}

		score := objectiveScore(o.cfg.Objective, result.Report)
		candidate := OptimizationResult{Parameters: params, Result: result, Score: score}
		o.results = append(o.results, candidate)

		prevBest := math.Inf(-1)
		if o.best != nil {
			prevBest = o.normalized(o.best.Score)
		}
		if o.best == nil || o.normalized(score) > prevBest {
			best := candidate
			o.best = &best
		}
		o.curve = append(o.curve, o.best.Score)

		if o.cfg.EarlyStop {
			if o.normalized(o.best.Score)-prevBest < o.cfg.MinImprovement {
				stale++
			} else {
				stale = 0
			}
			if stale >= o.cfg.Patience {
				o.logger.Info("early stop",
					zap.Int("iteration", i+1),
					zap.Float64("best_score", o.best.Score))
				break
			}
		}
	}

	return o.bestOrEmpty(), nil
}

// draw samples one unseen combination, redrawing on duplicates up to
// cfg.MaxRedraws before declaring the space exhausted.
func (o *RandomSearchOptimizer) draw(rng *rand.Rand, seen map[uint64]struct{}) (map[string]float64, bool) {
	redraws := o.cfg.MaxRedraws
	if redraws < 1 {
		redraws = 1
	}
	for attempt := 0; attempt < redraws; attempt++ {
		params := sample(rng, o.specs)
		key := paramKey(params)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		return params, true
	}
	return nil, false
}

// sample draws one value per spec, in schema order so the RNG stream is
// stable across runs.
func sample(rng *rand.Rand, specs []strategy.ParameterSpec) map[string]float64 {
	params := make(map[string]float64, len(specs))
	for _, spec := range specs {
		switch spec.Type {
		case "int":
			span := int64(spec.Max-spec.Min) + 1
			params[spec.Name] = spec.Min + float64(rng.Int63n(span))
		case "bool":
			params[spec.Name] = float64(rng.Intn(2))
		case "choice":
			params[spec.Name] = float64(rng.Intn(len(spec.Options)))
		default: // float
			v := spec.Min + rng.Float64()*(spec.Max-spec.Min)
			if spec.Step > 0 {
				v = spec.Min + math.Round((v-spec.Min)/spec.Step)*spec.Step
			}
			params[spec.Name] = v
		}
	}
	return params
}

// paramKey hashes the canonical name-sorted serialization of a
// combination, replacing per-draw linear equality scans.
func paramKey(params map[string]float64) uint64 {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	h := fnv.New64a()
	for _, name := range names {
		fmt.Fprintf(h, "%s=%.10g;", name, params[name])
	}
	return h.Sum64()
}

// normalized maps a score onto a maximize axis.
func (o *RandomSearchOptimizer) normalized(score float64) float64 {
	if o.cfg.Minimize {
		return -score
	}
	return score
}

func (o *RandomSearchOptimizer) bestOrEmpty() *OptimizationResult {
	if o.best != nil {
		return o.best
	}
	return &OptimizationResult{
		Parameters: map[string]float64{},
		Result:     &types.BacktestResult{},
	}
}

// Results returns every sampled combination in evaluation order.
func (o *RandomSearchOptimizer) Results() []OptimizationResult { return o.results }

// GetConvergenceCurve returns the best-so-far score per completed
// iteration; monotonic on the configured objective axis.
func (o *RandomSearchOptimizer) GetConvergenceCurve() []float64 { return o.curve }

// GetExplorationStats summarizes the sampled score distribution. The
// convergence iteration is the first index at which the final best
// score was reached.
func (o *RandomSearchOptimizer) GetExplorationStats() ExplorationStats {
	stats := ExplorationStats{Seed: o.seed}
	if len(o.results) == 0 {
		return stats
	}

	stats.Min = math.Inf(1)
	stats.Max = math.Inf(-1)
	var sum float64
	for _, r := range o.results {
		sum += r.Score
		stats.Min = math.Min(stats.Min, r.Score)
		stats.Max = math.Max(stats.Max, r.Score)
	}
	stats.Mean = sum / float64(len(o.results))

	var variance float64
	for _, r := range o.results {
		d := r.Score - stats.Mean
		variance += d * d
	}
	stats.Std = math.Sqrt(variance / float64(len(o.results)))

	for i, score := range o.curve {
		if score == o.curve[len(o.curve)-1] {
			stats.ConvergenceIteration = i + 1
			break
		}
	}
	return stats
}

// objectiveScore extracts the named metric from a report. Unknown names
// fall back to the Sharpe ratio.
func objectiveScore(objective string, report types.PerformanceReport) float64 {
	pick := func(d decimal.Decimal) float64 { return d.InexactFloat64() }
	switch objective {
	case "total_return":
		return pick(report.TotalReturn)
	case "annual_return":
		return pick(report.AnnualReturn)
	case "max_drawdown":
		return pick(report.MaxDrawdown)
	case "win_rate":
		return pick(report.WinRate)
	case "profit_factor":
		return pick(report.ProfitFactor)
	default:
		return pick(report.SharpeRatio)
	}
}
