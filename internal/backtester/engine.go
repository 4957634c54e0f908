package backtester

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/quantdesk/backtest-engine/internal/metrics"
	"github.com/quantdesk/backtest-engine/internal/strategy"
	"github.com/quantdesk/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine drives one backtest: it replays bars in chronological order,
// feeds them to the strategy, and routes the resulting orders through
// risk admission, simulated execution, and portfolio accounting.
type Engine struct {
	logger    *zap.Logger
	cfg       types.BacktestConfig
	strat     strategy.Strategy
	portfolio *Portfolio
	risk      *RiskManager
	execution *ExecutionHandler

	// active stop/take levels attached by the entry signal, cleared
	// when the position goes flat
	stopLevels map[string]signalLevels
}

type signalLevels struct {
	stopLoss   decimal.Decimal
	takeProfit decimal.Decimal
}

// NewEngine wires a fresh engine from config. The strategy instance is
// created from the registry and parameterized before the first bar.
func NewEngine(logger *zap.Logger, registry *strategy.Registry, cfg types.BacktestConfig) (*Engine, error) {
	strat, err := registry.Create(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	if len(cfg.Parameters) > 0 {
		if err := strat.SetParameters(cfg.Parameters); err != nil {
			return nil, fmt.Errorf("strategy %s: %w", cfg.Strategy, err)
		}
	}

	return &Engine{
		logger:     logger,
		cfg:        cfg,
		strat:      strat,
		portfolio:  NewPortfolio(logger, cfg.InitialCapital, cfg.LotSize),
		risk:       NewRiskManager(logger, cfg.Risk),
		execution:  NewExecutionHandler(logger, cfg.Execution),
		stopLevels: make(map[string]signalLevels),
	}, nil
}

// Run replays the bar series and returns the result. Bars may span
// multiple symbols; they are merged by date and, within a date, visited
// in lexicographic symbol order so that runs with identical inputs are
// byte-identical. On context cancellation the partial result is
// returned together with ctx.Err().
func (e *Engine) Run(ctx context.Context, bars []types.Bar) (*types.BacktestResult, error) {
	runID := e.cfg.ID
	if runID == "" {
		runID = uuid.New().String()
	}
	startedAt := time.Now()

	e.strat.Reset()
	e.portfolio.Reset()
	e.stopLevels = make(map[string]signalLevels)

	byDate := groupByDate(bars)
	processed := 0

	var runErr error
	for _, day := range byDate {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		for _, bar := range day.bars {
			e.portfolio.UpdateMarketData(bar)
		}
		for _, bar := range day.bars {
			e.processBar(bar)
			processed++
			metrics.BarsProcessed.Inc()
		}
		e.portfolio.RecordEquityCurve(day.date)
	}

	result := &types.BacktestResult{
		ID:            runID,
		Strategy:      e.cfg.Strategy,
		Report:        NewMetricsCalculator(e.cfg.RiskFreeRate).Calculate(e.cfg.InitialCapital, e.portfolio.EquityCurve(), e.portfolio.Trades()),
		EquityCurve:   e.portfolio.EquityCurve(),
		TradeHistory:  e.portfolio.Trades(),
		StartedAt:     startedAt,
		CompletedAt:   time.Now(),
		BarsProcessed: processed,
	}

	if runErr == nil && e.cfg.MonteCarlo.Enabled {
		result.MonteCarlo = NewMonteCarloSimulator(e.cfg.MonteCarlo).Run(e.cfg.InitialCapital, e.portfolio.Trades())
	}

	metrics.RunsCompleted.Inc()
	e.logger.Info("backtest finished",
		zap.String("run_id", runID),
		zap.String("strategy", e.cfg.Strategy),
		zap.Int("bars", processed),
		zap.Int("trades", result.Report.TotalTrades),
		zap.String("total_return", result.Report.TotalReturn.StringFixed(4)))

	return result, runErr
}

// Portfolio exposes the accounting state, mainly for tests and reporting.
func (e *Engine) Portfolio() *Portfolio { return e.portfolio }

// processBar runs the per-bar pipeline for one symbol: forced exits
// first, then the strategy's own signal.
func (e *Engine) processBar(bar types.Bar) {
	pos := e.portfolio.Position(bar.Symbol)

	if reason := e.forcedExitReason(bar, pos); reason != "" {
		e.closePosition(bar, pos, decimal.NewFromInt(1), reason)
		pos = e.portfolio.Position(bar.Symbol)
	}

	signal, err := e.strat.GenerateSignal(bar, pos)
	if err != nil {
		e.logger.Warn("signal generation failed",
			zap.String("symbol", bar.Symbol), zap.Error(err))
		return
	}
	if signal == nil {
		return
	}
	metrics.SignalsGenerated.WithLabelValues(string(signal.Type)).Inc()

	switch signal.Type {
	case types.SignalLong:
		e.openPosition(bar, signal, types.ActionBuy)
	case types.SignalShort:
		e.openPosition(bar, signal, types.ActionSell)
	case types.SignalExit:
		e.closePosition(bar, e.portfolio.Position(bar.Symbol), signal.Strength, signal.Reason)
	}
}

// forcedExitReason checks the signal-attached levels and the configured
// percentage thresholds against the current close.
func (e *Engine) forcedExitReason(bar types.Bar, pos *types.Position) string {
	if pos == nil || pos.Quantity == 0 {
		delete(e.stopLevels, bar.Symbol)
		return ""
	}

	if levels, ok := e.stopLevels[bar.Symbol]; ok {
		long := pos.Quantity > 0
		if levels.stopLoss.IsPositive() {
			if (long && bar.Close.LessThanOrEqual(levels.stopLoss)) ||
				(!long && bar.Close.GreaterThanOrEqual(levels.stopLoss)) {
				return "signal stop loss hit"
			}
		}
		if levels.takeProfit.IsPositive() {
			if (long && bar.Close.GreaterThanOrEqual(levels.takeProfit)) ||
				(!long && bar.Close.LessThanOrEqual(levels.takeProfit)) {
				return "signal take profit hit"
			}
		}
	}

	return e.risk.CheckStopLossTakeProfit(pos, bar.Close)
}

// openPosition sizes an entry from the signal strength and submits it
// through risk admission. Rejected orders are dropped, not retried.
func (e *Engine) openPosition(bar types.Bar, signal *types.StrategySignal, action types.OrderAction) {
	maxFraction := e.cfg.Risk.MaxPositionSize
	qty := e.portfolio.CalculatePositionSize(signal.Strength, maxFraction, bar.Close)
	if qty <= 0 {
		return
	}

	order := e.execution.NewOrder(bar.Symbol, action, qty, bar.Close)
	estCommission := e.execution.CalculateCommission(qty, bar.Close)

	ok, reason := e.risk.ValidateOrder(order, e.portfolio, estCommission, bar.Date)
	if !ok {
		metrics.OrdersRejected.Inc()
		e.logger.Debug("order rejected",
			zap.String("symbol", bar.Symbol),
			zap.String("reason", reason))
		return
	}

	fill := e.execution.ExecuteOrder(order, bar)
	if !e.portfolio.ProcessFill(fill) {
		return
	}
	metrics.OrdersFilled.WithLabelValues(string(action)).Inc()

	if signal.StopLoss.IsPositive() || signal.TakeProfit.IsPositive() {
		e.stopLevels[bar.Symbol] = signalLevels{
			stopLoss:   signal.StopLoss,
			takeProfit: signal.TakeProfit,
		}
	}
}

// closePosition flattens the given fraction of the position. Exits skip
// risk admission entirely; a position that got in must always be able
// to get out.
func (e *Engine) closePosition(bar types.Bar, pos *types.Position, fraction decimal.Decimal, reason string) {
	if pos == nil || pos.Quantity == 0 {
		return
	}
	if fraction.LessThanOrEqual(decimal.Zero) || fraction.GreaterThan(decimal.NewFromInt(1)) {
		fraction = decimal.NewFromInt(1)
	}

	held := abs64(pos.Quantity)
	qty := decimal.NewFromInt(held).Mul(fraction).IntPart()
	if e.cfg.LotSize > 0 {
		qty = qty / e.cfg.LotSize * e.cfg.LotSize
	}
	if qty <= 0 || qty >= held {
		qty = held
	}

	action := types.ActionSell
	if pos.Quantity < 0 {
		action = types.ActionBuy
	}

	order := e.execution.NewOrder(bar.Symbol, action, qty, bar.Close)
	fill := e.execution.ExecuteOrder(order, bar)
	if !e.portfolio.ProcessFill(fill) {
		return
	}
	metrics.OrdersFilled.WithLabelValues(string(action)).Inc()

	if qty == held {
		delete(e.stopLevels, bar.Symbol)
	}
	e.logger.Debug("position reduced",
		zap.String("symbol", bar.Symbol),
		zap.Int64("quantity", qty),
		zap.String("reason", reason))
}

type dateGroup struct {
	date time.Time
	bars []types.Bar
}

// groupByDate merges the bar slice into per-date groups sorted by date,
// with bars inside each group ordered lexicographically by symbol.
func groupByDate(bars []types.Bar) []dateGroup {
	byDate := make(map[time.Time][]types.Bar)
	for _, bar := range bars {
		byDate[bar.Date] = append(byDate[bar.Date], bar)
	}

	groups := make([]dateGroup, 0, len(byDate))
	for date, group := range byDate {
		sort.Slice(group, func(i, j int) bool { return group[i].Symbol < group[j].Symbol })
		groups = append(groups, dateGroup{date: date, bars: group})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].date.Before(groups[j].date) })
	return groups
}
