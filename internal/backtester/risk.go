package backtester

import (
	"fmt"
	"time"

	"github.com/quantdesk/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RiskManager gates order admission against portfolio state. It holds no
// portfolio state of its own; every check is a read-only view.
type RiskManager struct {
	logger *zap.Logger
	limits types.RiskLimits
}

// NewRiskManager creates a risk manager with the given limits.
func NewRiskManager(logger *zap.Logger, limits types.RiskLimits) *RiskManager {
	return &RiskManager{logger: logger, limits: limits}
}

// ValidateOrder applies the admission checks in order and returns at the
// first failure: per-symbol exposure, total exposure, cash sufficiency,
// daily-loss breaker, drawdown breaker. The estimated commission comes
// from the execution handler so the cash check matches what a fill would
// actually cost.
func (rm *RiskManager) ValidateOrder(
	order *types.Order,
	portfolio *Portfolio,
	estCommission decimal.Decimal,
	date time.Time,
) (bool, string) {
	equity := portfolio.Equity()
	orderValue := decimal.NewFromInt(order.Quantity).Mul(order.Price)

	symbolExposure := portfolio.PositionValue(order.Symbol).Add(orderValue)
	if symbolExposure.GreaterThan(equity.Mul(rm.limits.MaxPositionSize)) {
		return false, fmt.Sprintf("per-symbol exposure %s exceeds limit", symbolExposure.StringFixed(2))
	}

	totalExposure := portfolio.TotalPositionValue().Add(orderValue)
	if totalExposure.GreaterThan(equity.Mul(rm.limits.MaxTotalPosition)) {
		return false, fmt.Sprintf("total exposure %s exceeds limit", totalExposure.StringFixed(2))
	}

	if order.Action == types.ActionBuy {
		cost := orderValue.Add(estCommission)
		if cost.GreaterThan(portfolio.Cash()) {
			return false, fmt.Sprintf("insufficient cash: need %s, have %s",
				cost.StringFixed(2), portfolio.Cash().StringFixed(2))
		}
	}

	if reason, breached := rm.dailyLossBreached(portfolio, equity, date); breached {
		return false, reason
	}

	if rm.limits.MaxDrawdown.IsPositive() {
		peak := peakEquity(portfolio)
		if peak.IsPositive() {
			drawdown := peak.Sub(equity).Div(peak)
			if drawdown.GreaterThan(rm.limits.MaxDrawdown) {
				return false, fmt.Sprintf("drawdown %s exceeds limit %s",
					drawdown.StringFixed(4), rm.limits.MaxDrawdown.String())
			}
		}
	}

	return true, ""
}

// dailyLossBreached compares today's equity change against the last
// equity recorded on a prior date. A breach rejects all new entries for
// the remainder of the day.
func (rm *RiskManager) dailyLossBreached(portfolio *Portfolio, equity decimal.Decimal, date time.Time) (string, bool) {
	if !rm.limits.MaxDailyLoss.IsPositive() {
		return "", false
	}

	prevEquity := decimal.Zero
	curve := portfolio.EquityCurve()
	for i := len(curve) - 1; i >= 0; i-- {
		if curve[i].Date.Before(truncateDay(date)) {
			prevEquity = curve[i].Equity
			break
		}
	}
	if !prevEquity.IsPositive() {
		return "", false
	}

	change := equity.Sub(prevEquity).Div(prevEquity)
	if change.LessThan(rm.limits.MaxDailyLoss.Neg()) {
		return fmt.Sprintf("daily loss %s exceeds limit %s",
			change.Abs().StringFixed(4), rm.limits.MaxDailyLoss.String()), true
	}
	return "", false
}

// CheckStopLossTakeProfit computes the direction-adjusted return of a
// position and returns a non-empty reason when the configured stop-loss
// or take-profit threshold is breached. Advisory only: the engine turns
// the reason into a forced exit.
func (rm *RiskManager) CheckStopLossTakeProfit(position *types.Position, price decimal.Decimal) string {
	if position == nil || position.Quantity == 0 || !position.AvgCost.IsPositive() {
		return ""
	}

	ret := price.Sub(position.AvgCost).Div(position.AvgCost)
	if position.Quantity < 0 {
		ret = ret.Neg()
	}

	if rm.limits.StopLossPct.IsPositive() && ret.LessThan(rm.limits.StopLossPct.Neg()) {
		return fmt.Sprintf("stop loss: return %s below -%s", ret.StringFixed(4), rm.limits.StopLossPct.String())
	}
	if rm.limits.TakeProfitPct.IsPositive() && ret.GreaterThan(rm.limits.TakeProfitPct) {
		return fmt.Sprintf("take profit: return %s above %s", ret.StringFixed(4), rm.limits.TakeProfitPct.String())
	}
	return ""
}

// peakEquity returns the running peak over the recorded curve, seeded
// with current equity so a first-bar check never divides by zero.
func peakEquity(portfolio *Portfolio) decimal.Decimal {
	peak := portfolio.Equity()
	for _, pt := range portfolio.EquityCurve() {
		if pt.Equity.GreaterThan(peak) {
			peak = pt.Equity
		}
	}
	return peak
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
