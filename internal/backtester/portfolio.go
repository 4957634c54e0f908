// Package backtester provides the event-driven backtesting engine and its
// portfolio, risk, and execution components.
package backtester

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/quantdesk/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Portfolio owns cash, positions, the equity curve, and the trade log.
// It is mutated only by fills and market-data updates; everything else is
// a read-only view.
type Portfolio struct {
	logger         *zap.Logger
	initialCapital decimal.Decimal
	lotSize        int64

	cash       decimal.Decimal
	positions  map[string]*types.Position
	curve      []types.EquityCurvePoint
	trades     []types.Trade
	peakEquity decimal.Decimal

	// entryCommission accumulates the commission paid opening each
	// position so closing legs can realize PnL net of both sides.
	entryCommission map[string]decimal.Decimal
}

// NewPortfolio creates a portfolio with the given starting cash.
func NewPortfolio(logger *zap.Logger, initialCapital decimal.Decimal, lotSize int64) *Portfolio {
	if lotSize <= 0 {
		lotSize = 100
	}
	p := &Portfolio{
		logger:         logger,
		initialCapital: initialCapital,
		lotSize:        lotSize,
	}
	p.Reset()
	return p
}

// Reset restores initial cash and clears positions, curve, and trade log.
// Required before starting an independent run.
func (p *Portfolio) Reset() {
	p.cash = p.initialCapital
	p.positions = make(map[string]*types.Position)
	p.entryCommission = make(map[string]decimal.Decimal)
	p.curve = nil
	p.trades = nil
	p.peakEquity = p.initialCapital
}

// UpdateMarketData refreshes the symbol's last-seen price and derived
// market value / unrealized PnL.
func (p *Portfolio) UpdateMarketData(bar types.Bar) {
	pos, ok := p.positions[bar.Symbol]
	if !ok {
		return
	}
	pos.LastPrice = bar.Close
	pos.MarketValue = decimal.NewFromInt(pos.Quantity).Mul(bar.Close)
	pos.UnrealizedPnL = bar.Close.Sub(pos.AvgCost).Mul(decimal.NewFromInt(pos.Quantity))
}

// Cash returns available cash.
func (p *Portfolio) Cash() decimal.Decimal { return p.cash }

// Equity returns cash plus the market value of all positions.
func (p *Portfolio) Equity() decimal.Decimal {
	equity := p.cash
	for _, pos := range p.positions {
		equity = equity.Add(pos.MarketValue)
	}
	return equity
}

// Position returns the active position for a symbol, or nil.
func (p *Portfolio) Position(symbol string) *types.Position {
	return p.positions[symbol]
}

// Positions returns copies of all active positions keyed by symbol.
func (p *Portfolio) Positions() map[string]*types.Position {
	out := make(map[string]*types.Position, len(p.positions))
	for sym, pos := range p.positions {
		cp := *pos
		out[sym] = &cp
	}
	return out
}

// PositionSymbols returns active position symbols in lexicographic order,
// giving callers a deterministic iteration order.
func (p *Portfolio) PositionSymbols() []string {
	syms := make([]string, 0, len(p.positions))
	for sym := range p.positions {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

// PositionValue returns the absolute market value held in one symbol.
func (p *Portfolio) PositionValue(symbol string) decimal.Decimal {
	pos, ok := p.positions[symbol]
	if !ok {
		return decimal.Zero
	}
	return pos.MarketValue.Abs()
}

// TotalPositionValue returns the sum of absolute position market values.
func (p *Portfolio) TotalPositionValue() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range p.positions {
		total = total.Add(pos.MarketValue.Abs())
	}
	return total
}

// EquityCurve returns the recorded equity curve.
func (p *Portfolio) EquityCurve() []types.EquityCurvePoint { return p.curve }

// Trades returns the trade log.
func (p *Portfolio) Trades() []types.Trade { return p.trades }

// Summary returns a read-only snapshot of portfolio state.
func (p *Portfolio) Summary() types.PortfolioSummary {
	realized := decimal.Zero
	unrealized := decimal.Zero
	for _, pos := range p.positions {
		unrealized = unrealized.Add(pos.UnrealizedPnL)
	}
	for _, t := range p.trades {
		realized = realized.Add(t.RealizedPnL)
	}
	return types.PortfolioSummary{
		InitialCapital: p.initialCapital,
		Cash:           p.cash,
		Equity:         p.Equity(),
		PositionsValue: p.TotalPositionValue(),
		RealizedPnL:    realized,
		UnrealizedPnL:  unrealized,
		OpenPositions:  len(p.positions),
	}
}

// ProcessFill applies one fill to cash and positions. It returns false and
// leaves state untouched when a BUY cannot be funded. Position transitions
// cover open, add, partial reduce, and full close / reverse.
func (p *Portfolio) ProcessFill(fill types.Fill) bool {
	amount := decimal.NewFromInt(fill.Quantity).Mul(fill.Price)

	if fill.Action == types.ActionBuy {
		cost := amount.Add(fill.Commission)
		if cost.GreaterThan(p.cash) {
			p.logger.Debug("fill rejected: insufficient cash",
				zap.String("symbol", fill.Symbol),
				zap.String("cost", cost.String()),
				zap.String("cash", p.cash.String()),
			)
			return false
		}
		p.cash = p.cash.Sub(cost)
	} else {
		p.cash = p.cash.Add(amount).Sub(fill.Commission)
	}

	signedQty := fill.Quantity
	if fill.Action == types.ActionSell {
		signedQty = -fill.Quantity
	}

	realized, closedQty := p.applyToPosition(fill, signedQty)

	p.trades = append(p.trades, types.Trade{
		ID:          uuid.New().String(),
		Symbol:      fill.Symbol,
		Date:        fill.Date,
		Action:      fill.Action,
		Quantity:    fill.Quantity,
		Price:       fill.Price,
		Amount:      amount,
		Commission:  fill.Commission,
		RealizedPnL: realized,
		Closing:     closedQty > 0,
	})

	return true
}

// applyToPosition mutates the position for one signed fill quantity and
// returns the realized PnL (net of the closing leg's commission) and the
// number of units closed.
func (p *Portfolio) applyToPosition(fill types.Fill, signedQty int64) (decimal.Decimal, int64) {
	pos, exists := p.positions[fill.Symbol]

	// Open
	if !exists || pos.Quantity == 0 {
		p.positions[fill.Symbol] = &types.Position{
			Symbol:      fill.Symbol,
			Quantity:    signedQty,
			AvgCost:     fill.Price,
			LastPrice:   fill.Price,
			MarketValue: decimal.NewFromInt(signedQty).Mul(fill.Price),
			OpenedAt:    fill.Date,
		}
		p.entryCommission[fill.Symbol] = fill.Commission
		return decimal.Zero, 0
	}

	sameDirection := (pos.Quantity > 0) == (signedQty > 0)

	// Add: weighted-average cost across lots
	if sameDirection {
		oldAbs := decimal.NewFromInt(abs64(pos.Quantity))
		addAbs := decimal.NewFromInt(abs64(signedQty))
		totalAbs := oldAbs.Add(addAbs)
		pos.AvgCost = oldAbs.Mul(pos.AvgCost).Add(addAbs.Mul(fill.Price)).Div(totalAbs)
		pos.Quantity += signedQty
		p.refreshPosition(pos, fill.Price)
		p.entryCommission[fill.Symbol] = p.entryCommission[fill.Symbol].Add(fill.Commission)
		return decimal.Zero, 0
	}

	closable := abs64(pos.Quantity)
	closing := abs64(signedQty)
	if closing > closable {
		closing = closable
	}

	// Realized PnL on the closed portion, direction-adjusted (closing a
	// short negates the price delta) and net of both sides' commission.
	perUnit := fill.Price.Sub(pos.AvgCost)
	if pos.Quantity < 0 {
		perUnit = perUnit.Neg()
	}
	entryComm := p.entryCommission[fill.Symbol]
	entryShare := entryComm
	if closing < closable {
		entryShare = entryComm.Mul(decimal.NewFromInt(closing)).Div(decimal.NewFromInt(closable))
	}
	realized := perUnit.Mul(decimal.NewFromInt(closing)).Sub(fill.Commission).Sub(entryShare)

	remainder := pos.Quantity + signedQty
	switch {
	case remainder == 0:
		// Full close
		pos.RealizedPnL = pos.RealizedPnL.Add(realized)
		delete(p.positions, fill.Symbol)
		delete(p.entryCommission, fill.Symbol)
	case (remainder > 0) == (pos.Quantity > 0):
		// Partial reduce
		pos.Quantity = remainder
		pos.RealizedPnL = pos.RealizedPnL.Add(realized)
		p.refreshPosition(pos, fill.Price)
		p.entryCommission[fill.Symbol] = entryComm.Sub(entryShare)
	default:
		// Reverse: remainder opens a new position in the opposite
		// direction at the fill price.
		p.positions[fill.Symbol] = &types.Position{
			Symbol:      fill.Symbol,
			Quantity:    remainder,
			AvgCost:     fill.Price,
			LastPrice:   fill.Price,
			MarketValue: decimal.NewFromInt(remainder).Mul(fill.Price),
			OpenedAt:    fill.Date,
		}
		p.entryCommission[fill.Symbol] = decimal.Zero
	}

	return realized, closing
}

func (p *Portfolio) refreshPosition(pos *types.Position, price decimal.Decimal) {
	pos.LastPrice = price
	pos.MarketValue = decimal.NewFromInt(pos.Quantity).Mul(price)
	pos.UnrealizedPnL = price.Sub(pos.AvgCost).Mul(decimal.NewFromInt(pos.Quantity))
}

// RecordEquityCurve appends one equity point with the drawdown computed
// against the causal running peak (no look-ahead).
func (p *Portfolio) RecordEquityCurve(date time.Time) {
	equity := p.Equity()
	if equity.GreaterThan(p.peakEquity) {
		p.peakEquity = equity
	}

	drawdown := decimal.Zero
	if p.peakEquity.IsPositive() {
		drawdown = p.peakEquity.Sub(equity).Div(p.peakEquity)
	}

	p.curve = append(p.curve, types.EquityCurvePoint{
		Date:     date,
		Equity:   equity,
		Cash:     p.cash,
		Drawdown: drawdown,
	})
}

// CalculatePositionSize converts signal strength into a lot-aligned share
// quantity: floor(cash * maxFraction * strength / price), rounded down to
// the lot size.
func (p *Portfolio) CalculatePositionSize(strength, maxFraction, price decimal.Decimal) int64 {
	if !price.IsPositive() {
		return 0
	}
	budget := p.cash.Mul(maxFraction).Mul(strength)
	raw := budget.Div(price).IntPart()
	return raw - raw%p.lotSize
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
