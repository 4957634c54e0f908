// Package types provides shared type definitions for the backtest engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderAction represents buy or sell
type OrderAction string

const (
	ActionBuy  OrderAction = "BUY"
	ActionSell OrderAction = "SELL"
)

// SignalType represents the type of trading signal
type SignalType string

const (
	SignalLong  SignalType = "LONG"
	SignalExit  SignalType = "EXIT"
	SignalShort SignalType = "SHORT"
)

// Bar represents one OHLCV sample for a symbol. Bars are produced by the
// data layer, pre-validated, and chronologically ordered per symbol.
type Bar struct {
	Symbol string          `json:"symbol"`
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// StrategySignal is a directional recommendation emitted by a strategy.
// Strength is in [0,1]; StopLoss and TakeProfit are optional price levels
// (zero means unset).
type StrategySignal struct {
	Symbol     string            `json:"symbol"`
	Type       SignalType        `json:"type"`
	Strength   decimal.Decimal   `json:"strength"`
	Reason     string            `json:"reason"`
	StopLoss   decimal.Decimal   `json:"stopLoss,omitempty"`
	TakeProfit decimal.Decimal   `json:"takeProfit,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Order is a transient request created from a signal and consumed by the
// risk manager and execution handler. Price is the reference price the
// order was sized against, not the eventual fill price.
type Order struct {
	ID       string          `json:"id"`
	Symbol   string          `json:"symbol"`
	Action   OrderAction     `json:"action"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// Fill is the simulated execution of an order, inclusive of commission and
// slippage. Immutable once created; the unit of portfolio mutation.
type Fill struct {
	OrderID    string          `json:"orderId"`
	Symbol     string          `json:"symbol"`
	Action     OrderAction     `json:"action"`
	Quantity   int64           `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	Slippage   decimal.Decimal `json:"slippage"`
	Date       time.Time       `json:"date"`
}

/// Position represents a holding in one symbol. Quantity is signed: positive
// for long, negative for short. AvgCost is meaningful only while Quantity
// is non-zero.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	AvgCost       decimal.Decimal `json:"avgCost"`
	LastPrice     decimal.Decimal `json:"lastPrice"`
	MarketValue   decimal.Decimal `json:"marketValue"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
	OpenedAt      time.Time       `json:"openedAt"`
}

// Trade is an append-only log entry for one executed fill. RealizedPnL is
// populated on closing legs only; Closing marks those legs.
type Trade struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Date        time.Time       `json:"date"`
	Action      OrderAction     `json:"action"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
	Commission  decimal.Decimal `json:"commission"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
	Closing     bool            `json:"closing"`
}

// EquityCurvePoint is one append-only sample of total portfolio value.
// Drawdown is computed against the causal running peak.
type EquityCurvePoint struct {
	Date     time.Time       `json:"date"`
	Equity   decimal.Decimal `json:"equity"`
	Cash     decimal.Decimal `json:"cash"`
	Drawdown decimal.Decimal `json:"drawdown"`
}

// PortfolioSummary is a read-only snapshot of portfolio state.
type PortfolioSummary struct {
	InitialCapital decimal.Decimal `json:"initialCapital"`
	Cash           decimal.Decimal `json:"cash"`
	Equity         decimal.Decimal `json:"equity"`
	PositionsValue decimal.Decimal `json:"positionsValue"`
	RealizedPnL    decimal.Decimal `json:"realizedPnl"`
	UnrealizedPnL  decimal.Decimal `json:"unrealizedPnl"`
	OpenPositions  int             `json:"openPositions"`
}

// PerformanceReport holds the post-hoc statistics for one run.
type PerformanceReport struct {
	TotalReturn  decimal.Decimal `json:"totalReturn"`
	AnnualReturn decimal.Decimal `json:"annualReturn"`
	SharpeRatio  decimal.Decimal `json:"sharpeRatio"`
	MaxDrawdown  decimal.Decimal `json:"maxDrawdown"`
	WinRate      decimal.Decimal `json:"winRate"`
	AvgWin       decimal.Decimal `json:"avgWin"`
	AvgLoss      decimal.Decimal `json:"avgLoss"`
	ProfitFactor decimal.Decimal `json:"profitFactor"`
	TotalTrades  int             `json:"totalTrades"`
}

// BacktestResult is the full output of one backtest run.
type BacktestResult struct {
	ID            string             `json:"id"`
	Strategy      string             `json:"strategy"`
	Report        PerformanceReport  `json:"report"`
	EquityCurve   []EquityCurvePoint `json:"equityCurve"`
	TradeHistory  []Trade            `json:"tradeHistory"`
	MonteCarlo    *MonteCarloResult  `json:"monteCarlo,omitempty"`
	StartedAt     time.Time          `json:"startedAt"`
	CompletedAt   time.Time          `json:"completedAt"`
	BarsProcessed int                `json:"barsProcessed"`
}

// MonteCarloResult summarizes bootstrap resampling of the trade sequence.
type MonteCarloResult struct {
	Iterations      int             `json:"iterations"`
	MedianPnL       decimal.Decimal `json:"medianPnl"`
	P5PnL           decimal.Decimal `json:"p5Pnl"`
	P95PnL          decimal.Decimal `json:"p95Pnl"`
	MaxDrawdownP95  decimal.Decimal `json:"maxDrawdownP95"`
	ProbabilityRuin decimal.Decimal `json:"probabilityRuin"`
}
