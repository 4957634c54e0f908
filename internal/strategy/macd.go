package strategy

import (
	"math"

	"github.com/quantdesk/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// macdState holds the per-symbol recurrence terms for the MACD strategy.
// MACD and signal line are EMAs, so state carries forward bar to bar
// instead of recomputing the full window.
type macdState struct {
	initialized bool
	bars        int
	fastEMA     decimal.Decimal
	slowEMA     decimal.Decimal
	signalEMA   decimal.Decimal
	trendEMA    decimal.Decimal
	prevMACD    decimal.Decimal
	prevSignal  decimal.Decimal
	prevHist    decimal.Decimal
	havePrev    bool
	prevClose   decimal.Decimal
	atr         decimal.Decimal
	atrBars     int
}

// MACDStrategy trades golden/death crosses of the MACD line against its
// signal line, with optional zero-line, trend, and histogram gating.
type MACDStrategy struct {
	params  map[string]float64
	history *history
	state   map[string]*macdState
}

// NewMACDStrategy creates a MACD strategy with default parameters.
func NewMACDStrategy() *MACDStrategy {
	s := &MACDStrategy{
		history: newHistory(500),
		state:   make(map[string]*macdState),
	}
	s.params = s.DefaultParameters()
	return s
}

func (s *MACDStrategy) Name() string { return "macd" }

func (s *MACDStrategy) DefaultParameters() map[string]float64 {
	return map[string]float64{
		"fast_period":           12,
		"slow_period":           26,
		"signal_period":         9,
		"use_zero_filter":       0,
		"use_trend_filter":      0,
		"trend_period":          60,
		"use_hist_confirm":      0,
		"exit_on_hist_reversal": 0,
		"use_atr_stops":         1,
		"atr_period":            14,
		"atr_multiplier":        2,
	}
}

func (s *MACDStrategy) ParameterSchema() []ParameterSpec {
	return []ParameterSpec{
		{Name: "fast_period", Type: "int", Min: 5, Max: 20, Label: "Fast EMA period"},
		{Name: "slow_period", Type: "int", Min: 20, Max: 60, Label: "Slow EMA period"},
		{Name: "signal_period", Type: "int", Min: 5, Max: 15, Label: "Signal EMA period"},
		{Name: "use_zero_filter", Type: "bool", Min: 0, Max: 1, Label: "Require MACD above zero for entries"},
		{Name: "use_trend_filter", Type: "bool", Min: 0, Max: 1, Label: "Require price above trend MA for entries"},
		{Name: "trend_period", Type: "int", Min: 30, Max: 200, Label: "Trend MA period"},
		{Name: "use_hist_confirm", Type: "bool", Min: 0, Max: 1, Label: "Require rising positive histogram"},
		{Name: "exit_on_hist_reversal", Type: "bool", Min: 0, Max: 1, Label: "Partial exit on histogram sign flip"},
		{Name: "use_atr_stops", Type: "bool", Min: 0, Max: 1, Label: "Attach ATR stop/take to entries"},
		{Name: "atr_period", Type: "int", Min: 5, Max: 30, Label: "ATR period"},
		{Name: "atr_multiplier", Type: "float", Min: 1, Max: 5, Label: "ATR stop multiple"},
	}
}

func (s *MACDStrategy) SetParameters(params map[string]float64) error {
	return applyParams(s.params, params)
}

func (s *MACDStrategy) Reset() {
	s.history.reset()
	s.state = make(map[string]*macdState)
}

func (s *MACDStrategy) intParam(name string) int {
	return int(math.Round(s.params[name]))
}

func (s *MACDStrategy) boolParam(name string) bool {
	return s.params[name] >= 0.5
}

func (s *MACDStrategy) GenerateSignal(bar types.Bar, position *types.Position) (*types.StrategySignal, error) {
	s.history.add(bar)

	st, ok := s.state[bar.Symbol]
	if !ok {
		st = &macdState{}
		s.state[bar.Symbol] = st
	}

	fast := s.intParam("fast_period")
	slow := s.intParam("slow_period")
	signalPeriod := s.intParam("signal_period")
	close := bar.Close

	s.updateATR(st, bar)

	if !st.initialized {
		st.initialized = true
		st.fastEMA = close
		st.slowEMA = close
		st.trendEMA = close
		st.signalEMA = decimal.Zero
		st.bars = 1
		return nil, nil
	}

	st.bars++
	st.fastEMA = ema(st.fastEMA, close, fast)
	st.slowEMA = ema(st.slowEMA, close, slow)
	st.trendEMA = ema(st.trendEMA, close, s.intParam("trend_period"))

	macd := st.fastEMA.Sub(st.slowEMA)
	st.signalEMA = ema(st.signalEMA, macd, signalPeriod)
	hist := macd.Sub(st.signalEMA)

	defer func() {
		st.prevMACD = macd
		st.prevSignal = st.signalEMA
		st.prevHist = hist
		st.havePrev = true
	}()

	// The signal line needs the MACD series itself to stabilize first.
	if st.bars < slow+signalPeriod || !st.havePrev {
		return nil, nil
	}

	goldenCross := macd.GreaterThan(st.signalEMA) && st.prevMACD.LessThanOrEqual(st.prevSignal)
	deathCross := macd.LessThan(st.signalEMA) && st.prevMACD.GreaterThanOrEqual(st.prevSignal)

	if holding(position) && isLong(position) {
		if deathCross {
			return &types.StrategySignal{
				Symbol:   bar.Symbol,
				Type:     types.SignalExit,
				Strength: decimal.NewFromInt(1),
				Reason:   "MACD death cross",
				Metadata: metadataMACD(macd, st.signalEMA, hist),
			}, nil
		}
		if s.boolParam("exit_on_hist_reversal") && st.prevHist.GreaterThan(decimal.Zero) && hist.LessThan(decimal.Zero) {
			return &types.StrategySignal{
				Symbol:   bar.Symbol,
				Type:     types.SignalExit,
				Strength: decimal.NewFromFloat(0.5),
				Reason:   "MACD histogram reversal",
				Metadata: metadataMACD(macd, st.signalEMA, hist),
			}, nil
		}
		return nil, nil
	}

	if !goldenCross {
		return nil, nil
	}
	if s.boolParam("use_zero_filter") && !macd.GreaterThan(decimal.Zero) {
		return nil, nil
	}
	if s.boolParam("use_trend_filter") && close.LessThan(st.trendEMA) {
		return nil, nil
	}
	if s.boolParam("use_hist_confirm") && !(hist.GreaterThan(decimal.Zero) && hist.GreaterThan(st.prevHist)) {
		return nil, nil
	}

	sig := &types.StrategySignal{
		Symbol:   bar.Symbol,
		Type:     types.SignalLong,
		Strength: decimal.NewFromInt(1),
		Reason:   "MACD golden cross",
		Metadata: metadataMACD(macd, st.signalEMA, hist),
	}

	if s.boolParam("use_atr_stops") && st.atrBars >= s.intParam("atr_period") {
		mult := decimal.NewFromFloat(s.params["atr_multiplier"])
		sig.StopLoss = close.Sub(st.atr.Mul(mult))
		sig.TakeProfit = close.Add(st.atr.Mul(mult).Mul(two))
	}

	return sig, nil
}

// updateATR advances the Wilder-style ATR recurrence for one bar.
func (s *MACDStrategy) updateATR(st *macdState, bar types.Bar) {
	period := s.intParam("atr_period")

	tr := bar.High.Sub(bar.Low)
	if st.atrBars > 0 {
		hc := bar.High.Sub(st.prevClose).Abs()
		lc := bar.Low.Sub(st.prevClose).Abs()
		if hc.GreaterThan(tr) {
			tr = hc
		}
		if lc.GreaterThan(tr) {
			tr = lc
		}
	}

	if st.atrBars == 0 {
		st.atr = tr
	} else {
		st.atr = ema(st.atr, tr, period)
	}
	st.prevClose = bar.Close
	st.atrBars++
}

func metadataMACD(macd, signal, hist decimal.Decimal) map[string]string {
	return map[string]string{
		"macd":      macd.String(),
		"signal":    signal.String(),
		"histogram": hist.String(),
	}
}
