package strategy

import (
	"math"

	"github.com/quantdesk/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// cciState tracks the previous CCI value per symbol for cross detection.
type cciState struct {
	prevCCI decimal.Decimal
	have    bool
}

// CCIStrategy trades the Commodity Channel Index in one of two modes:
// "reversal" buys recoveries out of the oversold region, "trend" buys
// strength breaking through the overbought threshold. In both modes a hard
// stop fires when CCI collapses below the extreme-oversold floor while a
// position is held. The extreme_overbought parameter is declared for
// schema completeness but does not drive a symmetric hard stop.
type CCIStrategy struct {
	params  map[string]float64
	history *history
	state   map[string]*cciState
}

// NewCCIStrategy creates a CCI strategy with default parameters.
func NewCCIStrategy() *CCIStrategy {
	s := &CCIStrategy{
		history: newHistory(500),
		state:   make(map[string]*cciState),
	}
	s.params = s.DefaultParameters()
	return s
}

func (s *CCIStrategy) Name() string { return "cci" }

func (s *CCIStrategy) DefaultParameters() map[string]float64 {
	return map[string]float64{
		"period":             20,
		"overbought":         100,
		"oversold":           -100,
		"extreme_overbought": 200,
		"extreme_oversold":   -200,
		"trend_mode":         0,
	}
}

func (s *CCIStrategy) ParameterSchema() []ParameterSpec {
	return []ParameterSpec{
		{Name: "period", Type: "int", Min: 10, Max: 40, Label: "CCI window"},
		{Name: "overbought", Type: "float", Min: 80, Max: 150, Label: "Overbought threshold"},
		{Name: "oversold", Type: "float", Min: -150, Max: -80, Label: "Oversold threshold"},
		{Name: "extreme_overbought", Type: "float", Min: 150, Max: 300, Label: "Extreme overbought level"},
		{Name: "extreme_oversold", Type: "float", Min: -300, Max: -150, Label: "Extreme oversold hard stop"},
		{Name: "trend_mode", Type: "bool", Min: 0, Max: 1, Label: "Trade breakouts instead of reversals"},
	}
}

func (s *CCIStrategy) SetParameters(params map[string]float64) error {
	return applyParams(s.params, params)
}

func (s *CCIStrategy) Reset() {
	s.history.reset()
	s.state = make(map[string]*cciState)
}

func (s *CCIStrategy) GenerateSignal(bar types.Bar, position *types.Position) (*types.StrategySignal, error) {
	bars := s.history.add(bar)

	period := int(math.Round(s.params["period"]))
	if len(bars) < period {
		return nil, nil
	}

	st, ok := s.state[bar.Symbol]
	if !ok {
		st = &cciState{}
		s.state[bar.Symbol] = st
	}

	cci := commodityChannelIndex(bars[len(bars)-period:])

	if !st.have {
		st.prevCCI = cci
		st.have = true
		return nil, nil
	}
	prev := st.prevCCI
	st.prevCCI = cci

	overbought := decimal.NewFromFloat(s.params["overbought"])
	oversold := decimal.NewFromFloat(s.params["oversold"])
	extremeOversold := decimal.NewFromFloat(s.params["extreme_oversold"])
	meta := map[string]string{"cci": cci.String()}

	if holding(position) && isLong(position) {
		if cci.LessThan(extremeOversold) {
			return &types.StrategySignal{
				Symbol:   bar.Symbol,
				Type:     types.SignalExit,
				Strength: decimal.NewFromInt(1),
				Reason:   "CCI below extreme oversold floor",
				Metadata: meta,
			}, nil
		}
		if s.params["trend_mode"] >= 0.5 {
			return s.trendExit(bar.Symbol, prev, cci, overbought, oversold, meta), nil
		}
		return s.reversalExit(bar.Symbol, prev, cci, overbought, meta), nil
	}

	if s.params["trend_mode"] >= 0.5 {
		return s.trendEntry(bar.Symbol, prev, cci, overbought, meta), nil
	}
	return s.reversalEntry(bar.Symbol, prev, cci, oversold, meta), nil
}

// reversalEntry buys CCI crossing back above the oversold threshold from
// below.
func (s *CCIStrategy) reversalEntry(symbol string, prev, cci, oversold decimal.Decimal, meta map[string]string) *types.StrategySignal {
	if prev.LessThan(oversold) && cci.GreaterThanOrEqual(oversold) {
		return &types.StrategySignal{
			Symbol:   symbol,
			Type:     types.SignalLong,
			Strength: decimal.NewFromFloat(0.8),
			Reason:   "CCI recovery from oversold",
			Metadata: meta,
		}
	}
	return nil
}

func (s *CCIStrategy) reversalExit(symbol string, prev, cci, overbought decimal.Decimal, meta map[string]string) *types.StrategySignal {
	if prev.GreaterThan(overbought) && cci.LessThanOrEqual(overbought) {
		return &types.StrategySignal{
			Symbol:   symbol,
			Type:     types.SignalExit,
			Strength: decimal.NewFromInt(1),
			Reason:   "CCI falling back from overbought",
			Metadata: meta,
		}
	}
	if prev.GreaterThanOrEqual(decimal.Zero) && cci.LessThan(decimal.Zero) {
		return &types.StrategySignal{
			Symbol:   symbol,
			Type:     types.SignalExit,
			Strength: decimal.NewFromFloat(0.5),
			Reason:   "CCI zero-line death cross",
			Metadata: meta,
		}
	}
	return nil
}

// trendEntry buys strength: a breakout through the overbought threshold or
// a zero-line golden cross.
func (s *CCIStrategy) trendEntry(symbol string, prev, cci, overbought decimal.Decimal, meta map[string]string) *types.StrategySignal {
	if prev.LessThanOrEqual(overbought) && cci.GreaterThan(overbought) {
		return &types.StrategySignal{
			Symbol:   symbol,
			Type:     types.SignalLong,
			Strength: decimal.NewFromInt(1),
			Reason:   "CCI breakout above overbought",
			Metadata: meta,
		}
	}
	if prev.LessThanOrEqual(decimal.Zero) && cci.GreaterThan(decimal.Zero) {
		return &types.StrategySignal{
			Symbol:   symbol,
			Type:     types.SignalLong,
			Strength: decimal.NewFromFloat(0.6),
			Reason:   "CCI zero-line golden cross",
			Metadata: meta,
		}
	}
	return nil
}

func (s *CCIStrategy) trendExit(symbol string, prev, cci, overbought, oversold decimal.Decimal, meta map[string]string) *types.StrategySignal {
	if prev.GreaterThan(overbought) && cci.LessThanOrEqual(overbought) {
		return &types.StrategySignal{
			Symbol:   symbol,
			Type:     types.SignalExit,
			Strength: decimal.NewFromInt(1),
			Reason:   "CCI trend weakening",
			Metadata: meta,
		}
	}
	if cci.LessThan(oversold) {
		return &types.StrategySignal{
			Symbol:   symbol,
			Type:     types.SignalExit,
			Strength: decimal.NewFromInt(1),
			Reason:   "CCI entered oversold region",
			Metadata: meta,
		}
	}
	return nil
}

// commodityChannelIndex computes CCI over the window from typical prices:
// (TP - SMA) / (0.015 * meanAbsDev), 0 when the deviation is zero.
func commodityChannelIndex(window []types.Bar) decimal.Decimal {
	n := decimal.NewFromInt(int64(len(window)))

	tps := make([]decimal.Decimal, len(window))
	sum := decimal.Zero
	for i, b := range window {
		tp := b.High.Add(b.Low).Add(b.Close).Div(three)
		tps[i] = tp
		sum = sum.Add(tp)
	}
	sma := sum.Div(n)

	dev := decimal.Zero
	for _, tp := range tps {
		dev = dev.Add(tp.Sub(sma).Abs())
	}
	meanDev := dev.Div(n)
	if meanDev.IsZero() {
		return decimal.Zero
	}

	last := tps[len(tps)-1]
	return last.Sub(sma).Div(decimal.NewFromFloat(0.015).Mul(meanDev))
}
