package strategy

import (
	"math"

	"github.com/quantdesk/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// kdjState holds per-symbol K/D recurrence terms. K and D are defined
// recursively from their previous values, seeded at 50.
type kdjState struct {
	initialized bool
	k           decimal.Decimal
	d           decimal.Decimal
	prevK       decimal.Decimal
	prevD       decimal.Decimal
	havePrev    bool
}

// KDJStrategy trades K/D golden and death crosses, optionally requiring
// the cross to originate in oversold/overbought territory, with a hard
// exit when J runs past an extreme ceiling.
type KDJStrategy struct {
	params  map[string]float64
	history *history
	state   map[string]*kdjState
}

// NewKDJStrategy creates a KDJ strategy with default parameters.
func NewKDJStrategy() *KDJStrategy {
	s := &KDJStrategy{
		history: newHistory(500),
		state:   make(map[string]*kdjState),
	}
	s.params = s.DefaultParameters()
	return s
}

func (s *KDJStrategy) Name() string { return "kdj" }

func (s *KDJStrategy) DefaultParameters() map[string]float64 {
	return map[string]float64{
		"n_period":             9,
		"k_period":             3,
		"d_period":             3,
		"oversold":             20,
		"overbought":           80,
		"require_extreme_area": 1,
		"j_ceiling":            120,
	}
}

func (s *KDJStrategy) ParameterSchema() []ParameterSpec {
	return []ParameterSpec{
		{Name: "n_period", Type: "int", Min: 5, Max: 30, Label: "RSV lookback"},
		{Name: "k_period", Type: "int", Min: 2, Max: 10, Label: "K smoothing period"},
		{Name: "d_period", Type: "int", Min: 2, Max: 10, Label: "D smoothing period"},
		{Name: "oversold", Type: "float", Min: 10, Max: 35, Label: "Oversold threshold"},
		{Name: "overbought", Type: "float", Min: 65, Max: 90, Label: "Overbought threshold"},
		{Name: "require_extreme_area", Type: "bool", Min: 0, Max: 1, Label: "Only trade crosses out of extreme areas"},
		{Name: "j_ceiling", Type: "float", Min: 100, Max: 150, Label: "Extreme J exit ceiling"},
	}
}

func (s *KDJStrategy) SetParameters(params map[string]float64) error {
	return applyParams(s.params, params)
}

func (s *KDJStrategy) Reset() {
	s.history.reset()
	s.state = make(map[string]*kdjState)
}

func (s *KDJStrategy) GenerateSignal(bar types.Bar, position *types.Position) (*types.StrategySignal, error) {
	bars := s.history.add(bar)

	n := int(math.Round(s.params["n_period"]))
	if len(bars) < n {
		return nil, nil
	}

	st, ok := s.state[bar.Symbol]
	if !ok {
		st = &kdjState{}
		s.state[bar.Symbol] = st
	}

	rsv := rawStochastic(bars[len(bars)-n:], bar.Close)

	fifty := decimal.NewFromInt(50)
	if !st.initialized {
		st.initialized = true
		st.k = fifty
		st.d = fifty
	}

	st.prevK, st.prevD = st.k, st.d
	st.havePrev = true
	st.k = ema(st.k, rsv, int(math.Round(s.params["k_period"])))
	st.d = ema(st.d, st.k, int(math.Round(s.params["d_period"])))
	j := st.k.Mul(three).Sub(st.d.Mul(two))

	oversold := decimal.NewFromFloat(s.params["oversold"])
	overbought := decimal.NewFromFloat(s.params["overbought"])
	requireExtreme := s.params["require_extreme_area"] >= 0.5

	meta := map[string]string{
		"k": st.k.String(),
		"d": st.d.String(),
		"j": j.String(),
	}

	if holding(position) && isLong(position) {
		if j.GreaterThan(decimal.NewFromFloat(s.params["j_ceiling"])) {
			return &types.StrategySignal{
				Symbol:   bar.Symbol,
				Type:     types.SignalExit,
				Strength: decimal.NewFromFloat(0.5),
				Reason:   "J above extreme ceiling",
				Metadata: meta,
			}, nil
		}

		deathCross := st.k.LessThan(st.d) && st.prevK.GreaterThanOrEqual(st.prevD)
		if deathCross {
			if requireExtreme && !(st.prevK.GreaterThan(overbought) || st.prevD.GreaterThan(overbought)) {
				return nil, nil
			}
			return &types.StrategySignal{
				Symbol:   bar.Symbol,
				Type:     types.SignalExit,
				Strength: decimal.NewFromInt(1),
				Reason:   "KDJ death cross",
				Metadata: meta,
			}, nil
		}
		return nil, nil
	}

	goldenCross := st.k.GreaterThan(st.d) && st.prevK.LessThanOrEqual(st.prevD)
	if !goldenCross {
		return nil, nil
	}
	if requireExtreme && !(st.prevK.LessThan(oversold) || st.prevD.LessThan(oversold)) {
		return nil, nil
	}

	return &types.StrategySignal{
		Symbol:   bar.Symbol,
		Type:     types.SignalLong,
		Strength: decimal.NewFromFloat(0.8),
		Reason:   "KDJ golden cross",
		Metadata: meta,
	}, nil
}

// rawStochastic computes RSV over the window: the close's position within
// the high/low range scaled to 0..100, 50 when the range is zero.
func rawStochastic(window []types.Bar, close decimal.Decimal) decimal.Decimal {
	low := window[0].Low
	high := window[0].High
	for _, b := range window[1:] {
		if b.Low.LessThan(low) {
			low = b.Low
		}
		if b.High.GreaterThan(high) {
			high = b.High
		}
	}

	span := high.Sub(low)
	if span.IsZero() {
		return decimal.NewFromInt(50)
	}
	return close.Sub(low).Div(span).Mul(decimal.NewFromInt(100))
}
