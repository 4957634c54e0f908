// Package strategy provides signal-generating trading strategies.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/quantdesk/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Strategy is the capability set shared by all strategy variants. Variants
// are selected through the registry by string identifier, never by type
// inspection.
type Strategy interface {
	Name() string
	DefaultParameters() map[string]float64
	ParameterSchema() []ParameterSpec
	SetParameters(params map[string]float64) error
	// GenerateSignal records the bar into the per-symbol history, updates
	// indicator state, and applies the decision rule. It returns nil while
	// the indicator window is not yet filled; that is not an error.
	GenerateSignal(bar types.Bar, position *types.Position) (*types.StrategySignal, error)
	Reset()
}

// ParameterSpec describes one tunable parameter. Bool parameters take the
// values 0 and 1; choice parameters take an index into Options.
type ParameterSpec struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"` // "int", "float", "bool", "choice"
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
	Step    float64  `json:"step,omitempty"`
	Options []string `json:"options,omitempty"`
	Label   string   `json:"label"`
}

// Registry manages available strategy factories.
type Registry struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	factories map[string]func() Strategy
}

// NewRegistry creates a registry with the built-in strategies registered.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		logger:    logger,
		factories: make(map[string]func() Strategy),
	}

	r.Register("macd", func() Strategy { return NewMACDStrategy() })
	r.Register("kdj", func() Strategy { return NewKDJStrategy() })
	r.Register("cci", func() Strategy { return NewCCIStrategy() })

	return r
}

// Register registers a strategy factory under an identifier.
func (r *Registry) Register(name string, factory func() Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates a fresh strategy by identifier.
func (r *Registry) Create(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return factory(), nil
}

// List returns registered identifiers in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// history keeps a bounded per-symbol bar buffer shared by the strategies.
type history struct {
	maxBars int
	bars    map[string][]types.Bar
}

func newHistory(maxBars int) *history {
	return &history{
		maxBars: maxBars,
		bars:    make(map[string][]types.Bar),
	}
}

// add appends a bar and returns the symbol's buffer.
func (h *history) add(bar types.Bar) []types.Bar {
	buf := append(h.bars[bar.Symbol], bar)
	if len(buf) > h.maxBars {
		buf = buf[1:]
	}
	h.bars[bar.Symbol] = buf
	return buf
}

func (h *history) reset() {
	h.bars = make(map[string][]types.Bar)
}

// applyParams copies known keys from params into dst, rejecting unknown
// names so optimizer typos surface immediately.
func applyParams(dst map[string]float64, params map[string]float64) error {
	for name, value := range params {
		if _, ok := dst[name]; !ok {
			return fmt.Errorf("unknown parameter %q", name)
		}
		dst[name] = value
	}
	return nil
}

func isLong(position *types.Position) bool {
	return position != nil && position.Quantity > 0
}

func holding(position *types.Position) bool {
	return position != nil && position.Quantity != 0
}

// ema applies one step of an exponential moving average recurrence with
// smoothing alpha = 2/(period+1).
func ema(prev, value decimal.Decimal, period int) decimal.Decimal {
	alpha := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period) + 1))
	return value.Mul(alpha).Add(prev.Mul(decimal.NewFromInt(1).Sub(alpha)))
}

var (
	two   = decimal.NewFromInt(2)
	three = decimal.NewFromInt(3)
)
