package strategy_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/quantdesk/backtest-engine/internal/strategy"
	"github.com/quantdesk/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// barAt builds a bar where open, high, low, and close all sit at price.
func barAt(day int, price string) types.Bar {
	p := dec(price)
	return types.Bar{
		Symbol: "TEST",
		Date:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day),
		Open:   p, High: p, Low: p, Close: p,
		Volume: dec("10000"),
	}
}

func TestRegistryListsBuiltins(t *testing.T) {
	r := strategy.NewRegistry(zap.NewNop())
	got := r.List()
	want := []string{"cci", "kdj", "macd"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("List() = %v, want %v", got, want)
	}
}

func TestRegistryCreateUnknown(t *testing.T) {
	r := strategy.NewRegistry(zap.NewNop())
	if _, err := r.Create("bollinger"); err == nil {
		t.Fatal("expected an error for an unregistered id")
	}
}

func TestRegistryCreateReturnsFreshInstances(t *testing.T) {
	r := strategy.NewRegistry(zap.NewNop())
	a, err := r.Create("macd")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := r.Create("macd")
	if a == b {
		t.Fatal("Create must return independent instances")
	}
}

func TestSetParametersRejectsUnknownNames(t *testing.T) {
	r := strategy.NewRegistry(zap.NewNop())
	for _, id := range r.List() {
		s, err := r.Create(id)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.SetParameters(map[string]float64{"no_such_param": 1}); err == nil {
			t.Fatalf("%s: expected rejection of unknown parameter name", id)
		}
		if err := s.SetParameters(s.DefaultParameters()); err != nil {
			t.Fatalf("%s: defaults must round-trip, got %v", id, err)
		}
	}
}

func TestSchemaCoversDefaults(t *testing.T) {
	r := strategy.NewRegistry(zap.NewNop())
	for _, id := range r.List() {
		s, err := r.Create(id)
		if err != nil {
			t.Fatal(err)
		}
		defaults := s.DefaultParameters()
		schema := s.ParameterSchema()
		if len(schema) != len(defaults) {
			t.Fatalf("%s: schema has %d entries, defaults have %d", id, len(schema), len(defaults))
		}
		for _, spec := range schema {
			if _, ok := defaults[spec.Name]; !ok {
				t.Fatalf("%s: schema entry %q has no default", id, spec.Name)
			}
		}
	}
}
