// Package data loads and validates historical bar series.
package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quantdesk/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// csv layout: date,open,high,low,close,volume with a header row.
const dateLayout = "2006-01-02"

// LoadBarsCSV reads one symbol's series from r. Every validation
// failure is returned as an error: bad data must surface before a
// simulation starts, never during it.
func LoadBarsCSV(r io.Reader, symbol string) ([]types.Bar, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: read header: %w", symbol, err)
	}
	if len(header) < 6 {
		return nil, fmt.Errorf("%s: expected 6 columns, got %d", symbol, len(header))
	}

	var bars []types.Bar
	var prevDate time.Time
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: %w", symbol, line+1, err)
		}
		line++

		bar, err := parseBar(record, symbol)
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: %w", symbol, line, err)
		}
		if err := validateBar(bar); err != nil {
			return nil, fmt.Errorf("%s: line %d: %w", symbol, line, err)
		}
		if !prevDate.IsZero() && !bar.Date.After(prevDate) {
			return nil, fmt.Errorf("%s: line %d: date %s not after %s",
				symbol, line, bar.Date.Format(dateLayout), prevDate.Format(dateLayout))
		}
		prevDate = bar.Date
		bars = append(bars, bar)
	}

	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: no bars", symbol)
	}
	return bars, nil
}

// LoadSymbolFiles loads <dir>/<SYMBOL>.csv for each symbol and merges
// the series into one slice; the engine re-sorts by date.
func LoadSymbolFiles(dir string, symbols []string) ([]types.Bar, error) {
	var all []types.Bar
	for _, symbol := range symbols {
		path := filepath.Join(dir, symbol+".csv")
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		bars, err := LoadBarsCSV(f, symbol)
		f.Close()
		if err != nil {
			return nil, err
		}
		all = append(all, bars...)
	}
	return all, nil
}

func parseBar(record []string, symbol string) (types.Bar, error) {
	if len(record) < 6 {
		return types.Bar{}, fmt.Errorf("expected 6 columns, got %d", len(record))
	}

	date, err := time.Parse(dateLayout, strings.TrimSpace(record[0]))
	if err != nil {
		return types.Bar{}, fmt.Errorf("parse date: %w", err)
	}

	fields := make([]decimal.Decimal, 5)
	names := []string{"open", "high", "low", "close", "volume"}
	for i, name := range names {
		fields[i], err = decimal.NewFromString(strings.TrimSpace(record[i+1]))
		if err != nil {
			return types.Bar{}, fmt.Errorf("parse %s: %w", name, err)
		}
	}

	return types.Bar{
		Symbol: symbol,
		Date:   date,
		Open:   fields[0],
		High:   fields[1],
		Low:    fields[2],
		Close:  fields[3],
		Volume: fields[4],
	}, nil
}

// validateBar enforces OHLC consistency and non-negative volume.
func validateBar(bar types.Bar) error {
	if bar.High.LessThan(bar.Open) || bar.High.LessThan(bar.Low) || bar.High.LessThan(bar.Close) {
		return fmt.Errorf("high %s below open/low/close", bar.High)
	}
	if bar.Low.GreaterThan(bar.Open) || bar.Low.GreaterThan(bar.Close) {
		return fmt.Errorf("low %s above open/close", bar.Low)
	}
	if bar.Volume.IsNegative() {
		return fmt.Errorf("negative volume %s", bar.Volume)
	}
	if !bar.Open.IsPositive() || !bar.Close.IsPositive() {
		return fmt.Errorf("non-positive price")
	}
	return nil
}
