// Package returns derives periodic return series from aligned price series
// and supplies expected-return vectors for optimization.
package returns

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/quantfolio/internal/modules/marketdata"
)

// Frequency of the return series.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// PeriodsPerYear returns the trading-period annualization factor.
func (f Frequency) PeriodsPerYear() float64 {
	switch f {
	case Weekly:
		return 52
	case Monthly:
		return 12
	default:
		return 252
	}
}

// ReturnType selects the periodic return formula.
type ReturnType string

const (
	// Log returns: ln(p_t / p_{t-1})
	Log ReturnType = "log"
	// Simple returns: p_t / p_{t-1} - 1
	Simple ReturnType = "simple"
)

// InsufficientDataError indicates the return series is too short for stable
// risk estimation.
type InsufficientDataError struct {
	Periods    int
	MinPeriods int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: %d periods available, need at least %d", e.Periods, e.MinPeriods)
}

// ReturnMatrix is a (date × asset) table of periodic returns. Column order
// follows Assets; rows follow Dates. StartDate is the price date preceding
// the first return row, used as the backtest anchor point.
type ReturnMatrix struct {
	StartDate string      `json:"start_date"`
	Dates     []string    `json:"dates"`
	Assets    []string    `json:"assets"`
	Data      [][]float64 `json:"data"`
}

// Rows returns the number of return periods.
func (m ReturnMatrix) Rows() int {
	return len(m.Data)
}

// AssetIndex returns the column index for an asset, or -1.
func (m ReturnMatrix) AssetIndex(asset string) int {
	for i, a := range m.Assets {
		if a == asset {
			return i
		}
	}
	return -1
}

// Column extracts one asset's return series.
func (m ReturnMatrix) Column(asset string) ([]float64, error) {
	idx := m.AssetIndex(asset)
	if idx < 0 {
		return nil, fmt.Errorf("asset %s not in return matrix", asset)
	}
	col := make([]float64, len(m.Data))
	for i, row := range m.Data {
		col[i] = row[idx]
	}
	return col, nil
}

// Select returns a new matrix restricted to the given assets, preserving
// the requested ordering.
func (m ReturnMatrix) Select(assets ...string) (ReturnMatrix, error) {
	cols := make([]int, len(assets))
	for i, asset := range assets {
		idx := m.AssetIndex(asset)
		if idx < 0 {
			return ReturnMatrix{}, fmt.Errorf("asset %s not in return matrix", asset)
		}
		cols[i] = idx
	}
	data := make([][]float64, len(m.Data))
	for r, row := range m.Data {
		sub := make([]float64, len(cols))
		for i, c := range cols {
			sub[i] = row[c]
		}
		data[r] = sub
	}
	return ReturnMatrix{
		StartDate: m.StartDate,
		Dates:     m.Dates,
		Assets:    append([]string(nil), assets...),
		Data:      data,
	}, nil
}

// RequireMinPeriods fails with InsufficientDataError when the matrix holds
// fewer observations than the configured minimum.
func (m ReturnMatrix) RequireMinPeriods(min int) error {
	if m.Rows() < min {
		return &InsufficientDataError{Periods: m.Rows(), MinPeriods: min}
	}
	return nil
}

// Compute derives a return matrix from an aligned, gap-filled price series.
// The series is resampled to the requested frequency (last observation per
// period) before returns are taken, so no return spans a calendar gap larger
// than the frequency. Each asset ends up with exactly len(prices)-1 returns.
func Compute(series marketdata.PriceSeries, freq Frequency, returnType ReturnType) (ReturnMatrix, error) {
	if err := series.Validate(); err != nil {
		return ReturnMatrix{}, fmt.Errorf("invalid price series: %w", err)
	}

	filled := series.FillMissing()
	sampled := resample(filled, freq)

	if len(sampled.Dates) < 2 {
		periods := len(sampled.Dates) - 1
		if periods < 0 {
			periods = 0
		}
		return ReturnMatrix{}, &InsufficientDataError{Periods: periods, MinPeriods: 1}
	}

	assets := sampled.Tickers()
	rows := len(sampled.Dates) - 1
	data := make([][]float64, rows)
	for t := 0; t < rows; t++ {
		data[t] = make([]float64, len(assets))
	}

	for j, asset := range assets {
		prices := sampled.Prices[asset]
		for t := 1; t < len(prices); t++ {
			prev, cur := prices[t-1], prices[t]
			if prev <= 0 || math.IsNaN(prev) || math.IsNaN(cur) {
				return ReturnMatrix{}, fmt.Errorf("non-positive or missing price for %s on %s after fill", asset, sampled.Dates[t])
			}
			switch returnType {
			case Log:
				data[t-1][j] = math.Log(cur / prev)
			case Simple:
				data[t-1][j] = cur/prev - 1
			default:
				return ReturnMatrix{}, fmt.Errorf("unknown return type %q", returnType)
			}
		}
	}

	return ReturnMatrix{
		StartDate: sampled.Dates[0],
		Dates:     sampled.Dates[1:],
		Assets:    assets,
		Data:      data,
	}, nil
}

// resample keeps the last observation of each calendar period. Daily input
// passes through unchanged.
func resample(series marketdata.PriceSeries, freq Frequency) marketdata.PriceSeries {
	if freq == Daily {
		return series
	}

	// Last index per period key, in calendar order.
	lastIdx := make(map[string]int)
	var keys []string
	for i, d := range series.Dates {
		key := periodKey(d, freq)
		if _, seen := lastIdx[key]; !seen {
			keys = append(keys, key)
		}
		lastIdx[key] = i
	}
	sort.Strings(keys)

	dates := make([]string, 0, len(keys))
	indices := make([]int, 0, len(keys))
	for _, key := range keys {
		i := lastIdx[key]
		dates = append(dates, series.Dates[i])
		indices = append(indices, i)
	}

	prices := make(map[string][]float64, len(series.Prices))
	for ticker, col := range series.Prices {
		out := make([]float64, len(indices))
		for k, i := range indices {
			out[k] = col[i]
		}
		prices[ticker] = out
	}

	return marketdata.PriceSeries{Dates: dates, Prices: prices}
}

// periodKey buckets a YYYY-MM-DD date into a weekly or monthly key.
func periodKey(date string, freq Frequency) string {
	switch freq {
	case Monthly:
		if len(date) >= 7 {
			return date[:7]
		}
		return date
	case Weekly:
		// ISO-week-style bucketing on the YYYY-MM-DD string would need
		// time parsing; a 7-day bucket anchored on the epoch is stable and
		// deterministic for a sorted trading calendar.
		t := parseDay(date)
		return fmt.Sprintf("%08d", t/7)
	default:
		return date
	}
}

// parseDay converts YYYY-MM-DD into a day ordinal (days since 1970-01-01).
func parseDay(date string) int {
	var y, m, d int
	if _, err := fmt.Sscanf(date, "%d-%d-%d", &y, &m, &d); err != nil {
		return 0
	}
	// Civil-date to day-count conversion (Howard Hinnant's algorithm).
	if m <= 2 {
		y--
		m += 12
	}
	era := y / 400
	yoe := y - era*400
	doy := (153*(m-3)+2)/5 + d - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	return era*146097 + doe - 719468
}
