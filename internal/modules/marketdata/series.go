// Package marketdata provides the historical price store and the calendar
// alignment / missing-data policy applied before any return computation.
package marketdata

import (
	"fmt"
	"math"
	"sort"
)

// Bar is a single (date, ticker, adjusted close) observation.
// Dates use the YYYY-MM-DD format throughout.
type Bar struct {
	Ticker   string  `json:"ticker"`
	Date     string  `json:"date"`
	AdjClose float64 `json:"adj_close"`
}

// PriceSeries holds aligned adjusted-close prices on a common trading
// calendar. Missing observations are NaN until FillMissing is applied.
type PriceSeries struct {
	Dates  []string             `json:"dates"`
	Prices map[string][]float64 `json:"prices"`
}

// Tickers returns the asset tickers in sorted order.
func (s PriceSeries) Tickers() []string {
	tickers := make([]string, 0, len(s.Prices))
	for t := range s.Prices {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers
}

// NewSeries aligns raw bars onto the union of all observed dates.
// Dates end up strictly increasing; a ticker with no observation on a date
// gets NaN there. Duplicate (ticker, date) pairs are rejected.
func NewSeries(bars []Bar) (PriceSeries, error) {
	byTicker := make(map[string]map[string]float64)
	dateSet := make(map[string]bool)

	for _, b := range bars {
		if byTicker[b.Ticker] == nil {
			byTicker[b.Ticker] = make(map[string]float64)
		}
		if _, dup := byTicker[b.Ticker][b.Date]; dup {
			return PriceSeries{}, fmt.Errorf("duplicate price for %s on %s", b.Ticker, b.Date)
		}
		byTicker[b.Ticker][b.Date] = b.AdjClose
		dateSet[b.Date] = true
	}

	dates := make([]string, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	prices := make(map[string][]float64, len(byTicker))
	for ticker, obs := range byTicker {
		col := make([]float64, len(dates))
		for i, d := range dates {
			if p, ok := obs[d]; ok {
				col[i] = p
			} else {
				col[i] = math.NaN()
			}
		}
		prices[ticker] = col
	}

	return PriceSeries{Dates: dates, Prices: prices}, nil
}

// FillMissing fills gaps using forward-fill, then back-fill for leading
// NaNs. This is the single missing-data policy for the whole pipeline;
// callers must not re-fill ad hoc.
func (s PriceSeries) FillMissing() PriceSeries {
	filled := PriceSeries{
		Dates:  s.Dates,
		Prices: make(map[string][]float64, len(s.Prices)),
	}

	for ticker, prices := range s.Prices {
		col := make([]float64, len(prices))
		copy(col, prices)

		// Forward-fill: carry the previous valid value
		var lastValid float64
		hasLastValid := false
		for i := 0; i < len(col); i++ {
			if math.IsNaN(col[i]) {
				if hasLastValid {
					col[i] = lastValid
				}
			} else {
				lastValid = col[i]
				hasLastValid = true
			}
		}

		// Back-fill: leading NaNs take the first valid value
		var nextValid float64
		hasNextValid := false
		for i := len(col) - 1; i >= 0; i-- {
			if math.IsNaN(col[i]) {
				if hasNextValid {
					col[i] = nextValid
				}
			} else {
				nextValid = col[i]
				hasNextValid = true
			}
		}

		filled.Prices[ticker] = col
	}

	return filled
}

// Validate checks the aligned-series invariants: strictly increasing dates
// and one column per ticker matching the calendar length.
func (s PriceSeries) Validate() error {
	for i := 1; i < len(s.Dates); i++ {
		if s.Dates[i] <= s.Dates[i-1] {
			return fmt.Errorf("dates not strictly increasing at index %d (%s >= %s)", i, s.Dates[i-1], s.Dates[i])
		}
	}
	for ticker, col := range s.Prices {
		if len(col) != len(s.Dates) {
			return fmt.Errorf("ticker %s has %d prices for %d dates", ticker, len(col), len(s.Dates))
		}
	}
	return nil
}
