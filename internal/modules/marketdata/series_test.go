package marketdata

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSeries_AlignsOnUnionCalendar(t *testing.T) {
	bars := []Bar{
		{Ticker: "SPY", Date: "2024-01-02", AdjClose: 100},
		{Ticker: "SPY", Date: "2024-01-03", AdjClose: 101},
		{Ticker: "BND", Date: "2024-01-03", AdjClose: 70},
		{Ticker: "BND", Date: "2024-01-04", AdjClose: 71},
	}

	series, err := NewSeries(bars)
	require.NoError(t, err)

	assert.Equal(t, []string{"2024-01-02", "2024-01-03", "2024-01-04"}, series.Dates)
	assert.Equal(t, []string{"BND", "SPY"}, series.Tickers())

	// SPY is missing 2024-01-04, BND is missing 2024-01-02
	assert.True(t, math.IsNaN(series.Prices["SPY"][2]))
	assert.True(t, math.IsNaN(series.Prices["BND"][0]))
	assert.Equal(t, 101.0, series.Prices["SPY"][1])
}

func TestNewSeries_RejectsDuplicates(t *testing.T) {
	bars := []Bar{
		{Ticker: "SPY", Date: "2024-01-02", AdjClose: 100},
		{Ticker: "SPY", Date: "2024-01-02", AdjClose: 101},
	}

	_, err := NewSeries(bars)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestFillMissing(t *testing.T) {
	series := PriceSeries{
		Dates: []string{"2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05"},
		Prices: map[string][]float64{
			"SPY": {math.NaN(), 100, math.NaN(), 102},
		},
	}

	filled := series.FillMissing()

	// Leading NaN back-fills, interior NaN forward-fills.
	assert.Equal(t, []float64{100, 100, 100, 102}, filled.Prices["SPY"])
	// Original untouched.
	assert.True(t, math.IsNaN(series.Prices["SPY"][0]))
}

func TestFillMissing_AllNaNStaysNaN(t *testing.T) {
	series := PriceSeries{
		Dates:  []string{"2024-01-02", "2024-01-03"},
		Prices: map[string][]float64{"SPY": {math.NaN(), math.NaN()}},
	}

	filled := series.FillMissing()
	assert.True(t, math.IsNaN(filled.Prices["SPY"][0]))
	assert.True(t, math.IsNaN(filled.Prices["SPY"][1]))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		series  PriceSeries
		wantErr bool
	}{
		{
			name: "valid",
			series: PriceSeries{
				Dates:  []string{"2024-01-02", "2024-01-03"},
				Prices: map[string][]float64{"SPY": {100, 101}},
			},
		},
		{
			name: "dates not increasing",
			series: PriceSeries{
				Dates:  []string{"2024-01-03", "2024-01-02"},
				Prices: map[string][]float64{"SPY": {100, 101}},
			},
			wantErr: true,
		},
		{
			name: "column length mismatch",
			series: PriceSeries{
				Dates:  []string{"2024-01-02", "2024-01-03"},
				Prices: map[string][]float64{"SPY": {100}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.series.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
