package performance

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quantfolio/internal/modules/returns"
)

func TestEvaluate_FlatPath(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())

	report, err := e.Evaluate([]float64{100, 100, 100, 100}, 252, 0.02)
	require.NoError(t, err)

	assert.Zero(t, report.CumulativeReturn)
	assert.Zero(t, report.AnnualizedReturn)
	assert.Zero(t, report.AnnualizedVolatility)
	assert.Zero(t, report.SharpeRatio, "zero volatility maps to zero Sharpe")
	assert.Zero(t, report.MaxDrawdown)
}

func TestEvaluate_KnownPath(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())

	// Two periods: +10% then -5%.
	report, err := e.Evaluate([]float64{100, 110, 104.5}, 252, 0)
	require.NoError(t, err)

	assert.InDelta(t, 0.045, report.CumulativeReturn, 1e-12)

	years := 2.0 / 252
	wantAnnualized := math.Pow(1.045, 1/years) - 1
	assert.InDelta(t, wantAnnualized, report.AnnualizedReturn, 1e-9)

	// Sample stdev of {0.10, -0.05} is |0.10-(-0.05)|/sqrt(2).
	wantVol := 0.15 / math.Sqrt2 * math.Sqrt(252)
	assert.InDelta(t, wantVol, report.AnnualizedVolatility, 1e-9)
	assert.InDelta(t, wantAnnualized/wantVol, report.SharpeRatio, 1e-9)

	// Drawdown bottoms out at 104.5 against the 110 peak.
	assert.InDelta(t, 104.5/110-1, report.MaxDrawdown, 1e-12)
	require.Len(t, report.DrawdownSeries, 3)
	assert.Zero(t, report.DrawdownSeries[0])
	assert.Zero(t, report.DrawdownSeries[1])
	assert.InDelta(t, 104.5/110-1, report.DrawdownSeries[2], 1e-12)
}

func TestEvaluate_RiskFreeShiftsSharpe(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())
	values := []float64{100, 101, 103, 102, 105}

	base, err := e.Evaluate(values, 252, 0)
	require.NoError(t, err)
	shifted, err := e.Evaluate(values, 252, 0.02)
	require.NoError(t, err)

	assert.InDelta(t, 0.02/base.AnnualizedVolatility, base.SharpeRatio-shifted.SharpeRatio, 1e-9)
}

func TestEvaluate_ShortPath(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())

	var emptyErr *EmptyPathError
	_, err := e.Evaluate([]float64{100}, 252, 0)
	require.ErrorAs(t, err, &emptyErr)
	assert.Equal(t, 1, emptyErr.Length)

	_, err = e.Evaluate(nil, 252, 0)
	assert.ErrorAs(t, err, &emptyErr)
}

func TestEvaluate_InvalidPeriodsPerYear(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())

	_, err := e.Evaluate([]float64{100, 101}, 0, 0)
	assert.Error(t, err)
}

func TestEvaluate_ZeroedPath(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())

	// A total loss mid-path must not divide by zero and pins the
	// annualized return at -100%.
	report, err := e.Evaluate([]float64{100, 0, 0}, 252, 0)
	require.NoError(t, err)

	assert.Equal(t, -1.0, report.CumulativeReturn)
	assert.Equal(t, -1.0, report.AnnualizedReturn)
	assert.Equal(t, -1.0, report.MaxDrawdown)
}

func TestCompare(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())

	strategy := Report{
		CumulativeReturn:     0.30,
		AnnualizedReturn:     0.12,
		AnnualizedVolatility: 0.18,
		SharpeRatio:          1.2,
		MaxDrawdown:          -0.15,
	}
	benchmark := Report{
		CumulativeReturn:     0.20,
		AnnualizedReturn:     0.08,
		AnnualizedVolatility: 0.12,
		SharpeRatio:          0.8,
		MaxDrawdown:          -0.10,
	}

	cmp := e.Compare(strategy, benchmark)

	assert.Equal(t, strategy, cmp.Strategy)
	assert.Equal(t, benchmark, cmp.Benchmark)
	assert.InDelta(t, 0.10, cmp.CumulativeReturnDiff, 1e-12)
	assert.InDelta(t, 0.04, cmp.AnnualizedReturnDiff, 1e-12)
	assert.InDelta(t, 0.06, cmp.AnnualizedVolatilityDiff, 1e-12)
	assert.InDelta(t, 0.4, cmp.SharpeRatioDiff, 1e-12)
	assert.InDelta(t, -0.05, cmp.MaxDrawdownDiff, 1e-12)
	assert.True(t, cmp.OutperformedRiskAdjusted)

	reversed := e.Compare(benchmark, strategy)
	assert.False(t, reversed.OutperformedRiskAdjusted)
}

func TestCompare_EqualSharpeIsNotOutperformance(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())

	report := Report{SharpeRatio: 1.0}
	cmp := e.Compare(report, report)
	assert.False(t, cmp.OutperformedRiskAdjusted)
	assert.Zero(t, cmp.SharpeRatioDiff)
}

func TestEvaluateAssets(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())

	m := returns.ReturnMatrix{
		StartDate: "2024-01-01",
		Dates:     []string{"2024-01-02", "2024-01-03", "2024-01-04"},
		Assets:    []string{"BND", "SPY"},
		Data: [][]float64{
			{0.001, 0.01},
			{0.001, -0.02},
			{0.001, 0.015},
		},
	}

	metrics, err := e.EvaluateAssets(m, 252)
	require.NoError(t, err)
	require.Len(t, metrics, 2)

	bnd := metrics["BND"]
	assert.InDelta(t, 0.001, bnd.MeanPeriodReturn, 1e-12)
	assert.InDelta(t, math.Pow(1.001, 3)-1, bnd.CumulativeReturn, 1e-12)
	assert.Zero(t, bnd.AnnualizedVolatility, "constant returns have zero sample stdev")
	assert.Zero(t, bnd.SharpeRatio)

	spy := metrics["SPY"]
	assert.InDelta(t, 0.005/3, spy.MeanPeriodReturn, 1e-9)
	assert.InDelta(t, 1.01*0.98*1.015-1, spy.CumulativeReturn, 1e-12)
	assert.Greater(t, spy.AnnualizedVolatility, 0.0)
	assert.NotZero(t, spy.SharpeRatio)
}
