// Package performance derives risk/return statistics from portfolio value
// paths and compares a strategy against its benchmark.
package performance

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"
)

// VaRConfidence is the tail percentile for historical value-at-risk.
const VaRConfidence = 5.0

// EmptyPathError is returned when a value path is too short to yield any
// period returns.
type EmptyPathError struct {
	Length int
}

func (e *EmptyPathError) Error() string {
	return fmt.Sprintf("value path has %d points, need at least 2", e.Length)
}

// Report is the statistics bundle for one value path. MaxDrawdown is
// non-positive; ValueAtRisk is the historical 5% quantile of period
// returns.
type Report struct {
	CumulativeReturn     float64   `json:"cumulative_return"`
	AnnualizedReturn     float64   `json:"annualized_return"`
	AnnualizedVolatility float64   `json:"annualized_volatility"`
	SharpeRatio          float64   `json:"sharpe_ratio"`
	MaxDrawdown          float64   `json:"max_drawdown"`
	ValueAtRisk          float64   `json:"value_at_risk"`
	DrawdownSeries       []float64 `json:"drawdown_series"`
}

// Evaluator computes performance reports.
type Evaluator struct {
	log zerolog.Logger
}

// NewEvaluator creates a performance evaluator.
func NewEvaluator(log zerolog.Logger) *Evaluator {
	return &Evaluator{log: log.With().Str("component", "performance").Logger()}
}

// Evaluate computes the report for one value path.
//
// Volatility uses the sample standard deviation (ddof=1) of period returns,
// annualized by sqrt(periodsPerYear). Sharpe is defined as 0 when
// volatility is exactly zero so comparisons stay total.
func (e *Evaluator) Evaluate(values []float64, periodsPerYear float64, riskFree float64) (Report, error) {
	if len(values) < 2 {
		return Report{}, &EmptyPathError{Length: len(values)}
	}
	if periodsPerYear <= 0 {
		return Report{}, fmt.Errorf("periods per year must be positive, got %v", periodsPerYear)
	}

	periodReturns := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			periodReturns[i-1] = 0
			continue
		}
		periodReturns[i-1] = values[i]/values[i-1] - 1
	}

	cumulative := values[len(values)-1]/values[0] - 1
	years := float64(len(periodReturns)) / periodsPerYear
	annualizedReturn := annualize(cumulative, years)

	volatility := 0.0
	if sd, err := stats.StandardDeviationSample(periodReturns); err == nil {
		volatility = sd * math.Sqrt(periodsPerYear)
	}

	sharpe := 0.0
	if volatility > 0 {
		sharpe = (annualizedReturn - riskFree) / volatility
	}

	varQuantile := 0.0
	if q, err := stats.Percentile(periodReturns, VaRConfidence); err == nil {
		varQuantile = q
	}

	maxDD, ddSeries := drawdowns(values)

	return Report{
		CumulativeReturn:     cumulative,
		AnnualizedReturn:     annualizedReturn,
		AnnualizedVolatility: volatility,
		SharpeRatio:          sharpe,
		MaxDrawdown:          maxDD,
		ValueAtRisk:          varQuantile,
		DrawdownSeries:       ddSeries,
	}, nil
}

// annualize converts a cumulative return over the given horizon into a
// compound annual rate. Horizons under one period fall back to the
// cumulative figure.
func annualize(cumulative, years float64) float64 {
	if years <= 0 {
		return cumulative
	}
	base := 1 + cumulative
	if base <= 0 {
		return -1
	}
	return math.Pow(base, 1/years) - 1
}

// drawdowns returns the maximum drawdown and the full drawdown series,
// both measured against the running prefix maximum.
func drawdowns(values []float64) (float64, []float64) {
	series := make([]float64, len(values))
	peak := values[0]
	maxDD := 0.0
	for i, v := range values {
		if v > peak {
			peak = v
		}
		dd := 0.0
		if peak > 0 {
			dd = v/peak - 1
		}
		series[i] = dd
		if dd < maxDD {
			maxDD = dd
		}
	}
	return maxDD, series
}
