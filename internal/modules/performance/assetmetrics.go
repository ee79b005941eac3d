package performance

import (
	"math"

	"github.com/montanaflynn/stats"

	"github.com/aristath/quantfolio/internal/modules/returns"
)

// AssetMetrics are per-ticker statistics computed directly from periodic
// returns, reported alongside the portfolio-level figures.
type AssetMetrics struct {
	MeanPeriodReturn     float64 `json:"mean_period_return"`
	CumulativeReturn     float64 `json:"cumulative_return"`
	AnnualizedVolatility float64 `json:"annualized_volatility"`
	SharpeRatio          float64 `json:"sharpe_ratio"`
	ValueAtRisk          float64 `json:"value_at_risk"`
}

// EvaluateAssets computes metrics for every asset in the return matrix.
// Sharpe uses a zero risk-free rate here; the portfolio-level report is
// the place for rate-sensitive comparisons.
func (e *Evaluator) EvaluateAssets(m returns.ReturnMatrix, periodsPerYear float64) (map[string]AssetMetrics, error) {
	out := make(map[string]AssetMetrics, len(m.Assets))
	for _, asset := range m.Assets {
		col, err := m.Column(asset)
		if err != nil {
			return nil, err
		}
		out[asset] = assetMetrics(col, periodsPerYear)
	}
	return out, nil
}

func assetMetrics(periodReturns []float64, periodsPerYear float64) AssetMetrics {
	mean := 0.0
	cumulative := 1.0
	for _, r := range periodReturns {
		mean += r
		cumulative *= 1 + r
	}
	mean /= float64(len(periodReturns))

	volatility := 0.0
	if sd, err := stats.StandardDeviationSample(periodReturns); err == nil {
		volatility = sd * math.Sqrt(periodsPerYear)
	}

	sharpe := 0.0
	if volatility > 0 {
		sharpe = mean * periodsPerYear / volatility
	}

	varQuantile := 0.0
	if q, err := stats.Percentile(periodReturns, VaRConfidence); err == nil {
		varQuantile = q
	}

	return AssetMetrics{
		MeanPeriodReturn:     mean,
		CumulativeReturn:     cumulative - 1,
		AnnualizedVolatility: volatility,
		SharpeRatio:          sharpe,
		ValueAtRisk:          varQuantile,
	}
}
