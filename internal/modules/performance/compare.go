package performance

// Comparison holds the signed strategy-minus-benchmark differences for
// each headline metric.
type Comparison struct {
	Strategy  Report `json:"strategy"`
	Benchmark Report `json:"benchmark"`

	CumulativeReturnDiff     float64 `json:"cumulative_return_diff"`
	AnnualizedReturnDiff     float64 `json:"annualized_return_diff"`
	AnnualizedVolatilityDiff float64 `json:"annualized_volatility_diff"`
	SharpeRatioDiff          float64 `json:"sharpe_ratio_diff"`
	MaxDrawdownDiff          float64 `json:"max_drawdown_diff"`

	// OutperformedRiskAdjusted is true when the strategy's Sharpe ratio
	// strictly exceeds the benchmark's.
	OutperformedRiskAdjusted bool `json:"outperformed_risk_adjusted"`
}

// Compare derives the signed metric differences between two reports.
func (e *Evaluator) Compare(strategy, benchmark Report) Comparison {
	return Comparison{
		Strategy:                 strategy,
		Benchmark:                benchmark,
		CumulativeReturnDiff:     strategy.CumulativeReturn - benchmark.CumulativeReturn,
		AnnualizedReturnDiff:     strategy.AnnualizedReturn - benchmark.AnnualizedReturn,
		AnnualizedVolatilityDiff: strategy.AnnualizedVolatility - benchmark.AnnualizedVolatility,
		SharpeRatioDiff:          strategy.SharpeRatio - benchmark.SharpeRatio,
		MaxDrawdownDiff:          strategy.MaxDrawdown - benchmark.MaxDrawdown,
		OutperformedRiskAdjusted: strategy.SharpeRatio > benchmark.SharpeRatio,
	}
}
