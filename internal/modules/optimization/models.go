// Package optimization provides efficient-frontier portfolio optimization.
package optimization

import (
	"fmt"
	"math"
)

// WeightTolerance is the tolerance used when validating that weights sum to
// one and respect their bounds.
const WeightTolerance = 1e-6

// Weights maps asset ticker to portfolio weight. Valid weight vectors sum to
// 1 within WeightTolerance.
type Weights map[string]float64

// Sum returns the total allocation.
func (w Weights) Sum() float64 {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	return sum
}

// Validate checks the full-investment constraint and per-asset bounds.
func (w Weights) Validate(cons Constraints) error {
	if math.Abs(w.Sum()-1.0) > WeightTolerance {
		return fmt.Errorf("weights sum to %v, expected 1", w.Sum())
	}
	for _, asset := range cons.Assets {
		v := w[asset]
		if v < cons.LowerBound(asset)-WeightTolerance || v > cons.UpperBound(asset)+WeightTolerance {
			return fmt.Errorf("weight %v for %s outside bounds [%v, %v]",
				v, asset, cons.LowerBound(asset), cons.UpperBound(asset))
		}
	}
	return nil
}

// ObjectiveType enumerates the supported optimization objectives.
type ObjectiveType string

const (
	MaxSharpe         ObjectiveType = "max_sharpe"
	MinVolatility     ObjectiveType = "min_volatility"
	TargetReturn      ObjectiveType = "target_return"
	TargetVolatility  ObjectiveType = "target_volatility"
	EfficientFrontier ObjectiveType = "efficient_frontier"
)

// Objective selects what the optimizer solves for.
type Objective struct {
	Type             ObjectiveType
	RiskFreeRate     float64 // MaxSharpe
	TargetReturn     float64 // TargetReturn
	TargetVolatility float64 // TargetVolatility
	FrontierPoints   int     // EfficientFrontier
}

// FrontierPoint is one point on the efficient frontier, ordered by target
// return.
type FrontierPoint struct {
	Return     float64 `json:"return"`
	Volatility float64 `json:"volatility"`
	Weights    Weights `json:"weights"`
}

// InfeasibleConstraintsError indicates the bounds and the full-investment
// constraint admit no solution.
type InfeasibleConstraintsError struct {
	Reason string
}

func (e *InfeasibleConstraintsError) Error() string {
	return "infeasible constraints: " + e.Reason
}

// SingularCovarianceError indicates the covariance matrix is not positive
// definite after regularization, so the solver cannot proceed.
type SingularCovarianceError struct {
	Detail string
}

func (e *SingularCovarianceError) Error() string {
	return "singular covariance matrix: " + e.Detail
}
