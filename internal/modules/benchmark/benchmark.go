// Package benchmark builds the static reference allocations that strategy
// results are judged against, most commonly the classic 60/40
// equity/bond split.
package benchmark

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/quantfolio/internal/modules/optimization"
)

// Default 60/40 composition.
const (
	DefaultEquityTicker = "SPY"
	DefaultBondTicker   = "BND"
	DefaultEquityWeight = 0.6
)

// Allocator produces fixed two-asset benchmark portfolios.
type Allocator struct {
	log zerolog.Logger
}

// NewAllocator creates a benchmark allocator.
func NewAllocator(log zerolog.Logger) *Allocator {
	return &Allocator{log: log.With().Str("component", "benchmark").Logger()}
}

// Allocate returns a fixed equity/bond split. The equity weight must lie in
// [0, 1]; the bond side receives the remainder so the result always sums
// to 1.
func (a *Allocator) Allocate(equityTicker, bondTicker string, equityWeight float64) (optimization.Weights, error) {
	if equityTicker == "" || bondTicker == "" {
		return nil, fmt.Errorf("benchmark tickers must be non-empty")
	}
	if equityTicker == bondTicker {
		return nil, fmt.Errorf("benchmark equity and bond tickers must differ, both are %s", equityTicker)
	}
	if equityWeight < 0 || equityWeight > 1 {
		return nil, fmt.Errorf("equity weight %v outside [0, 1]", equityWeight)
	}

	weights := optimization.Weights{
		equityTicker: equityWeight,
		bondTicker:   1 - equityWeight,
	}

	a.log.Debug().
		Str("equity", equityTicker).
		Str("bond", bondTicker).
		Float64("equity_weight", equityWeight).
		Msg("Built benchmark allocation")

	return weights, nil
}

// SixtyForty is the conventional 60% SPY / 40% BND benchmark.
func (a *Allocator) SixtyForty() optimization.Weights {
	weights, _ := a.Allocate(DefaultEquityTicker, DefaultBondTicker, DefaultEquityWeight)
	return weights
}
