// Package backtest replays a target allocation against realized returns,
// producing a portfolio value path under a configurable rebalance policy.
package backtest

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/quantfolio/internal/modules/optimization"
	"github.com/aristath/quantfolio/internal/modules/returns"
)

// PolicyType selects when the simulator resets drifted weights back to the
// target vector.
type PolicyType string

const (
	PolicyNever     PolicyType = "never"
	PolicyPeriodic  PolicyType = "periodic"
	PolicyThreshold PolicyType = "threshold"
)

// Policy is the rebalance trigger: never, every Interval periods, or when
// any weight drifts more than DriftPct from its target.
type Policy struct {
	Type     PolicyType
	Interval int
	DriftPct float64
}

// Config holds the per-run simulation parameters.
type Config struct {
	InitialValue       float64
	Policy             Policy
	TransactionCostBps float64
}

// Result is an immutable backtest outcome. Values has one more entry than
// the return matrix has rows; Values[0] is InitialValue on the matrix start
// date.
type Result struct {
	Dates        []string  `json:"dates"`
	Values       []float64 `json:"values"`
	FinalWeights optimization.Weights
	Turnover     float64 `json:"turnover"`
	Costs        float64 `json:"costs"`
	Rebalances   int     `json:"rebalances"`
}

// FinalValue is the portfolio value after the last simulated period.
func (r Result) FinalValue() float64 {
	return r.Values[len(r.Values)-1]
}

// Simulator runs deterministic hold/rebalance backtests. It holds no state
// between runs.
type Simulator struct {
	log zerolog.Logger
}

// NewSimulator creates a backtest simulator.
func NewSimulator(log zerolog.Logger) *Simulator {
	return &Simulator{log: log.With().Str("component", "backtest").Logger()}
}

// Run replays target against the return matrix period by period.
//
// Within a period the portfolio holds: V_t = V_{t-1} * (1 + w·r_t) with the
// weights in effect at the start of the period, which then drift with
// realized returns. At a rebalance boundary weights reset to the target and
// the value is charged turnover * bps/10000.
func (s *Simulator) Run(m returns.ReturnMatrix, target optimization.Weights, cfg Config) (Result, error) {
	periods := m.Rows()
	if periods == 0 {
		return Result{}, &EmptyReturnMatrixError{}
	}
	if cfg.InitialValue <= 0 {
		return Result{}, fmt.Errorf("initial value must be positive, got %v", cfg.InitialValue)
	}
	if err := checkPolicy(cfg.Policy); err != nil {
		return Result{}, err
	}
	if sum := target.Sum(); math.Abs(sum-1) > optimization.WeightTolerance {
		return Result{}, fmt.Errorf("target weights sum to %v, expected 1", sum)
	}

	tgt, err := alignTarget(m, target)
	if err != nil {
		return Result{}, err
	}
	n := len(m.Assets)

	weights := append([]float64(nil), tgt...)
	values := make([]float64, periods+1)
	values[0] = cfg.InitialValue
	dates := make([]string, 0, periods+1)
	dates = append(dates, m.StartDate)
	dates = append(dates, m.Dates...)

	value := cfg.InitialValue
	totalTurnover := 0.0
	totalCosts := 0.0
	rebalances := 0

	for t := 0; t < periods; t++ {
		row := m.Data[t]

		periodReturn := 0.0
		for i := 0; i < n; i++ {
			periodReturn += weights[i] * row[i]
		}
		growth := 1 + periodReturn
		if growth <= 0 {
			// Total loss: the path stays at zero from here on.
			for u := t; u < periods; u++ {
				values[u+1] = 0
			}
			value = 0
			s.log.Warn().Str("date", m.Dates[t]).Msg("Portfolio value reached zero")
			break
		}
		value *= growth

		// Drift: each asset grows at its own rate within the period.
		for i := 0; i < n; i++ {
			weights[i] = weights[i] * (1 + row[i]) / growth
		}

		if shouldRebalance(cfg.Policy, t, weights, tgt) {
			turnover := 0.0
			for i := 0; i < n; i++ {
				turnover += math.Abs(weights[i] - tgt[i])
			}
			cost := value * turnover * cfg.TransactionCostBps / 10000
			value -= cost
			copy(weights, tgt)
			totalTurnover += turnover
			totalCosts += cost
			rebalances++
		}

		values[t+1] = value
	}

	result := Result{
		Dates:        dates,
		Values:       values,
		FinalWeights: weightsMap(m.Assets, weights),
		Turnover:     totalTurnover,
		Costs:        totalCosts,
		Rebalances:   rebalances,
	}

	s.log.Debug().
		Int("periods", periods).
		Int("rebalances", rebalances).
		Float64("final_value", result.FinalValue()).
		Msg("Backtest complete")

	return result, nil
}

// alignTarget orders the target weights to match the matrix's asset
// ordering. Matrix assets absent from the target get weight zero; target
// assets absent from the matrix are an error when their weight is nonzero.
func alignTarget(m returns.ReturnMatrix, target optimization.Weights) ([]float64, error) {
	var missing []string
	for asset, w := range target {
		if math.Abs(w) < optimization.WeightTolerance {
			continue
		}
		if m.AssetIndex(asset) < 0 {
			missing = append(missing, asset)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &WeightAssetMismatchError{Missing: missing}
	}

	tgt := make([]float64, len(m.Assets))
	for i, asset := range m.Assets {
		tgt[i] = target[asset]
	}
	return tgt, nil
}

func checkPolicy(p Policy) error {
	switch p.Type {
	case PolicyNever:
		return nil
	case PolicyPeriodic:
		if p.Interval < 1 {
			return fmt.Errorf("periodic rebalance interval must be >= 1, got %d", p.Interval)
		}
		return nil
	case PolicyThreshold:
		if p.DriftPct <= 0 {
			return fmt.Errorf("threshold rebalance drift must be positive, got %v", p.DriftPct)
		}
		return nil
	default:
		return fmt.Errorf("unknown rebalance policy %q", p.Type)
	}
}

// shouldRebalance is evaluated after the period-t drift has been applied.
func shouldRebalance(p Policy, t int, weights, target []float64) bool {
	switch p.Type {
	case PolicyPeriodic:
		return (t+1)%p.Interval == 0
	case PolicyThreshold:
		for i := range weights {
			if math.Abs(weights[i]-target[i]) > p.DriftPct {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func weightsMap(assets []string, w []float64) optimization.Weights {
	out := make(optimization.Weights, len(assets))
	for i, asset := range assets {
		out[asset] = w[i]
	}
	return out
}
