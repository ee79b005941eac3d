// Package risk estimates expected-return vectors and covariance matrices
// from historical return series.
package risk

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/quantfolio/internal/modules/returns"
)

// Method selects the covariance estimator.
type Method string

const (
	// Sample is the plain sample covariance (N-1 denominator).
	Sample Method = "sample"
	// ExponentialWeighted decays observation weight with a half-life.
	ExponentialWeighted Method = "exponential_weighted"
	// LedoitWolf shrinks the sample covariance toward a constant-correlation
	// target.
	LedoitWolf Method = "ledoit_wolf"
)

// DefaultMinPeriods is the minimum observation count below which risk
// estimates are considered unstable.
const DefaultMinPeriods = 30

// Options tune the estimation.
type Options struct {
	MinPeriods   int
	HalfLifeDays float64 // ExponentialWeighted only
}

// Model is the risk model consumed by the optimizer: an expected-return
// vector and a positive-semidefinite covariance matrix, both ordered by
// Assets. Immutable once built.
type Model struct {
	Assets   []string           `json:"assets"`
	Expected map[string]float64 `json:"expected"`
	Cov      [][]float64        `json:"cov"`
}

// Mu returns the expected-return vector in asset order.
func (m Model) Mu() []float64 {
	mu := make([]float64, len(m.Assets))
	for i, a := range m.Assets {
		mu[i] = m.Expected[a]
	}
	return mu
}

// Sigma returns the covariance matrix as a gonum symmetric matrix.
func (m Model) Sigma() *mat.SymDense {
	n := len(m.Assets)
	sigma := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sigma.SetSym(i, j, m.Cov[i][j])
		}
	}
	return sigma
}

// Estimator builds risk models from return matrices.
type Estimator struct {
	log zerolog.Logger
}

// NewEstimator creates a risk model estimator.
func NewEstimator(log zerolog.Logger) *Estimator {
	return &Estimator{log: log.With().Str("component", "risk_model").Logger()}
}

// Estimate builds a risk model from a return matrix and an expected-return
// vector. The expected vector must cover exactly the matrix's assets; the
// covariance is estimated with the requested method and regularized to be
// positive-semidefinite. Pure function of its inputs.
func (e *Estimator) Estimate(m returns.ReturnMatrix, expected map[string]float64, method Method, opts Options) (Model, error) {
	minPeriods := opts.MinPeriods
	if minPeriods <= 0 {
		minPeriods = DefaultMinPeriods
	}
	if err := m.RequireMinPeriods(minPeriods); err != nil {
		return Model{}, err
	}

	for _, asset := range m.Assets {
		if _, ok := expected[asset]; !ok {
			return Model{}, fmt.Errorf("expected returns missing asset %s", asset)
		}
	}

	var cov [][]float64
	var err error
	switch method {
	case Sample:
		cov, err = sampleCovariance(m)
	case ExponentialWeighted:
		halfLife := opts.HalfLifeDays
		if halfLife <= 0 {
			halfLife = 63
		}
		weights := timeDecayWeights(m.Rows(), halfLife)
		cov, err = weightedCovariance(m, weights)
	case LedoitWolf:
		cov, err = sampleCovariance(m)
		if err == nil {
			cov, err = applyLedoitWolfShrinkage(cov)
		}
	default:
		return Model{}, fmt.Errorf("unknown covariance method %q", method)
	}
	if err != nil {
		return Model{}, err
	}

	cov = ensurePSD(cov)

	e.log.Debug().
		Str("method", string(method)).
		Int("num_assets", len(m.Assets)).
		Int("num_periods", m.Rows()).
		Msg("Estimated risk model")

	// Copy the expected vector so the model is safe to share.
	exp := make(map[string]float64, len(m.Assets))
	for _, asset := range m.Assets {
		exp[asset] = expected[asset]
	}

	return Model{
		Assets:   append([]string(nil), m.Assets...),
		Expected: exp,
		Cov:      cov,
	}, nil
}

// sampleCovariance calculates the sample covariance matrix (N-1 denominator).
func sampleCovariance(m returns.ReturnMatrix) ([][]float64, error) {
	n := len(m.Assets)
	rows := m.Rows()
	if rows < 2 {
		return nil, &returns.InsufficientDataError{Periods: rows, MinPeriods: 2}
	}

	cols := make([][]float64, n)
	for j := 0; j < n; j++ {
		cols[j] = make([]float64, rows)
		for t := 0; t < rows; t++ {
			cols[j][t] = m.Data[t][j]
		}
	}

	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			c := stat.Covariance(cols[i], cols[j], nil)
			cov[i][j] = c
			if i != j {
				cov[j][i] = c
			}
		}
	}
	return cov, nil
}

// timeDecayWeights returns normalized observation weights (oldest -> newest)
// decayed exponentially with the given half-life.
func timeDecayWeights(n int, halfLifeDays float64) []float64 {
	lambda := math.Ln2 / halfLifeDays
	weights := make([]float64, n)
	sum := 0.0
	for i := 0; i < n; i++ {
		age := float64((n - 1) - i) // 0 for newest
		w := math.Exp(-lambda * age)
		weights[i] = w
		sum += w
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

// weightedCovariance computes a weighted covariance matrix using the
// effective-sample correction denom = 1 - sum(w^2).
func weightedCovariance(m returns.ReturnMatrix, weights []float64) ([][]float64, error) {
	n := len(m.Assets)
	t := m.Rows()
	if len(weights) != t {
		return nil, fmt.Errorf("weight count %d does not match %d observations", len(weights), t)
	}

	mu := make([]float64, n)
	for j := 0; j < n; j++ {
		sum := 0.0
		for k := 0; k < t; k++ {
			sum += weights[k] * m.Data[k][j]
		}
		mu[j] = sum
	}

	sumW2 := 0.0
	for _, w := range weights {
		sumW2 += w * w
	}
	denom := 1.0 - sumW2
	if denom <= 0 {
		return nil, fmt.Errorf("invalid effective-sample denominator: %v", denom)
	}

	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s := 0.0
			for k := 0; k < t; k++ {
				s += weights[k] * (m.Data[k][i] - mu[i]) * (m.Data[k][j] - mu[j])
			}
			val := s / denom
			cov[i][j] = val
			if i != j {
				cov[j][i] = val
			}
		}
	}
	return cov, nil
}

// applyLedoitWolfShrinkage shrinks a sample covariance matrix towards a
// constant-correlation target.
//
// Reference: Ledoit, O., & Wolf, M. (2004). "A well-conditioned estimator
// for large-dimensional covariance matrices"
func applyLedoitWolfShrinkage(sampleCov [][]float64) ([][]float64, error) {
	n := len(sampleCov)
	if n == 0 {
		return nil, fmt.Errorf("empty covariance matrix")
	}

	var avgVar, avgCov float64
	for i := 0; i < n; i++ {
		avgVar += sampleCov[i][i]
		for j := 0; j < n; j++ {
			if i != j {
				avgCov += sampleCov[i][j]
			}
		}
	}
	avgVar /= float64(n)
	if n > 1 {
		avgCov /= float64(n * (n - 1))
	}

	target := make([][]float64, n)
	for i := range target {
		target[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i == j {
				target[i][j] = avgVar
			} else if avgVar > 0 {
				target[i][j] = avgCov
			}
		}
	}

	// Shrinkage intensity: ratio of target-vs-sample dispersion, clamped.
	shrinkage := 0.2
	if n > 2 && avgVar > 0 {
		var sumSqDiff float64
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				diff := sampleCov[i][j] - target[i][j]
				sumSqDiff += diff * diff
			}
		}
		meanSqDiff := sumSqDiff / float64(n*n)

		var sumSq, mean float64
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				v := sampleCov[i][j]
				mean += v
				sumSq += v * v
			}
		}
		count := float64(n * n)
		mean /= count
		varSample := sumSq/count - mean*mean

		if varSample > 0 && meanSqDiff > 0 {
			shrinkage = math.Min(0.5, math.Max(0.0, varSample/(varSample+meanSqDiff)))
		}
	}

	shrunk := make([][]float64, n)
	for i := range shrunk {
		shrunk[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			shrunk[i][j] = (1-shrinkage)*sampleCov[i][j] + shrinkage*target[i][j]
		}
	}
	return shrunk, nil
}

// ensurePSD clips negative eigenvalues to zero and reconstructs the matrix,
// guaranteeing positive-semidefiniteness after estimation noise or shrinkage.
func ensurePSD(cov [][]float64) [][]float64 {
	n := len(cov)
	sigma := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			// Average the off-diagonal pair to wash out asymmetry from
			// floating-point accumulation.
			sigma.SetSym(i, j, (cov[i][j]+cov[j][i])/2)
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(sigma, true) {
		return cov
	}

	values := eig.Values(nil)
	clipped := false
	for i, v := range values {
		if v < 0 {
			values[i] = 0
			clipped = true
		}
	}
	if !clipped {
		return cov
	}

	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// Reconstruct V * diag(values) * V^T.
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s := 0.0
			for k := 0; k < n; k++ {
				s += vectors.At(i, k) * values[k] * vectors.At(j, k)
			}
			out[i][j] = s
			out[j][i] = s
		}
	}
	return out
}
