package optimization

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/quantfolio/internal/modules/risk"
)

// Optimizer solves for portfolio weights on the efficient frontier.
//
// Mathematical formulation:
//   - min_volatility: minimize w'Σw
//   - target_return:  minimize w'Σw subject to μ'w = r
//   - max_sharpe:     solved via the convexified problem, minimize y'Σy
//     subject to (μ-rf)'y = 1 with w = y/Σy, rather than maximizing the
//     ratio directly, so the optimum is global
//   - target_volatility: the frontier point whose volatility equals v,
//     located by bisection over target returns
//
// All solves share: Σw = 1, per-asset bounds, optional group caps, and a
// tie-break toward equal weighting so repeated runs with identical inputs
// yield identical weights.
type Optimizer struct {
	solver Solver
	log    zerolog.Logger
}

// New creates an optimizer backed by the given QP solver.
func New(solver Solver, log zerolog.Logger) *Optimizer {
	return &Optimizer{
		solver: solver,
		log:    log.With().Str("component", "optimizer").Logger(),
	}
}

// Optimize solves a single-point objective. EfficientFrontier objectives go
// through Frontier instead.
func (o *Optimizer) Optimize(model risk.Model, cons Constraints, obj Objective) (Weights, error) {
	if err := cons.Check(); err != nil {
		return nil, err
	}
	if err := o.checkAssets(model, cons); err != nil {
		return nil, err
	}

	sigma, err := o.regularize(model)
	if err != nil {
		return nil, err
	}
	mu := model.Mu()

	var x []float64
	switch obj.Type {
	case MinVolatility:
		x, err = o.solveMinVolatility(sigma, mu, cons, nil)
	case TargetReturn:
		x, err = o.solveTargetReturn(sigma, mu, cons, obj.TargetReturn)
	case MaxSharpe:
		x, err = o.solveMaxSharpe(sigma, mu, cons, obj.RiskFreeRate)
	case TargetVolatility:
		x, err = o.solveTargetVolatility(sigma, mu, cons, obj.TargetVolatility)
	case EfficientFrontier:
		return nil, fmt.Errorf("efficient_frontier objective produces multiple points, use Frontier")
	default:
		return nil, fmt.Errorf("unknown objective %q", obj.Type)
	}
	if err != nil {
		return nil, err
	}

	weights := o.toWeights(model.Assets, x)
	o.log.Debug().
		Str("objective", string(obj.Type)).
		Float64("expected_return", dot(mu, x)).
		Float64("volatility", portfolioVolatility(sigma, x)).
		Msg("Solved portfolio weights")

	return weights, nil
}

// Frontier traces the efficient frontier with n points, ordered by target
// return from the minimum-volatility portfolio to the maximum-return
// portfolio.
func (o *Optimizer) Frontier(model risk.Model, cons Constraints, n int) ([]FrontierPoint, error) {
	if n < 2 {
		return nil, fmt.Errorf("frontier requires at least 2 points, got %d", n)
	}
	if err := cons.Check(); err != nil {
		return nil, err
	}
	if err := o.checkAssets(model, cons); err != nil {
		return nil, err
	}

	sigma, err := o.regularize(model)
	if err != nil {
		return nil, err
	}
	mu := model.Mu()

	xMinVol, err := o.solveMinVolatility(sigma, mu, cons, nil)
	if err != nil {
		return nil, err
	}
	retLow := dot(mu, xMinVol)

	xMaxRet, err := o.solveMaxReturn(sigma, mu, cons)
	if err != nil {
		return nil, err
	}
	retHigh := dot(mu, xMaxRet)

	points := make([]FrontierPoint, 0, n)
	for i := 0; i < n; i++ {
		target := retLow + (retHigh-retLow)*float64(i)/float64(n-1)
		x, err := o.solveTargetReturn(sigma, mu, cons, target)
		if err != nil {
			return nil, fmt.Errorf("frontier point %d (target %.6f): %w", i, target, err)
		}
		points = append(points, FrontierPoint{
			Return:     dot(mu, x),
			Volatility: portfolioVolatility(sigma, x),
			Weights:    o.toWeights(model.Assets, x),
		})
	}

	return points, nil
}

// checkAssets verifies the constraint set covers the model's assets.
func (o *Optimizer) checkAssets(model risk.Model, cons Constraints) error {
	if len(model.Assets) == 0 {
		return fmt.Errorf("risk model has no assets")
	}
	if len(cons.Assets) != len(model.Assets) {
		return fmt.Errorf("constraints cover %d assets, risk model has %d", len(cons.Assets), len(model.Assets))
	}
	members := make(map[string]bool, len(cons.Assets))
	for _, a := range cons.Assets {
		members[a] = true
	}
	for _, a := range model.Assets {
		if !members[a] {
			return fmt.Errorf("constraints missing asset %s", a)
		}
	}
	return nil
}

// regularize returns a positive-definite covariance matrix, adding a small
// ridge when needed. Fails with SingularCovarianceError when even the
// ridged matrix cannot be factorized.
func (o *Optimizer) regularize(model risk.Model) (*mat.SymDense, error) {
	sigma := model.Sigma()
	n := len(model.Assets)

	var chol mat.Cholesky
	if chol.Factorize(sigma) {
		return sigma, nil
	}

	trace := 0.0
	for i := 0; i < n; i++ {
		trace += sigma.At(i, i)
	}
	ridge := 1e-8 * math.Max(trace/float64(n), 1.0)

	ridged := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := sigma.At(i, j)
			if i == j {
				v += ridge
			}
			ridged.SetSym(i, j, v)
		}
	}
	if chol.Factorize(ridged) {
		o.log.Debug().Float64("ridge", ridge).Msg("Applied diagonal ridge to covariance")
		return ridged, nil
	}

	return nil, &SingularCovarianceError{
		Detail: fmt.Sprintf("Cholesky factorization failed even with ridge %g", ridge),
	}
}

// solveMinVolatility minimizes w'Σw, optionally with an extra return
// equality (used by solveTargetReturn).
func (o *Optimizer) solveMinVolatility(sigma *mat.SymDense, mu []float64, cons Constraints, extra []LinearEquality) ([]float64, error) {
	n := len(cons.Assets)
	equalWeight := filled(n, 1.0/float64(n))

	equalities := append([]LinearEquality{{Coeffs: filled(n, 1), B: 1}}, extra...)

	x, err := o.solver.Solve(Problem{
		Quadratic:  sigma,
		Linear:     make([]float64, n),
		Lower:      cons.lowerVec(),
		Upper:      cons.upperVec(),
		Equalities: equalities,
		Ranges:     cons.groupRanges(),
		TiePoint:   equalWeight,
		Init:       equalWeight,
	})
	if err != nil {
		return nil, err
	}

	return normalizeWithin(x, cons.lowerVec(), cons.upperVec()), nil
}

// solveTargetReturn minimizes variance subject to μ'w = r. Targets outside
// the attainable return range are infeasible.
func (o *Optimizer) solveTargetReturn(sigma *mat.SymDense, mu []float64, cons Constraints, target float64) ([]float64, error) {
	low, high, err := o.attainableReturns(sigma, mu, cons)
	if err != nil {
		return nil, err
	}
	if target < low-WeightTolerance || target > high+WeightTolerance {
		return nil, &InfeasibleConstraintsError{
			Reason: fmt.Sprintf("target return %v outside attainable range [%v, %v]", target, low, high),
		}
	}

	return o.solveMinVolatility(sigma, mu, cons, []LinearEquality{{Coeffs: mu, B: target}})
}

// solveMaxSharpe maximizes (μ'w - rf) / sqrt(w'Σw) via the convexified
// auxiliary problem: minimize y'Σy subject to (μ-rf)'y = 1, then rescale
// w = y / Σy.
func (o *Optimizer) solveMaxSharpe(sigma *mat.SymDense, mu []float64, cons Constraints, riskFree float64) ([]float64, error) {
	n := len(cons.Assets)

	excess := make([]float64, n)
	maxExcess := math.Inf(-1)
	for i := range mu {
		excess[i] = mu[i] - riskFree
		maxExcess = math.Max(maxExcess, excess[i])
	}
	if maxExcess <= 0 {
		return nil, &InfeasibleConstraintsError{
			Reason: fmt.Sprintf("no asset has expected return above the risk-free rate %v", riskFree),
		}
	}

	// Bound constraints on w translate into linear ranges on y:
	// l_i*Σy <= y_i <= u_i*Σy.
	lower := cons.lowerVec()
	upper := cons.upperVec()
	ranges := make([]LinearRange, 0, 2*n+len(cons.Groups))
	for i := 0; i < n; i++ {
		lo := make([]float64, n)
		hi := make([]float64, n)
		for j := 0; j < n; j++ {
			lo[j] = -lower[i]
			hi[j] = upper[i]
			if j == i {
				lo[j] += 1
				hi[j] -= 1
			}
		}
		ranges = append(ranges, LinearRange{Coeffs: lo, Lo: 0, Hi: math.Inf(1)}) // y_i - l_i*Σy >= 0
		ranges = append(ranges, LinearRange{Coeffs: hi, Lo: 0, Hi: math.Inf(1)}) // u_i*Σy - y_i >= 0
	}
	// Group caps likewise scale with Σy: min*Σy <= Σ_{i in g} y_i <= max*Σy.
	for _, g := range cons.Groups {
		member := make(map[string]bool, len(g.Members))
		for _, m := range g.Members {
			member[m] = true
		}
		lo := make([]float64, n)
		hi := make([]float64, n)
		for j, asset := range cons.Assets {
			lo[j] = -g.Min
			hi[j] = g.Max
			if member[asset] {
				lo[j] += 1
				hi[j] -= 1
			}
		}
		ranges = append(ranges, LinearRange{Coeffs: lo, Lo: 0, Hi: math.Inf(1)})
		ranges = append(ranges, LinearRange{Coeffs: hi, Lo: 0, Hi: math.Inf(1)})
	}

	// Scale the equal-weight start so the normalization constraint holds at
	// the initial point when possible.
	meanExcess := 0.0
	for _, e := range excess {
		meanExcess += e / float64(n)
	}
	scale := 1.0
	if meanExcess > 1e-12 {
		scale = 1.0 / meanExcess
	}
	init := filled(n, scale/float64(n))

	var yLower []float64
	if cons.LongOnly {
		yLower = make([]float64, n)
	}

	y, err := o.solver.Solve(Problem{
		Quadratic:  sigma,
		Linear:     make([]float64, n),
		Lower:      yLower,
		Upper:      nil,
		Equalities: []LinearEquality{{Coeffs: excess, B: 1}},
		Ranges:     ranges,
		TiePoint:   init,
		Init:       init,
	})
	if err != nil {
		return nil, err
	}

	sum := 0.0
	for _, v := range y {
		sum += v
	}
	if sum <= 1e-10 {
		return nil, &InfeasibleConstraintsError{Reason: "max-Sharpe rescaling produced a non-positive allocation"}
	}

	x := make([]float64, n)
	for i := range y {
		x[i] = y[i] / sum
	}
	return normalizeWithin(x, cons.lowerVec(), cons.upperVec()), nil
}

// solveTargetVolatility locates the frontier point with the requested
// volatility by bisecting over target returns; volatility is monotone in
// target return along the efficient frontier.
func (o *Optimizer) solveTargetVolatility(sigma *mat.SymDense, mu []float64, cons Constraints, target float64) ([]float64, error) {
	xMinVol, err := o.solveMinVolatility(sigma, mu, cons, nil)
	if err != nil {
		return nil, err
	}
	volLow := portfolioVolatility(sigma, xMinVol)
	if target < volLow-WeightTolerance {
		return nil, &InfeasibleConstraintsError{
			Reason: fmt.Sprintf("target volatility %v below minimum attainable %v", target, volLow),
		}
	}

	xMaxRet, err := o.solveMaxReturn(sigma, mu, cons)
	if err != nil {
		return nil, err
	}
	volHigh := portfolioVolatility(sigma, xMaxRet)
	if target >= volHigh {
		return xMaxRet, nil
	}

	retLow := dot(mu, xMinVol)
	retHigh := dot(mu, xMaxRet)
	best := xMinVol
	for iter := 0; iter < 48 && retHigh-retLow > 1e-10; iter++ {
		mid := (retLow + retHigh) / 2
		x, err := o.solveTargetReturn(sigma, mu, cons, mid)
		if err != nil {
			return nil, err
		}
		best = x
		vol := portfolioVolatility(sigma, x)
		if math.Abs(vol-target) < 1e-8 {
			break
		}
		if vol < target {
			retLow = mid
		} else {
			retHigh = mid
		}
	}

	return best, nil
}

// solveMaxReturn maximizes μ'w over the feasible region (a linear program,
// solved with the same penalized machinery).
func (o *Optimizer) solveMaxReturn(sigma *mat.SymDense, mu []float64, cons Constraints) ([]float64, error) {
	n := len(cons.Assets)
	equalWeight := filled(n, 1.0/float64(n))

	linear := make([]float64, n)
	for i := range mu {
		linear[i] = -mu[i]
	}

	x, err := o.solver.Solve(Problem{
		Quadratic:  nil,
		Linear:     linear,
		Lower:      cons.lowerVec(),
		Upper:      cons.upperVec(),
		Equalities: []LinearEquality{{Coeffs: filled(n, 1), B: 1}},
		Ranges:     cons.groupRanges(),
		TiePoint:   equalWeight,
		Init:       equalWeight,
	})
	if err != nil {
		return nil, err
	}
	return normalizeWithin(x, cons.lowerVec(), cons.upperVec()), nil
}

// attainableReturns brackets the expected return reachable under the
// constraints.
func (o *Optimizer) attainableReturns(sigma *mat.SymDense, mu []float64, cons Constraints) (float64, float64, error) {
	n := len(cons.Assets)
	equalWeight := filled(n, 1.0/float64(n))

	xMin, err := o.solver.Solve(Problem{
		Linear:     append([]float64(nil), mu...),
		Lower:      cons.lowerVec(),
		Upper:      cons.upperVec(),
		Equalities: []LinearEquality{{Coeffs: filled(n, 1), B: 1}},
		Ranges:     cons.groupRanges(),
		TiePoint:   equalWeight,
		Init:       equalWeight,
	})
	if err != nil {
		return 0, 0, err
	}

	xMax, err := o.solveMaxReturn(sigma, mu, cons)
	if err != nil {
		return 0, 0, err
	}

	return dot(mu, normalizeWithin(xMin, cons.lowerVec(), cons.upperVec())), dot(mu, xMax), nil
}

// toWeights converts an ordered solution vector into a weight map, zeroing
// float dust below tolerance.
func (o *Optimizer) toWeights(assets []string, x []float64) Weights {
	weights := make(Weights, len(assets))
	for i, asset := range assets {
		v := x[i]
		if math.Abs(v) < WeightTolerance {
			v = 0
		}
		weights[asset] = v
	}
	return weights
}

func (c Constraints) lowerVec() []float64 {
	out := make([]float64, len(c.Assets))
	for i, a := range c.Assets {
		out[i] = c.LowerBound(a)
	}
	return out
}

func (c Constraints) upperVec() []float64 {
	out := make([]float64, len(c.Assets))
	for i, a := range c.Assets {
		out[i] = c.UpperBound(a)
	}
	return out
}

// groupRanges translates group caps into linear range constraints.
func (c Constraints) groupRanges() []LinearRange {
	if len(c.Groups) == 0 {
		return nil
	}
	ranges := make([]LinearRange, 0, len(c.Groups))
	for _, g := range c.Groups {
		member := make(map[string]bool, len(g.Members))
		for _, m := range g.Members {
			member[m] = true
		}
		coeffs := make([]float64, len(c.Assets))
		for i, asset := range c.Assets {
			if member[asset] {
				coeffs[i] = 1
			}
		}
		hi := g.Max
		if hi <= 0 {
			hi = math.Inf(1)
		}
		ranges = append(ranges, LinearRange{Coeffs: coeffs, Lo: g.Min, Hi: hi})
	}
	return ranges
}

// portfolioVolatility is sqrt(w'Σw).
func portfolioVolatility(sigma *mat.SymDense, x []float64) float64 {
	n := len(x)
	variance := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			variance += x[i] * x[j] * sigma.At(i, j)
		}
	}
	return math.Sqrt(math.Max(variance, 0))
}

// normalizeWithin adjusts x to sum to exactly 1 without leaving the bound
// box. The residual is spread over the entries that still have slack toward
// the needed direction, so an entry already sitting on a bound is never
// pushed past it. A plain proportional rescale cannot guarantee that.
func normalizeWithin(x, lower, upper []float64) []float64 {
	out := projectToBounds(x, lower, upper)
	for iter := 0; iter < 32; iter++ {
		sum := 0.0
		for _, v := range out {
			sum += v
		}
		residual := 1 - sum
		if math.Abs(residual) <= 1e-14 {
			break
		}

		slack := make([]float64, len(out))
		total := 0.0
		for i := range out {
			var s float64
			if residual > 0 {
				s = 1
				if upper != nil && !math.IsInf(upper[i], 1) {
					s = upper[i] - out[i]
				}
			} else {
				s = 1
				if lower != nil && !math.IsInf(lower[i], -1) {
					s = out[i] - lower[i]
				}
			}
			slack[i] = math.Max(s, 0)
			total += slack[i]
		}
		if total <= 0 {
			break
		}

		for i := range out {
			out[i] += residual * slack[i] / total
		}
		out = projectToBounds(out, lower, upper)
	}
	return out
}

func filled(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
