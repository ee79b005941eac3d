package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// penaltyWeight scales the quadratic penalty applied to violated linear
// constraints.
const penaltyWeight = 1000.0

// tieBreakWeight is small enough not to perturb the optimum materially, but
// makes the solution nearest the tie point win among near-optimal vectors.
const tieBreakWeight = 1e-6

// LinearEquality is a'x = b.
type LinearEquality struct {
	Coeffs []float64
	B      float64
}

// LinearRange is lo <= a'x <= hi. Use +-Inf for an open side.
type LinearRange struct {
	Coeffs []float64
	Lo     float64
	Hi     float64
}

// Problem is a convex quadratic program: minimize x'Qx + c'x subject to
// per-variable bounds, linear equalities and linear range constraints.
// TiePoint biases the solve toward a preferred vector among near-optimal
// solutions; Init is the deterministic starting point.
type Problem struct {
	Quadratic  *mat.SymDense // nil for a pure linear objective
	Linear     []float64
	Lower      []float64
	Upper      []float64
	Equalities []LinearEquality
	Ranges     []LinearRange
	TiePoint   []float64
	Init       []float64
}

// Solver abstracts the numerical QP routine. The optimizer depends on this
// interface, not on a concrete solver.
type Solver interface {
	Solve(p Problem) ([]float64, error)
}

// GonumSolver solves the QP with a quadratic-penalty formulation minimized
// by gradient descent (BFGS, with a Nelder-Mead fallback). Bound
// constraints are handled by projection.
type GonumSolver struct{}

// NewGonumSolver creates the default solver.
func NewGonumSolver() *GonumSolver {
	return &GonumSolver{}
}

// Solve minimizes the penalized objective and returns the bound-projected
// minimizer. Deterministic for identical inputs.
func (s *GonumSolver) Solve(p Problem) ([]float64, error) {
	n := len(p.Init)
	if n == 0 {
		return nil, fmt.Errorf("empty problem")
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			xp := projectToBounds(x, p.Lower, p.Upper)
			return s.objective(p, xp)
		},
		Grad: func(grad, x []float64) {
			xp := projectToBounds(x, p.Lower, p.Upper)
			s.gradient(p, xp, grad)
		},
	}

	initial := append([]float64(nil), p.Init...)

	result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.BFGS{})
	if err != nil || !converged(result) {
		result, err = optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
		if err != nil {
			return nil, fmt.Errorf("optimization failed: %w", err)
		}
		if !converged(result) {
			return nil, fmt.Errorf("optimization did not converge: status=%v", result.Status)
		}
	}

	return projectToBounds(result.X, p.Lower, p.Upper), nil
}

func (s *GonumSolver) objective(p Problem, x []float64) float64 {
	n := len(x)
	obj := 0.0

	if p.Quadratic != nil {
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				obj += x[i] * x[j] * p.Quadratic.At(i, j)
			}
		}
	}
	for i := 0; i < n; i++ {
		obj += p.Linear[i] * x[i]
	}

	for _, eq := range p.Equalities {
		v := dot(eq.Coeffs, x) - eq.B
		obj += penaltyWeight * v * v
	}
	for _, r := range p.Ranges {
		v := dot(r.Coeffs, x)
		if v < r.Lo {
			d := r.Lo - v
			obj += penaltyWeight * d * d
		} else if v > r.Hi {
			d := v - r.Hi
			obj += penaltyWeight * d * d
		}
	}

	if p.TiePoint != nil {
		for i := 0; i < n; i++ {
			d := x[i] - p.TiePoint[i]
			obj += tieBreakWeight * d * d
		}
	}

	return obj
}

func (s *GonumSolver) gradient(p Problem, x []float64, grad []float64) {
	n := len(x)
	for i := range grad {
		grad[i] = p.Linear[i]
	}

	if p.Quadratic != nil {
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				grad[i] += 2 * p.Quadratic.At(i, j) * x[j]
			}
		}
	}

	for _, eq := range p.Equalities {
		v := dot(eq.Coeffs, x) - eq.B
		for i := 0; i < n; i++ {
			grad[i] += 2 * penaltyWeight * v * eq.Coeffs[i]
		}
	}
	for _, r := range p.Ranges {
		v := dot(r.Coeffs, x)
		if v < r.Lo {
			d := v - r.Lo
			for i := 0; i < n; i++ {
				grad[i] += 2 * penaltyWeight * d * r.Coeffs[i]
			}
		} else if v > r.Hi {
			d := v - r.Hi
			for i := 0; i < n; i++ {
				grad[i] += 2 * penaltyWeight * d * r.Coeffs[i]
			}
		}
	}

	if p.TiePoint != nil {
		for i := 0; i < n; i++ {
			grad[i] += 2 * tieBreakWeight * (x[i] - p.TiePoint[i])
		}
	}
}

func converged(result *optimize.Result) bool {
	switch result.Status {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence:
		return true
	default:
		return false
	}
}

func projectToBounds(x, lower, upper []float64) []float64 {
	proj := make([]float64, len(x))
	for i := range x {
		v := x[i]
		if lower != nil {
			v = math.Max(lower[i], v)
		}
		if upper != nil {
			v = math.Min(upper[i], v)
		}
		proj[i] = v
	}
	return proj
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
