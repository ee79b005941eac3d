package optimization

import "fmt"

// GroupCap bounds the combined weight of a named asset group (sector,
// geography, asset class).
type GroupCap struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
}

// Constraints describe the feasible region for one optimization run:
// per-asset weight bounds, the implicit full-investment constraint, and
// optional group caps. Constructed once per run, immutable thereafter.
type Constraints struct {
	Assets   []string
	Lower    map[string]float64
	Upper    map[string]float64
	Groups   []GroupCap
	LongOnly bool
}

// NewConstraints builds constraints with explicit per-asset bounds falling
// back to the given defaults. LongOnly clips lower bounds at zero.
func NewConstraints(assets []string, defaultLower, defaultUpper float64, lower, upper map[string]float64, groups []GroupCap, longOnly bool) Constraints {
	lo := make(map[string]float64, len(assets))
	hi := make(map[string]float64, len(assets))
	for _, asset := range assets {
		l, ok := lower[asset]
		if !ok {
			l = defaultLower
		}
		u, ok := upper[asset]
		if !ok {
			u = defaultUpper
		}
		if longOnly && l < 0 {
			l = 0
		}
		lo[asset] = l
		hi[asset] = u
	}
	return Constraints{
		Assets:   append([]string(nil), assets...),
		Lower:    lo,
		Upper:    hi,
		Groups:   groups,
		LongOnly: longOnly,
	}
}

// DefaultConstraints is the long-only, fully-invested region with no caps.
func DefaultConstraints(assets []string) Constraints {
	return NewConstraints(assets, 0, 1, nil, nil, nil, true)
}

// LowerBound returns the lower bound for an asset.
func (c Constraints) LowerBound(asset string) float64 {
	if l, ok := c.Lower[asset]; ok {
		return l
	}
	if c.LongOnly {
		return 0
	}
	return -1
}

// UpperBound returns the upper bound for an asset.
func (c Constraints) UpperBound(asset string) float64 {
	if u, ok := c.Upper[asset]; ok {
		return u
	}
	return 1
}

// Check fails with InfeasibleConstraintsError when the bounds and the
// full-investment constraint admit no weight vector.
func (c Constraints) Check() error {
	if len(c.Assets) == 0 {
		return &InfeasibleConstraintsError{Reason: "no assets"}
	}

	var sumLower, sumUpper float64
	for _, asset := range c.Assets {
		l, u := c.LowerBound(asset), c.UpperBound(asset)
		if l > u {
			return &InfeasibleConstraintsError{
				Reason: fmt.Sprintf("asset %s lower bound %v exceeds upper bound %v", asset, l, u),
			}
		}
		sumLower += l
		sumUpper += u
	}
	if sumLower > 1+WeightTolerance {
		return &InfeasibleConstraintsError{
			Reason: fmt.Sprintf("sum of lower bounds %v exceeds 1", sumLower),
		}
	}
	if sumUpper < 1-WeightTolerance {
		return &InfeasibleConstraintsError{
			Reason: fmt.Sprintf("sum of upper bounds %v is below 1", sumUpper),
		}
	}

	for _, g := range c.Groups {
		if g.Min > g.Max {
			return &InfeasibleConstraintsError{
				Reason: fmt.Sprintf("group %s min %v exceeds max %v", g.Name, g.Min, g.Max),
			}
		}
		var memberUpper float64
		for _, m := range g.Members {
			memberUpper += c.UpperBound(m)
		}
		if memberUpper < g.Min-WeightTolerance {
			return &InfeasibleConstraintsError{
				Reason: fmt.Sprintf("group %s minimum %v unreachable with member upper bounds", g.Name, g.Min),
			}
		}
	}

	return nil
}
