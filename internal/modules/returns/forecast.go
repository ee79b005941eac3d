package returns

import (
	"fmt"

	talib "github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

// Forecaster produces an annualized expected-return vector for the assets of
// a return matrix. Implementations must be pure: same matrix in, same vector
// out.
type Forecaster interface {
	Name() string
	ExpectedReturns(m ReturnMatrix, periodsPerYear float64) (map[string]float64, error)
}

// HistoricalMeanForecaster annualizes the sample mean of each asset's return
// series. This is the default when no external predictor is injected.
type HistoricalMeanForecaster struct{}

func (HistoricalMeanForecaster) Name() string { return "historical_mean" }

func (HistoricalMeanForecaster) ExpectedReturns(m ReturnMatrix, periodsPerYear float64) (map[string]float64, error) {
	if m.Rows() == 0 {
		return nil, &InsufficientDataError{Periods: 0, MinPeriods: 1}
	}

	expected := make(map[string]float64, len(m.Assets))
	for _, asset := range m.Assets {
		col, err := m.Column(asset)
		if err != nil {
			return nil, err
		}
		expected[asset] = stat.Mean(col, nil) * periodsPerYear
	}
	return expected, nil
}

// MomentumForecaster annualizes an exponential moving average of each
// asset's trailing returns, weighting recent periods more heavily than the
// plain historical mean does.
type MomentumForecaster struct {
	Window int
}

func (MomentumForecaster) Name() string { return "momentum" }

func (f MomentumForecaster) ExpectedReturns(m ReturnMatrix, periodsPerYear float64) (map[string]float64, error) {
	window := f.Window
	if window <= 0 {
		window = 63
	}
	if m.Rows() < window {
		return nil, &InsufficientDataError{Periods: m.Rows(), MinPeriods: window}
	}

	expected := make(map[string]float64, len(m.Assets))
	for _, asset := range m.Assets {
		col, err := m.Column(asset)
		if err != nil {
			return nil, err
		}
		ema := talib.Ema(col, window)
		expected[asset] = ema[len(ema)-1] * periodsPerYear
	}
	return expected, nil
}

// ExternalForecaster substitutes an injected expected-return vector
// verbatim. The vector must cover exactly the matrix's asset set.
type ExternalForecaster struct {
	Vector map[string]float64
}

func (ExternalForecaster) Name() string { return "external" }

func (f ExternalForecaster) ExpectedReturns(m ReturnMatrix, _ float64) (map[string]float64, error) {
	if len(f.Vector) != len(m.Assets) {
		return nil, fmt.Errorf("external forecast covers %d assets, matrix has %d", len(f.Vector), len(m.Assets))
	}
	expected := make(map[string]float64, len(m.Assets))
	for _, asset := range m.Assets {
		v, ok := f.Vector[asset]
		if !ok {
			return nil, fmt.Errorf("external forecast missing asset %s", asset)
		}
		expected[asset] = v
	}
	return expected, nil
}

// NewForecaster resolves a forecaster by registry name.
func NewForecaster(name string, momentumWindow int, external map[string]float64) (Forecaster, error) {
	switch name {
	case "", "historical_mean":
		return HistoricalMeanForecaster{}, nil
	case "momentum":
		return MomentumForecaster{Window: momentumWindow}, nil
	case "external":
		if len(external) == 0 {
			return nil, fmt.Errorf("external forecaster requires a vector")
		}
		return ExternalForecaster{Vector: external}, nil
	default:
		return nil, fmt.Errorf("unknown forecaster %q", name)
	}
}
