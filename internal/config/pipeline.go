package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PipelineConfig is the research pipeline configuration, loaded from YAML.
// Every field maps to a parameter of one of the pipeline stages; the core
// modules consume these values read-only.
type PipelineConfig struct {
	// Assets is the investable universe, by ticker.
	Assets []string `yaml:"assets"`

	// LookbackDays bounds the price history window fed to the pipeline.
	LookbackDays int `yaml:"lookback_days"`

	// Frequency of the return series: daily, weekly or monthly.
	Frequency string `yaml:"frequency"`

	// ReturnType selects log or simple periodic returns.
	ReturnType string `yaml:"return_type"`

	// MinPeriods is the minimum number of return observations required
	// before risk estimates are considered stable.
	MinPeriods int `yaml:"min_periods"`

	Covariance CovarianceConfig  `yaml:"covariance"`
	Forecaster ForecasterConfig  `yaml:"forecaster"`
	Objective  ObjectiveConfig   `yaml:"objective"`
	Bounds     BoundsConfig      `yaml:"bounds"`
	GroupCaps  []GroupCapConfig  `yaml:"group_caps"`
	Benchmark  BenchmarkConfig   `yaml:"benchmark"`
	Backtest   BacktestConfig    `yaml:"backtest"`
}

// CovarianceConfig selects the covariance estimation method.
type CovarianceConfig struct {
	Method       string  `yaml:"method"`        // sample, exponential_weighted, ledoit_wolf
	HalfLifeDays float64 `yaml:"half_life_days"` // exponential_weighted only
}

// ForecasterConfig selects the expected-return forecaster.
type ForecasterConfig struct {
	Name           string             `yaml:"name"` // historical_mean, momentum, external
	MomentumWindow int                `yaml:"momentum_window"`
	External       map[string]float64 `yaml:"external"` // verbatim vector for name=external
}

// ObjectiveConfig selects the optimization objective.
type ObjectiveConfig struct {
	Type             string  `yaml:"type"` // max_sharpe, min_volatility, target_return, target_volatility, efficient_frontier
	RiskFreeRate     float64 `yaml:"risk_free_rate"`
	TargetReturn     float64 `yaml:"target_return"`
	TargetVolatility float64 `yaml:"target_volatility"`
	FrontierPoints   int     `yaml:"frontier_points"`
}

// BoundsConfig holds per-asset weight bounds.
type BoundsConfig struct {
	DefaultLower float64            `yaml:"default_lower"`
	DefaultUpper float64            `yaml:"default_upper"`
	Lower        map[string]float64 `yaml:"lower"`
	Upper        map[string]float64 `yaml:"upper"`
	LongOnly     bool               `yaml:"long_only"`
}

// GroupCapConfig caps the combined weight of a named asset group.
type GroupCapConfig struct {
	Name    string   `yaml:"name"`
	Members []string `yaml:"members"`
	Min     float64  `yaml:"min"`
	Max     float64  `yaml:"max"`
}

// BenchmarkConfig describes the static comparison portfolio.
type BenchmarkConfig struct {
	EquityTicker string  `yaml:"equity_ticker"`
	BondTicker   string  `yaml:"bond_ticker"`
	EquityWeight float64 `yaml:"equity_weight"`
}

// BacktestConfig describes the backtest simulation parameters.
type BacktestConfig struct {
	InitialValue       float64 `yaml:"initial_value"`
	RebalancePolicy    string  `yaml:"rebalance_policy"` // never, periodic, threshold
	RebalanceInterval  int     `yaml:"rebalance_interval"`
	RebalanceDriftPct  float64 `yaml:"rebalance_drift_pct"`
	TransactionCostBps float64 `yaml:"transaction_cost_bps"`
}

// LoadPipeline reads and validates a pipeline configuration file.
func LoadPipeline(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline config: %w", err)
	}

	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults fills unset fields with sensible defaults.
func (c *PipelineConfig) ApplyDefaults() {
	if c.LookbackDays <= 0 {
		c.LookbackDays = 365
	}
	if c.Frequency == "" {
		c.Frequency = "daily"
	}
	if c.ReturnType == "" {
		c.ReturnType = "simple"
	}
	if c.MinPeriods <= 0 {
		c.MinPeriods = 30
	}
	if c.Covariance.Method == "" {
		c.Covariance.Method = "ledoit_wolf"
	}
	if c.Covariance.HalfLifeDays <= 0 {
		c.Covariance.HalfLifeDays = 63
	}
	if c.Forecaster.Name == "" {
		c.Forecaster.Name = "historical_mean"
	}
	if c.Forecaster.MomentumWindow <= 0 {
		c.Forecaster.MomentumWindow = 63
	}
	if c.Objective.Type == "" {
		c.Objective.Type = "max_sharpe"
	}
	if c.Objective.FrontierPoints <= 0 {
		c.Objective.FrontierPoints = 20
	}
	if c.Bounds.DefaultUpper <= 0 {
		c.Bounds.DefaultUpper = 1.0
	}
	if c.Benchmark.EquityTicker == "" {
		c.Benchmark.EquityTicker = "SPY"
	}
	if c.Benchmark.BondTicker == "" {
		c.Benchmark.BondTicker = "BND"
	}
	if c.Benchmark.EquityWeight == 0 {
		c.Benchmark.EquityWeight = 0.6
	}
	if c.Backtest.InitialValue <= 0 {
		c.Backtest.InitialValue = 100.0
	}
	if c.Backtest.RebalancePolicy == "" {
		c.Backtest.RebalancePolicy = "periodic"
	}
	if c.Backtest.RebalanceInterval <= 0 {
		c.Backtest.RebalanceInterval = 21
	}
	if c.Backtest.RebalanceDriftPct <= 0 {
		c.Backtest.RebalanceDriftPct = 0.05
	}
}

// Validate checks enum fields and numeric ranges.
func (c *PipelineConfig) Validate() error {
	if len(c.Assets) == 0 {
		return fmt.Errorf("pipeline config: no assets configured")
	}
	switch c.Frequency {
	case "daily", "weekly", "monthly":
	default:
		return fmt.Errorf("pipeline config: unknown frequency %q", c.Frequency)
	}
	switch c.ReturnType {
	case "log", "simple":
	default:
		return fmt.Errorf("pipeline config: unknown return_type %q", c.ReturnType)
	}
	switch c.Covariance.Method {
	case "sample", "exponential_weighted", "ledoit_wolf":
	default:
		return fmt.Errorf("pipeline config: unknown covariance method %q", c.Covariance.Method)
	}
	switch c.Forecaster.Name {
	case "historical_mean", "momentum", "external":
	default:
		return fmt.Errorf("pipeline config: unknown forecaster %q", c.Forecaster.Name)
	}
	switch c.Objective.Type {
	case "max_sharpe", "min_volatility", "target_return", "target_volatility", "efficient_frontier":
	default:
		return fmt.Errorf("pipeline config: unknown objective %q", c.Objective.Type)
	}
	switch c.Backtest.RebalancePolicy {
	case "never", "periodic", "threshold":
	default:
		return fmt.Errorf("pipeline config: unknown rebalance_policy %q", c.Backtest.RebalancePolicy)
	}
	if c.Benchmark.EquityWeight < 0 || c.Benchmark.EquityWeight > 1 {
		return fmt.Errorf("pipeline config: benchmark equity_weight %v outside [0,1]", c.Benchmark.EquityWeight)
	}
	if c.Backtest.TransactionCostBps < 0 {
		return fmt.Errorf("pipeline config: transaction_cost_bps must be >= 0")
	}
	return nil
}
