package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePipelineFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadPipeline_FullConfig(t *testing.T) {
	path := writePipelineFile(t, `
assets: [SPY, VTI, BND, GLD]
lookback_days: 730
frequency: weekly
return_type: log
min_periods: 52
covariance:
  method: exponential_weighted
  half_life_days: 30
forecaster:
  name: momentum
  momentum_window: 90
objective:
  type: target_volatility
  risk_free_rate: 0.03
  target_volatility: 0.12
bounds:
  default_lower: 0.0
  default_upper: 0.4
  upper:
    GLD: 0.1
  long_only: true
group_caps:
  - name: equities
    members: [SPY, VTI]
    max: 0.7
benchmark:
  equity_ticker: VTI
  bond_ticker: BND
  equity_weight: 0.7
backtest:
  initial_value: 10000
  rebalance_policy: threshold
  rebalance_drift_pct: 0.03
  transaction_cost_bps: 10
`)

	cfg, err := LoadPipeline(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"SPY", "VTI", "BND", "GLD"}, cfg.Assets)
	assert.Equal(t, 730, cfg.LookbackDays)
	assert.Equal(t, "weekly", cfg.Frequency)
	assert.Equal(t, "log", cfg.ReturnType)
	assert.Equal(t, 52, cfg.MinPeriods)
	assert.Equal(t, "exponential_weighted", cfg.Covariance.Method)
	assert.Equal(t, 30.0, cfg.Covariance.HalfLifeDays)
	assert.Equal(t, "momentum", cfg.Forecaster.Name)
	assert.Equal(t, 90, cfg.Forecaster.MomentumWindow)
	assert.Equal(t, "target_volatility", cfg.Objective.Type)
	assert.Equal(t, 0.03, cfg.Objective.RiskFreeRate)
	assert.Equal(t, 0.12, cfg.Objective.TargetVolatility)
	assert.Equal(t, 0.4, cfg.Bounds.DefaultUpper)
	assert.Equal(t, 0.1, cfg.Bounds.Upper["GLD"])
	assert.True(t, cfg.Bounds.LongOnly)
	require.Len(t, cfg.GroupCaps, 1)
	assert.Equal(t, "equities", cfg.GroupCaps[0].Name)
	assert.Equal(t, []string{"SPY", "VTI"}, cfg.GroupCaps[0].Members)
	assert.Equal(t, 0.7, cfg.GroupCaps[0].Max)
	assert.Equal(t, "VTI", cfg.Benchmark.EquityTicker)
	assert.Equal(t, 0.7, cfg.Benchmark.EquityWeight)
	assert.Equal(t, 10000.0, cfg.Backtest.InitialValue)
	assert.Equal(t, "threshold", cfg.Backtest.RebalancePolicy)
	assert.Equal(t, 0.03, cfg.Backtest.RebalanceDriftPct)
	assert.Equal(t, 10.0, cfg.Backtest.TransactionCostBps)
}

func TestLoadPipeline_Defaults(t *testing.T) {
	path := writePipelineFile(t, "assets: [SPY, BND]\n")

	cfg, err := LoadPipeline(path)
	require.NoError(t, err)

	assert.Equal(t, 365, cfg.LookbackDays)
	assert.Equal(t, "daily", cfg.Frequency)
	assert.Equal(t, "simple", cfg.ReturnType)
	assert.Equal(t, 30, cfg.MinPeriods)
	assert.Equal(t, "ledoit_wolf", cfg.Covariance.Method)
	assert.Equal(t, 63.0, cfg.Covariance.HalfLifeDays)
	assert.Equal(t, "historical_mean", cfg.Forecaster.Name)
	assert.Equal(t, 63, cfg.Forecaster.MomentumWindow)
	assert.Equal(t, "max_sharpe", cfg.Objective.Type)
	assert.Equal(t, 20, cfg.Objective.FrontierPoints)
	assert.Equal(t, 0.0, cfg.Bounds.DefaultLower)
	assert.Equal(t, 1.0, cfg.Bounds.DefaultUpper)
	assert.Equal(t, "SPY", cfg.Benchmark.EquityTicker)
	assert.Equal(t, "BND", cfg.Benchmark.BondTicker)
	assert.Equal(t, 0.6, cfg.Benchmark.EquityWeight)
	assert.Equal(t, 100.0, cfg.Backtest.InitialValue)
	assert.Equal(t, "periodic", cfg.Backtest.RebalancePolicy)
	assert.Equal(t, 21, cfg.Backtest.RebalanceInterval)
	assert.Equal(t, 0.05, cfg.Backtest.RebalanceDriftPct)
	assert.Equal(t, 0.0, cfg.Backtest.TransactionCostBps)
}

func TestLoadPipeline_MissingFile(t *testing.T) {
	_, err := LoadPipeline(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read pipeline config")
}

func TestLoadPipeline_MalformedYAML(t *testing.T) {
	path := writePipelineFile(t, "assets: [SPY\n  broken")

	_, err := LoadPipeline(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse pipeline config")
}

func TestPipelineConfig_Validate(t *testing.T) {
	valid := func() *PipelineConfig {
		cfg := &PipelineConfig{Assets: []string{"SPY", "BND"}}
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*PipelineConfig)
		wantErr string
	}{
		{
			name:    "valid passes",
			mutate:  func(c *PipelineConfig) {},
			wantErr: "",
		},
		{
			name:    "no assets",
			mutate:  func(c *PipelineConfig) { c.Assets = nil },
			wantErr: "no assets",
		},
		{
			name:    "bad frequency",
			mutate:  func(c *PipelineConfig) { c.Frequency = "hourly" },
			wantErr: "unknown frequency",
		},
		{
			name:    "bad return type",
			mutate:  func(c *PipelineConfig) { c.ReturnType = "excess" },
			wantErr: "unknown return_type",
		},
		{
			name:    "bad covariance method",
			mutate:  func(c *PipelineConfig) { c.Covariance.Method = "garch" },
			wantErr: "unknown covariance method",
		},
		{
			name:    "bad forecaster",
			mutate:  func(c *PipelineConfig) { c.Forecaster.Name = "oracle" },
			wantErr: "unknown forecaster",
		},
		{
			name:    "bad objective",
			mutate:  func(c *PipelineConfig) { c.Objective.Type = "max_return" },
			wantErr: "unknown objective",
		},
		{
			name:    "bad rebalance policy",
			mutate:  func(c *PipelineConfig) { c.Backtest.RebalancePolicy = "daily" },
			wantErr: "unknown rebalance_policy",
		},
		{
			name:    "equity weight above one",
			mutate:  func(c *PipelineConfig) { c.Benchmark.EquityWeight = 1.5 },
			wantErr: "equity_weight",
		},
		{
			name:    "negative transaction cost",
			mutate:  func(c *PipelineConfig) { c.Backtest.TransactionCostBps = -1 },
			wantErr: "transaction_cost_bps",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("QUANTFOLIO_DATA_DIR", t.TempDir())
	t.Setenv("QUANTFOLIO_PORT", "9000")
	t.Setenv("QUANTFOLIO_LOG_LEVEL", "debug")
	t.Setenv("QUANTFOLIO_DEV_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, filepath.Join(cfg.DataDir, "pipeline.yaml"), cfg.PipelinePath)
}

func TestArchiveConfig_Enabled(t *testing.T) {
	assert.False(t, ArchiveConfig{}.Enabled())
	assert.False(t, ArchiveConfig{Bucket: "runs"}.Enabled())
	assert.True(t, ArchiveConfig{
		Bucket:          "runs",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	}.Enabled())
}
