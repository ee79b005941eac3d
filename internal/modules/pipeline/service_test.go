package pipeline

import (
	"context"
	"database/sql"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/aristath/quantfolio/internal/config"
	"github.com/aristath/quantfolio/internal/modules/backtest"
	"github.com/aristath/quantfolio/internal/modules/benchmark"
	"github.com/aristath/quantfolio/internal/modules/marketdata"
	"github.com/aristath/quantfolio/internal/modules/optimization"
	"github.com/aristath/quantfolio/internal/modules/performance"
	"github.com/aristath/quantfolio/internal/modules/risk"
)

func testPipelineConfig() *config.PipelineConfig {
	return &config.PipelineConfig{
		Assets:       []string{"BND", "SPY", "VTI"},
		LookbackDays: 120,
		Frequency:    "daily",
		ReturnType:   "simple",
		MinPeriods:   20,
		Covariance:   config.CovarianceConfig{Method: "sample"},
		Forecaster:   config.ForecasterConfig{Name: "historical_mean"},
		Objective:    config.ObjectiveConfig{Type: "min_volatility", FrontierPoints: 5},
		Bounds:       config.BoundsConfig{DefaultLower: 0, DefaultUpper: 1, LongOnly: true},
		Benchmark:    config.BenchmarkConfig{EquityTicker: "SPY", BondTicker: "BND", EquityWeight: 0.6},
		Backtest: config.BacktestConfig{
			InitialValue:    100,
			RebalancePolicy: "never",
		},
	}
}

// seedPrices writes ~90 days of deterministic, non-collinear price history
// for every ticker, ending yesterday so the lookback window covers it all.
func seedPrices(t *testing.T, store *marketdata.Store, tickers []string) {
	t.Helper()
	var bars []marketdata.Bar
	end := time.Now().UTC().AddDate(0, 0, -1)
	const days = 90
	for i := 0; i < days; i++ {
		date := end.AddDate(0, 0, i-days+1).Format("2006-01-02")
		for j, ticker := range tickers {
			// Distinct frequencies per ticker keep the covariance full rank.
			drift := 0.0003 * float64(j+1)
			wiggle := 0.004 * math.Sin(float64(i)*(0.5+0.3*float64(j))+float64(j))
			price := 100 * math.Exp(drift*float64(i)+wiggle)
			bars = append(bars, marketdata.Bar{Ticker: ticker, Date: date, AdjClose: price})
		}
	}
	require.NoError(t, store.SaveBars(bars))
}

func newTestService(t *testing.T, cfg *config.PipelineConfig) (*Service, *RunStore) {
	t.Helper()
	log := zerolog.Nop()

	priceDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	priceDB.SetMaxOpenConns(1)
	t.Cleanup(func() { priceDB.Close() })

	runDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	runDB.SetMaxOpenConns(1)
	t.Cleanup(func() { runDB.Close() })

	prices, err := marketdata.NewStore(priceDB, log)
	require.NoError(t, err)
	seedPrices(t, prices, []string{"BND", "SPY", "VTI"})

	runs, err := NewRunStore(runDB, log)
	require.NoError(t, err)

	svc := NewService(
		cfg,
		prices,
		runs,
		nil,
		risk.NewEstimator(log),
		optimization.New(optimization.NewGonumSolver(), log),
		benchmark.NewAllocator(log),
		backtest.NewSimulator(log),
		performance.NewEvaluator(log),
		log,
	)
	return svc, runs
}

func TestServiceRun_MinVolatility(t *testing.T) {
	svc, runs := newTestService(t, testPipelineConfig())

	run, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, run)

	assert.Equal(t, StatusCompleted, run.Status)
	assert.Empty(t, run.Error)
	assert.Equal(t, []string{"BND", "SPY", "VTI"}, run.Assets)

	require.NotNil(t, run.Weights)
	assert.InDelta(t, 1.0, run.Weights.Sum(), 1e-6)
	for ticker, w := range run.Weights {
		assert.GreaterOrEqual(t, w, 0.0, "long-only weight for %s", ticker)
	}

	require.NotNil(t, run.BenchmarkWeights)
	assert.InDelta(t, 0.6, run.BenchmarkWeights["SPY"], 1e-12)
	assert.InDelta(t, 0.4, run.BenchmarkWeights["BND"], 1e-12)

	require.NotNil(t, run.StrategyBacktest)
	require.NotNil(t, run.BenchmarkBacktest)
	assert.Equal(t, len(run.StrategyBacktest.Values), len(run.BenchmarkBacktest.Values),
		"both backtests cover the same period range")
	assert.Equal(t, 100.0, run.StrategyBacktest.Values[0])

	require.NotNil(t, run.StrategyReport)
	require.NotNil(t, run.BenchmarkReport)
	require.NotNil(t, run.Comparison)
	assert.Equal(t, *run.StrategyReport, run.Comparison.Strategy)
	assert.Len(t, run.AssetMetrics, 3)

	stored, err := runs.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.InDelta(t, 1.0, stored.Weights.Sum(), 1e-6)
}

func TestServiceRun_EfficientFrontier(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Objective.Type = "efficient_frontier"
	svc, _ := newTestService(t, cfg)

	run, err := svc.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, run.Frontier, cfg.Objective.FrontierPoints)
	for i := 1; i < len(run.Frontier); i++ {
		assert.GreaterOrEqual(t, run.Frontier[i].Return+1e-9, run.Frontier[i-1].Return,
			"frontier returns are ordered")
	}

	// Headline weights are the frontier's best risk-adjusted point.
	best := bestSharpePoint(run.Frontier, cfg.Objective.RiskFreeRate)
	assert.Equal(t, best.Weights, run.Weights)
}

func TestServiceRun_FailurePreservesWeights(t *testing.T) {
	cfg := testPipelineConfig()
	// Benchmark allocation runs after the weights are persisted; an invalid
	// equity weight fails the run there.
	cfg.Benchmark.EquityWeight = 1.5
	svc, runs := newTestService(t, cfg)

	run, err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "benchmark allocation")

	require.NotNil(t, run)
	assert.Equal(t, StatusFailed, run.Status)
	assert.NotEmpty(t, run.Error)

	stored, err := runs.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	require.NotNil(t, stored.Weights, "weights computed before the failure survive it")
	assert.InDelta(t, 1.0, stored.Weights.Sum(), 1e-6)
	assert.Nil(t, stored.Comparison)
}

func TestServiceRun_InsufficientHistory(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.MinPeriods = 5000
	svc, runs := newTestService(t, cfg)

	run, err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusFailed, run.Status)

	stored, storeErr := runs.Get(run.ID)
	require.NoError(t, storeErr)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Nil(t, stored.Weights)
}

func TestServiceRun_RiskModelCache(t *testing.T) {
	cfg := testPipelineConfig()
	svc, _ := newTestService(t, cfg)

	cacheDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	cacheDB.SetMaxOpenConns(1)
	t.Cleanup(func() { cacheDB.Close() })
	cache, err := risk.NewCache(cacheDB, zerolog.Nop())
	require.NoError(t, err)
	svc.riskCache = cache

	first, err := svc.Run(context.Background())
	require.NoError(t, err)
	second, err := svc.Run(context.Background())
	require.NoError(t, err)

	// The second run recalls the cached risk model and must land on the
	// same allocation.
	require.NotEqual(t, first.ID, second.ID)
	for ticker, w := range first.Weights {
		assert.InDelta(t, w, second.Weights[ticker], 1e-9, "weight for %s", ticker)
	}
}

func TestUniverse_DeduplicatesBenchmarkTickers(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Assets = []string{"SPY", "GLD"}
	cfg.Benchmark.EquityTicker = "SPY"
	cfg.Benchmark.BondTicker = "BND"
	svc := &Service{cfg: cfg}

	assert.Equal(t, []string{"BND", "GLD", "SPY"}, svc.universe())
}

func TestBestSharpePoint(t *testing.T) {
	frontier := []optimization.FrontierPoint{
		{Return: 0.04, Volatility: 0.05},
		{Return: 0.08, Volatility: 0.08},
		{Return: 0.12, Volatility: 0.20},
	}

	best := bestSharpePoint(frontier, 0.0)
	assert.Equal(t, frontier[1], best)

	// A higher risk-free rate pushes the tangency toward riskier points.
	best = bestSharpePoint(frontier, 0.06)
	assert.Equal(t, frontier[2], best)
}

func TestServiceRun_PersistsEveryStage(t *testing.T) {
	svc, runs := newTestService(t, testPipelineConfig())

	run, err := svc.Run(context.Background())
	require.NoError(t, err)

	summaries, err := runs.List(10)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, run.ID, summaries[0].ID)
	assert.Equal(t, StatusCompleted, summaries[0].Status)
	assert.Equal(t, "min_volatility", summaries[0].Objective)
}
