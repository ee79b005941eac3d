// Package pipeline orchestrates one research run end to end: prices →
// returns → risk model → optimization → parallel strategy and benchmark
// backtests → comparative report, with every run persisted.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/quantfolio/internal/config"
	"github.com/aristath/quantfolio/internal/modules/backtest"
	"github.com/aristath/quantfolio/internal/modules/benchmark"
	"github.com/aristath/quantfolio/internal/modules/marketdata"
	"github.com/aristath/quantfolio/internal/modules/optimization"
	"github.com/aristath/quantfolio/internal/modules/performance"
	"github.com/aristath/quantfolio/internal/modules/returns"
	"github.com/aristath/quantfolio/internal/modules/risk"
)

// Service wires the pipeline stages together. All stages are pure; the
// service owns the only I/O (price reads, run persistence, risk cache).
type Service struct {
	cfg       *config.PipelineConfig
	prices    *marketdata.Store
	runs      *RunStore
	riskCache *risk.Cache
	estimator *risk.Estimator
	optimizer *optimization.Optimizer
	allocator *benchmark.Allocator
	simulator *backtest.Simulator
	evaluator *performance.Evaluator
	log       zerolog.Logger
}

// NewService builds a pipeline service. riskCache may be nil to disable
// covariance caching.
func NewService(
	cfg *config.PipelineConfig,
	prices *marketdata.Store,
	runs *RunStore,
	riskCache *risk.Cache,
	estimator *risk.Estimator,
	optimizer *optimization.Optimizer,
	allocator *benchmark.Allocator,
	simulator *backtest.Simulator,
	evaluator *performance.Evaluator,
	log zerolog.Logger,
) *Service {
	return &Service{
		cfg:       cfg,
		prices:    prices,
		runs:      runs,
		riskCache: riskCache,
		estimator: estimator,
		optimizer: optimizer,
		allocator: allocator,
		simulator: simulator,
		evaluator: evaluator,
		log:       log.With().Str("component", "pipeline").Logger(),
	}
}

// Run executes the configured pipeline once. The run record is persisted
// at every stage boundary, so artifacts produced before a failure (weights
// in particular) survive it.
func (s *Service) Run(ctx context.Context) (*RunResult, error) {
	run := &RunResult{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Status:    StatusRunning,
		Assets:    append([]string(nil), s.cfg.Assets...),
		Objective: s.cfg.Objective.Type,
	}
	s.persist(run)

	s.log.Info().Str("run_id", run.ID).Str("objective", run.Objective).Msg("Pipeline run started")

	if err := s.execute(ctx, run); err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		s.persist(run)
		s.log.Error().Err(err).Str("run_id", run.ID).Msg("Pipeline run failed")
		return run, err
	}

	run.Status = StatusCompleted
	s.persist(run)
	s.log.Info().Str("run_id", run.ID).Msg("Pipeline run completed")
	return run, nil
}

func (s *Service) execute(ctx context.Context, run *RunResult) error {
	freq := returns.Frequency(s.cfg.Frequency)
	returnType := returns.ReturnType(s.cfg.ReturnType)
	periodsPerYear := freq.PeriodsPerYear()

	universe := s.universe()
	series, err := s.prices.GetSeries(universe, s.cfg.LookbackDays)
	if err != nil {
		return fmt.Errorf("price load: %w", err)
	}

	matrix, err := returns.Compute(series, freq, returnType)
	if err != nil {
		return fmt.Errorf("return computation: %w", err)
	}
	if err := matrix.RequireMinPeriods(s.cfg.MinPeriods); err != nil {
		return err
	}

	strategyMatrix, err := matrix.Select(s.cfg.Assets...)
	if err != nil {
		return fmt.Errorf("universe selection: %w", err)
	}

	model, err := s.riskModel(strategyMatrix, periodsPerYear)
	if err != nil {
		return fmt.Errorf("risk model: %w", err)
	}

	cons := optimization.NewConstraints(
		s.cfg.Assets,
		s.cfg.Bounds.DefaultLower, s.cfg.Bounds.DefaultUpper,
		s.cfg.Bounds.Lower, s.cfg.Bounds.Upper,
		s.groupCaps(),
		s.cfg.Bounds.LongOnly,
	)

	weights, frontier, err := s.optimize(model, cons)
	if err != nil {
		return fmt.Errorf("optimization: %w", err)
	}
	run.Weights = weights
	run.Frontier = frontier
	s.persist(run)

	benchWeights, err := s.allocator.Allocate(
		s.cfg.Benchmark.EquityTicker,
		s.cfg.Benchmark.BondTicker,
		s.cfg.Benchmark.EquityWeight,
	)
	if err != nil {
		return fmt.Errorf("benchmark allocation: %w", err)
	}
	run.BenchmarkWeights = benchWeights

	btCfg := s.backtestConfig()
	var strategyResult, benchResult backtest.Result

	// The two backtests share no writable state and join before Compare.
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		strategyResult, err = s.simulator.Run(strategyMatrix, weights, btCfg)
		if err != nil {
			return fmt.Errorf("strategy backtest: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		benchResult, err = s.simulator.Run(matrix, benchWeights, btCfg)
		if err != nil {
			return fmt.Errorf("benchmark backtest: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	run.StrategyBacktest = &strategyResult
	run.BenchmarkBacktest = &benchResult
	s.persist(run)

	strategyReport, err := s.evaluator.Evaluate(strategyResult.Values, periodsPerYear, s.cfg.Objective.RiskFreeRate)
	if err != nil {
		return fmt.Errorf("strategy evaluation: %w", err)
	}
	benchReport, err := s.evaluator.Evaluate(benchResult.Values, periodsPerYear, s.cfg.Objective.RiskFreeRate)
	if err != nil {
		return fmt.Errorf("benchmark evaluation: %w", err)
	}
	comparison := s.evaluator.Compare(strategyReport, benchReport)

	assetMetrics, err := s.evaluator.EvaluateAssets(strategyMatrix, periodsPerYear)
	if err != nil {
		return fmt.Errorf("asset metrics: %w", err)
	}

	run.StrategyReport = &strategyReport
	run.BenchmarkReport = &benchReport
	run.Comparison = &comparison
	run.AssetMetrics = assetMetrics
	return nil
}

// riskModel estimates (or recalls from cache) the expected returns and
// covariance for the strategy universe.
func (s *Service) riskModel(m returns.ReturnMatrix, periodsPerYear float64) (risk.Model, error) {
	method := risk.Method(s.cfg.Covariance.Method)
	key := risk.Key(s.cfg.Assets, method, s.cfg.LookbackDays,
		s.cfg.Forecaster.Name, s.cfg.Frequency, s.cfg.ReturnType)

	if s.riskCache != nil {
		if model, ok := s.riskCache.Get(key); ok {
			s.log.Debug().Str("key", key).Msg("Risk model cache hit")
			return model, nil
		}
	}

	forecaster, err := returns.NewForecaster(
		s.cfg.Forecaster.Name,
		s.cfg.Forecaster.MomentumWindow,
		s.cfg.Forecaster.External,
	)
	if err != nil {
		return risk.Model{}, err
	}
	expected, err := forecaster.ExpectedReturns(m, periodsPerYear)
	if err != nil {
		return risk.Model{}, err
	}

	model, err := s.estimator.Estimate(m, expected, method, risk.Options{
		MinPeriods:   s.cfg.MinPeriods,
		HalfLifeDays: s.cfg.Covariance.HalfLifeDays,
	})
	if err != nil {
		return risk.Model{}, err
	}

	if s.riskCache != nil {
		if err := s.riskCache.Set(key, model, risk.TTLRiskModel); err != nil {
			s.log.Warn().Err(err).Msg("Failed to cache risk model")
		}
	}
	return model, nil
}

// optimize dispatches on the configured objective. For efficient_frontier
// the headline weights are the frontier's max-Sharpe point.
func (s *Service) optimize(model risk.Model, cons optimization.Constraints) (optimization.Weights, []optimization.FrontierPoint, error) {
	obj := optimization.Objective{
		Type:             optimization.ObjectiveType(s.cfg.Objective.Type),
		RiskFreeRate:     s.cfg.Objective.RiskFreeRate,
		TargetReturn:     s.cfg.Objective.TargetReturn,
		TargetVolatility: s.cfg.Objective.TargetVolatility,
		FrontierPoints:   s.cfg.Objective.FrontierPoints,
	}

	if obj.Type != optimization.EfficientFrontier {
		weights, err := s.optimizer.Optimize(model, cons, obj)
		return weights, nil, err
	}

	frontier, err := s.optimizer.Frontier(model, cons, obj.FrontierPoints)
	if err != nil {
		return nil, nil, err
	}
	best := bestSharpePoint(frontier, obj.RiskFreeRate)
	return best.Weights, frontier, nil
}

func bestSharpePoint(frontier []optimization.FrontierPoint, riskFree float64) optimization.FrontierPoint {
	best := frontier[0]
	bestSharpe := sharpeOf(best, riskFree)
	for _, p := range frontier[1:] {
		if sp := sharpeOf(p, riskFree); sp > bestSharpe {
			best, bestSharpe = p, sp
		}
	}
	return best
}

func sharpeOf(p optimization.FrontierPoint, riskFree float64) float64 {
	if p.Volatility <= 0 {
		return 0
	}
	return (p.Return - riskFree) / p.Volatility
}

// universe is the strategy assets plus the benchmark tickers, deduplicated.
func (s *Service) universe() []string {
	seen := make(map[string]bool, len(s.cfg.Assets)+2)
	out := make([]string, 0, len(s.cfg.Assets)+2)
	for _, t := range s.cfg.Assets {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range []string{s.cfg.Benchmark.EquityTicker, s.cfg.Benchmark.BondTicker} {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Service) groupCaps() []optimization.GroupCap {
	if len(s.cfg.GroupCaps) == 0 {
		return nil
	}
	caps := make([]optimization.GroupCap, len(s.cfg.GroupCaps))
	for i, g := range s.cfg.GroupCaps {
		caps[i] = optimization.GroupCap{
			Name:    g.Name,
			Members: g.Members,
			Min:     g.Min,
			Max:     g.Max,
		}
	}
	return caps
}

func (s *Service) backtestConfig() backtest.Config {
	return backtest.Config{
		InitialValue: s.cfg.Backtest.InitialValue,
		Policy: backtest.Policy{
			Type:     backtest.PolicyType(s.cfg.Backtest.RebalancePolicy),
			Interval: s.cfg.Backtest.RebalanceInterval,
			DriftPct: s.cfg.Backtest.RebalanceDriftPct,
		},
		TransactionCostBps: s.cfg.Backtest.TransactionCostBps,
	}
}

// persist saves the run record, logging rather than failing on store
// errors so a persistence hiccup never aborts a compute run.
func (s *Service) persist(run *RunResult) {
	if s.runs == nil {
		return
	}
	if err := s.runs.Save(run); err != nil {
		s.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to persist run record")
	}
}
