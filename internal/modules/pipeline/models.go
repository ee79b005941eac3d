package pipeline

import (
	"time"

	"github.com/aristath/quantfolio/internal/modules/backtest"
	"github.com/aristath/quantfolio/internal/modules/optimization"
	"github.com/aristath/quantfolio/internal/modules/performance"
)

// RunStatus tracks a pipeline run through its lifecycle.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// RunResult is the full record of one pipeline run. A failed run keeps
// every artifact produced before the failure, so a successful optimization
// is never discarded by a later backtest error.
type RunResult struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Status    RunStatus `json:"status"`
	Error     string    `json:"error,omitempty"`

	Assets    []string `json:"assets"`
	Objective string   `json:"objective"`

	Weights  optimization.Weights         `json:"weights,omitempty"`
	Frontier []optimization.FrontierPoint `json:"frontier,omitempty"`

	BenchmarkWeights optimization.Weights `json:"benchmark_weights,omitempty"`

	StrategyBacktest  *backtest.Result `json:"strategy_backtest,omitempty"`
	BenchmarkBacktest *backtest.Result `json:"benchmark_backtest,omitempty"`

	StrategyReport  *performance.Report     `json:"strategy_report,omitempty"`
	BenchmarkReport *performance.Report     `json:"benchmark_report,omitempty"`
	Comparison      *performance.Comparison `json:"comparison,omitempty"`

	AssetMetrics map[string]performance.AssetMetrics `json:"asset_metrics,omitempty"`
}

// RunSummary is the list-view projection of a run.
type RunSummary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Status    RunStatus `json:"status"`
	Objective string    `json:"objective"`
}
