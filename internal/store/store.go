// Package store defines the persistence contract the orchestrator,
// market hunter, and decision logger depend on, plus two
// implementations: an in-memory default (MemStore) and an embedded
// SQLite-backed one (SQLiteStore).
package store

import (
	"context"
	"time"

	"github.com/atlas-desktop/btcintel/pkg/types"
)

// AgentExecution is one row of the agent_executions log: a record of an
// agent hook invocation, independent of whether it produced a Decision.
type AgentExecution struct {
	AgentId    types.AgentId  `json:"agentId"`
	Type       string         `json:"type"`
	Inputs     map[string]any `json:"inputs"`
	Outputs    map[string]any `json:"outputs"`
	Success    bool           `json:"success"`
	DurationMs int64          `json:"durationMs"`
	Error      string         `json:"error,omitempty"`
	At         time.Time      `json:"at"`
}

// CycleSummary is the per-cycle rollup persisted at the end of phase 9.
type CycleSummary struct {
	CycleId          string    `json:"cycleId"`
	At               time.Time `json:"at"`
	DecisionCount    int       `json:"decisionCount"`
	SuccessCount     int       `json:"successCount"`
	TotalCount       int       `json:"totalCount"`
	SystemEfficiency float64   `json:"systemEfficiency"`
	StrategicAlignment float64 `json:"strategicAlignment"`
}

// PerformanceMetrics is the aggregate ReadPerformanceMetrics computes
// over persisted decision records that carry an execution outcome.
type PerformanceMetrics struct {
	SuccessRate float64 `json:"successRate"`
	TotalCount  int64   `json:"totalCount"`
}

// Store is the persistence adapter contract spec.md §6 names. All
// methods accept a context for cancellation/timeout and return a
// *sentinelerr.StoreError-wrapped error (via the caller) on failure;
// Store implementations themselves return the raw underlying error.
type Store interface {
	ReadPortfolio(ctx context.Context) (types.Portfolio, error)
	WritePortfolio(ctx context.Context, p types.Portfolio) error
	AppendPortfolioSnapshot(ctx context.Context, p types.Portfolio) error

	AppendAgentExecution(ctx context.Context, e AgentExecution) error
	AppendDecision(ctx context.Context, d types.DecisionRecord) error
	AppendSignal(ctx context.Context, kind types.SignalKind, sig types.Signal) error

	ReadSourceMetrics(ctx context.Context) (map[types.SourceKind]types.SourceMetric, error)
	WriteSourceMetrics(ctx context.Context, m map[types.SourceKind]types.SourceMetric) error

	ListAgentExecutions(ctx context.Context, agentId types.AgentId, limit int) ([]AgentExecution, error)
	ListRecentTrades(ctx context.Context, limit int) ([]AgentExecution, error)
	ReadPerformanceMetrics(ctx context.Context) (PerformanceMetrics, error)

	AppendCycleSummary(ctx context.Context, c CycleSummary) error
	ListRecentDecisions(ctx context.Context, limit int) ([]types.DecisionRecord, error)

	Close() error
}
