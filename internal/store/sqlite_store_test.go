package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/btcintel/pkg/types"
)

func openTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStorePortfolioReadWrite(t *testing.T) {
	s := openTestSQLiteStore(t)
	ctx := context.Background()

	empty, err := s.ReadPortfolio(ctx)
	require.NoError(t, err)
	require.Zero(t, empty.BTC)

	want := types.Portfolio{BTC: 2.5, USD: 1000, TotalValueUsd: 50000, UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, s.WritePortfolio(ctx, want))

	got, err := s.ReadPortfolio(ctx)
	require.NoError(t, err)
	require.Equal(t, want.BTC, got.BTC)
	require.True(t, want.UpdatedAt.Equal(got.UpdatedAt))
}

func TestSQLiteStoreWritePortfolioUpsertsSingleRow(t *testing.T) {
	s := openTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.WritePortfolio(ctx, types.Portfolio{BTC: 1}))
	require.NoError(t, s.WritePortfolio(ctx, types.Portfolio{BTC: 2}))

	got, err := s.ReadPortfolio(ctx)
	require.NoError(t, err)
	require.Equal(t, 2.0, got.BTC)
}

func TestSQLiteStoreAppendAndListDecisions(t *testing.T) {
	s := openTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendDecision(ctx, types.DecisionRecord{Decision: types.Decision{ID: "d1", At: time.Now()}}))
	require.NoError(t, s.AppendDecision(ctx, types.DecisionRecord{Decision: types.Decision{ID: "d2", At: time.Now()}}))

	out, err := s.ListRecentDecisions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "d1", out[0].Decision.ID)
	require.Equal(t, "d2", out[1].Decision.ID)
}

func TestSQLiteStoreReadPerformanceMetrics(t *testing.T) {
	s := openTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendDecision(ctx, types.DecisionRecord{
		Decision:  types.Decision{ID: "d1", At: time.Now()},
		Execution: &types.ExecutionResult{Success: true},
	}))
	require.NoError(t, s.AppendDecision(ctx, types.DecisionRecord{
		Decision:  types.Decision{ID: "d2", At: time.Now()},
		Execution: &types.ExecutionResult{Success: false},
	}))

	metrics, err := s.ReadPerformanceMetrics(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), metrics.TotalCount)
	require.InDelta(t, 0.5, metrics.SuccessRate, 1e-9)
}

func TestSQLiteStoreSourceMetricsWriteRead(t *testing.T) {
	s := openTestSQLiteStore(t)
	ctx := context.Background()

	in := map[types.SourceKind]types.SourceMetric{
		types.SourceWhale:  {Name: "whale", SuccessRate: 0.9},
		types.SourceMacro:  {Name: "macro", SuccessRate: 0.4},
	}
	require.NoError(t, s.WriteSourceMetrics(ctx, in))

	out, err := s.ReadSourceMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "whale", out[types.SourceWhale].Name)
}

func TestSQLiteStoreSourceMetricsUpsertOverwrites(t *testing.T) {
	s := openTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteSourceMetrics(ctx, map[types.SourceKind]types.SourceMetric{
		types.SourceWhale: {Name: "whale", SuccessRate: 0.1},
	}))
	require.NoError(t, s.WriteSourceMetrics(ctx, map[types.SourceKind]types.SourceMetric{
		types.SourceWhale: {Name: "whale", SuccessRate: 0.9},
	}))

	out, err := s.ReadSourceMetrics(ctx)
	require.NoError(t, err)
	require.InDelta(t, 0.9, out[types.SourceWhale].SuccessRate, 1e-9)
}

func TestSQLiteStoreAppendAndListAgentExecutions(t *testing.T) {
	s := openTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendAgentExecution(ctx, AgentExecution{AgentId: "a1", Type: "first", At: time.Now()}))
	require.NoError(t, s.AppendAgentExecution(ctx, AgentExecution{AgentId: "a1", Type: "second", At: time.Now()}))
	require.NoError(t, s.AppendAgentExecution(ctx, AgentExecution{AgentId: "a2", Type: "other", At: time.Now()}))

	out, err := s.ListAgentExecutions(ctx, "a1", 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "second", out[0].Type)
}

func TestSQLiteStoreAppendSignalPerKindTable(t *testing.T) {
	s := openTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, s.AppendSignal(ctx, types.SignalWhale, types.Signal{Kind: types.SignalWhale, At: time.Now()}))
}

func TestSQLiteStoreAppendCycleSummaryAndPortfolioSnapshot(t *testing.T) {
	s := openTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendCycleSummary(ctx, CycleSummary{CycleId: "c1", At: time.Now()}))
	require.NoError(t, s.AppendPortfolioSnapshot(ctx, types.Portfolio{BTC: 1, UpdatedAt: time.Now()}))
}

func TestSQLiteStoreCloseThenOperationsFail(t *testing.T) {
	s, err := OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.ReadPortfolio(context.Background())
	require.Error(t, err)
}
