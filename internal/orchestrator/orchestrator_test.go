package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/btcintel/internal/agent"
	"github.com/atlas-desktop/btcintel/internal/clock"
	"github.com/atlas-desktop/btcintel/internal/decisionlog"
	"github.com/atlas-desktop/btcintel/internal/learning"
	"github.com/atlas-desktop/btcintel/internal/marketdata"
	"github.com/atlas-desktop/btcintel/internal/messagebus"
	"github.com/atlas-desktop/btcintel/internal/store"
	"github.com/atlas-desktop/btcintel/pkg/types"
)

type fakeMarketData struct{}

func (fakeMarketData) FetchPrice(ctx context.Context) (types.MarketSnapshot, error) {
	return types.MarketSnapshot{At: time.Now()}, nil
}
func (fakeMarketData) FetchNews(ctx context.Context, limit int) ([]marketdata.NewsItem, error) {
	return nil, nil
}
func (fakeMarketData) FetchSource(ctx context.Context, kind types.SourceKind) (marketdata.SourceRecord, error) {
	return marketdata.SourceRecord{}, nil
}

func TestEffectiveRiskPromotesExpertRiskControlToCritical(t *testing.T) {
	d := types.Decision{Type: types.DecisionExpertRiskControl, RiskAssessment: types.SeverityLow}
	require.Equal(t, types.SeverityCritical, effectiveRisk(d))
}

func TestEffectiveRiskPassesThroughOtherwise(t *testing.T) {
	d := types.Decision{Type: types.DecisionAgentAdaptation, RiskAssessment: types.SeverityMedium}
	require.Equal(t, types.SeverityMedium, effectiveRisk(d))
}

func TestSortByPriorityOrdersBySeverityThenImprovementThenDuration(t *testing.T) {
	decisions := []types.Decision{
		{ID: "low", RiskAssessment: types.SeverityLow},
		{ID: "critical", RiskAssessment: types.SeverityCritical},
		{ID: "high-slow", RiskAssessment: types.SeverityHigh, ExpectedImprovement: 0.5, ExpectedDurationMs: 500},
		{ID: "high-fast", RiskAssessment: types.SeverityHigh, ExpectedImprovement: 0.5, ExpectedDurationMs: 100},
		{ID: "medium", RiskAssessment: types.SeverityMedium},
	}
	sortByPriority(decisions)

	ids := make([]string, len(decisions))
	for i, d := range decisions {
		ids[i] = d.ID
	}
	require.Equal(t, []string{"critical", "high-fast", "high-slow", "medium", "low"}, ids)
}

func TestExecuteDecisionUnknownTypeFailsWithLowQuality(t *testing.T) {
	o := newTestOrchestrator(t)
	result := o.executeDecision(context.Background(), types.Decision{Type: types.DecisionType("bogus")})
	require.False(t, result.Success)
	require.Equal(t, 0.2, result.QualityScore)
}

func TestExecuteDecisionAgentAdaptationUnknownAgentFails(t *testing.T) {
	o := newTestOrchestrator(t)
	result := o.executeDecision(context.Background(), types.Decision{Type: types.DecisionAgentAdaptation, AgentId: "ghost"})
	require.False(t, result.Success)
}

func TestExecuteDecisionCancelledContextFails(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := o.executeDecision(ctx, types.Decision{Type: types.DecisionExpertMethodologyIntegration})
	require.False(t, result.Success)
	require.Equal(t, "cancelled", result.Reason)
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o, _ := newTestOrchestratorWithStore(t)
	return o
}

func newTestOrchestratorWithStore(t *testing.T) (*Orchestrator, *store.MemStore) {
	t.Helper()
	logger := zap.NewNop()
	clk := clock.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	bus := messagebus.New(logger, 0)
	st := store.NewMemStore()
	dlog := decisionlog.New(logger, st, 10*time.Millisecond, 0)
	t.Cleanup(dlog.Close)
	sys := learning.New(0.1)
	return New(logger, clk, fakeMarketData{}, bus, st, dlog, sys, Config{Interval: time.Minute}), st
}

func TestRunCycleOnceAdaptsStrugglingAgentAndPersistsCycleSummary(t *testing.T) {
	o, st := newTestOrchestratorWithStore(t)

	ag := agent.NewBaseAgent(zap.NewNop(), "struggler", types.GoalTree{
		Primary: types.Goal{ID: "p", Priority: 1, AutonomouslyModifiable: true},
	}, nil, 0.5)
	ag.SetGoalProgress(0.2) // below the 0.6 NeedsAdaptation threshold
	o.RegisterAgent(ag)

	require.NoError(t, o.RunCycleOnce(context.Background()))

	require.Equal(t, uint64(1), ag.AdaptationCount(), "struggling agent's goals must be evolved this cycle")

	require.Eventually(t, func() bool {
		decisions, err := st.ListRecentDecisions(context.Background(), 0)
		if err != nil || len(decisions) == 0 {
			return false
		}
		for _, d := range decisions {
			if d.Decision.Type == types.DecisionAgentAdaptation && d.Decision.AgentId == "struggler" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond, "expected an AGENT_ADAPTATION decision targeting the struggling agent")
}

func TestRunCycleOnceIsSerializedAgainstItself(t *testing.T) {
	o := newTestOrchestrator(t)
	done := make(chan error, 2)
	go func() { done <- o.RunCycleOnce(context.Background()) }()
	go func() { done <- o.RunCycleOnce(context.Background()) }()

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("concurrent cycles did not both complete")
		}
	}
}

func TestStatusesReturnsStableSortedOrder(t *testing.T) {
	o := newTestOrchestrator(t)
	o.RegisterAgent(agent.NewBaseAgent(zap.NewNop(), "zeta", types.GoalTree{}, nil, 0.5))
	o.RegisterAgent(agent.NewBaseAgent(zap.NewNop(), "alpha", types.GoalTree{}, nil, 0.5))

	statuses := o.Statuses()
	require.Len(t, statuses, 2)
	require.Equal(t, types.AgentId("alpha"), statuses[0].ID)
	require.Equal(t, types.AgentId("zeta"), statuses[1].ID)
}

func TestSetAutonomyClampsAndPushesToAgent(t *testing.T) {
	o := newTestOrchestrator(t)
	ag := agent.NewBaseAgent(zap.NewNop(), "a1", types.GoalTree{}, nil, 0.5)
	o.RegisterAgent(ag)

	o.SetAutonomy("a1", 5.0)
	require.Equal(t, 0.99, o.GetAutonomy("a1"))
	require.Equal(t, 0.99, ag.Autonomy())
}

func TestBumpReputationClampsToUnitInterval(t *testing.T) {
	o := newTestOrchestrator(t)
	o.mu.Lock()
	o.reputation["a1"] = 0.95
	o.mu.Unlock()

	o.BumpReputation("a1", 0.5)
	require.Equal(t, 1.0, o.Reputation("a1"))

	o.BumpReputation("a1", -5.0)
	require.Equal(t, 0.0, o.Reputation("a1"))
}
