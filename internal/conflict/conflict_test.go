package conflict

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/btcintel/pkg/types"
)

func goalTree(kpis ...string) types.GoalTree {
	set := make(map[string]bool, len(kpis))
	for _, k := range kpis {
		set[k] = true
	}
	return types.GoalTree{Primary: types.Goal{ID: "p", KPIs: set}}
}

func TestAnalyzeConflictNoOverlapIsZeroSeverity(t *testing.T) {
	report := AnalyzeConflict(goalTree("totalValueUsd"), goalTree("riskPerTrade"))
	require.Zero(t, report.Severity)
}

func TestAnalyzeConflictOverlapIncreasesSeverity(t *testing.T) {
	report := AnalyzeConflict(goalTree("totalValueUsd", "riskPerTrade"), goalTree("riskPerTrade"))
	require.Greater(t, report.Severity, 0.0)
	require.Contains(t, report.Description, "1 shared KPI")
}

func TestAnalyzeConflictExclusiveKPIWeighsMore(t *testing.T) {
	plain := AnalyzeConflict(goalTree("shared"), goalTree("shared"))
	exclusive := AnalyzeConflict(goalTree("exclusive:shared"), goalTree("exclusive:shared"))
	require.Greater(t, exclusive.Severity, plain.Severity)
}

func TestAnalyzeConflictSeverityNeverExceedsOne(t *testing.T) {
	report := AnalyzeConflict(
		goalTree("exclusive:a", "exclusive:b", "exclusive:c"),
		goalTree("exclusive:a", "exclusive:b", "exclusive:c"),
	)
	require.LessOrEqual(t, report.Severity, 1.0)
}

func TestAnalyzeConflictEmptyKPIsYieldsZero(t *testing.T) {
	report := AnalyzeConflict(types.GoalTree{Primary: types.Goal{ID: "a"}}, types.GoalTree{Primary: types.Goal{ID: "b"}})
	require.Zero(t, report.Severity)
}

func TestDetectEmergentRequiresAtLeastTwoAgents(t *testing.T) {
	decisions := []types.Decision{
		{Type: types.DecisionAgentAdaptation, AgentId: "a1"},
		{Type: types.DecisionAgentAdaptation, AgentId: "a1"},
	}
	require.Empty(t, DetectEmergent(decisions))
}

func TestDetectEmergentFindsCoordinatedPattern(t *testing.T) {
	decisions := []types.Decision{
		{Type: types.DecisionAmplifyEmergentBehavior, AgentId: "a1"},
		{Type: types.DecisionAmplifyEmergentBehavior, AgentId: "a2"},
	}
	found := DetectEmergent(decisions)
	require.Len(t, found, 1)
	require.True(t, found[0].Beneficial)
	require.Equal(t, string(types.DecisionAmplifyEmergentBehavior), found[0].Type)
}

func TestDetectEmergentMarksConflictResolutionAsNotBeneficial(t *testing.T) {
	decisions := []types.Decision{
		{Type: types.DecisionConflictResolution, AgentId: "a1"},
		{Type: types.DecisionConflictResolution, AgentId: "a2"},
	}
	found := DetectEmergent(decisions)
	require.Len(t, found, 1)
	require.False(t, found[0].Beneficial)
}
