package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/btcintel/pkg/types"
)

func newTestAgent(id types.AgentId) *BaseAgent {
	goals := types.GoalTree{
		Primary: types.Goal{ID: "primary", Priority: 1.0, AutonomouslyModifiable: false},
		Secondary: []types.Goal{
			{ID: "sec1", Priority: 0.5, AutonomouslyModifiable: true},
		},
	}
	return NewBaseAgent(zap.NewNop(), id, goals, map[types.TraitName]int{}, 0.5)
}

func TestNewBaseAgentClampsInitialAutonomy(t *testing.T) {
	require.Equal(t, 0.30, NewBaseAgent(zap.NewNop(), "a", types.GoalTree{}, nil, 0.0).Autonomy())
	require.Equal(t, 0.99, NewBaseAgent(zap.NewNop(), "a", types.GoalTree{}, nil, 5.0).Autonomy())
}

func TestEvaluateGoalProgressDefaultsToPointSeven(t *testing.T) {
	a := newTestAgent("a1")
	report, err := a.EvaluateGoalProgress(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0.7, report.OverallProgress)
	require.False(t, report.NeedsAdaptation)
}

func TestRecordPerfSampleUpdatesGoalProgress(t *testing.T) {
	a := newTestAgent("a1")
	a.RecordPerfSample(types.PerfSample{GoalProgress: 0.3})
	report, err := a.EvaluateGoalProgress(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0.3, report.OverallProgress)
	require.True(t, report.NeedsAdaptation)
}

func TestRecordPerfSampleBoundsHistory(t *testing.T) {
	a := newTestAgent("a1")
	for i := 0; i < MaxHistory+50; i++ {
		a.RecordPerfSample(types.PerfSample{GoalProgress: 0.7})
	}
	require.Len(t, a.perfHistory, MaxHistory)
}

func TestEvolveGoalsRejectsWrongDecisionType(t *testing.T) {
	a := newTestAgent("a1")
	_, err := a.EvolveGoals(context.Background(), types.Decision{Type: types.DecisionConflictResolution, AgentId: "a1"})
	require.Error(t, err)
}

func TestEvolveGoalsRejectsWrongAgentId(t *testing.T) {
	a := newTestAgent("a1")
	_, err := a.EvolveGoals(context.Background(), types.Decision{Type: types.DecisionAgentAdaptation, AgentId: "other"})
	require.Error(t, err)
}

func TestEvolveGoalsNudgesOnlyModifiableGoals(t *testing.T) {
	a := newTestAgent("a1")
	before := a.Goals()

	next, err := a.EvolveGoals(context.Background(), types.Decision{Type: types.DecisionAgentAdaptation, AgentId: "a1"})
	require.NoError(t, err)

	require.Equal(t, before.Primary.Priority, next.Primary.Priority, "non-modifiable primary goal must pass through unchanged")
	require.Greater(t, next.Secondary[0].Priority, before.Secondary[0].Priority, "modifiable goal must be nudged")
	require.Equal(t, uint64(1), a.AdaptationCount())
}

func TestEvolveGoalsCapsNudgeAtOne(t *testing.T) {
	goals := types.GoalTree{
		Primary: types.Goal{ID: "p", Priority: 0.98, AutonomouslyModifiable: true},
	}
	a := NewBaseAgent(zap.NewNop(), "a1", goals, nil, 0.5)
	next, err := a.EvolveGoals(context.Background(), types.Decision{Type: types.DecisionAgentAdaptation, AgentId: "a1"})
	require.NoError(t, err)
	require.LessOrEqual(t, next.Primary.Priority, 1.0)
}

func TestExecuteAdaptationAcceptsKnownAndUnknownTags(t *testing.T) {
	a := newTestAgent("a1")
	err := a.ExecuteAdaptation(context.Background(), []types.ActionTag{
		types.ActionGoalAdaptation, types.ActionTag("bogus_action"),
	})
	require.NoError(t, err)
}

func TestExecuteAdaptationRespectsCancelledContext(t *testing.T) {
	a := newTestAgent("a1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.ExecuteAdaptation(ctx, []types.ActionTag{types.ActionGoalAdaptation})
	require.Error(t, err)
}

func TestUpdateAutonomyClamps(t *testing.T) {
	a := newTestAgent("a1")
	a.UpdateAutonomy(-1)
	require.Equal(t, 0.30, a.Autonomy())
	a.UpdateAutonomy(2)
	require.Equal(t, 0.99, a.Autonomy())
	a.UpdateAutonomy(0.65)
	require.Equal(t, 0.65, a.Autonomy())
}

func TestGoalsReturnsIndependentCopy(t *testing.T) {
	a := newTestAgent("a1")
	snap := a.Goals()
	snap.Primary.Priority = 999

	fresh := a.Goals()
	require.NotEqual(t, 999.0, fresh.Primary.Priority)
}

func TestTraitsReturnsCopy(t *testing.T) {
	a := NewBaseAgent(zap.NewNop(), "a1", types.GoalTree{}, map[types.TraitName]int{"boldness": 5}, 0.5)
	traits := a.Traits()
	traits["boldness"] = 999
	require.Equal(t, 5, a.Traits()["boldness"])
}
