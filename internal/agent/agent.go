// Package agent provides the generic autonomous actor contract every
// registered agent implements, plus a concrete, embeddable BaseAgent.
// Generalized from the teacher's TradingAgent struct shape
// (internal/autonomous/agent.go: logger, config, mutex, metrics, stop
// channel) onto the four-hook goal/trait/reputation contract spec.md
// §4.2 specifies.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/btcintel/internal/sentinelerr"
	"github.com/atlas-desktop/btcintel/pkg/types"
)

// DefaultHookDeadline is the default wall-time bound spec.md §4.2
// mandates for every agent hook invocation.
const DefaultHookDeadline = 2 * time.Second

// MaxHistory bounds the per-agent decision/perf history slices.
const MaxHistory = 500

// Agent is the generic contract every registry member implements.
type Agent interface {
	ID() types.AgentId
	AssessState(ctx context.Context) (types.AssessedState, error)
	EvaluateGoalProgress(ctx context.Context) (types.GoalProgressReport, error)
	EvolveGoals(ctx context.Context, decision types.Decision) (types.GoalTree, error)
	ExecuteAdaptation(ctx context.Context, actions []types.ActionTag) error
	UpdateAutonomy(a float64)
	Autonomy() float64
	Inbox() <-chan types.Message
}

// BaseAgent is a concrete, embeddable Agent implementation. Specialized
// agents (MarketHunter) embed it and add their own loop on top.
type BaseAgent struct {
	id     types.AgentId
	logger *zap.Logger

	mu              sync.RWMutex
	goals           types.GoalTree
	traits          map[types.TraitName]int
	autonomy        float64
	decisionHistory []types.DecisionRecord
	perfHistory     []types.PerfSample
	adaptationCount uint64
	goalProgress    float64 // the value EvaluateGoalProgress reports; 0.7 until set

	inbox <-chan types.Message
}

// NewBaseAgent constructs a BaseAgent with the given id, starting goal
// tree, traits, and initial autonomy (clamped to [0.30,0.99]).
func NewBaseAgent(logger *zap.Logger, id types.AgentId, goals types.GoalTree, traits map[types.TraitName]int, initialAutonomy float64) *BaseAgent {
	traitsCopy := make(map[types.TraitName]int, len(traits))
	for k, v := range traits {
		traitsCopy[k] = v
	}
	return &BaseAgent{
		id:           id,
		logger:       logger.Named("agent").With(zap.String("agent_id", string(id))),
		goals:        goals.Clone(),
		traits:       traitsCopy,
		autonomy:     clampAutonomy(initialAutonomy),
		goalProgress: 0.7,
	}
}

func (a *BaseAgent) ID() types.AgentId { return a.id }

// SetInbox wires the channel the orchestrator's MessageBus.Subscribe
// returned for this agent's id. Called once at registration.
func (a *BaseAgent) SetInbox(ch <-chan types.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inbox = ch
}

func (a *BaseAgent) Inbox() <-chan types.Message {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.inbox
}

// AssessState returns a snapshot of the agent's current performance,
// goal progress, and autonomy. It never blocks on I/O.
func (a *BaseAgent) AssessState(ctx context.Context) (types.AssessedState, error) {
	if err := ctx.Err(); err != nil {
		return types.AssessedState{}, sentinelerr.NewCancelledError("AssessState")
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	perf := a.currentPerfLocked()
	return types.AssessedState{
		Perf:         perf,
		GoalProgress: a.goalProgress,
		Autonomy:     a.autonomy,
	}, nil
}

func (a *BaseAgent) currentPerfLocked() types.PerfSample {
	if len(a.perfHistory) == 0 {
		return types.PerfSample{Efficiency: 0.7, Accuracy: 0.7, Responsiveness: 0.7, GoalProgress: a.goalProgress}
	}
	return a.perfHistory[len(a.perfHistory)-1]
}

// EvaluateGoalProgress reports the agent's current overall progress.
// needsAdaptation is true iff overallProgress < 0.6, per spec.
func (a *BaseAgent) EvaluateGoalProgress(ctx context.Context) (types.GoalProgressReport, error) {
	if err := ctx.Err(); err != nil {
		return types.GoalProgressReport{}, sentinelerr.NewCancelledError("EvaluateGoalProgress")
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return types.GoalProgressReport{
		OverallProgress: a.goalProgress,
		NeedsAdaptation: a.goalProgress < 0.6,
	}, nil
}

// RecordPerfSample appends a new performance observation and, since
// goal progress is derived from it here, updates goalProgress to match
// — the hook through which a caller (tests, or a richer specialized
// agent) reports what progress looks like this cycle.
func (a *BaseAgent) RecordPerfSample(p types.PerfSample) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.perfHistory = appendBounded(a.perfHistory, p, MaxHistory)
	a.goalProgress = p.GoalProgress
}

// SetGoalProgress directly overrides the reported goal progress,
// independent of perf history — the seam end-to-end tests (and a
// narrative/risk agent wired to an external progress signal) use.
func (a *BaseAgent) SetGoalProgress(p float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.goalProgress = p
}

// EvolveGoals mutates only goals marked AutonomouslyModifiable; any
// other goal is returned byte-identical. Only valid when decision.Type
// is AGENT_ADAPTATION and decision.AgentId matches this agent — callers
// (the orchestrator) are expected to have already checked that, but
// EvolveGoals defends against a misrouted call by returning the
// unchanged tree and a PolicyError.
func (a *BaseAgent) EvolveGoals(ctx context.Context, decision types.Decision) (types.GoalTree, error) {
	if err := ctx.Err(); err != nil {
		return types.GoalTree{}, sentinelerr.NewCancelledError("EvolveGoals")
	}
	if decision.Type != types.DecisionAgentAdaptation {
		return a.Goals(), sentinelerr.NewPolicyError("evolve_goals_wrong_decision_type",
			fmt.Errorf("expected AGENT_ADAPTATION, got %s", decision.Type))
	}
	if decision.AgentId != a.id {
		return a.Goals(), sentinelerr.NewPolicyError("evolve_goals_wrong_agent",
			fmt.Errorf("decision targets %s, not %s", decision.AgentId, a.id))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	next := a.goals.Clone()
	adapted := adaptGoal(next.Primary, decision)
	next.Primary = adapted
	for i := range next.Secondary {
		next.Secondary[i] = adaptGoal(next.Secondary[i], decision)
	}

	if err := validateUniqueIds(next); err != nil {
		return a.goals.Clone(), sentinelerr.NewPolicyError("duplicate_goal_ids", err)
	}

	a.goals = next
	a.adaptationCount++
	return a.goals.Clone(), nil
}

// adaptGoal nudges a modifiable goal's priority toward reflecting that
// it needs attention; non-modifiable goals pass through unchanged.
func adaptGoal(g types.Goal, decision types.Decision) types.Goal {
	if !g.AutonomouslyModifiable {
		return g
	}
	adapted := g.Clone()
	// Nudge priority up slightly, capped at 1, so a goal flagged for
	// adaptation gets relatively more attention on the next cycle.
	adapted.Priority = minF(1.0, adapted.Priority+0.05)
	return adapted
}

func validateUniqueIds(t types.GoalTree) error {
	seen := make(map[string]bool)
	for _, g := range t.AllGoals() {
		if seen[g.ID] {
			return fmt.Errorf("duplicate goal id %q", g.ID)
		}
		seen[g.ID] = true
	}
	return nil
}

// ExecuteAdaptation runs a sequence of adaptation actions. Unknown tags
// are no-ops recorded at warning severity; known tags are logged — the
// actual state changes they imply (goal mutation, autonomy bump) are
// applied by EvolveGoals and UpdateAutonomy respectively, which the
// orchestrator calls alongside this.
func (a *BaseAgent) ExecuteAdaptation(ctx context.Context, actions []types.ActionTag) error {
	if err := ctx.Err(); err != nil {
		return sentinelerr.NewCancelledError("ExecuteAdaptation")
	}
	for _, action := range actions {
		switch action {
		case types.ActionGoalAdaptation, types.ActionStrategyAdjustment, types.ActionIncreaseAutonomy,
			types.ActionSwitchToPreservation, types.ActionReduceLeverage, types.ActionWaitForStability:
			a.logger.Debug("executing adaptation action", zap.String("action", string(action)))
		default:
			a.logger.Warn("unknown adaptation action, ignoring", zap.String("action", string(action)))
		}
	}
	return nil
}

// UpdateAutonomy sets the agent's cached autonomy value, clamped to
// [0.30, 0.99]. The orchestrator is the source of truth for autonomy;
// this is the push side of that relationship.
func (a *BaseAgent) UpdateAutonomy(v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.autonomy = clampAutonomy(v)
}

func (a *BaseAgent) Autonomy() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.autonomy
}

// Goals returns a snapshot copy of the agent's current goal tree.
func (a *BaseAgent) Goals() types.GoalTree {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.goals.Clone()
}

// AdaptationCount returns the monotone count of successful EvolveGoals
// calls.
func (a *BaseAgent) AdaptationCount() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.adaptationCount
}

// Traits returns a copy of the agent's trait map.
func (a *BaseAgent) Traits() map[types.TraitName]int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[types.TraitName]int, len(a.traits))
	for k, v := range a.traits {
		out[k] = v
	}
	return out
}

// RecordDecision appends a record to the agent's bounded decision
// history — called by the orchestrator after it logs a decision
// targeting this agent, so the agent's own view stays consistent with
// the global DecisionLogger.
func (a *BaseAgent) RecordDecision(d types.DecisionRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.decisionHistory = appendBounded(a.decisionHistory, d, MaxHistory)
}

func clampAutonomy(v float64) float64 {
	if v < 0.30 {
		return 0.30
	}
	if v > 0.99 {
		return 0.99
	}
	return v
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func appendBounded[T any](slice []T, item T, maxLen int) []T {
	slice = append(slice, item)
	if maxLen > 0 && len(slice) > maxLen {
		slice = slice[len(slice)-maxLen:]
	}
	return slice
}
