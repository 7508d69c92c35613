// Package orchestrator implements the Strategic Orchestrator: the
// meta-agent that runs a nine-phase cycle every T1, owning the agent
// registry plus the autonomy and reputation maps, and driving the
// expert methodology, conflict/emergent detection, goal adaptation,
// message coordination, and system-wide learning. Generalized from the
// teacher's TradingOrchestrator (internal/orchestrator/orchestrator.go):
// the Start/Stop/stopCh
// shape and the "run loop plus testable single-shot" split survive;
// the PhD-component wiring does not.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/btcintel/internal/agent"
	"github.com/atlas-desktop/btcintel/internal/clock"
	"github.com/atlas-desktop/btcintel/internal/conflict"
	"github.com/atlas-desktop/btcintel/internal/decisionlog"
	"github.com/atlas-desktop/btcintel/internal/expert"
	"github.com/atlas-desktop/btcintel/internal/learning"
	"github.com/atlas-desktop/btcintel/internal/marketdata"
	"github.com/atlas-desktop/btcintel/internal/messagebus"
	"github.com/atlas-desktop/btcintel/internal/sentinelerr"
	"github.com/atlas-desktop/btcintel/internal/store"
	"github.com/atlas-desktop/btcintel/pkg/types"
)

// DefaultInterval is T1, the default interval between strategic cycles.
const DefaultInterval = 10 * time.Minute

// SystemAgentId is the pseudo-agent id decisions carry when they
// originate from the orchestrator itself rather than from a per-agent
// evaluation (the EXPERT_* and SYSTEM_REALIGNMENT decision types).
const SystemAgentId types.AgentId = "strategic-orchestrator"

// recentDecisionWindow bounds how many past decisions DetectEmergent
// scans for coordinated patterns.
const recentDecisionWindow = 50

// Config configures an Orchestrator.
type Config struct {
	Interval      time.Duration
	LearningRate  float64
}

// Orchestrator is the Strategic Orchestrator.
type Orchestrator struct {
	logger *zap.Logger
	clk    clock.Clock
	md     marketdata.MarketData
	bus    *messagebus.Bus
	st     store.Store
	dlog   *decisionlog.Logger
	sys    *learning.SystemLearning

	interval time.Duration

	mu         sync.RWMutex
	registry   map[types.AgentId]agent.Agent
	autonomy   map[types.AgentId]float64
	reputation map[types.AgentId]float64

	recentMu        sync.Mutex
	recentDecisions []types.Decision

	cycleMu    sync.Mutex
	running    bool
	stopCh     chan struct{}
	cycleCount uint64
}

// New constructs an Orchestrator wired to its collaborators.
func New(logger *zap.Logger, clk clock.Clock, md marketdata.MarketData, bus *messagebus.Bus, st store.Store, dlog *decisionlog.Logger, sys *learning.SystemLearning, cfg Config) *Orchestrator {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Orchestrator{
		logger:     logger.Named("orchestrator"),
		clk:        clk,
		md:         md,
		bus:        bus,
		st:         st,
		dlog:       dlog,
		sys:        sys,
		interval:   interval,
		registry:   make(map[types.AgentId]agent.Agent),
		autonomy:   make(map[types.AgentId]float64),
		reputation: make(map[types.AgentId]float64),
	}
}

// inboxSetter is satisfied by agent.BaseAgent; decisions route through
// the generic agent.Agent interface everywhere else.
type inboxSetter interface {
	SetInbox(<-chan types.Message)
}

// RegisterAgent adds an agent to the registry, seeding its autonomy from
// its current value and its reputation at 0.70, and wires its MessageBus
// inbox.
func (o *Orchestrator) RegisterAgent(ag agent.Agent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := ag.ID()
	o.registry[id] = ag
	o.autonomy[id] = ag.Autonomy()
	o.reputation[id] = 0.70
	if setter, ok := ag.(inboxSetter); ok {
		setter.SetInbox(o.bus.Subscribe(id))
	}
}

// GetAutonomy returns the orchestrator's authoritative autonomy value
// for id.
func (o *Orchestrator) GetAutonomy(id types.AgentId) float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.autonomy[id]
}

// SetAutonomy writes the authoritative autonomy value for id (clamped)
// and pushes it to the agent.
func (o *Orchestrator) SetAutonomy(id types.AgentId, v float64) {
	o.mu.Lock()
	ag, ok := o.registry[id]
	if v < 0.30 {
		v = 0.30
	}
	if v > 0.99 {
		v = 0.99
	}
	o.autonomy[id] = v
	o.mu.Unlock()
	if ok {
		ag.UpdateAutonomy(v)
	}
}

// BumpReputation adjusts id's reputation by delta, clamped to [0,1].
func (o *Orchestrator) BumpReputation(id types.AgentId, delta float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := o.reputation[id] + delta
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	o.reputation[id] = v
}

// Reputation returns id's current reputation.
func (o *Orchestrator) Reputation(id types.AgentId) float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.reputation[id]
}

// AgentStatus summarizes registered agents for the CLI status subcommand.
type AgentStatus struct {
	ID         types.AgentId
	Autonomy   float64
	Reputation float64
}

// Statuses returns a stable-ordered snapshot of every registered agent.
func (o *Orchestrator) Statuses() []AgentStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]AgentStatus, 0, len(o.registry))
	for id := range o.registry {
		out = append(out, AgentStatus{ID: id, Autonomy: o.autonomy[id], Reputation: o.reputation[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start begins the cycle driver, running the first cycle immediately
// and then every interval until ctx is cancelled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.cycleMu.Lock()
	if o.running {
		o.cycleMu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.running = true
	o.stopCh = make(chan struct{})
	o.cycleMu.Unlock()

	o.logger.Info("starting strategic orchestrator", zap.Duration("interval", o.interval))

	go func() {
		ticker := o.clk.NewTicker(o.interval)
		defer ticker.Stop()

		if err := o.RunCycleOnce(ctx); err != nil {
			o.logger.Error("strategic cycle failed", zap.Error(err))
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-o.stopCh:
				return
			case <-ticker.C():
				if err := o.RunCycleOnce(ctx); err != nil {
					o.logger.Error("strategic cycle failed", zap.Error(err))
				}
			}
		}
	}()

	return nil
}

// Stop signals the cycle driver to exit.
func (o *Orchestrator) Stop() {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()
	if !o.running {
		return
	}
	o.running = false
	close(o.stopCh)
}

// assessment is phase 1/2's per-agent working state, threaded through to
// phase 8's autonomy adjustment.
type assessment struct {
	id               types.AgentId
	state            types.AssessedState
	progress         types.GoalProgressReport
	performanceScore float64
}

// RunCycleOnce executes one full strategic cycle: phases 1 through 9,
// strictly in order, non-overlapping with any other cycle.
func (o *Orchestrator) RunCycleOnce(ctx context.Context) error {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	cycleId := fmt.Sprintf("c%d", o.cycleCount)
	o.cycleCount++
	logger := o.logger.With(zap.String("cycle_id", cycleId))

	ids := o.agentIDs()

	// Phase 1: assess system state.
	portfolio, err := o.st.ReadPortfolio(ctx)
	if err != nil {
		return sentinelerr.NewStoreError("read_portfolio", err)
	}

	assessments := make(map[types.AgentId]*assessment, len(ids))
	var effSum float64
	goalTrees := make(map[types.AgentId]types.GoalTree, len(ids))
	for _, id := range ids {
		ag := o.agentByID(id)
		state, err := ag.AssessState(ctx)
		if err != nil {
			logger.Warn("assess_state failed, aborting cycle", zap.String("agent", string(id)), zap.Error(err))
			return err
		}
		assessments[id] = &assessment{id: id, state: state}
		effSum += state.Perf.Efficiency
		if ba, ok := ag.(interface{ Goals() types.GoalTree }); ok {
			goalTrees[id] = ba.Goals()
		}
		_ = o.st.AppendAgentExecution(ctx, store.AgentExecution{
			AgentId: id, Type: "assess_state", Success: true, At: o.clk.Now(),
		})
	}
	systemEfficiency := meanF(effSum, len(ids))
	strategicAlignment := o.computeStrategicAlignment(goalTrees)
	var autonomySum float64
	for _, id := range ids {
		autonomySum += o.GetAutonomy(id)
	}
	_ = meanF(autonomySum, len(ids)) // adaptationCapacity: computed for observability only

	// Phase 2: evaluate performance.
	for _, id := range ids {
		ag := o.agentByID(id)
		progress, err := ag.EvaluateGoalProgress(ctx)
		if err != nil {
			logger.Warn("evaluate_goal_progress failed, aborting cycle", zap.String("agent", string(id)), zap.Error(err))
			return err
		}
		a := assessments[id]
		a.progress = progress
		reputation := o.Reputation(id)
		autonomy := o.GetAutonomy(id)
		a.performanceScore = (reputation + progress.OverallProgress + autonomy) / 3.0
	}

	// Phase 3: conflicts / emergent behavior.
	var conflictDecisions []types.Decision
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			report := conflict.AnalyzeConflict(goalTrees[ids[i]], goalTrees[ids[j]])
			if report.Severity > 0.3 {
				conflictDecisions = append(conflictDecisions, o.newDecision(cycleId, SystemAgentId, types.DecisionConflictResolution,
					fmt.Sprintf("conflict between %s and %s: %s", ids[i], ids[j], report.Description),
					map[string]any{"agentA": ids[i], "agentB": ids[j], "severity": report.Severity},
					types.SeverityMedium, 1-report.Severity))
			}
		}
	}
	o.recentMu.Lock()
	recent := append([]types.Decision(nil), o.recentDecisions...)
	o.recentMu.Unlock()
	var amplifyDecisions []types.Decision
	for _, eb := range conflict.DetectEmergent(recent) {
		if eb.Beneficial {
			amplifyDecisions = append(amplifyDecisions, o.newDecision(cycleId, SystemAgentId, types.DecisionAmplifyEmergentBehavior,
				eb.Description, map[string]any{"type": eb.Type, "strength": eb.Strength},
				types.SeverityLow, eb.Strength))
		}
	}

	// Phase 4: make strategic decisions.
	market, err := o.md.FetchPrice(ctx)
	if err != nil {
		logger.Warn("fetch_price failed this cycle", zap.Error(err))
	}
	changeF, _ := market.Change24h.Float64()
	sysCtx := expert.SystemContext{
		SystemEfficiency:    systemEfficiency,
		StrategicAlignment:  strategicAlignment,
		RecentVolatilityPct: absF(changeF),
	}
	expertDecision := expert.MakeExpertDecision(market, portfolio, sysCtx)
	perfVerdict := expert.ValidatePerformanceExpert(sysCtx)

	var decisions []types.Decision
	decisions = append(decisions, o.newDecision(cycleId, SystemAgentId, types.DecisionExpertMethodologyIntegration,
		fmt.Sprintf("expert regime=%s action=%s", expertDecision.Regime, expertDecision.Action),
		map[string]any{"regime": expertDecision.Regime, "action": expertDecision.Action, "sizeFraction": expertDecision.SizeFraction},
		types.SeverityLow, expertDecision.Confidence))

	if perfVerdict.Verdict == expert.VerdictHighRisk {
		d := o.newDecision(cycleId, SystemAgentId, types.DecisionExpertRiskControl,
			"expert methodology flagged high risk: "+perfVerdict.Focus,
			map[string]any{"issues": perfVerdict.Issues}, types.SeverityCritical, 0.9)
		d.Action = []types.ActionTag{types.ActionReduceLeverage, types.ActionSwitchToPreservation}
		decisions = append(decisions, d)
	}
	if expertDecision.Regime == expert.RegimeHighVolatilitySpike {
		d := o.newDecision(cycleId, SystemAgentId, types.DecisionExpertRegimeAdaptation,
			"volatility spike regime detected", map[string]any{"regime": expertDecision.Regime},
			types.SeverityCritical, expertDecision.Confidence)
		d.Action = []types.ActionTag{types.ActionSwitchToPreservation, types.ActionReduceLeverage, types.ActionWaitForStability}
		decisions = append(decisions, d)
	}

	for _, id := range ids {
		a := assessments[id]
		if a.progress.NeedsAdaptation || a.performanceScore < 0.6 {
			d := o.newDecision(cycleId, id, types.DecisionAgentAdaptation,
				fmt.Sprintf("performanceScore=%.2f goalProgress=%.2f below threshold", a.performanceScore, a.progress.OverallProgress),
				map[string]any{"performanceScore": a.performanceScore, "goalProgress": a.progress.OverallProgress},
				types.SeverityMedium, 1-a.performanceScore)
			d.Action = []types.ActionTag{types.ActionGoalAdaptation, types.ActionStrategyAdjustment}
			d.GoalsSnapshot = goalTrees[id]
			decisions = append(decisions, d)
		}
	}
	decisions = append(decisions, conflictDecisions...)
	decisions = append(decisions, amplifyDecisions...)

	if strategicAlignment < 0.7 {
		decisions = append(decisions, o.newDecision(cycleId, SystemAgentId, types.DecisionSystemRealignment,
			fmt.Sprintf("strategicAlignment=%.2f below 0.7", strategicAlignment),
			map[string]any{"strategicAlignment": strategicAlignment}, types.SeverityHigh, 1-strategicAlignment))
	}

	// Phase 5: goal adaptation.
	results := make(map[string]*types.ExecutionResult, len(decisions))
	for i := range decisions {
		d := &decisions[i]
		if d.Type != types.DecisionAgentAdaptation {
			continue
		}
		ag := o.agentByID(d.AgentId)
		if ag == nil {
			continue
		}
		newGoals, err := ag.EvolveGoals(ctx, *d)
		if err != nil {
			logger.Warn("evolve_goals rejected", zap.String("agent", string(d.AgentId)), zap.Error(err))
			results[d.ID] = &types.ExecutionResult{DecisionId: d.ID, Success: false, QualityScore: 0.3, Type: d.Type, Reason: err.Error()}
			continue
		}
		d.GoalsSnapshot = newGoals
	}

	// Phase 6: coordinate actions, in priority order.
	ordered := append([]types.Decision(nil), decisions...)
	sortByPriority(ordered)

	var successCount, totalCount int
	for _, d := range ordered {
		totalCount++
		result, ok := results[d.ID]
		if !ok {
			result = o.executeDecision(ctx, d)
			results[d.ID] = result
		}
		if result.Success {
			successCount++
		}
		o.BumpReputation(d.AgentId, (result.QualityScore-0.5)*0.05)

		summary := fmt.Sprintf("%s executed success=%v quality=%.2f", d.Type, result.Success, result.QualityScore)
		o.bus.PublishCoordination(SystemAgentId, d.ID, d.Type, summary)

		record := types.DecisionRecord{Decision: d, Execution: result}
		o.dlog.Record(record)
		if ag := o.agentByID(d.AgentId); ag != nil {
			if ba, ok := ag.(interface{ RecordDecision(types.DecisionRecord) }); ok {
				ba.RecordDecision(record)
			}
		}
		o.pushRecentDecision(d)
	}

	// Phase 7: system-wide learning.
	var successRate float64
	if totalCount > 0 {
		successRate = float64(successCount) / float64(totalCount)
	}
	o.sys.RecordCycleOutcome(successCount, totalCount)
	newRate := o.sys.NudgeLearningRate(successRate)
	logger.Info("cycle learning updated", zap.Float64("successRate", successRate), zap.Float64("learningRate", newRate))

	// Phase 8: autonomy adjustment.
	for _, id := range ids {
		a := assessments[id]
		current := o.GetAutonomy(id)
		next := current
		switch {
		case a.performanceScore > 0.85:
			next = minF(0.99, current*1.05)
		case a.performanceScore < 0.5:
			next = maxF(0.30, current*0.95)
		}
		if next != current {
			o.SetAutonomy(id, next)
		}
	}

	// Phase 9: persist cycle summary and portfolio snapshot.
	if err := o.st.AppendPortfolioSnapshot(ctx, portfolio); err != nil {
		logger.Warn("append_portfolio_snapshot failed", zap.Error(sentinelerr.NewStoreError("append_portfolio_snapshot", err)))
	}
	summary := store.CycleSummary{
		CycleId:            cycleId,
		At:                 o.clk.Now(),
		DecisionCount:      len(ordered),
		SuccessCount:        successCount,
		TotalCount:          totalCount,
		SystemEfficiency:    systemEfficiency,
		StrategicAlignment: strategicAlignment,
	}
	if err := o.st.AppendCycleSummary(ctx, summary); err != nil {
		logger.Warn("append_cycle_summary failed", zap.Error(sentinelerr.NewStoreError("append_cycle_summary", err)))
	}

	return nil
}

func (o *Orchestrator) agentIDs() []types.AgentId {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]types.AgentId, 0, len(o.registry))
	for id := range o.registry {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (o *Orchestrator) agentByID(id types.AgentId) agent.Agent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.registry[id]
}

func (o *Orchestrator) pushRecentDecision(d types.Decision) {
	o.recentMu.Lock()
	defer o.recentMu.Unlock()
	o.recentDecisions = append(o.recentDecisions, d)
	if len(o.recentDecisions) > recentDecisionWindow {
		o.recentDecisions = o.recentDecisions[len(o.recentDecisions)-recentDecisionWindow:]
	}
}

// computeStrategicAlignment is the policy-defined heuristic over
// goal-KPI overlap spec.md §4.1 leaves undefined beyond a documented
// fallback: with fewer than two goal trees to compare there is nothing
// to measure alignment against, so it returns the fallback of 0.7;
// otherwise it reports how little agents' goals conflict, averaged
// across every pair (1 - mean pairwise conflict severity).
func (o *Orchestrator) computeStrategicAlignment(goalTrees map[types.AgentId]types.GoalTree) float64 {
	if len(goalTrees) < 2 {
		return 0.7
	}
	ids := make([]types.AgentId, 0, len(goalTrees))
	for id := range goalTrees {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var sum float64
	var n int
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			report := conflict.AnalyzeConflict(goalTrees[ids[i]], goalTrees[ids[j]])
			sum += 1 - report.Severity
			n++
		}
	}
	if n == 0 {
		return 0.7
	}
	return sum / float64(n)
}

func meanF(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
