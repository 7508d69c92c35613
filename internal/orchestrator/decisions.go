package orchestrator

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/atlas-desktop/btcintel/pkg/types"
)

// newDecision builds a Decision carrying the full provenance the
// DecisionLogger requires: autonomy level at decision time and a goals
// snapshot (populated by the caller when one exists), confidence, and
// the single selected alternative (this policy never proposes more
// than the one path it takes, so alternatives records what else was
// considered in principle).
func (o *Orchestrator) newDecision(cycleId string, agentId types.AgentId, typ types.DecisionType, rationale string, inputs map[string]any, risk types.Severity, confidence float64) types.Decision {
	return types.Decision{
		ID:                      uuid.NewString(),
		AgentId:                 agentId,
		CycleId:                 cycleId,
		Type:                    typ,
		Rationale:               rationale,
		Inputs:                  inputs,
		Alternatives:            []string{"no_action"},
		Selected:                string(typ),
		Confidence:              clamp01(confidence),
		RiskAssessment:          risk,
		Parameters:              map[string]any{},
		ExpectedResult:          rationale,
		ExpectedImprovement:     confidence,
		ExpectedDurationMs:      100,
		AutonomyLevelAtDecision: o.GetAutonomy(agentId),
		At:                      o.clk.Now(),
	}
}

var priorityRank = map[types.Severity]int{
	types.SeverityCritical: 0,
	types.SeverityHigh:     1,
	types.SeverityMedium:   2,
	types.SeverityLow:      3,
}

// effectiveRisk returns d's priority tier, promoting EXPERT_RISK_CONTROL
// to critical unconditionally, per spec.md §4.1.
func effectiveRisk(d types.Decision) types.Severity {
	if d.Type == types.DecisionExpertRiskControl {
		return types.SeverityCritical
	}
	return d.RiskAssessment
}

// sortByPriority orders decisions critical > high > medium > low;
// within a tier, by descending expectedImprovement, then ascending
// expectedDurationMs.
func sortByPriority(decisions []types.Decision) {
	sort.SliceStable(decisions, func(i, j int) bool {
		ri, rj := priorityRank[effectiveRisk(decisions[i])], priorityRank[effectiveRisk(decisions[j])]
		if ri != rj {
			return ri < rj
		}
		if decisions[i].ExpectedImprovement != decisions[j].ExpectedImprovement {
			return decisions[i].ExpectedImprovement > decisions[j].ExpectedImprovement
		}
		return decisions[i].ExpectedDurationMs < decisions[j].ExpectedDurationMs
	})
}

// executeDecision runs one decision's concrete side effect. A single
// decision's failure is recorded, never aborts the cycle. Unknown
// decision types fail with quality 0.2, per spec.md §4.1.
func (o *Orchestrator) executeDecision(ctx context.Context, d types.Decision) *types.ExecutionResult {
	if err := ctx.Err(); err != nil {
		return &types.ExecutionResult{DecisionId: d.ID, Success: false, QualityScore: 0.2, Type: d.Type, Reason: "cancelled"}
	}

	switch d.Type {
	case types.DecisionAgentAdaptation:
		ag := o.agentByID(d.AgentId)
		if ag == nil {
			return &types.ExecutionResult{DecisionId: d.ID, Success: false, QualityScore: 0.2, Type: d.Type, Reason: "unknown agent"}
		}
		if err := ag.ExecuteAdaptation(ctx, d.Action); err != nil {
			return &types.ExecutionResult{DecisionId: d.ID, Success: false, QualityScore: 0.3, Type: d.Type, Reason: err.Error()}
		}
		return &types.ExecutionResult{DecisionId: d.ID, Success: true, QualityScore: 0.8, Type: d.Type}

	case types.DecisionExpertRegimeAdaptation, types.DecisionExpertRiskControl:
		for _, id := range o.agentIDs() {
			if ag := o.agentByID(id); ag != nil {
				_ = ag.ExecuteAdaptation(ctx, d.Action)
			}
		}
		return &types.ExecutionResult{DecisionId: d.ID, Success: true, QualityScore: 0.9, Type: d.Type}

	case types.DecisionConflictResolution, types.DecisionAmplifyEmergentBehavior, types.DecisionSystemRealignment:
		return &types.ExecutionResult{DecisionId: d.ID, Success: true, QualityScore: 0.7, Type: d.Type}

	case types.DecisionExpertMethodologyIntegration:
		return &types.ExecutionResult{DecisionId: d.ID, Success: true, QualityScore: 0.6, Type: d.Type}

	default:
		return &types.ExecutionResult{DecisionId: d.ID, Success: false, QualityScore: 0.2, Type: d.Type, Reason: "unknown decision type"}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
