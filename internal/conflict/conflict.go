// Package conflict implements the two policy hooks spec.md §4.7 leaves
// as heuristics rather than fully specified algorithms: pairwise
// conflict severity between two agents' goals, and detection of
// coordinated decision patterns ("emergent behavior") across recent
// decisions. Modeled on the teacher's bounded-append-then-scan idiom
// (orchestrator.go's regimeHistory).
package conflict

import (
	"fmt"

	"github.com/atlas-desktop/btcintel/pkg/types"
)

// ConflictReport is the output of AnalyzeConflict.
type ConflictReport struct {
	Severity    float64 // [0,1]
	Description string
}

// AnalyzeConflict compares two agents' goal KPI sets: overlap on KPIs
// marked as mutually exclusive (a KPI name carrying the "exclusive:"
// prefix) increases severity. This is the documented heuristic
// spec.md §9 asks for, not a claim of a more principled model.
func AnalyzeConflict(a1, a2 types.GoalTree) ConflictReport {
	kpis1 := kpiSet(a1)
	kpis2 := kpiSet(a2)

	overlap := 0
	exclusiveOverlap := 0
	for k := range kpis1 {
		if kpis2[k] {
			overlap++
			if isExclusiveKPI(k) {
				exclusiveOverlap++
			}
		}
	}

	total := len(kpis1) + len(kpis2)
	if total == 0 {
		return ConflictReport{Severity: 0, Description: "no KPIs to compare"}
	}

	severity := clamp01(float64(overlap)/float64(total) + float64(exclusiveOverlap)*0.25)
	desc := fmt.Sprintf("%d shared KPI(s), %d mutually-exclusive overlap(s)", overlap, exclusiveOverlap)
	return ConflictReport{Severity: severity, Description: desc}
}

func kpiSet(t types.GoalTree) map[string]bool {
	out := make(map[string]bool)
	for _, g := range t.AllGoals() {
		for k, present := range g.KPIs {
			if present {
				out[k] = true
			}
		}
	}
	return out
}

func isExclusiveKPI(kpi string) bool {
	return len(kpi) > len("exclusive:") && kpi[:len("exclusive:")] == "exclusive:"
}

// EmergentBehavior is one detected pattern in recent decisions.
type EmergentBehavior struct {
	Type        string
	Description string
	Beneficial  bool
	Strength    float64 // [0,1]
}

// DetectEmergent scans a sliding window of recent decisions for
// repeated (type, agentId) co-occurrence across distinct agents within
// the window — the simple heuristic spec.md §4.7 describes.
func DetectEmergent(recentDecisions []types.Decision) []EmergentBehavior {
	counts := make(map[types.DecisionType]map[types.AgentId]int)
	for _, d := range recentDecisions {
		if counts[d.Type] == nil {
			counts[d.Type] = make(map[types.AgentId]int)
		}
		counts[d.Type][d.AgentId]++
	}

	var out []EmergentBehavior
	for decType, byAgent := range counts {
		if len(byAgent) < 2 {
			continue // not "coordinated" unless at least two distinct agents participate
		}
		total := 0
		for _, n := range byAgent {
			total += n
		}
		strength := clamp01(float64(total) / float64(len(recentDecisions)+1))
		beneficial := decType == types.DecisionAmplifyEmergentBehavior || decType == types.DecisionAgentAdaptation
		out = append(out, EmergentBehavior{
			Type:        string(decType),
			Description: fmt.Sprintf("%d agents independently issued %s within the window", len(byAgent), decType),
			Beneficial:  beneficial,
			Strength:    strength,
		})
	}
	return out
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
