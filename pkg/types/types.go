// Package types provides shared domain type definitions for the
// orchestrator: agents, goals, portfolio, market snapshots, signals,
// decisions, and the messages that move between agents.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// AgentId is a stable opaque identifier, unique within a registry.
type AgentId string

// TraitName is a closed enum of personality traits an agent carries,
// each mapped to a bounded integer in [0,100].
type TraitName string

const (
	TraitAggression      TraitName = "aggression"
	TraitRiskTolerance    TraitName = "risk_tolerance"
	TraitPatience         TraitName = "patience"
	TraitCuriosity        TraitName = "curiosity"
	TraitCooperativeness  TraitName = "cooperativeness"
)

// ActionTag is a closed enum of adaptation actions an agent may be told
// to execute. Unknown tags outside this set are no-ops at the call site.
type ActionTag string

const (
	ActionGoalAdaptation    ActionTag = "GOAL_ADAPTATION"
	ActionStrategyAdjustment ActionTag = "STRATEGY_ADJUSTMENT"
	ActionIncreaseAutonomy  ActionTag = "INCREASE_AUTONOMY"
	ActionSwitchToPreservation ActionTag = "SWITCH_TO_PRESERVATION"
	ActionReduceLeverage    ActionTag = "REDUCE_LEVERAGE"
	ActionWaitForStability  ActionTag = "WAIT_FOR_STABILITY"
)

// Goal is a single node in an agent's GoalTree.
type Goal struct {
	ID                     string          `json:"id"`
	Description            string          `json:"description"`
	Priority               float64         `json:"priority"` // [0,1]
	KPIs                   map[string]bool `json:"kpis"`     // set of KPI names
	AutonomouslyModifiable bool            `json:"autonomouslyModifiable"`
}

// Clone returns a deep copy of the goal, used whenever a GoalTree is
// snapshotted for an external reader.
func (g Goal) Clone() Goal {
	kpis := make(map[string]bool, len(g.KPIs))
	for k, v := range g.KPIs {
		kpis[k] = v
	}
	return Goal{
		ID:                     g.ID,
		Description:            g.Description,
		Priority:               g.Priority,
		KPIs:                   kpis,
		AutonomouslyModifiable: g.AutonomouslyModifiable,
	}
}

// GoalTree is an agent's hierarchical goal set: exactly one primary goal
// plus an ordered sequence of secondary goals. All goal ids must be
// unique within the tree.
type GoalTree struct {
	Primary   Goal   `json:"primary"`
	Secondary []Goal `json:"secondary"`
}

// Clone returns a deep copy suitable for handing to a caller outside the
// owning agent.
func (t GoalTree) Clone() GoalTree {
	secondary := make([]Goal, len(t.Secondary))
	for i, g := range t.Secondary {
		secondary[i] = g.Clone()
	}
	return GoalTree{Primary: t.Primary.Clone(), Secondary: secondary}
}

// AllGoals returns the primary goal followed by the secondary goals, in
// order, useful for id-uniqueness checks and KPI-overlap scans.
func (t GoalTree) AllGoals() []Goal {
	out := make([]Goal, 0, len(t.Secondary)+1)
	out = append(out, t.Primary)
	out = append(out, t.Secondary...)
	return out
}

// Portfolio is the simulated holdings the system tracks.
type Portfolio struct {
	BTC           float64   `json:"btc"`           // nonneg
	USD           float64   `json:"usd"`           // nonneg
	TotalValueUsd float64   `json:"totalValueUsd"` // >= 0
	UpdatedAt     time.Time `json:"updatedAt"`
}

// MarketSnapshot is a point-in-time read of aggregate BTC market state.
type MarketSnapshot struct {
	PriceUsd   decimal.Decimal `json:"priceUsd"`
	Volume24h  decimal.Decimal `json:"volume24h"`
	Change24h  decimal.Decimal `json:"change24h"`
	FearGreed  int             `json:"fearGreed"` // [0,100]; -1 when unknown
	At         time.Time       `json:"at"`
}

// SourceKind enumerates the eight specialized signal sources MarketHunter
// may query, one-for-one with Signal.Kind.
type SourceKind string

const (
	SourceWhale         SourceKind = "whale"
	SourceNarrative     SourceKind = "narrative"
	SourceArbitrage     SourceKind = "arbitrage"
	SourceInfluencer    SourceKind = "influencer"
	SourceTechnical     SourceKind = "technical"
	SourceInstitutional SourceKind = "institutional"
	SourceDerivative    SourceKind = "derivative"
	SourceMacro         SourceKind = "macro"
)

// AllSourceKinds lists the eight sources in a stable order, used by the
// bandit's per-cycle scoring pass.
func AllSourceKinds() []SourceKind {
	return []SourceKind{
		SourceWhale, SourceNarrative, SourceArbitrage, SourceInfluencer,
		SourceTechnical, SourceInstitutional, SourceDerivative, SourceMacro,
	}
}

// SignalKind mirrors SourceKind but spelled as the upper-case wire enum
// spec.md §3 uses for Signal.kind.
type SignalKind string

const (
	SignalWhale         SignalKind = "WHALE"
	SignalNarrative     SignalKind = "NARRATIVE"
	SignalArbitrage     SignalKind = "ARBITRAGE"
	SignalInfluencer    SignalKind = "INFLUENCER"
	SignalTechnical     SignalKind = "TECHNICAL"
	SignalInstitutional SignalKind = "INSTITUTIONAL"
	SignalDerivative    SignalKind = "DERIVATIVE"
	SignalMacro         SignalKind = "MACRO"
)

// SourceKindToSignalKind maps a data source to the Signal.kind it
// produces.
func SourceKindToSignalKind(s SourceKind) SignalKind {
	switch s {
	case SourceWhale:
		return SignalWhale
	case SourceNarrative:
		return SignalNarrative
	case SourceArbitrage:
		return SignalArbitrage
	case SourceInfluencer:
		return SignalInfluencer
	case SourceTechnical:
		return SignalTechnical
	case SourceInstitutional:
		return SignalInstitutional
	case SourceDerivative:
		return SignalDerivative
	case SourceMacro:
		return SignalMacro
	default:
		return ""
	}
}

// Severity is the closed enum Signal and Decision risk fields use.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2, SeverityCritical: 3,
}

// Less reports whether s ranks strictly below other in the order
// low<medium<high<critical (i.e. other has strictly higher priority).
func (s Severity) Less(other Severity) bool {
	return severityRank[s] < severityRank[other]
}

// BroadcastTarget is the sentinel AgentId meaning "all registered agents".
const BroadcastTarget AgentId = "*"

// Signal is a MarketHunter output: a typed observation with a severity,
// a confidence score, and a set of target agents to notify.
type Signal struct {
	Kind       SignalKind        `json:"kind"`
	Severity   Severity          `json:"severity"`
	Confidence float64           `json:"confidence"` // [0,1]
	Targets    []AgentId         `json:"targets"`
	Payload    map[string]any    `json:"payload"`
	At         time.Time         `json:"at"`
}

// SourceMetric is the rolling per-source quality statistic the
// MarketHunter bandit scores against.
type SourceMetric struct {
	Name              string    `json:"name"`
	SuccessRate       float64   `json:"successRate"`       // [0,1]
	AvgSignalQuality  float64   `json:"avgSignalQuality"`  // [0,1]
	TotalCalls        uint64    `json:"totalCalls"`
	SuccessfulCalls   uint64    `json:"successfulCalls"`
	SignalsGenerated  uint64    `json:"signalsGenerated"`
	LastUsedAt        time.Time `json:"lastUsedAt"`
}

// DecisionType is the enum of decisions the orchestrator (or, for
// EXPERT_METHODOLOGY_INTEGRATION, the expert pipeline) may emit.
type DecisionType string

const (
	DecisionSystemRealignment          DecisionType = "SYSTEM_REALIGNMENT"
	DecisionAgentAdaptation            DecisionType = "AGENT_ADAPTATION"
	DecisionConflictResolution         DecisionType = "CONFLICT_RESOLUTION"
	DecisionAmplifyEmergentBehavior    DecisionType = "AMPLIFY_EMERGENT_BEHAVIOR"
	DecisionExpertRiskControl          DecisionType = "EXPERT_RISK_CONTROL"
	DecisionExpertRegimeAdaptation     DecisionType = "EXPERT_REGIME_ADAPTATION"
	DecisionExpertMethodologyIntegration DecisionType = "EXPERT_METHODOLOGY_INTEGRATION"
)

// Decision is a recorded intent to act, carrying full provenance for the
// DecisionLogger.
type Decision struct {
	ID                     string         `json:"id"`
	AgentId                AgentId        `json:"agentId"`
	CycleId                string         `json:"cycleId"`
	Type                   DecisionType   `json:"type"`
	Rationale              string         `json:"rationale"`
	Inputs                 map[string]any `json:"inputs"`
	Alternatives           []string       `json:"alternatives"`
	Selected               string         `json:"selected"`
	Confidence             float64        `json:"confidence"` // [0,1]
	RiskAssessment         Severity       `json:"riskAssessment"`
	Action                 []ActionTag    `json:"action"`
	Parameters             map[string]any `json:"parameters"`
	ExpectedResult         string         `json:"expectedResult"`
	ExpectedImprovement    float64        `json:"expectedImprovement"`
	ExpectedDurationMs     int64          `json:"expectedDurationMs"`
	AutonomyLevelAtDecision float64       `json:"autonomyLevelAtDecision"`
	GoalsSnapshot          GoalTree       `json:"goalsSnapshot"`
	At                     time.Time      `json:"at"`
}

// ExecutionResult is the outcome of executing a Decision.
type ExecutionResult struct {
	DecisionId string       `json:"decisionId"`
	Success    bool         `json:"success"`
	QualityScore float64    `json:"qualityScore"` // [0,1]
	DurationMs int64        `json:"durationMs"`
	Type       DecisionType `json:"type"`
	Reason     string       `json:"reason,omitempty"`
}

// DecisionRecord is the fully-provenanced record the DecisionLogger
// persists: the Decision itself plus its execution outcome once known.
type DecisionRecord struct {
	Decision  Decision         `json:"decision"`
	Execution *ExecutionResult `json:"execution,omitempty"`
}

// MessageKind enumerates the typed payloads carried over the MessageBus.
type MessageKind string

const (
	MessageSignal             MessageKind = "SIGNAL"
	MessageAdaptationRequest   MessageKind = "ADAPTATION_REQUEST"
	MessageCoordination        MessageKind = "COORDINATION"
)

// Message is an immutable envelope moved over the MessageBus. To is
// BroadcastTarget for a broadcast message.
type Message struct {
	From    AgentId     `json:"from"`
	To      AgentId     `json:"to"`
	Kind    MessageKind `json:"kind"`
	Payload any         `json:"payload"`
	At      time.Time   `json:"at"`
}

// SignalMsg is the payload of a MessageKind=SIGNAL message.
type SignalMsg struct {
	Signal Signal `json:"signal"`
}

// AdaptationRequestMsg is the payload of a MessageKind=ADAPTATION_REQUEST
// message: the orchestrator asking an agent to evolve its goals.
type AdaptationRequestMsg struct {
	Decision Decision `json:"decision"`
}

// CoordinationMsg is the payload of a MessageKind=COORDINATION message:
// a broadcast notice that a decision has been executed.
type CoordinationMsg struct {
	DecisionId string       `json:"decisionId"`
	Type       DecisionType `json:"type"`
	Summary    string       `json:"summary"`
}

// PerfSample is one entry in an agent's bounded performance history.
type PerfSample struct {
	Efficiency    float64   `json:"efficiency"`
	Accuracy      float64   `json:"accuracy"`
	Responsiveness float64  `json:"responsiveness"`
	GoalProgress  float64   `json:"goalProgress"`
	At            time.Time `json:"at"`
}

// AssessedState is the return value of Agent.AssessState.
type AssessedState struct {
	Perf         PerfSample `json:"perf"`
	GoalProgress float64    `json:"goalProgress"`
	Autonomy     float64    `json:"autonomy"`
}

// GoalProgressReport is the return value of Agent.EvaluateGoalProgress.
type GoalProgressReport struct {
	OverallProgress float64 `json:"overallProgress"` // [0,1]
	NeedsAdaptation bool    `json:"needsAdaptation"`
}
