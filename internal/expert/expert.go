// Package expert implements the pure, deterministic trading methodology:
// given a market snapshot, portfolio, and lightweight system context, it
// classifies a regime and proposes a bounded trading action. Grounded in
// spirit on internal/regime/detector.go's "classify from computed
// thresholds" style, restricted to the three regimes and the pure
// function signature spec.md §4.4 requires — no I/O, no global state.
package expert

import (
	"math"

	"github.com/atlas-desktop/btcintel/pkg/types"
)

// Regime is ExpertMethodology's categorical read of market state.
type Regime string

const (
	RegimeTrending          Regime = "TRENDING"
	RegimeChoppyRangeBound  Regime = "CHOPPY_RANGE_BOUND"
	RegimeHighVolatilitySpike Regime = "HIGH_VOLATILITY_SPIKE"
)

// Action is the proposed trading direction.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// MaxSizeFraction hard-caps ExpertDecision.SizeFraction at 2% risk per
// trade, per spec.md §4.4.
const MaxSizeFraction = 0.02

// ExpertDecision is the pure output of MakeExpertDecision.
type ExpertDecision struct {
	Regime       Regime
	Action       Action
	SizeFraction float64
	Confidence   float64
	Reasoning    string
	Principles   []string
}

// Verdict is ExpertMethodology's risk read.
type Verdict string

const (
	VerdictOK       Verdict = "OK"
	VerdictWatch    Verdict = "WATCH"
	VerdictHighRisk Verdict = "HIGH_RISK"
)

// PerformanceVerdict is the pure output of ValidatePerformanceExpert.
type PerformanceVerdict struct {
	Verdict Verdict
	Focus   string
	Issues  []string
}

// SystemContext is the lightweight aggregate state ExpertMethodology
// reads alongside market and portfolio, kept deliberately small: a
// richer "system-wide" read would require I/O, which this component
// must not perform.
type SystemContext struct {
	SystemEfficiency   float64
	StrategicAlignment float64
	RecentVolatilityPct float64 // absolute 24h change magnitude, percent
}

// MakeExpertDecision is a pure function: the same inputs always produce
// the same output, with no I/O and no mutation of any shared state.
func MakeExpertDecision(market types.MarketSnapshot, portfolio types.Portfolio, sys SystemContext) ExpertDecision {
	regime := classifyRegime(market, sys)

	switch regime {
	case RegimeHighVolatilitySpike:
		return ExpertDecision{
			Regime:       regime,
			Action:       ActionHold,
			SizeFraction: 0,
			Confidence:   0.9,
			Reasoning:    "volatility spike detected; preserving capital until conditions stabilize",
			Principles:   []string{"capital preservation", "volatility avoidance"},
		}
	case RegimeChoppyRangeBound:
		return ExpertDecision{
			Regime:       regime,
			Action:       ActionHold,
			SizeFraction: 0,
			Confidence:   0.6,
			Reasoning:    "range-bound market offers no directional edge",
			Principles:   []string{"avoid overtrading", "wait for breakout confirmation"},
		}
	default: // RegimeTrending
		changeF, _ := market.Change24h.Float64()
		action := ActionHold
		confidence := 0.5
		switch {
		case changeF > 2.0:
			action = ActionBuy
			confidence = clamp01(0.5 + changeF/20.0)
		case changeF < -2.0:
			action = ActionSell
			confidence = clamp01(0.5 + (-changeF)/20.0)
		}
		size := 0.0
		if action != ActionHold {
			size = minF(MaxSizeFraction, MaxSizeFraction*confidence)
		}
		return ExpertDecision{
			Regime:       regime,
			Action:       action,
			SizeFraction: size,
			Confidence:   confidence,
			Reasoning:    "trending market supports a directional position sized to 2% risk or less",
			Principles:   []string{"trend following", "risk-capped sizing"},
		}
	}
}

// classifyRegime reads only its arguments, never global state.
func classifyRegime(market types.MarketSnapshot, sys SystemContext) Regime {
	changeF, _ := market.Change24h.Float64()
	absChange := math.Abs(changeF)

	if absChange > 8.0 || sys.RecentVolatilityPct > 8.0 {
		return RegimeHighVolatilitySpike
	}
	if absChange < 1.5 {
		return RegimeChoppyRangeBound
	}
	return RegimeTrending
}

// ValidatePerformanceExpert is a pure risk-verdict function over
// aggregate system metrics.
func ValidatePerformanceExpert(sys SystemContext) PerformanceVerdict {
	var issues []string

	if sys.RecentVolatilityPct > 8.0 {
		issues = append(issues, "recent volatility exceeds 8%")
	}
	if sys.SystemEfficiency < 0.5 {
		issues = append(issues, "system efficiency below 0.5")
	}
	if sys.StrategicAlignment < 0.7 {
		issues = append(issues, "strategic alignment below 0.7")
	}

	switch {
	case sys.RecentVolatilityPct > 8.0 || sys.SystemEfficiency < 0.4:
		return PerformanceVerdict{Verdict: VerdictHighRisk, Focus: "risk containment", Issues: issues}
	case len(issues) > 0:
		return PerformanceVerdict{Verdict: VerdictWatch, Focus: "performance monitoring", Issues: issues}
	default:
		return PerformanceVerdict{Verdict: VerdictOK, Focus: "steady state", Issues: issues}
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

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
