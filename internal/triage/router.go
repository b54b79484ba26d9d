package triage

import (
	"fmt"
	"strings"

	"github.com/maternahealth/materna/internal/topology"
)

// RouterPolicy holds the rule-based escalation thresholds. No model is
// involved in routing; the decision is a pure function of the case state and
// the topology mode captured at submission time.
type RouterPolicy struct {
	// ScoreThreshold escalates any case whose risk score reaches it,
	// regardless of level.
	ScoreThreshold float64
}

// DefaultRouterPolicy matches the clinical review defaults.
func DefaultRouterPolicy() RouterPolicy {
	return RouterPolicy{ScoreThreshold: 65}
}

// Decision is the router's output for one case.
type Decision struct {
	Escalate bool
	Reason   string
}

// Decide evaluates every escalation trigger and returns the combined
// decision. All firing triggers contribute to the reason so the record shows
// the full clinical picture, not just the first match.
//
// Mode overrides come last: OFFLINE suppresses escalation outright (the
// cloud is unreachable by policy) and CLOUD escalates every case.
func (p RouterPolicy) Decide(mode topology.Mode, vc *ValidatedCase, risk *RiskResult, vision *VisionFindings) Decision {
	var reasons []string

	if risk.RiskLevel.Rank() >= RiskHigh.Rank() {
		if risk.RiskLevel == RiskSevere {
			reasons = append(reasons, "severe maternal risk classification")
		} else {
			reasons = append(reasons, fmt.Sprintf("high risk classification (score %.0f, confidence %.2f)", risk.RiskScore, risk.Confidence))
		}
	}
	if risk.RiskScore >= p.ScoreThreshold {
		reasons = append(reasons, fmt.Sprintf("risk score %.0f at or above escalation threshold %.0f", risk.RiskScore, p.ScoreThreshold))
	}
	if vc.Vitals.Systolic >= 160 {
		reasons = append(reasons, fmt.Sprintf("systolic BP critically elevated at %d mmHg", vc.Vitals.Systolic))
	}
	if vc.HasSymptom(SymptomHeadache) && vc.HasSymptom(SymptomVisualDisturbance) {
		reasons = append(reasons, "combined neurological symptoms (headache and visual disturbance)")
	}
	if vision != nil && vision.Status == VisionSuccess && vision.Critical {
		reasons = append(reasons, "critical finding on clinical imagery")
	}

	switch mode {
	case topology.ModeOffline:
		// Escalation is suppressed, not hidden: the record keeps the triggers
		// that would have fired so staff can act on them manually.
		if len(reasons) > 0 {
			return Decision{Escalate: false, Reason: "escalation suppressed (offline mode); triggers: " + strings.Join(reasons, "; ")}
		}
		return Decision{}
	case topology.ModeCloud:
		if len(reasons) == 0 {
			return Decision{Escalate: true, Reason: "cloud-first topology routes all cases to the executive agent"}
		}
		return Decision{Escalate: true, Reason: strings.Join(reasons, "; ")}
	}

	if len(reasons) == 0 {
		return Decision{}
	}
	return Decision{Escalate: true, Reason: strings.Join(reasons, "; ")}
}
