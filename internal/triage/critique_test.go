package triage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/linnemanlabs/go-core/log"
)

func TestCritiqueAgent_RevisesUnsafePlan(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{response: `{
		"safe": false,
		"safety_score": 40,
		"critique_notes": "MgSO4 maintenance dose too high.",
		"revised_plan": "1. MgSO4 4g loading, then 1g/hr maintenance."
	}`}
	agent := NewCritiqueAgent(provider, log.Nop())

	guide := &GuidelineResult{
		StabilizationPlan:  "1. MgSO4 4g loading, then 4g/hr maintenance.",
		MedicationGuidance: "MgSO4 per protocol.",
	}
	agent.Run(context.Background(), severeRisk(), guide)

	if !strings.Contains(guide.StabilizationPlan, "1g/hr") {
		t.Errorf("plan = %q, want the revised version", guide.StabilizationPlan)
	}
	if !strings.Contains(guide.MedicationGuidance, "revised for safety") {
		t.Errorf("medication guidance = %q, want the revision note", guide.MedicationGuidance)
	}
}

func TestCritiqueAgent_LeavesSafePlanAlone(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{response: `{"safe": true, "safety_score": 95, "critique_notes": "No issues.", "revised_plan": null}`}
	agent := NewCritiqueAgent(provider, log.Nop())

	guide := &GuidelineResult{StabilizationPlan: "original", MedicationGuidance: "original"}
	agent.Run(context.Background(), severeRisk(), guide)

	if guide.StabilizationPlan != "original" || guide.MedicationGuidance != "original" {
		t.Errorf("safe plan was modified: %+v", guide)
	}
}

func TestCritiqueAgent_SkipsFallbackPlans(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{response: `{"safe": false, "safety_score": 10, "critique_notes": "x", "revised_plan": "y"}`}
	agent := NewCritiqueAgent(provider, log.Nop())

	guide := ruleBasedGuideline(RiskSevere)
	guide.Fallback = true
	original := guide.StabilizationPlan

	agent.Run(context.Background(), severeRisk(), guide)
	if guide.StabilizationPlan != original {
		t.Error("fallback plan was reviewed and modified")
	}
	if len(provider.requests) != 0 {
		t.Error("fallback plan still hit the provider")
	}
}

func TestCritiqueAgent_AbsorbsReviewFailure(t *testing.T) {
	t.Parallel()

	agent := NewCritiqueAgent(&mockProvider{err: errors.New("timeout")}, log.Nop())

	guide := &GuidelineResult{StabilizationPlan: "original", MedicationGuidance: "original"}
	agent.Run(context.Background(), severeRisk(), guide)
	if guide.StabilizationPlan != "original" {
		t.Error("failed review modified the plan")
	}
}
