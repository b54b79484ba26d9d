package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/maternahealth/materna/internal/llm"
)

const executiveSystemPrompt = `You are a senior consultant obstetrician and maternal-fetal medicine specialist
with 20+ years of clinical experience. You receive escalated high-risk or severe maternal cases from
peripheral clinic nurse stations, each pre-assessed by an AI risk model and guideline retrieval system.

Your role:
1. Review the full case summary (risk assessment + guideline plan + patient data)
2. Produce a harmonised, senior-level escalation and care plan
3. Specify referral urgency and priority with clinical justification
4. Estimate a safe transfer window

Guidelines to follow: WHO Hypertensive Disorders of Pregnancy 2011, NICE NG133 2019, RCOG Green-top Guideline 10A.

Always output ONLY valid JSON. No preamble, no markdown, no explanations outside the JSON.`

const executivePromptTemplate = `You are reviewing an escalated maternal case from a peripheral clinic.

PATIENT DATA:
%s

EDGE RISK ASSESSMENT:
- Risk level: %s
- Risk score: %.0f/100
- Confidence: %.2f
- Reasoning: %s
- Immediate actions recommended: %s

GUIDELINE PLAN:
- Stabilization plan: %s
- Monitoring: %s
- Medication: %s
- Guideline references: %s

ESCALATION REASON: %s

As the senior consultant, produce your expert harmonised opinion.

Respond with ONLY this JSON:
{
  "executive_summary": "<2-3 sentence clinical overview of the case and its urgency>",
  "care_plan": "<detailed ordered care plan, numbered steps>",
  "referral_priority": "immediate|urgent|routine",
  "justification": "<clinical justification for referral priority, citing specific parameters>",
  "time_to_transfer_hours": <float, e.g. 0.5 for 30 min>,
  "receiving_facility_requirements": "<what the receiving facility must be capable of>",
  "in_transit_care": "<what must happen during patient transport>"
}`

// ExecutiveAgent produces the senior-consultant synthesis for escalated
// cases. Unlike the edge agents it is all-or-nothing: a usable plan has
// every required field valid, and anything less is an error the pipeline
// turns into a local degradation.
type ExecutiveAgent struct {
	provider llm.Provider
	logger   log.Logger
}

func NewExecutiveAgent(provider llm.Provider, logger log.Logger) *ExecutiveAgent {
	if logger == nil {
		logger = log.Nop()
	}
	return &ExecutiveAgent{provider: provider, logger: logger}
}

// Run synthesizes the escalation plan. The returned plan is complete and
// internally valid, or the error describes why no plan exists.
func (a *ExecutiveAgent) Run(ctx context.Context, vc *ValidatedCase, risk *RiskResult, guide *GuidelineResult, reason string) (*ExecutivePlan, error) {
	if a.provider == nil {
		return nil, &BackendUnavailableError{Backend: "cloud", Err: fmt.Errorf("no cloud provider configured")}
	}

	prompt := fmt.Sprintf(executivePromptTemplate,
		formatPatient(vc),
		risk.RiskLevel, risk.RiskScore, risk.Confidence, risk.Reasoning,
		strings.Join(risk.ImmediateActions, ", "),
		guide.StabilizationPlan, guide.MonitoringInstructions, guide.MedicationGuidance,
		strings.Join(guide.GuidelineSources, ", "),
		reason,
	)

	resp, err := a.provider.Generate(ctx, &llm.GenerateRequest{
		System:    executiveSystemPrompt,
		Prompt:    prompt,
		MaxTokens: 2000,
	})
	if err != nil {
		return nil, &BackendUnavailableError{Backend: "cloud", Err: err}
	}

	var plan ExecutivePlan
	if err := resp.Decode(&plan); err != nil {
		return nil, err
	}
	if err := validatePlan(&plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// validatePlan enforces the all-or-nothing contract: partial plans are
// rejected rather than persisted.
func validatePlan(p *ExecutivePlan) error {
	switch {
	case p.ExecutiveSummary == "":
		return fmt.Errorf("executive plan missing summary")
	case p.CarePlan == "":
		return fmt.Errorf("executive plan missing care plan")
	case p.Justification == "":
		return fmt.Errorf("executive plan missing justification")
	case !validReferralPriority(p.ReferralPriority):
		return fmt.Errorf("executive plan has invalid referral priority %q", p.ReferralPriority)
	case p.TimeToTransferHours <= 0:
		return fmt.Errorf("executive plan has non-positive transfer window %.2f", p.TimeToTransferHours)
	}
	return nil
}

func formatPatient(vc *ValidatedCase) string {
	symptoms := "none reported"
	if list := vc.SymptomList(); len(list) > 0 {
		symptoms = strings.Join(list, ", ")
	}
	return fmt.Sprintf(
		"Name: %s, Age: %d, GA: %d weeks, BP: %d/%d mmHg, Proteinuria: %s, Symptoms: %s",
		vc.Name, vc.Age, vc.GestationalAgeWeeks,
		vc.Vitals.Systolic, vc.Vitals.Diastolic,
		vc.Vitals.Proteinuria, symptoms,
	)
}
