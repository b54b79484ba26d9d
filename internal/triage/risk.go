package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/maternahealth/materna/internal/llm"
)

const riskSystemPrompt = `You are an expert maternal-fetal medicine triage specialist.
Your role is to assess maternal risk from clinical vitals and symptoms and output
a structured JSON risk assessment. You must follow WHO and NICE guidelines for
preeclampsia and hypertensive disorders of pregnancy.

RISK LEVELS:
- severe: Immediate life-threatening danger. BP >= 160/110 plus neurological or organ signs
- high: Significant risk requiring urgent escalation. BP >= 140/90 plus proteinuria or symptoms
- moderate: Monitoring warranted. BP 130-139/80-89 or an isolated single symptom
- low: No significant concern at present

SCORING GUIDE (0-100):
- severe: 85-100
- high: 70-84
- moderate: 40-69
- low: 0-39

Always output valid JSON only. No preamble. No markdown.`

const riskPromptTemplate = `Assess the maternal risk for the following patient:

PATIENT:
- Name: %s
- Age: %d years
- Gestational age: %d weeks

VITALS:
- Blood Pressure: %d/%d mmHg
- Heart rate: %s
- Proteinuria: %s

SYMPTOMS:
%s

CLINICAL NOTES: %s

Respond with ONLY this JSON structure:
{
  "risk_level": "low|moderate|high|severe",
  "risk_score": <number 0-100>,
  "confidence": <float 0.0-1.0>,
  "reasoning": "<one to three clear clinical sentences explaining your assessment>",
  "immediate_actions": ["<action 1>", "<action 2>"]
}`

// RiskAgent produces a structured risk assessment for a validated case. It
// never fails a case: when the model backend is unreachable or emits garbage,
// the deterministic rule layer takes over with a reduced confidence.
type RiskAgent struct {
	provider         llm.Provider
	logger           log.Logger
	fallbackDiscount float64
}

// NewRiskAgent creates a risk agent. fallbackDiscount multiplies the
// confidence of any rule-based fallback result (0 < d <= 1).
func NewRiskAgent(provider llm.Provider, logger log.Logger, fallbackDiscount float64) *RiskAgent {
	if logger == nil {
		logger = log.Nop()
	}
	if fallbackDiscount <= 0 || fallbackDiscount > 1 {
		fallbackDiscount = 1
	}
	return &RiskAgent{provider: provider, logger: logger, fallbackDiscount: fallbackDiscount}
}

// Run scores the case. The returned result always satisfies the level
// thresholds and the danger-symptom floor.
func (a *RiskAgent) Run(ctx context.Context, vc *ValidatedCase) *RiskResult {
	res, err := a.generate(ctx, vc)
	if err != nil {
		a.logger.Warn(ctx, "risk agent falling back to rules", "error", err)
		res = a.ruleBasedRisk(vc)
	}
	a.normalize(vc, res)
	return res
}

func (a *RiskAgent) generate(ctx context.Context, vc *ValidatedCase) (*RiskResult, error) {
	if a.provider == nil {
		return nil, &BackendUnavailableError{Backend: "edge", Err: fmt.Errorf("no provider configured")}
	}
	resp, err := a.provider.Generate(ctx, &llm.GenerateRequest{
		System: riskSystemPrompt,
		Prompt: a.prompt(vc),
	})
	if err != nil {
		return nil, &BackendUnavailableError{Backend: "edge", Err: err}
	}
	var res RiskResult
	if err := resp.Decode(&res); err != nil {
		return nil, err
	}
	if res.Reasoning == "" && res.RiskScore == 0 && res.RiskLevel == "" {
		return nil, fmt.Errorf("risk agent: model returned an empty assessment")
	}
	return &res, nil
}

func (a *RiskAgent) prompt(vc *ValidatedCase) string {
	heartRate := "not recorded"
	if vc.Vitals.HeartRate != nil {
		heartRate = fmt.Sprintf("%d bpm", *vc.Vitals.HeartRate)
	}
	symptoms := "- None reported"
	if list := vc.SymptomList(); len(list) > 0 {
		var b strings.Builder
		for _, s := range list {
			fmt.Fprintf(&b, "- %s\n", strings.ReplaceAll(s, "_", " "))
		}
		symptoms = strings.TrimRight(b.String(), "\n")
	}
	notes := vc.Notes
	if notes == "" {
		notes = "None"
	}
	return fmt.Sprintf(riskPromptTemplate,
		vc.Name, vc.Age, vc.GestationalAgeWeeks,
		vc.Vitals.Systolic, vc.Vitals.Diastolic,
		heartRate, vc.Vitals.Proteinuria,
		symptoms, notes,
	)
}

// normalize clamps model output into range and enforces the two scoring
// invariants: the level always matches the score bucket, and any
// danger-flagged symptom floors the level at high.
func (a *RiskAgent) normalize(vc *ValidatedCase, res *RiskResult) {
	res.RiskScore = clamp(res.RiskScore, 0, 100)
	res.Confidence = clamp(res.Confidence, 0, 1)

	res.RiskLevel = LevelForScore(res.RiskScore)
	if vc.HasDangerSymptom() && res.RiskLevel.Rank() < RiskHigh.Rank() {
		res.RiskLevel = RiskHigh
		if res.RiskScore < scoreHighFloor {
			res.RiskScore = scoreHighFloor
		}
	}
	if res.ImmediateActions == nil {
		res.ImmediateActions = []string{}
	}
}

// ruleBasedRisk is the deterministic fallback used when no model backend is
// reachable. Scores land inside the intended level bucket so normalize does
// not move them.
func (a *RiskAgent) ruleBasedRisk(vc *ValidatedCase) *RiskResult {
	sys := vc.Vitals.Systolic
	neuro := vc.HasSymptom(SymptomHeadache) || vc.HasSymptom(SymptomVisualDisturbance) ||
		vc.HasSymptom(SymptomConvulsions)
	proteinuria := vc.ProteinuriaGrade >= proteinuriaGrades["1+"]

	var res *RiskResult
	switch {
	case sys >= 160 || (sys >= 140 && neuro) || vc.HasSymptom(SymptomConvulsions):
		res = &RiskResult{
			RiskLevel:  RiskSevere,
			RiskScore:  90,
			Confidence: 0.95,
			Reasoning:  "Severe hypertension with neurological symptoms meets criteria for severe preeclampsia.",
			ImmediateActions: []string{
				"Administer MgSO4 4g IV loading dose over 20 minutes",
				"Give antihypertensive (labetalol 20mg IV or nifedipine 10mg oral)",
				"Arrange immediate transfer to obstetric unit",
				"Continuous fetal monitoring",
			},
		}
	case sys >= 140 && (proteinuria || vc.HasDangerSymptom()):
		res = &RiskResult{
			RiskLevel:  RiskHigh,
			RiskScore:  72,
			Confidence: 0.85,
			Reasoning:  "Hypertension with proteinuria or warning symptoms consistent with preeclampsia.",
			ImmediateActions: []string{
				"Monitor BP every 15 minutes",
				"Urine output monitoring",
				"Blood tests: FBC, LFT, urate, creatinine",
			},
		}
	case sys >= 130 || vc.HasSymptom(SymptomEpigastricPain) || vc.HasSymptom(SymptomBleeding):
		res = &RiskResult{
			RiskLevel:        RiskModerate,
			RiskScore:        45,
			Confidence:       0.75,
			Reasoning:        "Borderline hypertension or concerning symptoms warrant closer monitoring.",
			ImmediateActions: []string{"Repeat BP in 30 minutes", "Urine dipstick"},
		}
	default:
		res = &RiskResult{
			RiskLevel:        RiskLow,
			RiskScore:        12,
			Confidence:       0.90,
			Reasoning:        "Vital signs within normal range. No significant risk factors identified.",
			ImmediateActions: []string{"Routine antenatal monitoring at next visit"},
		}
	}
	res.Confidence *= a.fallbackDiscount
	res.Fallback = true
	return res
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
