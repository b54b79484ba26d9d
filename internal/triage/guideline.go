package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/maternahealth/materna/internal/llm"
	"github.com/maternahealth/materna/internal/retrieval"
)

const guidelineSystemPrompt = `You are an evidence-based maternal health clinical advisor.
Your role is to produce a clear, actionable clinical management plan grounded in
WHO and NICE guidelines for hypertensive disorders of pregnancy.

Use ONLY the guideline excerpts provided in the prompt context.
Do NOT invent medications or dosages; cite from the provided excerpts.
Always output valid JSON only. No preamble. No markdown.`

const guidelinePromptTemplate = `You are advising on the clinical management of a maternal patient.

RISK ASSESSMENT:
- Risk Level: %s
- Risk Score: %.0f / 100
- Reasoning: %s

KEY VITALS:
- BP: %d/%d mmHg
- Gestational age: %d weeks
- Proteinuria: %s

RETRIEVED GUIDELINE EXCERPTS:
%s

Based on the above risk level and guideline excerpts, produce a clinical management plan.

Respond with ONLY this JSON structure:
{
  "stabilization_plan": "<step-by-step stabilization actions>",
  "monitoring_instructions": "<what to monitor and at what intervals>",
  "medication_guidance": "<recommended medications with doses based on guidelines>",
  "guideline_sources": ["<relevant guideline reference 1>", "<reference 2>"]
}`

// ungroundedContext is what the synthesis model sees when no corpus passage
// clears the similarity cutoff. Results built from it carry Grounded=false
// and no sources, so a reader can tell cited advice from generic advice.
const ungroundedContext = `No guideline passage in the local corpus matched this case closely enough
to cite. Provide conservative general guidance consistent with standard
maternal care, and state that no specific guideline excerpt applies.`

// GuidelineAgent retrieves relevant guideline passages and synthesizes a
// management plan from them. Never fails a case: retrieval misses degrade to
// ungrounded guidance and backend failures degrade to the deterministic plan
// table.
type GuidelineAgent struct {
	index         retrieval.Index
	provider      llm.Provider
	logger        log.Logger
	minSimilarity float64
	topK          int
}

// NewGuidelineAgent creates a guideline agent. Matches scoring below
// minSimilarity are discarded; at most topK passages feed the prompt.
func NewGuidelineAgent(index retrieval.Index, provider llm.Provider, logger log.Logger, minSimilarity float64, topK int) *GuidelineAgent {
	if logger == nil {
		logger = log.Nop()
	}
	if topK <= 0 {
		topK = 3
	}
	return &GuidelineAgent{
		index:         index,
		provider:      provider,
		logger:        logger,
		minSimilarity: minSimilarity,
		topK:          topK,
	}
}

// Run produces the guideline result for a scored case.
func (a *GuidelineAgent) Run(ctx context.Context, vc *ValidatedCase, risk *RiskResult) *GuidelineResult {
	excerpts, sources, grounded := a.retrieve(ctx, vc, risk)

	res, err := a.generate(ctx, vc, risk, excerpts)
	if err != nil {
		a.logger.Warn(ctx, "guideline agent falling back to plan table", "error", err)
		res = ruleBasedGuideline(risk.RiskLevel)
		res.Fallback = true
	}
	res.Grounded = grounded
	if grounded {
		if len(res.GuidelineSources) == 0 {
			res.GuidelineSources = sources
		}
	} else {
		res.GuidelineSources = []string{}
	}
	return res
}

// retrieve builds the corpus query and returns the prompt context, the cited
// sources, and whether anything cleared the cutoff.
func (a *GuidelineAgent) retrieve(ctx context.Context, vc *ValidatedCase, risk *RiskResult) (string, []string, bool) {
	query := a.query(vc, risk)

	matches, err := a.index.Search(ctx, query, a.topK)
	if err != nil {
		a.logger.Warn(ctx, "guideline retrieval failed", "error", err)
		return ungroundedContext, nil, false
	}

	var kept []retrieval.Match
	for _, m := range matches {
		if m.Similarity >= a.minSimilarity {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		return ungroundedContext, nil, false
	}

	var b strings.Builder
	sources := make([]string, 0, len(kept))
	for i, m := range kept {
		fmt.Fprintf(&b, "[%d] (%s, similarity %.2f):\n%s\n\n", i+1, m.Source, m.Similarity, m.Text)
		sources = append(sources, m.Source)
	}
	return strings.TrimRight(b.String(), "\n"), sources, true
}

func (a *GuidelineAgent) query(vc *ValidatedCase, risk *RiskResult) string {
	parts := []string{
		fmt.Sprintf("maternal %s risk hypertension management", risk.RiskLevel),
		fmt.Sprintf("BP %d/%d", vc.Vitals.Systolic, vc.Vitals.Diastolic),
		fmt.Sprintf("gestational weeks %d", vc.GestationalAgeWeeks),
	}
	if vc.ProteinuriaGrade > 0 {
		parts = append(parts, "proteinuria")
	}
	if risk.RiskLevel.Rank() >= RiskHigh.Rank() {
		parts = append(parts, "preeclampsia")
	} else {
		parts = append(parts, "hypertension monitoring")
	}
	for _, s := range vc.SymptomList() {
		parts = append(parts, strings.ReplaceAll(s, "_", " "))
	}
	return strings.Join(parts, " ")
}

func (a *GuidelineAgent) generate(ctx context.Context, vc *ValidatedCase, risk *RiskResult, guidelineContext string) (*GuidelineResult, error) {
	if a.provider == nil {
		return nil, &BackendUnavailableError{Backend: "edge", Err: fmt.Errorf("no provider configured")}
	}
	prompt := fmt.Sprintf(guidelinePromptTemplate,
		risk.RiskLevel, risk.RiskScore, risk.Reasoning,
		vc.Vitals.Systolic, vc.Vitals.Diastolic,
		vc.GestationalAgeWeeks, vc.Vitals.Proteinuria,
		guidelineContext,
	)
	resp, err := a.provider.Generate(ctx, &llm.GenerateRequest{
		System: guidelineSystemPrompt,
		Prompt: prompt,
	})
	if err != nil {
		return nil, &BackendUnavailableError{Backend: "edge", Err: err}
	}
	var res GuidelineResult
	if err := resp.Decode(&res); err != nil {
		return nil, err
	}
	if res.StabilizationPlan == "" {
		return nil, fmt.Errorf("guideline agent: model omitted the stabilization plan")
	}
	return &res, nil
}

// ruleBasedGuideline is the deterministic plan table used when the synthesis
// backend is unreachable.
func ruleBasedGuideline(level RiskLevel) *GuidelineResult {
	switch level {
	case RiskSevere:
		return &GuidelineResult{
			StabilizationPlan: "1. Call obstetric emergency team immediately.\n" +
				"2. Secure IV access (two large-bore lines).\n" +
				"3. Administer MgSO4 4g IV loading dose over 15-20 min.\n" +
				"4. Start antihypertensive: Labetalol 20mg IV or Nifedipine 10mg oral.\n" +
				"5. Insert urinary catheter and monitor urine output (target >25mL/hr).\n" +
				"6. Arrange emergency obstetric transfer.",
			MonitoringInstructions: "BP every 5 minutes until stable, then every 15 minutes. " +
				"Continuous CTG. Pulse oximetry. GCS monitoring every 30 minutes. " +
				"Blood tests: FBC, U&E, LFT, uric acid, coagulation.",
			MedicationGuidance: "MgSO4: 4g IV over 20 min (loading), then 1-2g/hr maintenance. " +
				"Labetalol 20mg IV q10min (max 300mg) OR Nifedipine 10mg oral (may repeat). " +
				"Hydralazine 5mg IV if BP remains above 160/110 after labetalol.",
		}
	case RiskHigh:
		return &GuidelineResult{
			StabilizationPlan: "1. Semi-recumbent position, O2 if SpO2 < 95%.\n" +
				"2. IV access, blood samples (FBC, LFT, renal function, uric acid).\n" +
				"3. Urine dipstick and 24-hour urine protein collection.\n" +
				"4. Oral antihypertensive if BP >= 150/100.",
			MonitoringInstructions: "BP every 15 minutes. Urine output hourly. Daily bloods. " +
				"CTG twice daily. Watch for headache, visual changes, epigastric pain.",
			MedicationGuidance: "Nifedipine LA 20mg oral BD or Methyldopa 250mg oral TDS. " +
				"Do NOT use ACE inhibitors or ARBs in pregnancy.",
		}
	case RiskModerate:
		return &GuidelineResult{
			StabilizationPlan: "1. Rest and repeat BP after 5-10 minutes.\n" +
				"2. Urine dipstick for protein.\n" +
				"3. Review medications and dietary salt intake.",
			MonitoringInstructions: "BP twice daily. Urine dipstick every visit. " +
				"Weekly blood tests if on antihypertensives. Fetal growth scan if < 34 weeks.",
			MedicationGuidance: "Consider starting antihypertensive if BP consistently >= 140/90.",
		}
	default:
		return &GuidelineResult{
			StabilizationPlan:      "Continue routine antenatal care. No immediate interventions required.",
			MonitoringInstructions: "Routine antenatal BP monitoring at each visit.",
			MedicationGuidance:     "No medications currently indicated.",
		}
	}
}
