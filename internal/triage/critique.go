package triage

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/go-core/log"

	"github.com/maternahealth/materna/internal/llm"
)

const critiqueSystemPrompt = `You are a meticulous clinical safety lead.
Your role is to review a proposed maternal management plan and identify
any safety gaps, contradictions, or violations of clinical protocol.

Check specifically for:
1. Incorrect magnesium sulphate dosages.
2. Inappropriate use of antihypertensives.
3. Logical contradictions between the risk level and the stabilization plan.

If the plan is safe, set 'safe' to true.
If you find issues, set 'safe' to false and describe the required correction.

Always output valid JSON only.`

const critiquePromptTemplate = `REVIEW REQUEST:
Patient Risk: %s
Proposed Plan: %s
Medication Guidance: %s

CRITIQUE:
Respond with ONLY this JSON structure:
{
  "safe": true|false,
  "safety_score": <int 0-100>,
  "critique_notes": "<summary of findings>",
  "revised_plan": "<if unsafe, provide the corrected version, else null>"
}`

// CritiqueAgent runs a safety review over the guideline plan. When the
// review flags the plan as unsafe and supplies a revision, the revision
// replaces the stabilization plan in place. Review failures are absorbed;
// the original plan stands.
type CritiqueAgent struct {
	provider llm.Provider
	logger   log.Logger
}

func NewCritiqueAgent(provider llm.Provider, logger log.Logger) *CritiqueAgent {
	if logger == nil {
		logger = log.Nop()
	}
	return &CritiqueAgent{provider: provider, logger: logger}
}

// Run reviews and possibly revises guide. Fallback plans from the
// deterministic table skip review; they are fixed text.
func (a *CritiqueAgent) Run(ctx context.Context, risk *RiskResult, guide *GuidelineResult) {
	if a.provider == nil || guide.Fallback {
		return
	}

	prompt := fmt.Sprintf(critiquePromptTemplate,
		risk.RiskLevel, guide.StabilizationPlan, guide.MedicationGuidance)

	resp, err := a.provider.Generate(ctx, &llm.GenerateRequest{
		System: critiqueSystemPrompt,
		Prompt: prompt,
	})
	if err != nil {
		a.logger.Warn(ctx, "critique pass skipped", "error", err)
		return
	}

	var out struct {
		Safe        bool   `json:"safe"`
		SafetyScore int    `json:"safety_score"`
		Notes       string `json:"critique_notes"`
		RevisedPlan string `json:"revised_plan"`
	}
	if err := resp.Decode(&out); err != nil {
		a.logger.Warn(ctx, "critique output unparseable", "error", err)
		return
	}
	if !out.Safe && out.RevisedPlan != "" {
		a.logger.Info(ctx, "critique revised stabilization plan",
			"safety_score", out.SafetyScore, "notes", out.Notes)
		guide.StabilizationPlan = out.RevisedPlan
		guide.MedicationGuidance += "\n(Note: revised for safety on review.)"
	}
}
