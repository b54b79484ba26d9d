package triage

import (
	"context"

	"github.com/linnemanlabs/go-core/log"

	"github.com/maternahealth/materna/internal/llm"
)

const visionSystemPrompt = `You are a clinical imagery analyst supporting maternal triage.
You receive a photograph of a pregnant patient and describe visible clinical
signs such as oedema (swelling), jaundice, pallor, rashes, or bruising.
Flag a finding as critical only when it suggests an immediate threat.
Always output valid JSON only. No preamble. No markdown.`

const visionPrompt = `Analyze this clinical image of a pregnant patient for visible symptoms like
oedema (swelling), jaundice, or rashes. Identify any clinical anomalies.

Respond with ONLY this JSON structure:
{
  "findings": "<description of visible clinical signs, or 'no visible anomalies'>",
  "critical": true|false
}`

// VisionAgent analyzes attached clinical imagery with a multimodal backend.
// It never fails a case: absent imagery yields a skipped result and backend
// errors yield a failed result with a human-readable explanation.
type VisionAgent struct {
	provider llm.Provider
	model    string
	logger   log.Logger
}

// NewVisionAgent creates a vision agent. model is recorded on successful
// findings for audit.
func NewVisionAgent(provider llm.Provider, model string, logger log.Logger) *VisionAgent {
	if logger == nil {
		logger = log.Nop()
	}
	return &VisionAgent{provider: provider, model: model, logger: logger}
}

// Run analyzes the case image, if any. enabled reflects the topology flag at
// snapshot time; a disabled agent reports skipped even when imagery is
// attached.
func (a *VisionAgent) Run(ctx context.Context, vc *ValidatedCase, enabled bool) *VisionFindings {
	if len(vc.Image) == 0 {
		return &VisionFindings{Status: VisionSkipped, Findings: "No clinical imagery provided."}
	}
	if !enabled || a.provider == nil {
		return &VisionFindings{Status: VisionSkipped, Findings: "Vision analysis disabled by current topology."}
	}

	resp, err := a.provider.Generate(ctx, &llm.GenerateRequest{
		System:         visionSystemPrompt,
		Prompt:         visionPrompt,
		Image:          vc.Image,
		ImageMediaType: vc.ImageMediaType,
	})
	if err != nil {
		a.logger.Warn(ctx, "vision analysis failed", "error", err)
		return &VisionFindings{Status: VisionFailed, Findings: "Vision service error: " + err.Error()}
	}

	var out struct {
		Findings string `json:"findings"`
		Critical bool   `json:"critical"`
	}
	if err := resp.Decode(&out); err != nil {
		a.logger.Warn(ctx, "vision output unparseable", "error", err)
		return &VisionFindings{Status: VisionFailed, Findings: "Vision service returned an unreadable response."}
	}
	if out.Findings == "" {
		out.Findings = "No findings returned."
	}
	return &VisionFindings{
		Status:   VisionSuccess,
		Findings: out.Findings,
		Model:    firstNonEmpty(a.model, resp.Model),
		Critical: out.Critical,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
