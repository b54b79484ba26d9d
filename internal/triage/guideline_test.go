package triage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	"github.com/maternahealth/materna/internal/retrieval"
)

type mockIndex struct {
	matches []retrieval.Match
	err     error
	queries []string
}

func (m *mockIndex) Search(_ context.Context, query string, _ int) ([]retrieval.Match, error) {
	m.queries = append(m.queries, query)
	return m.matches, m.err
}

func guidelineMatches() []retrieval.Match {
	return []retrieval.Match{
		{Chunk: retrieval.Chunk{Text: "MgSO4 is the first-line anticonvulsant.", Source: "WHO 2011 §3.2"}, Similarity: 0.82},
		{Chunk: retrieval.Chunk{Text: "Labetalol is first-line for acute severe hypertension.", Source: "NICE NG133 §1.5"}, Similarity: 0.74},
		{Chunk: retrieval.Chunk{Text: "Routine iron supplementation.", Source: "WHO ANC 2016"}, Similarity: 0.11},
	}
}

func severeRisk() *RiskResult {
	return &RiskResult{
		RiskLevel:  RiskSevere,
		RiskScore:  92,
		Confidence: 0.9,
		Reasoning:  "Severe hypertension with neurological symptoms.",
	}
}

func TestGuidelineAgent_GroundedResult(t *testing.T) {
	t.Parallel()

	index := &mockIndex{matches: guidelineMatches()}
	provider := &mockProvider{response: `{
		"stabilization_plan": "Administer MgSO4 loading dose.",
		"monitoring_instructions": "BP every 5 minutes.",
		"medication_guidance": "Labetalol 20mg IV.",
		"guideline_sources": []
	}`}
	agent := NewGuidelineAgent(index, provider, log.Nop(), 0.35, 3)

	res := agent.Run(context.Background(), severeCase(), severeRisk())
	if !res.Grounded {
		t.Fatal("Grounded = false with passages above the cutoff")
	}
	if res.Fallback {
		t.Error("Fallback = true for a successful synthesis")
	}
	want := []string{"WHO 2011 §3.2", "NICE NG133 §1.5"}
	if len(res.GuidelineSources) != len(want) {
		t.Fatalf("sources = %v, want %v", res.GuidelineSources, want)
	}
	for i, s := range want {
		if res.GuidelineSources[i] != s {
			t.Errorf("sources[%d] = %q, want %q", i, res.GuidelineSources[i], s)
		}
	}

	// the low-similarity passage must not reach the prompt
	prompt := provider.requests[0].Prompt
	if strings.Contains(prompt, "Routine iron supplementation") {
		t.Error("prompt includes a passage below the similarity cutoff")
	}
	if !strings.Contains(prompt, "first-line anticonvulsant") {
		t.Error("prompt missing the top retrieved passage")
	}
}

func TestGuidelineAgent_UngroundedWhenNothingClearsCutoff(t *testing.T) {
	t.Parallel()

	index := &mockIndex{matches: []retrieval.Match{
		{Chunk: retrieval.Chunk{Text: "Routine iron supplementation.", Source: "WHO ANC 2016"}, Similarity: 0.11},
	}}
	provider := &mockProvider{response: `{
		"stabilization_plan": "General conservative management.",
		"monitoring_instructions": "Routine monitoring.",
		"medication_guidance": "No specific guidance applies.",
		"guideline_sources": ["fabricated source"]
	}`}
	agent := NewGuidelineAgent(index, provider, log.Nop(), 0.35, 3)

	res := agent.Run(context.Background(), baselineCase(), severeRisk())
	if res.Grounded {
		t.Error("Grounded = true with nothing above the cutoff")
	}
	if len(res.GuidelineSources) != 0 {
		t.Errorf("sources = %v, want empty for ungrounded result", res.GuidelineSources)
	}
}

func TestGuidelineAgent_UngroundedOnSearchError(t *testing.T) {
	t.Parallel()

	index := &mockIndex{err: errors.New("index offline")}
	provider := &mockProvider{response: `{
		"stabilization_plan": "General conservative management.",
		"monitoring_instructions": "Routine monitoring.",
		"medication_guidance": "No specific guidance applies.",
		"guideline_sources": []
	}`}
	agent := NewGuidelineAgent(index, provider, log.Nop(), 0.35, 3)

	res := agent.Run(context.Background(), baselineCase(), severeRisk())
	if res.Grounded {
		t.Error("Grounded = true after a retrieval failure")
	}
}

func TestGuidelineAgent_FallbackPlanTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level    RiskLevel
		wantPlan string
	}{
		{RiskSevere, "MgSO4"},
		{RiskHigh, "IV access"},
		{RiskModerate, "Urine dipstick"},
		{RiskLow, "routine antenatal care"},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			t.Parallel()

			index := &mockIndex{matches: guidelineMatches()}
			agent := NewGuidelineAgent(index, &mockProvider{err: errors.New("connection refused")}, log.Nop(), 0.35, 3)

			risk := severeRisk()
			risk.RiskLevel = tt.level
			res := agent.Run(context.Background(), baselineCase(), risk)
			if !res.Fallback {
				t.Fatal("Fallback = false with unreachable provider")
			}
			if !strings.Contains(res.StabilizationPlan, tt.wantPlan) {
				t.Errorf("plan = %q, want it to mention %q", res.StabilizationPlan, tt.wantPlan)
			}
			if res.MonitoringInstructions == "" || res.MedicationGuidance == "" {
				t.Error("fallback plan left monitoring or medication guidance empty")
			}
		})
	}
}
