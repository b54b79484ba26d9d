package llm

import (
	"encoding/json"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			"bare object",
			`{"risk_level": "high"}`,
			`{"risk_level": "high"}`,
			false,
		},
		{
			"markdown fence",
			"```json\n{\"risk_level\": \"high\"}\n```",
			`{"risk_level": "high"}`,
			false,
		},
		{
			"fence without language",
			"```\n{\"safe\": true}\n```",
			`{"safe": true}`,
			false,
		},
		{
			"object wrapped in prose",
			`Here is my assessment: {"risk_level": "severe", "nested": {"a": 1}} Hope this helps.`,
			`{"risk_level": "severe", "nested": {"a": 1}}`,
			false,
		},
		{
			"braces inside strings",
			`{"reasoning": "the {pattern} is benign"}`,
			`{"reasoning": "the {pattern} is benign"}`,
			false,
		},
		{
			"escaped quotes inside strings",
			`{"notes": "patient said \"fine\""}`,
			`{"notes": "patient said \"fine\""}`,
			false,
		},
		{"no object at all", "the patient is fine", "", true},
		{"unterminated object", `{"risk_level": "high"`, "", true},
		{"empty input", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ExtractJSON(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ExtractJSON(%q) = %s, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSON(%q): %v", tt.input, err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestGenerateResponse_Decode(t *testing.T) {
	t.Parallel()

	resp := &GenerateResponse{JSON: json.RawMessage(`{"risk_score": 72.5}`)}
	var out struct {
		RiskScore float64 `json:"risk_score"`
	}
	if err := resp.Decode(&out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.RiskScore != 72.5 {
		t.Errorf("risk_score = %v, want 72.5", out.RiskScore)
	}

	empty := &GenerateResponse{}
	if err := empty.Decode(&out); err == nil {
		t.Error("Decode accepted an empty response")
	}
}
