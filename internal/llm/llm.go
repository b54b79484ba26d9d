// Package llm defines the capability interface for generative model
// backends. Agents depend on Provider only; concrete clients live in the
// ollama and claude subpackages.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// GenerateRequest asks a backend for a single structured JSON completion.
// Agents always request JSON output; Provider implementations are
// responsible for coaxing their backend into that shape.
type GenerateRequest struct {
	System    string
	Prompt    string
	MaxTokens int

	// Optional image attachment for multimodal backends.
	Image          []byte
	ImageMediaType string
}

// GenerateResponse is the parsed backend output.
type GenerateResponse struct {
	// JSON holds the single JSON object the model produced.
	JSON json.RawMessage

	Model        string
	InputTokens  int
	OutputTokens int
}

// Decode unmarshals the response JSON into out.
func (r *GenerateResponse) Decode(out any) error {
	if len(r.JSON) == 0 {
		return fmt.Errorf("llm: empty response body")
	}
	if err := json.Unmarshal(r.JSON, out); err != nil {
		return fmt.Errorf("llm: decode model output: %w", err)
	}
	return nil
}

// Provider is the interface for any generative model backend.
type Provider interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// ExtractJSON pulls the first JSON object out of a model response that may
// be wrapped in markdown fences or prose. Returns an error when no balanced
// object is found.
func ExtractJSON(text string) (json.RawMessage, error) {
	s := strings.TrimSpace(text)

	// Strip a markdown code fence if present.
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.Index(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	if json.Valid([]byte(s)) && strings.HasPrefix(s, "{") {
		return json.RawMessage(s), nil
	}

	// Scan for the first balanced {...} block, respecting strings.
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, fmt.Errorf("llm: no JSON object in model output")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					candidate := s[start : i+1]
					if !json.Valid([]byte(candidate)) {
						return nil, fmt.Errorf("llm: model output is not valid JSON")
					}
					return json.RawMessage(candidate), nil
				}
			}
		}
	}
	return nil, fmt.Errorf("llm: unterminated JSON object in model output")
}
