// Package ollama implements llm.Provider against a locally running Ollama
// instance. This is the edge-local backend: used for risk scoring, guideline
// synthesis, the critique pass, and query embeddings.
package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/maternahealth/materna/internal/llm"
)

// Client talks to the Ollama REST API.
type Client struct {
	baseURL    string
	model      string
	embedModel string
	httpClient *http.Client
}

// New creates a client for the given Ollama base URL and model names.
// timeout bounds each generate call; probes and embeds use shorter budgets.
func New(baseURL, model, embedModel string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Model returns the configured generation model name.
func (c *Client) Model() string { return c.model }

// Host returns the configured base URL.
func (c *Client) Host() string { return c.baseURL }

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Format  string         `json:"format,omitempty"`
	Stream  bool           `json:"stream"`
	Images  []string       `json:"images,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Generate calls /api/generate in JSON mode and parses the model output.
// Transient network errors get a single retry; HTTP error statuses and
// malformed model output do not.
func (c *Client) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1200
	}
	payload := generateRequest{
		Model:  c.model,
		Prompt: req.Prompt,
		System: req.System,
		Format: "json",
		Stream: false,
		Options: map[string]any{
			"temperature": 0.1,
			"num_predict": maxTokens,
		},
	}
	if len(req.Image) > 0 {
		payload.Images = []string{encodeBase64(req.Image)}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	resp, err := c.post(ctx, "/api/generate", body)
	if err != nil {
		return nil, err
	}

	var out generateResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("ollama: unmarshal response: %w", err)
	}

	raw, err := llm.ExtractJSON(out.Response)
	if err != nil {
		return nil, err
	}

	return &llm.GenerateResponse{
		JSON:         raw,
		Model:        c.model,
		InputTokens:  out.PromptEvalCount,
		OutputTokens: out.EvalCount,
	}, nil
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns a dense embedding for the given text via /api/embeddings.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.embedModel, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal embed request: %w", err)
	}

	resp, err := c.post(ctx, "/api/embeddings", body)
	if err != nil {
		return nil, err
	}

	var out embedResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("ollama: unmarshal embed response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("ollama: empty embedding for model %s", c.embedModel)
	}
	return out.Embedding, nil
}

// Probe checks that Ollama is reachable and the generation model is pulled.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama: create probe request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: probe: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: probe returned %d", resp.StatusCode)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("ollama: decode tags: %w", err)
	}
	for _, m := range tags.Models {
		if strings.Contains(m.Name, c.model) {
			return nil
		}
	}
	return fmt.Errorf("ollama: model %s not available", c.model)
}

// post sends a JSON body and returns the response bytes. One retry on
// transport-level errors only.
func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("ollama: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("ollama: post %s: %w", path, err)
			if retryable(err) {
				continue
			}
			return nil, lastErr
		}

		respBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("ollama: read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("ollama: %s returned %d: %s", path, resp.StatusCode, truncate(respBody, 256))
		}
		return respBody, nil
	}
	return nil, lastErr
}

// retryable reports whether an error is a transport-level failure worth one
// retry. Context cancellation and deadline expiry are not.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func encodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
