// Package claude implements llm.Provider on the Anthropic API. This is the
// cloud expert backend: the executive synthesis agent and the vision agent
// run here.
package claude

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/maternahealth/materna/internal/llm"
)

// Client wraps the Anthropic SDK behind the llm.Provider interface.
type Client struct {
	client  anthropic.Client
	model   string
	baseURL string
	probe   *http.Client
}

// New creates a Claude-backed provider for the given API key and model.
// timeout bounds each messages call.
func New(apiKey, model string, timeout time.Duration) *Client {
	return &Client{
		client: anthropic.NewClient(
			option.WithAPIKey(apiKey),
			option.WithRequestTimeout(timeout),
		),
		model:   model,
		baseURL: "https://api.anthropic.com",
		probe:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Host returns the API host this client talks to.
func (c *Client) Host() string { return c.baseURL }

// Generate sends a single-turn messages request and parses the JSON object
// out of the text response.
func (c *Client) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1500
	}

	blocks := make([]anthropic.ContentBlockParamUnion, 0, 2)
	if len(req.Image) > 0 {
		blocks = append(blocks, anthropic.NewImageBlockBase64(
			req.ImageMediaType,
			base64.StdEncoding.EncodeToString(req.Image),
		))
	}
	blocks = append(blocks, anthropic.NewTextBlock(req.Prompt))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude: messages: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	raw, err := llm.ExtractJSON(text.String())
	if err != nil {
		return nil, err
	}

	return &llm.GenerateResponse{
		JSON:         raw,
		Model:        string(msg.Model),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

// Probe checks API reachability without spending tokens.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("claude: create probe request: %w", err)
	}
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.probe.Do(req)
	if err != nil {
		return fmt.Errorf("claude: probe: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// 401 still proves the API is reachable; only 5xx or transport errors
	// count as offline.
	if resp.StatusCode >= 500 {
		return fmt.Errorf("claude: probe returned %d", resp.StatusCode)
	}
	return nil
}
