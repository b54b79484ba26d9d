package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/maternahealth/materna/internal/llm"
)

func TestGenerate(t *testing.T) {
	t.Parallel()

	var gotReq generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(generateResponse{
			Response:        `{"risk_level": "high", "risk_score": 72}`,
			PromptEvalCount: 150,
			EvalCount:       60,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "medgemma:1.4b", "nomic-embed-text", 10*time.Second)
	resp, err := c.Generate(context.Background(), &llm.GenerateRequest{
		System: "you are a triage specialist",
		Prompt: "assess this case",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if gotReq.Model != "medgemma:1.4b" {
		t.Errorf("model = %q", gotReq.Model)
	}
	if gotReq.Format != "json" || gotReq.Stream {
		t.Errorf("format/stream = %q/%v, want json/false", gotReq.Format, gotReq.Stream)
	}
	if gotReq.System != "you are a triage specialist" {
		t.Errorf("system = %q", gotReq.System)
	}

	var out struct {
		RiskLevel string  `json:"risk_level"`
		RiskScore float64 `json:"risk_score"`
	}
	if err := resp.Decode(&out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.RiskLevel != "high" || out.RiskScore != 72 {
		t.Errorf("out = %+v", out)
	}
	if resp.InputTokens != 150 || resp.OutputTokens != 60 {
		t.Errorf("tokens = %d/%d, want 150/60", resp.InputTokens, resp.OutputTokens)
	}
}

func TestGenerate_AttachesImage(t *testing.T) {
	t.Parallel()

	var gotReq generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(generateResponse{Response: `{"findings": "oedema", "critical": false}`})
	}))
	defer srv.Close()

	c := New(srv.URL, "medgemma:1.4b", "nomic-embed-text", 10*time.Second)
	_, err := c.Generate(context.Background(), &llm.GenerateRequest{
		Prompt:         "describe the image",
		Image:          []byte{0xFF, 0xD8, 0xFF},
		ImageMediaType: "image/jpeg",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(gotReq.Images) != 1 || gotReq.Images[0] == "" {
		t.Errorf("images = %v, want one base64 payload", gotReq.Images)
	}
}

func TestGenerate_NonJSONOutput(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "the model rambled instead"})
	}))
	defer srv.Close()

	c := New(srv.URL, "medgemma:1.4b", "nomic-embed-text", 10*time.Second)
	if _, err := c.Generate(context.Background(), &llm.GenerateRequest{Prompt: "x"}); err == nil {
		t.Fatal("Generate accepted non-JSON model output")
	}
}

func TestGenerate_HTTPErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "medgemma:1.4b", "nomic-embed-text", 10*time.Second)
	if _, err := c.Generate(context.Background(), &llm.GenerateRequest{Prompt: "x"}); err == nil {
		t.Fatal("Generate succeeded against a 500")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on HTTP status)", calls)
	}
}

func TestEmbed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req embedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic-embed-text" {
			t.Errorf("embed model = %q", req.Model)
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	c := New(srv.URL, "medgemma:1.4b", "nomic-embed-text", 10*time.Second)
	vec, err := c.Embed(context.Background(), "preeclampsia management")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("len = %d, want 3", len(vec))
	}
}

func TestProbe(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"models": [{"name": "medgemma:1.4b"}, {"name": "nomic-embed-text:latest"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "medgemma:1.4b", "nomic-embed-text", 10*time.Second)
	if err := c.Probe(context.Background()); err != nil {
		t.Fatalf("Probe: %v", err)
	}

	missing := New(srv.URL, "llama3:70b", "nomic-embed-text", 10*time.Second)
	if err := missing.Probe(context.Background()); err == nil {
		t.Fatal("Probe passed for a model that is not pulled")
	}
}
