package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/maternahealth/materna/internal/triage"
)

func escalatedCase() *triage.CaseResult {
	return &triage.CaseResult{
		VisitID:          "01TESTVISIT",
		PatientName:      "Amina Yusuf",
		GestationalWeeks: 34,
		Vitals:           triage.Vitals{Systolic: 165, Diastolic: 112, Proteinuria: "2+"},
		Symptoms:         []string{triage.SymptomHeadache, triage.SymptomVisualDisturbance},
		Risk:             &triage.RiskResult{RiskLevel: triage.RiskSevere, RiskScore: 92},
		Guideline:        &triage.GuidelineResult{StabilizationPlan: "MgSO4 loading dose."},
		Executive: &triage.ExecutivePlan{
			ExecutiveSummary:    "Severe preeclampsia.",
			ReferralPriority:    triage.ReferralImmediate,
			TimeToTransferHours: 0.5,
			CarePlan:            "1. MgSO4. 2. Transfer.",
			Justification:       "BP 165/112 with neurological symptoms.",
		},
		Escalated:        true,
		EscalationReason: "severe maternal risk classification",
		Mode:             triage.ModeCloud,
		SubmittedAt:      time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestNotifier_Send(t *testing.T) {
	t.Parallel()

	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL)
	if err := n.Send(context.Background(), escalatedCase()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var msg struct {
		Blocks []json.RawMessage `json:"blocks"`
	}
	if err := json.Unmarshal(gotBody, &msg); err != nil {
		t.Fatalf("unmarshal webhook body: %v", err)
	}
	if len(msg.Blocks) == 0 {
		t.Fatal("webhook body has no blocks")
	}

	body := string(gotBody)
	for _, want := range []string{
		"Case Escalated",
		"Amina Yusuf",
		"165/112",
		"Executive Plan",
		"01TESTVISIT",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("webhook body missing %q", want)
		}
	}
}

func TestNotifier_NonEscalatedUsesStabilizationPlan(t *testing.T) {
	t.Parallel()

	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := escalatedCase()
	c.Escalated = false
	c.Executive = nil

	if err := New(srv.URL).Send(context.Background(), c); err != nil {
		t.Fatalf("Send: %v", err)
	}
	body := string(gotBody)
	if !strings.Contains(body, "Case Triaged") {
		t.Error("non-escalated case still titled as escalated")
	}
	if !strings.Contains(body, "Stabilization Plan") {
		t.Error("webhook body missing the stabilization plan fallback")
	}
}

func TestNotifier_WebhookFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := New(srv.URL).Send(context.Background(), escalatedCase())
	if err == nil {
		t.Fatal("Send succeeded against a failing webhook")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("err = %v, want the status code surfaced", err)
	}
}

func TestNotifier_NoopWithoutURL(t *testing.T) {
	t.Parallel()

	if err := New("").Send(context.Background(), escalatedCase()); err != nil {
		t.Fatalf("Send: %v", err)
	}
}
