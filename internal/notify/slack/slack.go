// Package slack sends escalation notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/maternahealth/materna/internal/triage"
)

const (
	maxPlanLen  = 3000
	httpTimeout = 10 * time.Second
)

// Notifier sends case results to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Send posts a case result to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, result *triage.CaseResult) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(result)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(r *triage.CaseResult) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(r),
			{"type": "divider"},
			fieldsBlock(r),
			{"type": "divider"},
			planBlock(r),
			{"type": "divider"},
			contextBlock(r),
		},
	}
}

func headerBlock(r *triage.CaseResult) map[string]any {
	title := "Case Triaged"
	if r.Escalated {
		title = "Case Escalated"
	}
	text := fmt.Sprintf("%s %s: %s", riskEmoji(r.Risk.RiskLevel), title, r.PatientName)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(r *triage.CaseResult) map[string]any {
	escalated := "no"
	if r.Escalated {
		escalated = "yes"
	}
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Risk:* %s (%.0f/100)", r.Risk.RiskLevel, r.Risk.RiskScore),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*BP:* %d/%d mmHg", r.Vitals.Systolic, r.Vitals.Diastolic),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Gestation:* %d weeks", r.GestationalWeeks),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Symptoms:* %s", symptomText(r.Symptoms)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Escalated:* %s", escalated),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Mode:* %s", r.Mode),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func planBlock(r *triage.CaseResult) map[string]any {
	var text string
	switch {
	case r.Executive != nil:
		text = fmt.Sprintf("*Executive Plan* (priority %s, transfer within %.1fh)\n\n%s",
			r.Executive.ReferralPriority, r.Executive.TimeToTransferHours,
			truncate(r.Executive.CarePlan, maxPlanLen))
	case r.Guideline != nil:
		text = fmt.Sprintf("*Stabilization Plan*\n\n%s", truncate(r.Guideline.StabilizationPlan, maxPlanLen))
	default:
		text = "_No plan available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func contextBlock(r *triage.CaseResult) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("materna • visit %s • %s", r.VisitID, r.SubmittedAt.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func riskEmoji(level triage.RiskLevel) string {
	switch level {
	case triage.RiskSevere:
		return "\U0001f534" // red circle
	case triage.RiskHigh:
		return "\U0001f7e0" // orange circle
	case triage.RiskModerate:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func symptomText(symptoms []string) string {
	if len(symptoms) == 0 {
		return "none reported"
	}
	return strings.Join(symptoms, ", ")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
