package pgstore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maternahealth/materna/internal/triage"
	"github.com/maternahealth/materna/internal/triage/pgstore"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("MATERNA_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MATERNA_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)
	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

func testCase(name string) *triage.CaseResult {
	hr := 96
	return &triage.CaseResult{
		PatientName:      name,
		Age:              29,
		GestationalWeeks: 34,
		Vitals:           triage.Vitals{Systolic: 165, Diastolic: 112, HeartRate: &hr, Proteinuria: "2+"},
		Symptoms:         []string{triage.SymptomHeadache, triage.SymptomVisualDisturbance},
		Notes:            "referred from outreach post",
		Risk: &triage.RiskResult{
			RiskLevel:        triage.RiskSevere,
			RiskScore:        92,
			Confidence:       0.9,
			Reasoning:        "Severe hypertension with neurological symptoms.",
			ImmediateActions: []string{"MgSO4", "transfer"},
		},
		Vision: &triage.VisionFindings{Status: triage.VisionSkipped, Findings: "No clinical imagery provided."},
		Guideline: &triage.GuidelineResult{
			StabilizationPlan:      "MgSO4 loading dose.",
			MonitoringInstructions: "BP every 5 minutes.",
			MedicationGuidance:     "Labetalol 20mg IV.",
			GuidelineSources:       []string{"WHO 2011"},
			Grounded:               true,
		},
		Executive: &triage.ExecutivePlan{
			ExecutiveSummary:    "Severe preeclampsia.",
			ReferralPriority:    triage.ReferralImmediate,
			TimeToTransferHours: 0.5,
			CarePlan:            "1. MgSO4. 2. Transfer.",
			Justification:       "BP 165/112 with neurological symptoms.",
		},
		Escalated:        true,
		EscalationReason: "severe maternal risk classification",
		CloudConnected:   true,
		Mode:             triage.ModeCloud,
		SubmittedAt:      time.Now().Truncate(time.Microsecond).UTC(),
	}
}

func TestSaveAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	r := testCase("Amina Yusuf")
	visitID, err := s.Save(ctx, r)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if visitID == "" {
		t.Fatal("Save returned an empty visit ID")
	}
	if r.PatientID == "" {
		t.Fatal("Save did not resolve a patient ID")
	}

	got, err := s.Get(ctx, visitID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.PatientName != r.PatientName {
		t.Errorf("PatientName = %q, want %q", got.PatientName, r.PatientName)
	}
	if got.Risk == nil || got.Risk.RiskScore != 92 {
		t.Errorf("Risk = %+v", got.Risk)
	}
	if got.Executive == nil || got.Executive.ReferralPriority != triage.ReferralImmediate {
		t.Errorf("Executive = %+v", got.Executive)
	}
	if got.Vitals.HeartRate == nil || *got.Vitals.HeartRate != 96 {
		t.Errorf("HeartRate = %v, want 96", got.Vitals.HeartRate)
	}
	if !got.Escalated || got.Mode != triage.ModeCloud {
		t.Errorf("escalated/mode = %v/%q", got.Escalated, got.Mode)
	}
	if len(got.Symptoms) != 2 {
		t.Errorf("Symptoms = %v", got.Symptoms)
	}
}

func TestGetMissing(t *testing.T) {
	s := openStore(t)

	_, err := s.Get(context.Background(), "01NOSUCHVISIT0000000000000")
	if !errors.Is(err, triage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSamePatientReusesID(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	r1 := testCase("Grace Okafor")
	r2 := testCase("  GRACE OKAFOR ")
	if _, err := s.Save(ctx, r1); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := s.Save(ctx, r2); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if r1.PatientID != r2.PatientID {
		t.Errorf("patient IDs differ for the same normalized name: %s vs %s", r1.PatientID, r2.PatientID)
	}
}

func TestListAndBPHistory(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	r := testCase("Fatima Bello")
	if _, err := s.Save(ctx, r); err != nil {
		t.Fatalf("Save: %v", err)
	}

	items, err := s.List(ctx, 0, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("List returned nothing after a save")
	}
	for i := 1; i < len(items); i++ {
		if items[i].SubmittedAt.After(items[i-1].SubmittedAt) {
			t.Fatalf("items not newest-first at %d", i)
		}
	}

	points, err := s.BPHistory(ctx, r.PatientID)
	if err != nil {
		t.Fatalf("BPHistory: %v", err)
	}
	if len(points) == 0 {
		t.Fatal("BPHistory returned nothing for a saved patient")
	}
	if points[0].Systolic != 165 || points[0].Diastolic != 112 {
		t.Errorf("points[0] = %+v", points[0])
	}

	if _, err := s.BPHistory(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, triage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound for unknown patient", err)
	}
}
