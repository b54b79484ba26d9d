package triage

import (
	"sort"
	"time"
)

// RiskLevel classifies maternal risk. Levels are ordered; higher rank means
// more urgent.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskSevere   RiskLevel = "severe"
)

// Rank returns the ordering position of a risk level (low=0 .. severe=3).
// Unknown levels rank below low.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 0
	case RiskModerate:
		return 1
	case RiskHigh:
		return 2
	case RiskSevere:
		return 3
	}
	return -1
}

// Score bucket floors. LevelForScore is the single source of truth for
// mapping a numeric score onto a level; boundary values are load-bearing for
// scenario tests.
const (
	scoreModerateFloor = 40.0
	scoreHighFloor     = 70.0
	scoreSevereFloor   = 85.0
)

// LevelForScore maps a 0-100 risk score onto its level bucket:
// [0,40) low, [40,70) moderate, [70,85) high, [85,100] severe.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score >= scoreSevereFloor:
		return RiskSevere
	case score >= scoreHighFloor:
		return RiskHigh
	case score >= scoreModerateFloor:
		return RiskModerate
	default:
		return RiskLow
	}
}

// Recognized symptom keys. Submissions using anything else are rejected by
// the validator.
const (
	SymptomHeadache           = "headache"
	SymptomVisualDisturbance  = "visual_disturbance"
	SymptomEpigastricPain     = "epigastric_pain"
	SymptomOedema             = "oedema"
	SymptomFetalMovementRed   = "fetal_movement_reduced"
	SymptomConvulsions        = "convulsions"
	SymptomBleeding           = "bleeding"
	SymptomReducedUrineOutput = "reduced_urine_output"
)

var symptomVocabulary = map[string]bool{
	SymptomHeadache:           true,
	SymptomVisualDisturbance:  true,
	SymptomEpigastricPain:     true,
	SymptomOedema:             true,
	SymptomFetalMovementRed:   true,
	SymptomConvulsions:        true,
	SymptomBleeding:           true,
	SymptomReducedUrineOutput: true,
}

// dangerSymptoms pin the risk level floor to high and count toward the
// escalation trigger cluster.
var dangerSymptoms = map[string]bool{
	SymptomHeadache:          true,
	SymptomVisualDisturbance: true,
	SymptomEpigastricPain:    true,
	SymptomConvulsions:       true,
	SymptomBleeding:          true,
}

// DangerSymptom reports whether a symptom key is danger-flagged.
func DangerSymptom(key string) bool { return dangerSymptoms[key] }

// Proteinuria grades in increasing severity.
var proteinuriaGrades = map[string]int{
	"none":  0,
	"trace": 1,
	"1+":    2,
	"2+":    3,
	"3+":    4,
}

// Vitals is one set of measurements taken at submission time.
type Vitals struct {
	Systolic    int    `json:"systolic"`
	Diastolic   int    `json:"diastolic"`
	HeartRate   *int   `json:"heart_rate,omitempty"`
	Proteinuria string `json:"proteinuria"`
}

// CaseSubmission is the raw client payload for one triage request.
type CaseSubmission struct {
	Name                string   `json:"name"`
	Age                 int      `json:"age"`
	GestationalAgeWeeks int      `json:"gestational_age_weeks"`
	Notes               string   `json:"notes,omitempty"`
	Vitals              Vitals   `json:"vitals"`
	Symptoms            []string `json:"symptoms"`
	ImageData           string   `json:"image_data,omitempty"` // base64
}

// ValidatedCase is the normalized, bounds-checked form of a submission that
// the pipeline stages consume. Treated as immutable once built.
type ValidatedCase struct {
	Name                string
	Age                 int
	GestationalAgeWeeks int
	Notes               string
	Vitals              Vitals
	ProteinuriaGrade    int
	Symptoms            map[string]bool
	Image               []byte
	ImageMediaType      string
}

// HasSymptom reports whether the given symptom was submitted.
func (c *ValidatedCase) HasSymptom(key string) bool { return c.Symptoms[key] }

// HasDangerSymptom reports whether any danger-flagged symptom was submitted.
func (c *ValidatedCase) HasDangerSymptom() bool {
	for s := range c.Symptoms {
		if dangerSymptoms[s] {
			return true
		}
	}
	return false
}

// SymptomList returns the submitted symptoms in sorted order.
func (c *ValidatedCase) SymptomList() []string {
	out := make([]string, 0, len(c.Symptoms))
	for s := range c.Symptoms {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// RiskResult is the risk scoring agent's output for one case.
type RiskResult struct {
	RiskLevel        RiskLevel `json:"risk_level"`
	RiskScore        float64   `json:"risk_score"`
	Confidence       float64   `json:"confidence"`
	Reasoning        string    `json:"reasoning"`
	ImmediateActions []string  `json:"immediate_actions"`
	// Fallback marks results produced by the deterministic rule layer alone
	// because the generative backend was unreachable.
	Fallback bool `json:"fallback,omitempty"`
}

// Vision analysis status values.
const (
	VisionSuccess = "success"
	VisionSkipped = "skipped"
	VisionFailed  = "failed"
)

// VisionFindings is the vision agent's output. Status is always one of
// success, skipped, or failed; Findings is human-readable in every case.
type VisionFindings struct {
	Status   string `json:"status"`
	Findings string `json:"findings"`
	Model    string `json:"model,omitempty"`
	Critical bool   `json:"critical,omitempty"`
}

// GuidelineResult is the guideline retrieval agent's output. Grounded is
// false when no corpus passage cleared the similarity cutoff and the guidance
// is the generic fallback text; in that case GuidelineSources is empty.
type GuidelineResult struct {
	StabilizationPlan      string   `json:"stabilization_plan"`
	MonitoringInstructions string   `json:"monitoring_instructions"`
	MedicationGuidance     string   `json:"medication_guidance"`
	GuidelineSources       []string `json:"guideline_sources"`
	Grounded               bool     `json:"grounded"`
	Fallback               bool     `json:"fallback,omitempty"`
}

// ReferralPriority grades how fast an escalated case must move.
type ReferralPriority string

const (
	ReferralImmediate ReferralPriority = "immediate"
	ReferralUrgent    ReferralPriority = "urgent"
	ReferralRoutine   ReferralPriority = "routine"
)

func validReferralPriority(p ReferralPriority) bool {
	switch p {
	case ReferralImmediate, ReferralUrgent, ReferralRoutine:
		return true
	}
	return false
}

// ExecutivePlan is the structured care/transfer plan produced by the
// executive synthesis agent. Present only on escalated cases where the cloud
// call succeeded.
type ExecutivePlan struct {
	ExecutiveSummary              string           `json:"executive_summary"`
	ReferralPriority              ReferralPriority `json:"referral_priority"`
	TimeToTransferHours           float64          `json:"time_to_transfer_hours"`
	CarePlan                      string           `json:"care_plan"`
	InTransitCare                 string           `json:"in_transit_care,omitempty"`
	ReceivingFacilityRequirements string           `json:"receiving_facility_requirements,omitempty"`
	Justification                 string           `json:"justification"`
}

// Mode strings recorded on a CaseResult describing which topology path
// actually served the case.
const (
	ModeLocal           = "local"
	ModeCloud           = "cloud"
	ModeOfflineForced   = "offline-forced"
	ModeOfflineFallback = "offline-fallback"
)

// CaseResult is the full persisted outcome of one pipeline run. Immutable
// once saved.
type CaseResult struct {
	VisitID          string           `json:"visit_id"`
	PatientID        string           `json:"patient_id"`
	PatientName      string           `json:"patient_name"`
	Age              int              `json:"age"`
	GestationalWeeks int              `json:"gestational_age_weeks"`
	Vitals           Vitals           `json:"vitals"`
	Symptoms         []string         `json:"symptoms"`
	Notes            string           `json:"notes,omitempty"`
	Risk             *RiskResult      `json:"risk_output"`
	Vision           *VisionFindings  `json:"vision_output,omitempty"`
	Guideline        *GuidelineResult `json:"guideline_output"`
	Escalated        bool             `json:"escalated"`
	EscalationReason string           `json:"escalation_reason,omitempty"`
	Executive        *ExecutivePlan   `json:"executive_output,omitempty"`
	CloudConnected   bool             `json:"cloud_connected"`
	Mode             string           `json:"mode"`
	SubmittedAt      time.Time        `json:"submitted_at"`
}

// HistoryItem is the listing projection of a CaseResult.
type HistoryItem struct {
	VisitID     string    `json:"visit_id"`
	PatientName string    `json:"patient_name"`
	SubmittedAt time.Time `json:"submitted_at"`
	RiskLevel   RiskLevel `json:"risk_level"`
	RiskScore   float64   `json:"risk_score"`
	Escalated   bool      `json:"escalated"`
}

// BpPoint is one blood pressure measurement in a patient's time series.
type BpPoint struct {
	RecordedAt time.Time `json:"recorded_at"`
	Systolic   int       `json:"systolic"`
	Diastolic  int       `json:"diastolic"`
}
