package triage

import (
	"context"
	"errors"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/maternahealth/materna/internal/topology"
)

// Notifier delivers completed case results to an external channel. Delivery
// is best-effort and never affects the case outcome.
type Notifier interface {
	Send(ctx context.Context, result *CaseResult) error
}

// Service is the business boundary for triage operations. It owns the
// pipeline: validate, vision, risk, guideline, critique, route, and (for
// escalated cases) executive synthesis, then persistence.
type Service struct {
	store     Store
	topo      *topology.Controller
	risk      *RiskAgent
	vision    *VisionAgent
	guideline *GuidelineAgent
	critique  *CritiqueAgent
	executive *ExecutiveAgent
	policy    RouterPolicy
	notifier  Notifier
	metrics   *Metrics
	logger    log.Logger
}

// ServiceParams collects the service's collaborators. Notifier and Metrics
// may be nil.
type ServiceParams struct {
	Store     Store
	Topology  *topology.Controller
	Risk      *RiskAgent
	Vision    *VisionAgent
	Guideline *GuidelineAgent
	Critique  *CritiqueAgent
	Executive *ExecutiveAgent
	Policy    RouterPolicy
	Notifier  Notifier
	Metrics   *Metrics
	Logger    log.Logger
}

// NewService creates a triage service.
func NewService(p ServiceParams) *Service {
	logger := p.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:     p.Store,
		topo:      p.Topology,
		risk:      p.Risk,
		vision:    p.Vision,
		guideline: p.Guideline,
		critique:  p.Critique,
		executive: p.Executive,
		policy:    p.Policy,
		notifier:  p.Notifier,
		metrics:   p.Metrics,
		logger:    logger,
	}
}

// SubmitCase runs the full pipeline for one submission and persists the
// outcome. Validation failures return an InvalidInputError; everything past
// validation degrades instead of failing. The topology is read once at the
// start so a reconfiguration mid-pipeline cannot split the case across two
// architectures.
func (s *Service) SubmitCase(ctx context.Context, sub *CaseSubmission) (*CaseResult, error) {
	vc, err := Validate(sub)
	if err != nil {
		return nil, err
	}

	// A started case runs to completion and is persisted even if the
	// submitting client goes away.
	ctx = context.WithoutCancel(ctx)

	topo := s.topo.Snapshot()
	start := time.Now()
	L := s.logger.With("patient", vc.Name, "topology_mode", string(topo.Mode))

	vision := s.stageVision(ctx, vc, &topo)
	risk := s.stageRisk(ctx, vc)
	guide := s.stageGuideline(ctx, vc, risk)
	s.stageCritique(ctx, risk, guide)

	decision := s.policy.Decide(topo.Mode, vc, risk, vision)

	result := &CaseResult{
		PatientName:      vc.Name,
		Age:              vc.Age,
		GestationalWeeks: vc.GestationalAgeWeeks,
		Vitals:           vc.Vitals,
		Symptoms:         vc.SymptomList(),
		Notes:            vc.Notes,
		Risk:             risk,
		Vision:           vision,
		Guideline:        guide,
		Escalated:        decision.Escalate,
		EscalationReason: decision.Reason,
		SubmittedAt:      time.Now().UTC(),
	}
	s.finishRouting(ctx, vc, risk, guide, &topo, decision, result, L)

	visitID, err := s.store.Save(ctx, result)
	if err != nil {
		return nil, err
	}
	result.VisitID = visitID

	elapsed := time.Since(start)
	L.Info(ctx, "case complete",
		"visit_id", visitID,
		"risk_level", string(risk.RiskLevel),
		"risk_score", risk.RiskScore,
		"escalated", result.Escalated,
		"mode", result.Mode,
		"duration", elapsed,
	)
	if s.metrics != nil {
		s.metrics.CasesTotal.WithLabelValues(result.Mode, string(risk.RiskLevel)).Inc()
		s.metrics.CaseDuration.WithLabelValues(result.Mode).Observe(elapsed.Seconds())
		s.metrics.RiskScore.Observe(risk.RiskScore)
		if result.Escalated {
			s.metrics.EscalationsTotal.Inc()
		}
	}

	s.notify(ctx, result)
	return result, nil
}

// finishRouting resolves the executive stage and stamps the serving mode and
// cloud connectivity on the result.
func (s *Service) finishRouting(ctx context.Context, vc *ValidatedCase, risk *RiskResult, guide *GuidelineResult, topo *topology.State, decision Decision, result *CaseResult, L log.Logger) {
	if topo.Mode == topology.ModeOffline {
		result.Mode = ModeOfflineForced
		result.CloudConnected = false
		return
	}
	if !decision.Escalate {
		result.Mode = ModeLocal
		result.CloudConnected = false
		return
	}

	if !topo.ExecutiveAgentEnabled {
		result.Mode = ModeOfflineFallback
		result.CloudConnected = false
		result.Escalated = false
		result.EscalationReason += "; executive agent disabled, case managed locally"
		if s.metrics != nil {
			s.metrics.FallbacksTotal.WithLabelValues("executive").Inc()
		}
		return
	}

	stageStart := time.Now()
	plan, err := s.executive.Run(ctx, vc, risk, guide, decision.Reason)
	s.observeStage("executive", stageStart)
	if err != nil {
		L.Warn(ctx, "executive synthesis unavailable, degrading to local management", "error", err)
		result.Mode = ModeOfflineFallback
		result.CloudConnected = false
		result.Escalated = false
		result.EscalationReason += "; executive synthesis unavailable, case managed locally"
		if s.metrics != nil {
			s.metrics.FallbacksTotal.WithLabelValues("executive").Inc()
		}
		return
	}
	result.Executive = plan
	result.Mode = ModeCloud
	result.CloudConnected = true
}

func (s *Service) stageVision(ctx context.Context, vc *ValidatedCase, topo *topology.State) *VisionFindings {
	start := time.Now()
	v := s.vision.Run(ctx, vc, topo.VisionEnabled)
	s.observeStage("vision", start)
	if s.metrics != nil {
		s.metrics.VisionTotal.WithLabelValues(v.Status).Inc()
	}
	return v
}

func (s *Service) stageRisk(ctx context.Context, vc *ValidatedCase) *RiskResult {
	start := time.Now()
	r := s.risk.Run(ctx, vc)
	s.observeStage("risk", start)
	if r.Fallback && s.metrics != nil {
		s.metrics.FallbacksTotal.WithLabelValues("risk").Inc()
	}
	return r
}

func (s *Service) stageGuideline(ctx context.Context, vc *ValidatedCase, risk *RiskResult) *GuidelineResult {
	start := time.Now()
	g := s.guideline.Run(ctx, vc, risk)
	s.observeStage("guideline", start)
	if g.Fallback && s.metrics != nil {
		s.metrics.FallbacksTotal.WithLabelValues("guideline").Inc()
	}
	return g
}

func (s *Service) stageCritique(ctx context.Context, risk *RiskResult, guide *GuidelineResult) {
	start := time.Now()
	s.critique.Run(ctx, risk, guide)
	s.observeStage("critique", start)
}

func (s *Service) observeStage(stage string, start time.Time) {
	if s.metrics != nil {
		s.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// notify posts escalated and severe cases to the notifier, off the request
// path.
func (s *Service) notify(ctx context.Context, result *CaseResult) {
	if s.notifier == nil {
		return
	}
	if !result.Escalated && result.Risk.RiskLevel != RiskSevere {
		return
	}
	go func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := s.notifier.Send(nctx, result); err != nil {
			s.logger.Warn(nctx, "case notification failed", "visit_id", result.VisitID, "error", err)
		}
	}()
}

// GetCase retrieves a stored case by visit ID.
func (s *Service) GetCase(ctx context.Context, visitID string) (*CaseResult, error) {
	return s.store.Get(ctx, visitID)
}

// History lists stored cases newest-first.
func (s *Service) History(ctx context.Context, skip, limit int) ([]HistoryItem, error) {
	if limit <= 0 {
		limit = 20
	}
	if skip < 0 {
		skip = 0
	}
	return s.store.List(ctx, skip, limit)
}

// BPHistory returns a patient's blood pressure series for trend charts.
func (s *Service) BPHistory(ctx context.Context, patientID string) ([]BpPoint, error) {
	return s.store.BPHistory(ctx, patientID)
}

// AnalyzeImage runs a standalone vision analysis outside any case. It
// honors the topology vision flag and reports backend failures to the
// caller instead of absorbing them.
func (s *Service) AnalyzeImage(ctx context.Context, imageData string) (*VisionFindings, error) {
	topo := s.topo.Snapshot()
	if !topo.VisionEnabled {
		return nil, &BackendUnavailableError{Backend: "vision", Err: errVisionDisabled}
	}

	raw, mediaType, err := decodeImage(imageData)
	if err != nil {
		return nil, &InvalidInputError{Field: "image_data", Reason: err.Error()}
	}
	vc := &ValidatedCase{Image: raw, ImageMediaType: mediaType}
	findings := s.vision.Run(ctx, vc, true)
	if s.metrics != nil {
		s.metrics.VisionTotal.WithLabelValues(findings.Status).Inc()
	}
	if findings.Status == VisionFailed {
		return nil, &BackendUnavailableError{Backend: "vision", Err: errors.New(findings.Findings)}
	}
	return findings, nil
}

var errVisionDisabled = errors.New("vision analysis disabled by current topology")
