package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	CasesTotal       *prometheus.CounterVec
	CaseDuration     *prometheus.HistogramVec
	StageDuration    *prometheus.HistogramVec
	EscalationsTotal prometheus.Counter
	FallbacksTotal   *prometheus.CounterVec
	VisionTotal      *prometheus.CounterVec
	RiskScore        prometheus.Histogram
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CasesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "materna_cases_total",
			Help: "Completed triage cases by serving mode and risk level.",
		}, []string{"mode", "risk_level"}),
		CaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "materna_case_duration_seconds",
			Help:    "End-to-end case pipeline duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		}, []string{"mode"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "materna_stage_duration_seconds",
			Help:    "Per-stage pipeline duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s .. ~51s
		}, []string{"stage"}),
		EscalationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "materna_escalations_total",
			Help: "Cases routed to the executive agent.",
		}),
		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "materna_fallbacks_total",
			Help: "Degraded stage outcomes by stage.",
		}, []string{"stage"}),
		VisionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "materna_vision_total",
			Help: "Vision analyses by final status.",
		}, []string{"status"}),
		RiskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "materna_risk_score",
			Help:    "Distribution of assigned risk scores.",
			Buckets: prometheus.LinearBuckets(0, 10, 11), // 0 .. 100
		}),
	}

	reg.MustRegister(
		m.CasesTotal,
		m.CaseDuration,
		m.StageDuration,
		m.EscalationsTotal,
		m.FallbacksTotal,
		m.VisionTotal,
		m.RiskScore,
	)

	return m
}
