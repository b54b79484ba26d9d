package cfg

import (
	"errors"
	"flag"
	"fmt"

	"github.com/maternahealth/materna/internal/topology"
)

// Config holds application configuration, filled from flags and the
// MATERNA_ environment prefix.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	DatabaseURL string

	OllamaBaseURL string
	LocalModel    string
	EmbedModel    string

	AnthropicAPIKey string
	CloudModel      string
	VisionModel     string

	JWTSecret      string
	ClinicPassword string

	TopologyMode             string
	EscalationScoreThreshold float64
	RetrievalMinSimilarity   float64
	RetrievalTopK            int
	FallbackConfidence       float64

	EdgeTimeoutSeconds   int
	CloudTimeoutSeconds  int
	ProbeIntervalSeconds int

	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory stores, built-in guideline corpus)")
	fs.StringVar(&c.OllamaBaseURL, "ollama-base-url", "http://localhost:11434", "base URL of the local Ollama server (empty = rule-based edge fallback only)")
	fs.StringVar(&c.LocalModel, "local-model", "medgemma:1.4b", "Ollama model for the edge risk/guideline agents")
	fs.StringVar(&c.EmbedModel, "embed-model", "nomic-embed-text", "Ollama model for guideline corpus embeddings")
	fs.StringVar(&c.AnthropicAPIKey, "anthropic-api-key", "", "API key for the cloud executive/vision provider (empty = no cloud escalation)")
	fs.StringVar(&c.CloudModel, "cloud-model", "claude-sonnet-4-20250514", "cloud model for executive synthesis")
	fs.StringVar(&c.VisionModel, "vision-model", "claude-sonnet-4-20250514", "cloud model for clinical image analysis")
	fs.StringVar(&c.JWTSecret, "jwt-secret", "", "HMAC secret for signing session tokens")
	fs.StringVar(&c.ClinicPassword, "clinic-password", "", "shared clinic password accepted for usernames without accounts (empty = disabled)")
	fs.StringVar(&c.TopologyMode, "topology-mode", string(topology.ModeHybrid), "initial topology mode: OFFLINE, HYBRID, or CLOUD")
	fs.Float64Var(&c.EscalationScoreThreshold, "escalation-score-threshold", 65, "risk score at or above which any case escalates (0..100)")
	fs.Float64Var(&c.RetrievalMinSimilarity, "retrieval-min-similarity", 0.35, "minimum cosine similarity for a guideline passage to be cited (0..1)")
	fs.IntVar(&c.RetrievalTopK, "retrieval-top-k", 3, "maximum guideline passages fed to the synthesis prompt")
	fs.Float64Var(&c.FallbackConfidence, "fallback-confidence-discount", 0.75, "multiplier applied to confidence of rule-based fallback results (0..1)")
	fs.IntVar(&c.EdgeTimeoutSeconds, "edge-timeout-seconds", 60, "per-call timeout for the local model backend")
	fs.IntVar(&c.CloudTimeoutSeconds, "cloud-timeout-seconds", 45, "per-call timeout for the cloud model backend")
	fs.IntVar(&c.ProbeIntervalSeconds, "probe-interval-seconds", 30, "interval between backing-service health probes")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for escalation notifications")
}

// Validate checks all configuration fields for correctness.
func (c *Config) Validate() error {
	var errs []error

	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if !topology.ValidMode(topology.Mode(c.TopologyMode)) {
		errs = append(errs, fmt.Errorf("invalid TOPOLOGY_MODE %q (must be OFFLINE, HYBRID, or CLOUD)", c.TopologyMode))
	}

	if c.EscalationScoreThreshold < 0 || c.EscalationScoreThreshold > 100 {
		errs = append(errs, fmt.Errorf("invalid ESCALATION_SCORE_THRESHOLD %g (must be 0..100)", c.EscalationScoreThreshold))
	}
	if c.RetrievalMinSimilarity < 0 || c.RetrievalMinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("invalid RETRIEVAL_MIN_SIMILARITY %g (must be 0..1)", c.RetrievalMinSimilarity))
	}
	if c.RetrievalTopK <= 0 {
		errs = append(errs, fmt.Errorf("invalid RETRIEVAL_TOP_K %d (must be positive)", c.RetrievalTopK))
	}
	if c.FallbackConfidence <= 0 || c.FallbackConfidence > 1 {
		errs = append(errs, fmt.Errorf("invalid FALLBACK_CONFIDENCE_DISCOUNT %g (must be in (0..1])", c.FallbackConfidence))
	}

	if c.EdgeTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("invalid EDGE_TIMEOUT_SECONDS %d (must be positive)", c.EdgeTimeoutSeconds))
	}
	if c.CloudTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("invalid CLOUD_TIMEOUT_SECONDS %d (must be positive)", c.CloudTimeoutSeconds))
	}
	if c.ProbeIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("invalid PROBE_INTERVAL_SECONDS %d (must be positive)", c.ProbeIntervalSeconds))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
