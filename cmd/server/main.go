// Materna is a maternal-triage orchestration service: it scores incoming
// cases with an edge model, grounds guidance in a clinical guideline corpus,
// and escalates high-risk cases to a cloud executive agent when the topology
// allows it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/maternahealth/materna/internal/auth"
	"github.com/maternahealth/materna/internal/auth/memusers"
	"github.com/maternahealth/materna/internal/auth/pgusers"
	"github.com/maternahealth/materna/internal/caseapi"
	mc "github.com/maternahealth/materna/internal/cfg"
	"github.com/maternahealth/materna/internal/llm"
	"github.com/maternahealth/materna/internal/llm/claude"
	"github.com/maternahealth/materna/internal/llm/ollama"
	"github.com/maternahealth/materna/internal/notify/slack"
	"github.com/maternahealth/materna/internal/postgres"
	"github.com/maternahealth/materna/internal/retrieval"
	"github.com/maternahealth/materna/internal/topology"
	"github.com/maternahealth/materna/internal/triage"
	"github.com/maternahealth/materna/internal/triage/memstore"
	"github.com/maternahealth/materna/internal/triage/pgstore"
)

const appName = "materna"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    mc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	// register flags for each package, which will be parsed into the shared config struct
	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// parse flags to get config values from cmdline, we check env vars next which do not override cmdline flags
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// Fill in config values from environment variables with prefix MATERNA_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "MATERNA_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// cross-cutting checks that only main can validate
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	// initialize logger early
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	// create a logger with component field pre-filled for structured logging in this package
	L := lg.With("component", vi.Component)

	// add logger to context
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"topology_mode", appCfg.TopologyMode,
		"local_model", appCfg.LocalModel,
		"cloud_model", appCfg.CloudModel,
		"enable_tracing", traceCfg.EnableTracing,
		"enable_pyroscope", profCfg.EnablePyroscope,
	)

	// Setup pyroscope profiling early so we get profiles from the entire app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	// Setup otel for tracing
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// Setup metrics, we use our own metrics package for internal instrumentation
	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	// Model backends. The edge client is optional in degraded deployments;
	// the agents fall back to their rule layers without it.
	var (
		edgeProvider  *ollama.Client
		cloudProvider *claude.Client
		embedder      retrieval.Embedder
	)
	if appCfg.OllamaBaseURL != "" {
		edgeProvider = ollama.New(
			appCfg.OllamaBaseURL, appCfg.LocalModel, appCfg.EmbedModel,
			time.Duration(appCfg.EdgeTimeoutSeconds)*time.Second,
		)
		embedder = edgeProvider
		L.Info(ctx, "initialized edge provider", "host", appCfg.OllamaBaseURL, "model", appCfg.LocalModel)
	} else {
		L.Warn(ctx, "no ollama-base-url configured, edge agents run on rule fallbacks only")
	}
	if appCfg.AnthropicAPIKey != "" {
		cloudProvider = claude.New(
			appCfg.AnthropicAPIKey, appCfg.CloudModel,
			time.Duration(appCfg.CloudTimeoutSeconds)*time.Second,
		)
		L.Info(ctx, "initialized cloud provider", "model", appCfg.CloudModel)
	} else {
		L.Warn(ctx, "no anthropic-api-key configured, escalated cases degrade to local management")
	}

	// Stores and guideline index. Postgres when configured, in-memory
	// otherwise.
	var (
		caseStore triage.Store
		userStore auth.Store
		index     retrieval.Index
	)
	if appCfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()

		pgStore, err := pgstore.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("pgstore init: %w", err)
		}
		caseStore = pgStore

		pgUsers, err := pgusers.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("pgusers init: %w", err)
		}
		userStore = pgUsers

		if embedder != nil {
			pgIndex, err := retrieval.NewPgIndex(ctx, pool, embedder)
			if err != nil {
				return fmt.Errorf("pgindex init: %w", err)
			}
			if n, err := pgIndex.Count(ctx); err == nil && n == 0 {
				if err := pgIndex.Ingest(ctx, retrieval.SeedCorpus()); err != nil {
					L.Warn(ctx, "guideline corpus seed failed, continuing with empty index", "error", err)
				} else {
					L.Info(ctx, "seeded guideline corpus", "chunks", len(retrieval.SeedCorpus()))
				}
			}
			index = pgIndex
			L.Info(ctx, "using pgvector guideline index")
		} else {
			index = retrieval.NewMemIndex(retrieval.SeedCorpus())
			L.Info(ctx, "using in-memory guideline index (no embedder available)")
		}
		L.Info(ctx, "using postgres stores")
	} else {
		caseStore = memstore.New()
		userStore = memusers.New()
		index = retrieval.NewMemIndex(retrieval.SeedCorpus())
		L.Info(ctx, "using in-memory stores (no database-url configured)")
	}

	// Topology controller with health probes for every configured backend.
	topoCtl := topology.New(topology.State{
		Mode:                  topology.Mode(appCfg.TopologyMode),
		FallbackEnabled:       true,
		VisionEnabled:         cloudProvider != nil,
		ExecutiveAgentEnabled: cloudProvider != nil,
		DataCollectionEnabled: true,
	}, L)
	if edgeProvider != nil {
		topoCtl.RegisterService("edge", edgeProvider.Model(), edgeProvider.Host(), edgeProvider)
	}
	if cloudProvider != nil {
		topoCtl.RegisterService("cloud", cloudProvider.Model(), cloudProvider.Host(), cloudProvider)
		topoCtl.RegisterService("vision", appCfg.VisionModel, cloudProvider.Host(), cloudProvider)
	}
	probeCtx, probeCancel := context.WithCancel(ctx)
	defer probeCancel()
	go topoCtl.Run(probeCtx, time.Duration(appCfg.ProbeIntervalSeconds)*time.Second)

	// Initialize triage metrics on the shared Prometheus registry.
	triageMetrics := triage.NewMetrics(m.Registry())

	// Register per-query DB duration histogram and wire the observer.
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "materna_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, method, route, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(method, route, outcome).Observe(dur.Seconds())
		},
	))

	// Agents. The cloud provider serves both executive synthesis and vision;
	// either may be nil, which the agents treat as a permanent fallback. The
	// explicit interface vars avoid handing a typed nil to the agents.
	var edgeLLM, cloudLLM llm.Provider
	if edgeProvider != nil {
		edgeLLM = edgeProvider
	}
	if cloudProvider != nil {
		cloudLLM = cloudProvider
	}

	riskAgent := triage.NewRiskAgent(edgeLLM, L, appCfg.FallbackConfidence)
	visionAgent := triage.NewVisionAgent(cloudLLM, appCfg.VisionModel, L)
	guidelineAgent := triage.NewGuidelineAgent(index, edgeLLM, L, appCfg.RetrievalMinSimilarity, appCfg.RetrievalTopK)
	critiqueAgent := triage.NewCritiqueAgent(edgeLLM, L)
	executiveAgent := triage.NewExecutiveAgent(cloudLLM, L)

	// Initialize Slack notifier for escalation notifications.
	var notifier triage.Notifier
	if appCfg.SlackWebhookURL != "" {
		notifier = slack.New(appCfg.SlackWebhookURL)
		L.Info(ctx, "notifier enabled", "type", "slack")
	}

	// Initialize the triage service (owns the case pipeline).
	triageSvc := triage.NewService(triage.ServiceParams{
		Store:     caseStore,
		Topology:  topoCtl,
		Risk:      riskAgent,
		Vision:    visionAgent,
		Guideline: guidelineAgent,
		Critique:  critiqueAgent,
		Executive: executiveAgent,
		Policy:    triage.RouterPolicy{ScoreThreshold: appCfg.EscalationScoreThreshold},
		Notifier:  notifier,
		Metrics:   triageMetrics,
		Logger:    L,
	})

	// Auth: JWT sessions backed by the user store, with the shared clinic
	// password as a pre-provisioning fallback.
	issuer, err := auth.NewIssuer(appCfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("jwt issuer: %w", err)
	}
	authSvc := auth.NewService(userStore, issuer, appCfg.ClinicPassword, L)

	// setup toggle for server shutdown. this is used to fail readiness checks
	// during shutdown to drain connections from load balancer before killing the process.
	var shutdownGate health.ShutdownGate

	readiness := health.All(
		shutdownGate.Probe(),
	)
	liveness := health.Fixed(true, "")

	// Configure ops http server for metrics, health checks, pprof, etc
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	// setup main api chi router and middleware stack
	r := chi.NewRouter()

	// Compress text responses (we are JSON only for now)
	r.Use(middleware.Compress(5, "application/json"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// Stash HTTP method in context for DB query metrics labelling.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(postgres.WithHTTPMethod(req.Context(), req.Method)))
		})
	})

	// Access log middleware
	r.Use(httpmw.AccessLog())

	// Limit request body size. Case submissions may carry a base64 image up
	// to 8MiB decoded, so the cap sits above that plus JSON overhead.
	r.Use(httpmw.MaxBody(12 << 20))

	// add health check endpoints to main listener
	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	// register api routes
	api := caseapi.New(L, triageSvc, authSvc, issuer, topoCtl)
	api.RegisterRoutes(r)

	// middleware stack for main listener, order matters these are wrappers, outermost sees raw request
	// first and is last to see response, innermost is last to see request and first to see response but
	// has access to the full rich context from outer middleware and handlers
	var h http.Handler = r

	// Request-scoped logging (inner so it sees trace_id, chi route, etc)
	h = httpmw.WithLogger(L)(h)

	// add trace-id and span-id headers to any requests with a recording trace
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	// otel instrumentation for automatic spans and trace context propagation
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// dont trace health/readiness checks
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// AnnotateHTTPRoute will rename the span later to the final route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	// Metrics middleware for prometheus instrumentation
	h = m.Middleware(h)

	// Client IP resolution and spoofing protection middleware
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)

	// Request ID (outer so everything downstream sees it)
	h = httpmw.RequestID("X-Request-Id")(h)

	// Recovery middleware to recover and log panics and serve 500 response.
	h = httpmw.Recover(L, nil)(h)

	// Security headers outermost to ensure they are served on every response
	h = httpmw.SecurityHeaders(h)

	// Configure http server options from config
	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		return err
	}
	defer func() {
		err := apiHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop api http listener")
		}
	}()

	// Notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// Wait for ctrl+c / sigterm
	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	// fail health checks to drain connections
	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// stop probing while we drain
	probeCancel()

	// Wait for in-flight requests to finish and for load balancer
	// to detect unhealthy and stop sending new requests.
	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Shutdown components with per-component budget sliced from total.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"api http server", apiHTTPStop},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOtelx},
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
	return nil
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
