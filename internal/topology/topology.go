// Package topology holds the process-wide configuration cell that governs
// which model backends a case pipeline may reach, plus live health state for
// each backing service. Reads take a consistent snapshot; writes are
// serialized and versioned.
package topology

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// Mode selects the routing architecture.
type Mode string

const (
	// ModeOffline blocks all outbound cloud calls; only the edge model and
	// rule-based fallbacks serve cases.
	ModeOffline Mode = "OFFLINE"
	// ModeHybrid allows cloud escalation only when the router triggers.
	ModeHybrid Mode = "HYBRID"
	// ModeCloud routes every case through the executive agent.
	ModeCloud Mode = "CLOUD"
)

// ValidMode reports whether m is a recognized topology mode.
func ValidMode(m Mode) bool {
	switch m {
	case ModeOffline, ModeHybrid, ModeCloud:
		return true
	}
	return false
}

// ConfigError reports an invalid topology update. It propagates to the
// caller verbatim.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "topology: " + e.Reason }

// ServiceStatus is the last observed health of one backing service.
type ServiceStatus struct {
	Online    bool   `json:"online"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	Model     string `json:"model"`
	Host      string `json:"host"`
	Error     string `json:"error,omitempty"`
}

// State is one immutable topology snapshot.
type State struct {
	Mode                  Mode                     `json:"mode"`
	FallbackEnabled       bool                     `json:"fallback_enabled"`
	VisionEnabled         bool                     `json:"vision_enabled"`
	ExecutiveAgentEnabled bool                     `json:"executive_agent_enabled"`
	DataCollectionEnabled bool                     `json:"data_collection_enabled"`
	Services              map[string]ServiceStatus `json:"model_status"`
	UpdatedAt             time.Time                `json:"updated_at,omitzero"`
	UpdatedBy             string                   `json:"updated_by,omitempty"`
}

// Update is a partial state change; nil fields keep their current value.
type Update struct {
	Mode                  *Mode `json:"mode,omitempty"`
	FallbackEnabled       *bool `json:"fallback_enabled,omitempty"`
	VisionEnabled         *bool `json:"vision_enabled,omitempty"`
	ExecutiveAgentEnabled *bool `json:"executive_agent_enabled,omitempty"`
	DataCollectionEnabled *bool `json:"data_collection_enabled,omitempty"`
}

// Prober checks reachability of one backing service. Probe should return
// quickly; the controller measures latency around the call.
type Prober interface {
	Probe(ctx context.Context) error
}

type service struct {
	name   string
	model  string
	host   string
	prober Prober
}

// Controller owns the topology cell. All reads go through Snapshot (an
// atomic load); all writes go through Apply or refresh, which serialize on
// an internal mutex and swap a fresh State in.
type Controller struct {
	mu       sync.Mutex // serializes writers
	state    atomic.Pointer[State]
	services []service
	logger   log.Logger
}

// New creates a controller with the given initial mode and flags. The
// OFFLINE clamp applies to the initial state too.
func New(initial State, logger log.Logger) *Controller {
	if logger == nil {
		logger = log.Nop()
	}
	if initial.Services == nil {
		initial.Services = map[string]ServiceStatus{}
	}
	clamp(&initial)
	c := &Controller{logger: logger}
	c.state.Store(&initial)
	return c
}

// RegisterService adds a backing service to probe. Not safe to call after
// Run has started.
func (c *Controller) RegisterService(name, model, host string, p Prober) {
	c.services = append(c.services, service{name: name, model: model, host: host, prober: p})
	st := c.snapshotForWrite()
	st.Services[name] = ServiceStatus{Online: false, Model: model, Host: host}
	c.state.Store(st)
}

// Snapshot returns the current state. The returned value is a deep copy, so
// an in-flight case sees no mid-pipeline reconfiguration.
func (c *Controller) Snapshot() State {
	st := c.state.Load()
	cp := *st
	cp.Services = make(map[string]ServiceStatus, len(st.Services))
	for k, v := range st.Services {
		cp.Services[k] = v
	}
	return cp
}

// Apply validates and applies a partial update, stamping who and when.
// OFFLINE mode forces vision_enabled and executive_agent_enabled to false;
// this is a silent clamp, reflected in the returned state.
func (c *Controller) Apply(ctx context.Context, upd Update, updatedBy string) (State, error) {
	if upd.Mode != nil && !ValidMode(*upd.Mode) {
		return State{}, &ConfigError{Reason: fmt.Sprintf("unknown mode %q", *upd.Mode)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.snapshotForWrite()
	if upd.Mode != nil {
		st.Mode = *upd.Mode
	}
	if upd.FallbackEnabled != nil {
		st.FallbackEnabled = *upd.FallbackEnabled
	}
	if upd.VisionEnabled != nil {
		st.VisionEnabled = *upd.VisionEnabled
	}
	if upd.ExecutiveAgentEnabled != nil {
		st.ExecutiveAgentEnabled = *upd.ExecutiveAgentEnabled
	}
	if upd.DataCollectionEnabled != nil {
		st.DataCollectionEnabled = *upd.DataCollectionEnabled
	}
	clamp(st)
	st.UpdatedAt = time.Now().UTC()
	st.UpdatedBy = updatedBy

	c.state.Store(st)
	c.logger.Info(ctx, "topology applied",
		"mode", st.Mode,
		"vision_enabled", st.VisionEnabled,
		"executive_agent_enabled", st.ExecutiveAgentEnabled,
		"updated_by", updatedBy,
	)
	return c.Snapshot(), nil
}

// Refresh probes every registered service once and records health and
// latency. Probe failures mark the service offline; they never propagate.
func (c *Controller) Refresh(ctx context.Context) State {
	type probeOut struct {
		name   string
		status ServiceStatus
	}

	results := make(chan probeOut, len(c.services))
	var wg sync.WaitGroup
	for _, svc := range c.services {
		wg.Add(1)
		go func(svc service) {
			defer wg.Done()
			start := time.Now()
			err := svc.prober.Probe(ctx)
			status := ServiceStatus{
				Online:    err == nil,
				LatencyMS: time.Since(start).Milliseconds(),
				Model:     svc.model,
				Host:      svc.host,
			}
			if err != nil {
				status.LatencyMS = 0
				status.Error = err.Error()
			}
			results <- probeOut{name: svc.name, status: status}
		}(svc)
	}
	wg.Wait()
	close(results)

	c.mu.Lock()
	st := c.snapshotForWrite()
	for out := range results {
		st.Services[out.name] = out.status
	}
	c.state.Store(st)
	c.mu.Unlock()

	return c.Snapshot()
}

// Run refreshes service health on an interval until ctx is cancelled.
func (c *Controller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}

// snapshotForWrite copies the current state for mutation by a writer
// holding c.mu (or during single-threaded setup).
func (c *Controller) snapshotForWrite() *State {
	st := c.state.Load()
	cp := *st
	cp.Services = make(map[string]ServiceStatus, len(st.Services))
	for k, v := range st.Services {
		cp.Services[k] = v
	}
	return &cp
}

// clamp enforces the OFFLINE invariant: no cloud-dependent capability can be
// enabled while outbound calls are blocked.
func clamp(st *State) {
	if st.Mode == ModeOffline {
		st.VisionEnabled = false
		st.ExecutiveAgentEnabled = false
	}
}
