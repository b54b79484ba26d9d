// Package caseapi exposes the triage pipeline, case history, auth, and
// topology control over HTTP. All error responses use the detail envelope:
// {"detail": <string or validation error list>}.
package caseapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/maternahealth/materna/internal/auth"
	"github.com/maternahealth/materna/internal/topology"
	"github.com/maternahealth/materna/internal/triage"
)

// TriageService defines the business operations caseapi needs.
type TriageService interface {
	SubmitCase(ctx context.Context, sub *triage.CaseSubmission) (*triage.CaseResult, error)
	GetCase(ctx context.Context, visitID string) (*triage.CaseResult, error)
	History(ctx context.Context, skip, limit int) ([]triage.HistoryItem, error)
	BPHistory(ctx context.Context, patientID string) ([]triage.BpPoint, error)
	AnalyzeImage(ctx context.Context, imageData string) (*triage.VisionFindings, error)
}

// AuthService defines the account operations caseapi needs.
type AuthService interface {
	Signup(ctx context.Context, username, password, clinicName string) (*auth.User, error)
	Login(ctx context.Context, username, password string) (string, error)
	Me(ctx context.Context, username string) (*auth.User, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    TriageService
	auth   AuthService
	issuer *auth.Issuer
	topo   *topology.Controller
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService, authSvc AuthService, issuer *auth.Issuer, topo *topology.Controller) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	if topo == nil {
		panic(xerrors.New("topology controller is required"))
	}
	return &API{logger: logger, svc: svc, auth: authSvc, issuer: issuer, topo: topo}
}

// RegisterRoutes attaches API endpoints to the router. Auth endpoints and
// the health probe stay open; everything else requires a bearer token.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Post("/auth/token", a.handleToken)
		r.Post("/auth/signup", a.handleSignup)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(a.issuer))

			r.Get("/auth/me", a.handleMe)
			r.Post("/submit_case", a.handleSubmitCase)
			r.Get("/case/{visit_id}", a.handleGetCase)
			r.Get("/history", a.handleHistory)
			r.Get("/bp_history/{patient_id}", a.handleBPHistory)
			r.Post("/triage/vision", a.handleVision)
			r.Get("/topology", a.handleGetTopology)
			r.Post("/topology", a.handleSetTopology)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	topo := a.topo.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"mode":         topo.Mode,
		"model_status": topo.Services,
	})
}

func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed form body")
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if username == "" || password == "" {
		writeDetail(w, http.StatusBadRequest, "username and password are required")
		return
	}

	token, err := a.auth.Login(r.Context(), username, password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeDetail(w, http.StatusUnauthorized, "Incorrect credentials")
			return
		}
		a.internalError(w, r, err, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username   string `json:"username"`
		Password   string `json:"password"`
		ClinicName string `json:"clinic_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	user, err := a.auth.Signup(r.Context(), req.Username, req.Password, req.ClinicName)
	if err != nil {
		if errors.Is(err, auth.ErrExists) {
			writeDetail(w, http.StatusConflict, "Username already exists")
			return
		}
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	user, err := a.auth.Me(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "User not found")
			return
		}
		a.internalError(w, r, err, "fetch profile failed")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleSubmitCase(w http.ResponseWriter, r *http.Request) {
	var sub triage.CaseSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	result, err := a.svc.SubmitCase(r.Context(), &sub)
	if err != nil {
		if ie, ok := triage.AsInvalidInput(err); ok {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"detail": []*triage.InvalidInputError{ie},
			})
			return
		}
		a.internalError(w, r, err, "case pipeline failed")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("materna.visit.id", result.VisitID),
		attribute.String("materna.risk.level", string(result.Risk.RiskLevel)),
		attribute.Bool("materna.escalated", result.Escalated),
	)
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleGetCase(w http.ResponseWriter, r *http.Request) {
	visitID := chi.URLParam(r, "visit_id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("materna.visit.id", visitID))

	result, err := a.svc.GetCase(r.Context(), visitID)
	if err != nil {
		if errors.Is(err, triage.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "Case "+visitID+" not found.")
			return
		}
		a.internalError(w, r, err, "fetch case failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	skip := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", 20)

	items, err := a.svc.History(r.Context(), skip, limit)
	if err != nil {
		a.internalError(w, r, err, "list history failed")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) handleBPHistory(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patient_id")

	points, err := a.svc.BPHistory(r.Context(), patientID)
	if err != nil {
		if errors.Is(err, triage.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "Patient "+patientID+" not found.")
			return
		}
		a.internalError(w, r, err, "bp history failed")
		return
	}
	if points == nil {
		points = []triage.BpPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

func (a *API) handleVision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImageData string `json:"image_data"`
		Prompt    string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.ImageData == "" {
		writeDetail(w, http.StatusBadRequest, "image_data is required")
		return
	}

	findings, err := a.svc.AnalyzeImage(r.Context(), req.ImageData)
	if err != nil {
		if ie, ok := triage.AsInvalidInput(err); ok {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"detail": []*triage.InvalidInputError{ie},
			})
			return
		}
		var be *triage.BackendUnavailableError
		if errors.As(err, &be) {
			writeDetail(w, http.StatusServiceUnavailable, "Vision service unavailable: "+be.Err.Error())
			return
		}
		a.internalError(w, r, err, "vision analysis failed")
		return
	}
	writeJSON(w, http.StatusOK, findings)
}

func (a *API) handleGetTopology(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.topo.Snapshot())
}

func (a *API) handleSetTopology(w http.ResponseWriter, r *http.Request) {
	var upd topology.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	updatedBy := "api"
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		updatedBy = claims.Subject
	}

	state, err := a.topo.Apply(r.Context(), upd, updatedBy)
	if err != nil {
		var ce *topology.ConfigError
		if errors.As(err, &ce) {
			writeDetail(w, http.StatusBadRequest, ce.Reason)
			return
		}
		a.internalError(w, r, err, "topology update failed")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (a *API) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	a.logger.Error(r.Context(), err, msg)
	writeDetail(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
