// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/maternahealth/materna/internal/triage"
)

// Store holds case results in memory. Suitable for dev/testing and clinics
// running without a database.
type Store struct {
	mu       sync.RWMutex
	cases    map[string]*triage.CaseResult // visit ID -> case
	order    []string                      // visit IDs in insertion order
	patients map[string]string             // lowercased patient name -> patient ID
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		cases:    make(map[string]*triage.CaseResult),
		patients: make(map[string]string),
	}
}

// Save assigns a visit ID, resolves the patient record by name, and stores a
// copy of the result.
func (s *Store) Save(_ context.Context, r *triage.CaseResult) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(strings.TrimSpace(r.PatientName))
	patientID, ok := s.patients[key]
	if !ok {
		patientID = uuid.NewString()
		s.patients[key] = patientID
	}

	visitID := ulid.Make().String()
	cp := *r
	cp.VisitID = visitID
	cp.PatientID = patientID
	s.cases[visitID] = &cp
	s.order = append(s.order, visitID)
	r.PatientID = patientID
	return visitID, nil
}

// Get retrieves a case by visit ID. Returns a copy.
func (s *Store) Get(_ context.Context, visitID string) (*triage.CaseResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.cases[visitID]
	if !ok {
		return nil, triage.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// List returns history items newest-first.
func (s *Store) List(_ context.Context, skip, limit int) ([]triage.HistoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]triage.HistoryItem, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		r := s.cases[s.order[i]]
		items = append(items, triage.HistoryItem{
			VisitID:     r.VisitID,
			PatientName: r.PatientName,
			SubmittedAt: r.SubmittedAt,
			RiskLevel:   r.Risk.RiskLevel,
			RiskScore:   r.Risk.RiskScore,
			Escalated:   r.Escalated,
		})
	}
	if skip >= len(items) {
		return []triage.HistoryItem{}, nil
	}
	items = items[skip:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items, nil
}

// BPHistory returns the patient's blood pressure series oldest-first.
func (s *Store) BPHistory(_ context.Context, patientID string) ([]triage.BpPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := false
	for _, id := range s.patients {
		if id == patientID {
			found = true
			break
		}
	}
	if !found {
		return nil, triage.ErrNotFound
	}

	var points []triage.BpPoint
	for _, r := range s.cases {
		if r.PatientID != patientID {
			continue
		}
		points = append(points, triage.BpPoint{
			RecordedAt: r.SubmittedAt,
			Systolic:   r.Vitals.Systolic,
			Diastolic:  r.Vitals.Diastolic,
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].RecordedAt.Before(points[j].RecordedAt) })
	return points, nil
}
