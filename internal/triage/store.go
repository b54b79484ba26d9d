package triage

import "context"

// Store is the persistence interface for triage cases. Save assigns the
// visit ID and resolves (or creates) the patient record; callers treat the
// stored CaseResult as immutable afterwards.
type Store interface {
	// Save persists a completed case and returns its new visit ID.
	Save(ctx context.Context, result *CaseResult) (string, error)
	// Get returns a case by visit ID, or ErrNotFound.
	Get(ctx context.Context, visitID string) (*CaseResult, error)
	// List returns history items newest-first with skip/limit pagination.
	List(ctx context.Context, skip, limit int) ([]HistoryItem, error)
	// BPHistory returns the patient's blood pressure series oldest-first,
	// or ErrNotFound when the patient does not exist.
	BPHistory(ctx context.Context, patientID string) ([]BpPoint, error)
}
