package triage

import (
	"errors"
	"fmt"
)

// InvalidInputError reports a client-fixable problem with a submission
// field. It propagates to the caller verbatim and is never retried.
type InvalidInputError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

// AsInvalidInput extracts an InvalidInputError from err, if present.
func AsInvalidInput(err error) (*InvalidInputError, bool) {
	var ie *InvalidInputError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// BackendUnavailableError marks a transient failure of a model or retrieval
// backend. Pipeline stages absorb it via their fallback paths; it never
// surfaces as a failed request.
type BackendUnavailableError struct {
	Backend string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend %s unavailable: %v", e.Backend, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// ErrNotFound is returned by stores when a case or patient does not exist.
var ErrNotFound = errors.New("not found")
