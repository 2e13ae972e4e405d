package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyQuery is the only error AcceptQuery returns to callers.
	ErrEmptyQuery = errors.New("query must not be empty")

	// ErrBackendUnavailable means the backend was skipped without being
	// called: unhealthy, circuit open or rate limited.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrBackendTimeout means the dispatch exceeded its time budget.
	ErrBackendTimeout = errors.New("backend timed out")
	// ErrBackendError means the backend returned an error.
	ErrBackendError = errors.New("backend error")
)

// DispatchError describes one failed dispatch attempt. Kind is one of the
// sentinel errors above; errors.Is matches both Kind and the cause.
type DispatchError struct {
	BackendID string
	Kind      error
	Err       error
}

func (e *DispatchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.BackendID, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.BackendID, e.Kind, e.Err)
}

func (e *DispatchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
