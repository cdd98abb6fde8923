package claims

import "errors"

var (
	// ErrNotFound is returned by repositories when no row matches.
	ErrNotFound = errors.New("not found")
	// ErrClaimTypeUnsupported is returned for 837I and 837D batches.
	ErrClaimTypeUnsupported = errors.New("claim type not yet implemented")
)

// ValidationError reports a request the orchestrator refuses to act on,
// including invalid status transitions.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }
