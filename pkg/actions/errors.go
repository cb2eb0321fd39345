package actions

import "errors"

var (
	// ErrNotFound is returned when an action does not exist.
	ErrNotFound = errors.New("action not found")

	// ErrConflict is returned when another writer changed the action between
	// read and write. Callers may retry.
	ErrConflict = errors.New("action was modified concurrently")

	// ErrRemediationFailed wraps a failure to spawn the remediation action
	// after a non-compliant closure has already been committed.
	ErrRemediationFailed = errors.New("remediation action could not be created")

	// ErrNoChange can be returned from an Update callback to abort the write
	// without reporting an error.
	ErrNoChange = errors.New("no change")
)

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
