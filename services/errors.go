package services

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfigNotFound is returned for operations on an unknown sync config id.
var ErrConfigNotFound = errors.New("sync config not found")

// ValidationError lists every problem found in a sync config. Nothing is
// stored when it is returned.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid sync config: " + strings.Join(e.Problems, "; ")
}

func newValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Problems: []string{fmt.Sprintf(format, args...)}}
}

// DeliveryError is the terminal outcome of a delivery after all attempts.
type DeliveryError struct {
	WorkflowID string
	Attempts   int
	// StatusCode of the last response, 0 when no response was received.
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("delivery to workflow %s failed after %d attempts (status %d): %v", e.WorkflowID, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("delivery to workflow %s failed after %d attempts: %v", e.WorkflowID, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Rejected reports whether the destination refused the payload itself.
func (e *DeliveryError) Rejected() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// ProjectionWarning notes a selected field missing from a row snapshot.
type ProjectionWarning struct {
	Field string
}

func (w ProjectionWarning) Error() string {
	return fmt.Sprintf("field %q not present in row snapshot, sent as null", w.Field)
}
