package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown (or deleted) artifact ids.
	ErrNotFound = errors.New("artifact not found")

	// ErrSensitiveDeleteDenied is returned when deleting a sensitive
	// artifact without the force flag.
	ErrSensitiveDeleteDenied = errors.New("sensitive artifact requires force to delete")

	// ErrConfidenceGate marks a ValidationError raised because a
	// high-confidence fact lacks sources or an evidence type.
	ErrConfidenceGate = errors.New("high-confidence fact requires source_urls and evidence_type")

	// ErrRevisionConflict is returned when an update was computed from a
	// stale revision of the artifact.
	ErrRevisionConflict = errors.New("artifact revision conflict")
)

// ValidationError reports a malformed or missing content field.
type ValidationError struct {
	Field  string
	Reason string
	gate   bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Unwrap exposes ErrConfidenceGate for confidence-gate failures so callers
// can distinguish them with errors.Is.
func (e *ValidationError) Unwrap() error {
	if e.gate {
		return ErrConfidenceGate
	}
	return nil
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}
