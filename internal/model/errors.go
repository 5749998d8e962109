package model

import (
	"errors"
	"fmt"
)

// ValidationError marks a malformed input record. The single record is
// rejected and the batch continues.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// UnresolvedReferenceError marks a record referencing a document, material,
// or company that does not resolve. The record is quarantined, never
// aggregated.
type UnresolvedReferenceError struct {
	RefType string
	Ref     string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("unresolved %s reference: %s", e.RefType, e.Ref)
}

// IsUnresolvedReference reports whether err is (or wraps) an
// UnresolvedReferenceError.
func IsUnresolvedReference(err error) bool {
	var ue *UnresolvedReferenceError
	return errors.As(err, &ue)
}

// ConsistencyError marks a violated invariant, such as a non-positive
// canonical price after aggregation. It is fatal to that single
// recomputation; the previous value is retained and the error surfaced.
type ConsistencyError struct {
	Detail string
}

func (e *ConsistencyError) Error() string {
	return "consistency: " + e.Detail
}

// IsConsistency reports whether err is (or wraps) a ConsistencyError.
func IsConsistency(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}
