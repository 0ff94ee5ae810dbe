package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrParse          = errors.New("parse error")
	ErrUpdate         = errors.New("update error")
	ErrProvider       = errors.New("provider error")
	ErrValidation     = errors.New("validation error")
	ErrPassInProgress = errors.New("reconciliation pass already in progress")
	ErrRateLimited    = errors.New("rate limited")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
