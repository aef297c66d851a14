package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// FieldError describes one field that failed its declared constraint.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned before persistence when input violates a constraint.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add appends a field failure.
func (e *ValidationError) Add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// OrNil returns e as an error when it holds failures, nil otherwise.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// NewFieldError builds a single-field ValidationError.
func NewFieldError(field, format string, args ...any) *ValidationError {
	v := &ValidationError{}
	v.Add(field, format, args...)
	return v
}

// IntegrityError is returned when the store rejects a write on a uniqueness,
// foreign-key or check constraint.
type IntegrityError struct {
	Constraint string
	Err        error
}

func (e *IntegrityError) Error() string {
	if e.Constraint == "" {
		return fmt.Sprintf("integrity violation: %v", e.Err)
	}
	return fmt.Sprintf("integrity violation on %s: %v", e.Constraint, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// StateError is returned when an operation is illegal for the record's current state.
// The record is left unchanged.
type StateError struct {
	Entity string
	From   string
	To     string
	Reason string
}

func (e *StateError) Error() string {
	if e.To != "" {
		return fmt.Sprintf("%s: illegal transition %s -> %s", e.Entity, e.From, e.To)
	}
	return fmt.Sprintf("%s: %s (state %s)", e.Entity, e.Reason, e.From)
}

// FromError maps any error returned by the domain services onto an APIError.
// Not-found and ownership sentinels are matched by the caller-supplied table.
func FromError(err error, known map[error]*APIError) *APIError {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr
	}

	var validation *ValidationError
	if stderrors.As(err, &validation) {
		return NewValidationError(validation.Fields)
	}

	var integrity *IntegrityError
	if stderrors.As(err, &integrity) {
		return &APIError{
			Code:       ErrIntegrityViolation,
			Message:    "Conflicts with existing data",
			Details:    map[string]string{"constraint": integrity.Constraint},
			HTTPStatus: http.StatusConflict,
		}
	}

	var state *StateError
	if stderrors.As(err, &state) {
		return &APIError{
			Code:       ErrIllegalState,
			Message:    state.Error(),
			HTTPStatus: http.StatusConflict,
		}
	}

	for sentinel, mapped := range known {
		if stderrors.Is(err, sentinel) {
			return mapped
		}
	}

	return ErrInternalServerError
}
