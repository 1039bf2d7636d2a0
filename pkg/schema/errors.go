package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeUnknownType      = "UNKNOWN_TYPE"
	ErrCodeUnknownWidget    = "UNKNOWN_WIDGET"
	ErrCodeInvalidValue     = "INVALID_VALUE"
	ErrCodeSlotOutOfRange   = "SLOT_OUT_OF_RANGE"
	ErrCodeTypeMismatch     = "TYPE_MISMATCH"
	ErrCodeDuplicateRef     = "DUPLICATE_REF"
	ErrCodeUnboundRef       = "UNBOUND_REF"
	ErrCodeInvariant        = "INVARIANT_VIOLATION"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeNotAllowed       = "NOT_ALLOWED"
	ErrCodeAmbiguous        = "AMBIGUOUS"
	ErrCodeCycleDetected    = "CYCLE_DETECTED"
	ErrCodePatchFailed      = "PATCH_FAILED"
	ErrCodeEvaluation       = "EVALUATION_ERROR"
	ErrCodeStore            = "STORE_ERROR"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// GraphError is the structured error type returned by every graph operation.
// Hint and Suggestion are meant for the caller: enough context to fix the
// request without another discovery round trip.
type GraphError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Hint       string         `json:"hint,omitempty"`
	Suggestion string         `json:"suggestion,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *GraphError) Unwrap() error {
	return e.Cause
}

// Is matches another *GraphError by code, so errors.Is(err, &GraphError{Code: X}) works.
func (e *GraphError) Is(target error) bool {
	t, ok := target.(*GraphError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// NewError creates a new GraphError.
func NewError(code, message string) *GraphError {
	return &GraphError{Code: code, Message: message}
}

// NewErrorf creates a new GraphError with a formatted message.
func NewErrorf(code, format string, args ...any) *GraphError {
	return &GraphError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches an underlying cause.
func (e *GraphError) WithCause(err error) *GraphError {
	e.Cause = err
	return e
}

// WithDetails merges key-value details into the error.
func (e *GraphError) WithDetails(details map[string]any) *GraphError {
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithHint attaches a short hint describing the constraint that was violated.
func (e *GraphError) WithHint(hint string) *GraphError {
	e.Hint = hint
	return e
}

// WithSuggestion attaches a concrete corrective action.
func (e *GraphError) WithSuggestion(s string) *GraphError {
	e.Suggestion = s
	return e
}

// AsGraphError normalizes any error into a *GraphError. Foreign errors are
// wrapped as INTERNAL_ERROR with the original kept as cause.
func AsGraphError(err error) *GraphError {
	if err == nil {
		return nil
	}
	var ge *GraphError
	if errors.As(err, &ge) {
		return ge
	}
	return NewError(ErrCodeInternal, err.Error()).WithCause(err)
}

// HasCode reports whether err is a GraphError with the given code.
func HasCode(err error, code string) bool {
	var ge *GraphError
	return errors.As(err, &ge) && ge.Code == code
}
