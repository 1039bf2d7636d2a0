package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
}

func TestValidationResult_AddError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("commands[0].tool", ErrCodeNotAllowed, "tool not allowed")

	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "commands[0].tool", r.Errors[0].Path)
	assert.Equal(t, ErrCodeNotAllowed, r.Errors[0].Code)
	assert.Equal(t, SeverityError, r.Errors[0].Severity)
}

func TestValidationResult_AddWarning(t *testing.T) {
	r := &ValidationResult{}
	r.AddNodeWarning(4, ErrCodeValidationFailed, "optional input unbound")

	assert.True(t, r.Valid(), "warnings alone should not make result invalid")
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
	assert.Equal(t, 4, r.Warnings[0].NodeID)
	assert.Equal(t, "nodes[4]", r.Warnings[0].Path)
}

func TestValidationResult_Merge(t *testing.T) {
	r1 := &ValidationResult{}
	r1.AddError("/", ErrCodeValidationFailed, "err1")
	r1.AddWarning("/", ErrCodeValidationFailed, "warn1")

	r2 := &ValidationResult{}
	r2.AddError("links", ErrCodeCycleDetected, "err2")
	r2.AddWarning("nodes[1]", ErrCodeValidationFailed, "warn2")

	r1.Merge(r2)
	r1.Merge(nil)

	assert.Len(t, r1.Errors, 2)
	assert.Len(t, r1.Warnings, 2)
}

func TestValidationResult_ToError(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("/", ErrCodeValidationFailed, "just a warning")
	assert.Nil(t, r.ToError())

	r.AddError("/", ErrCodeValidationFailed, "err1")
	err := r.ToError()
	require.Error(t, err)
	ge, ok := err.(*GraphError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeValidationFailed, ge.Code)
	assert.Equal(t, "err1", ge.Message)

	r.AddError("/", ErrCodeNotAllowed, "err2")
	ge = r.ToError().(*GraphError)
	assert.Contains(t, ge.Message, "2 errors")
	assert.Equal(t, 2, ge.Details["error_count"])
	assert.Equal(t, 1, ge.Details["warning_count"])
}
