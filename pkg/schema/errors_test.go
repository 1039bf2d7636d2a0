package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphError_Builders(t *testing.T) {
	cause := errors.New("disk full")
	err := NewErrorf(ErrCodeSlotOutOfRange, "slot %d out of range", 7).
		WithDetails(map[string]any{"slot": 7}).
		WithDetails(map[string]any{"valid_range": []int{0, 2}}).
		WithHint("node has 3 inputs").
		WithSuggestion("use slot 0-2").
		WithCause(cause)

	assert.Equal(t, "[SLOT_OUT_OF_RANGE] slot 7 out of range", err.Error())
	assert.Equal(t, 7, err.Details["slot"])
	assert.Equal(t, []int{0, 2}, err.Details["valid_range"])
	assert.ErrorIs(t, err, cause)
}

func TestGraphError_IsByCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewError(ErrCodeNotFound, "node 3 not found"))
	assert.True(t, errors.Is(err, &GraphError{Code: ErrCodeNotFound}))
	assert.False(t, errors.Is(err, &GraphError{Code: ErrCodeTypeMismatch}))
	assert.True(t, HasCode(err, ErrCodeNotFound))
}

func TestAsGraphError(t *testing.T) {
	assert.Nil(t, AsGraphError(nil))

	ge := AsGraphError(errors.New("boom"))
	require.NotNil(t, ge)
	assert.Equal(t, ErrCodeInternal, ge.Code)
	assert.Equal(t, "boom", ge.Message)

	orig := NewError(ErrCodeUnboundRef, "unbound $x")
	assert.Same(t, orig, AsGraphError(fmt.Errorf("ctx: %w", orig)))
}

func TestEnvelope(t *testing.T) {
	ok := Success(map[string]any{"node_id": 3})
	assert.True(t, ok.OK())
	assert.Equal(t, 3, ok["node_id"])

	fail := Failure(NewError(ErrCodeInvariant, "too small").
		WithHint("min 200x100").
		WithDetails(map[string]any{"min_width": 200.0}))
	assert.False(t, fail.OK())
	assert.Equal(t, "too small", fail["error"])
	assert.Equal(t, ErrCodeInvariant, fail["code"])
	assert.Equal(t, "min 200x100", fail["hint"])
	_, hasSuggestion := fail["suggestion"]
	assert.False(t, hasSuggestion)
	assert.Equal(t, map[string]any{"min_width": 200.0}, fail["details"])
}
