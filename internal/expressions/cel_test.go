package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/rendis/nodeforge/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCEL(t *testing.T) *CELEngine {
	t.Helper()
	e, err := NewCELEngine()
	require.NoError(t, err)
	return e
}

func TestCEL_Name(t *testing.T) {
	assert.Equal(t, "cel", newCEL(t).Name())
}

func TestCEL_CheckConstraint(t *testing.T) {
	e := newCEL(t)
	ctx := context.Background()

	tests := []struct {
		name string
		expr string
		data map[string]any
		want bool
	}{
		{"multiple of 8", "value % 8 == 0", map[string]any{"value": int64(512)}, true},
		{"not multiple of 8", "value % 8 == 0", map[string]any{"value": int64(500)}, false},
		{"float range", "value >= 0.0 && value <= 1.0", map[string]any{"value": 0.75}, true},
		{"string suffix", `value.endsWith(".safetensors")`, map[string]any{"value": "a.ckpt"}, false},
		{"uses widget spec", `value <= widget.max`, map[string]any{"value": 3.0, "widget": map[string]any{"max": 5.0}}, true},
		{"uses node", `node.type == "KSampler"`, map[string]any{"node": map[string]any{"type": "KSampler"}}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.Check(ctx, tc.expr, tc.data)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCEL_Errors(t *testing.T) {
	e := newCEL(t)
	ctx := context.Background()

	_, err := e.Evaluate(ctx, "", nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidationFailed))

	err = e.Compile("value +")
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidationFailed))

	_, err = e.Check(ctx, "value + 1", map[string]any{"value": int64(1)})
	assert.True(t, schema.HasCode(err, schema.ErrCodeEvaluation), "non-bool result")

	_, err = e.Check(ctx, `value % 2 == 0`, map[string]any{"value": "x"})
	assert.True(t, schema.HasCode(err, schema.ErrCodeEvaluation))
}

func TestCEL_ConcurrentCache(t *testing.T) {
	e := newCEL(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			_, err := e.Check(context.Background(), "value > 5", map[string]any{"value": v})
			assert.NoError(t, err)
		}(int64(i))
	}
	wg.Wait()
	assert.Equal(t, 1, e.programs.len())
}
