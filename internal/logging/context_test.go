package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", SessionID(ctx))
	assert.Equal(t, "", TxID(ctx))
	assert.Equal(t, "", Tool(ctx))

	ctx = WithSessionID(ctx, "sess-1")
	ctx = WithTxID(ctx, "tx-1")
	ctx = WithTool(ctx, "create_node")

	assert.Equal(t, "sess-1", SessionID(ctx))
	assert.Equal(t, "tx-1", TxID(ctx))
	assert.Equal(t, "create_node", Tool(ctx))
}

func TestWithIDs(t *testing.T) {
	ctx := WithIDs(context.Background(), "s", "t", "batch")
	assert.Equal(t, "s", SessionID(ctx))
	assert.Equal(t, "t", TxID(ctx))
	assert.Equal(t, "batch", Tool(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithIDs(context.Background(), "sess-abc", "tx-abc", "update_widget")
	LogWith(ctx, logger).Info("test message")

	out := buf.String()
	assert.Contains(t, out, "session_id=sess-abc")
	assert.Contains(t, out, "tx_id=tx-abc")
	assert.Contains(t, out, "tool=update_widget")
	assert.Contains(t, out, "test message")
}

func TestLogWithPartialContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LogWith(WithTxID(context.Background(), "tx-only"), logger).Info("partial")

	out := buf.String()
	assert.Contains(t, out, "tx_id=tx-only")
	assert.NotContains(t, out, "session_id")
	assert.NotContains(t, out, "tool=")
}

func TestCorrelationHandler(t *testing.T) {
	tests := []struct {
		name    string
		ctx     context.Context
		want    []string
		notWant []string
	}{
		{
			name: "all ids",
			ctx:  WithIDs(context.Background(), "s-1", "t-1", "batch"),
			want: []string{`"session_id":"s-1"`, `"tx_id":"t-1"`, `"tool":"batch"`},
		},
		{
			name:    "empty context",
			ctx:     context.Background(),
			notWant: []string{"session_id", "tx_id", `"tool"`},
		},
		{
			name:    "session only",
			ctx:     WithSessionID(context.Background(), "s-2"),
			want:    []string{`"session_id":"s-2"`},
			notWant: []string{"tx_id"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))
			logger.InfoContext(tt.ctx, "hello")
			out := buf.String()
			assert.Contains(t, out, "hello")
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
			for _, w := range tt.notWant {
				assert.NotContains(t, out, w)
			}
		})
	}
}

func TestCorrelationHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	handler := NewCorrelationHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("component", "engine")}))

	logger.InfoContext(WithTxID(context.Background(), "tx-attr"), "with attrs")
	assert.Contains(t, buf.String(), `"tx_id":"tx-attr"`)
	assert.Contains(t, buf.String(), `"component":"engine"`)

	buf.Reset()
	slog.New(handler.WithGroup("engine")).InfoContext(WithTxID(context.Background(), "tx-grp"), "grouped", "key", "val")
	assert.Contains(t, buf.String(), "tx-grp")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "json", "warn")
	logger.InfoContext(context.Background(), "dropped")
	logger.WarnContext(WithTool(context.Background(), "organize"), "kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), `"tool":"organize"`)

	assert.NotNil(t, OrDefault(nil))
}

func TestNewLeveledFollowsLevelVar(t *testing.T) {
	var buf bytes.Buffer
	lv := new(slog.LevelVar)
	lv.Set(slog.LevelError)
	logger := NewLeveled(&buf, "text", lv)

	logger.Info("before")
	lv.Set(slog.LevelDebug)
	logger.Debug("after")

	assert.NotContains(t, buf.String(), "before")
	assert.Contains(t, buf.String(), "after")
}
