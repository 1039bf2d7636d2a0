package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeforge/internal/metrics"
	"github.com/rendis/nodeforge/internal/store"
	"github.com/rendis/nodeforge/pkg/schema"
)

// mockSource is a document whose revision the test controls.
type mockSource struct {
	mu  sync.Mutex
	rev uint64
}

func (m *mockSource) SnapshotAt() (*schema.Document, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &schema.Document{NextNodeID: int(m.rev) + 1}, m.rev
}

func (m *mockSource) Revision() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rev
}

func (m *mockSource) bump() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rev++
}

// mockSaver records saves.
type mockSaver struct {
	mu    sync.Mutex
	saves []store.SaveMeta
	names []string
	err   error
}

func (m *mockSaver) SaveDocument(_ context.Context, name string, _ *schema.Document, meta store.SaveMeta) (*store.SavedDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.saves = append(m.saves, meta)
	m.names = append(m.names, name)
	return &store.SavedDocument{Name: name, Version: len(m.saves), Revision: meta.Revision, Source: meta.Source}, nil
}

func (m *mockSaver) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saves)
}

type recordingAppender struct {
	mu     sync.Mutex
	events []*schema.Event
}

func (r *recordingAppender) AppendEvent(_ context.Context, ev *schema.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func newTestScheduler(t *testing.T, cfg Config, src Source, saver Saver, events EventAppender) *Scheduler {
	t.Helper()
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1s"
	}
	s, err := NewScheduler(cfg, src, saver, events, metrics.New(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

// --- Tests ---

func TestParseSchedule(t *testing.T) {
	from := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		spec string
		want time.Time
	}{
		{"0 * * * *", time.Date(2026, 2, 10, 13, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 2, 10, 12, 15, 0, 0, time.UTC)},
		{"0 0 * * *", time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC)},
		{"@every 5m", time.Date(2026, 2, 10, 12, 5, 0, 0, time.UTC)},
		{"@hourly", time.Date(2026, 2, 10, 13, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			s, err := ParseSchedule(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Next(from))
		})
	}

	_, err := ParseSchedule("invalid cron")
	assert.Error(t, err)
}

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	_, err := NewScheduler(Config{Schedule: "every now and then"}, &mockSource{}, &mockSaver{}, nil, nil, nil)
	assert.Error(t, err)
}

func TestNewSchedulerDefaults(t *testing.T) {
	s := newTestScheduler(t, Config{}, &mockSource{}, &mockSaver{}, nil)
	assert.Equal(t, DefaultName, s.Name())
	assert.Equal(t, DefaultPollInterval, s.poll)
	assert.True(t, s.NextRun().IsZero())
}

func TestSaveIfChanged(t *testing.T) {
	src := &mockSource{rev: 3}
	saver := &mockSaver{}
	events := &recordingAppender{}
	s := newTestScheduler(t, Config{Name: "live"}, src, saver, events)
	ctx := context.Background()

	saved, err := s.SaveIfChanged(ctx)
	require.NoError(t, err)
	assert.Nil(t, saved, "the starting revision counts as saved")

	src.bump()
	saved, err = s.SaveIfChanged(ctx)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "live", saved.Name)
	assert.Equal(t, uint64(4), saved.Revision)
	assert.Equal(t, store.SourceAutosave, saved.Source)

	saved, err = s.SaveIfChanged(ctx)
	require.NoError(t, err)
	assert.Nil(t, saved)
	assert.Equal(t, 1, saver.count())

	require.Len(t, events.events, 1)
	assert.Equal(t, schema.EventSaved, events.events[0].Type)
	assert.Equal(t, "live", events.events[0].Payload["name"])
}

func TestSaveIfChangedError(t *testing.T) {
	src := &mockSource{}
	saver := &mockSaver{err: errors.New("disk full")}
	s := newTestScheduler(t, Config{}, src, saver, nil)

	src.bump()
	_, err := s.SaveIfChanged(context.Background())
	require.Error(t, err)

	// A failed save is retried on the next run.
	saver.err = nil
	saved, err := s.SaveIfChanged(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, saved)
	n, err := testutil.GatherAndCount(s.metrics.Registry(), "nodeforge_document_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one error series and one ok series")
}

func TestMarkSaved(t *testing.T) {
	src := &mockSource{}
	saver := &mockSaver{}
	s := newTestScheduler(t, Config{}, src, saver, nil)

	src.bump()
	s.MarkSaved(src.Revision())
	saved, err := s.SaveIfChanged(context.Background())
	require.NoError(t, err)
	assert.Nil(t, saved)
	assert.Zero(t, saver.count())
}

func TestTickHonorsSchedule(t *testing.T) {
	src := &mockSource{}
	saver := &mockSaver{}
	s := newTestScheduler(t, Config{Schedule: "*/15 * * * *"}, src, saver, nil)
	ctx := context.Background()

	base := time.Date(2026, 2, 10, 12, 1, 0, 0, time.UTC)
	s.nextRun = time.Date(2026, 2, 10, 12, 15, 0, 0, time.UTC)
	src.bump()

	s.tick(ctx, base)
	assert.Zero(t, saver.count(), "not due yet")

	s.tick(ctx, base.Add(14*time.Minute))
	assert.Equal(t, 1, saver.count())
	assert.Equal(t, time.Date(2026, 2, 10, 12, 30, 0, 0, time.UTC), s.NextRun())

	// Due again but unchanged.
	s.tick(ctx, base.Add(29*time.Minute))
	assert.Equal(t, 1, saver.count())
}

func TestStartStop(t *testing.T) {
	src := &mockSource{}
	saver := &mockSaver{}
	s := newTestScheduler(t, Config{Schedule: "@every 1s", PollInterval: 20 * time.Millisecond}, src, saver, nil)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "double start")
	assert.False(t, s.NextRun().IsZero())

	src.bump()
	assert.Eventually(t, func() bool { return saver.count() == 1 }, 3*time.Second, 20*time.Millisecond)

	src.bump()
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, 2, saver.count(), "stop flushes pending changes")

	require.NoError(t, s.Stop(context.Background()), "stop is idempotent")
}
