// Package scheduler saves the live document on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/nodeforge/internal/metrics"
	"github.com/rendis/nodeforge/internal/store"
	"github.com/rendis/nodeforge/pkg/schema"
)

// Defaults for Config.
const (
	DefaultName         = "autosave"
	DefaultPollInterval = 15 * time.Second
)

// Source is the live document. Satisfied by *graph.Store.
type Source interface {
	SnapshotAt() (*schema.Document, uint64)
	Revision() uint64
}

// Saver persists a document version. Satisfied by store.Store.
type Saver interface {
	SaveDocument(ctx context.Context, name string, doc *schema.Document, meta store.SaveMeta) (*store.SavedDocument, error)
}

// EventAppender receives a document_saved event after each autosave.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *schema.Event) error
}

// Config configures the autosave job.
type Config struct {
	// Schedule is a five-field cron expression or a descriptor such as
	// "@every 5m" or "@hourly".
	Schedule string
	// Name is the saved document name.
	Name string
	// PollInterval is how often the loop checks whether a run is due.
	PollInterval time.Duration
}

// Scheduler runs the autosave job. A save happens only when the document
// revision moved since the last save.
type Scheduler struct {
	source   Source
	saver    Saver
	events   EventAppender
	metrics  *metrics.Collector
	logger   *slog.Logger
	name     string
	spec     string
	schedule cron.Schedule
	poll     time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	nextRun time.Time

	// saveMu serializes saves and guards lastRev.
	saveMu  sync.Mutex
	lastRev uint64
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a cron expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	s, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", spec, err)
	}
	return s, nil
}

// NewScheduler creates a Scheduler. The current revision counts as saved.
// events, m and logger may be nil.
func NewScheduler(cfg Config, source Source, saver Saver, events EventAppender, m *metrics.Collector, logger *slog.Logger) (*Scheduler, error) {
	sched, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source:   source,
		saver:    saver,
		events:   events,
		metrics:  m,
		logger:   logger,
		name:     cfg.Name,
		spec:     cfg.Schedule,
		schedule: sched,
		poll:     cfg.PollInterval,
		lastRev:  source.Revision(),
	}, nil
}

// Name returns the document name autosaves are written under.
func (s *Scheduler) Name() string { return s.name }

// Start launches the background loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.nextRun = s.schedule.Next(time.Now())
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("autosave started", slog.String("schedule", s.spec), slog.String("name", s.name))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// tick saves when the next run is due and schedules the one after.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := !s.nextRun.After(now)
	if due {
		s.nextRun = s.schedule.Next(now)
	}
	s.mu.Unlock()
	if !due {
		return
	}
	if _, err := s.SaveIfChanged(ctx); err != nil {
		s.logger.Error("autosave failed", slog.String("name", s.name), slog.String("error", err.Error()))
	}
}

// SaveIfChanged saves the document unless its revision was already saved.
// It returns nil when nothing needed saving.
func (s *Scheduler) SaveIfChanged(ctx context.Context) (*store.SavedDocument, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	doc, rev := s.source.SnapshotAt()
	if rev == s.lastRev {
		return nil, nil
	}
	saved, err := s.saver.SaveDocument(ctx, s.name, doc, store.SaveMeta{Revision: rev, Source: store.SourceAutosave})
	s.metrics.ObserveDocumentOp("autosave", err)
	if err != nil {
		return nil, err
	}
	s.lastRev = rev

	s.logger.Info("document autosaved",
		slog.String("name", s.name),
		slog.Int("version", saved.Version),
		slog.Uint64("revision", rev),
	)
	if s.events != nil {
		ev := &schema.Event{
			Type:      schema.EventSaved,
			Payload:   map[string]any{"name": s.name, "version": saved.Version, "source": store.SourceAutosave},
			Timestamp: time.Now().UTC(),
		}
		if err := s.events.AppendEvent(ctx, ev); err != nil {
			s.logger.Warn("autosave event not recorded", slog.String("error", err.Error()))
		}
	}
	return saved, nil
}

// MarkSaved records rev as persisted, so a manual save or a load does not
// trigger a redundant autosave.
func (s *Scheduler) MarkSaved(rev uint64) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.lastRev = rev
}

// NextRun returns when the next save is due. Zero before Start.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// Stop shuts down the loop and writes a final save if the document changed.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	_, err := s.SaveIfChanged(ctx)
	s.logger.Info("autosave stopped")
	return err
}
