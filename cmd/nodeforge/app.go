package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rendis/nodeforge/internal/analysis"
	"github.com/rendis/nodeforge/internal/engine"
	"github.com/rendis/nodeforge/internal/expressions"
	"github.com/rendis/nodeforge/internal/graph"
	"github.com/rendis/nodeforge/internal/metrics"
	"github.com/rendis/nodeforge/internal/registry"
	"github.com/rendis/nodeforge/internal/scheduler"
	"github.com/rendis/nodeforge/internal/store"
	"github.com/rendis/nodeforge/internal/streaming"
	"github.com/rendis/nodeforge/internal/validation"
	"github.com/rendis/nodeforge/pkg/mcp"
	"github.com/rendis/nodeforge/pkg/schema"
)

// app is the wired server: one live document behind the MCP tools, with
// persistence, autosave, metrics and change events around it.
type app struct {
	cfg      Config
	logger   *slog.Logger
	registry *registry.Registry
	executor *engine.Executor
	hub      *streaming.MemoryHub
	metrics  *metrics.Collector
	store    store.Store
	autosave *scheduler.Scheduler
	server   *mcp.Server
	notifier *mcp.ChangeNotifier
}

func newApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	reg, err := loadRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, fmt.Errorf("cel engine: %w", err)
	}
	schemas, err := validation.NewSchemaValidator()
	if err != nil {
		return nil, fmt.Errorf("command schemas: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		hub:      streaming.NewMemoryHub(),
		metrics:  metrics.New(),
	}
	sinks := engine.Appenders{a.hub}

	if cfg.DBPath != "" {
		st, err := openStore(ctx, cfg.DBPath)
		if err != nil {
			return nil, err
		}
		a.store = st
		sinks = append(sinks, store.NewJournal(st))
	}

	docs := graph.NewStore(graph.New(reg, graph.Options{
		GroupPadding:     cfg.GroupPadding,
		StrictLinkDelete: cfg.StrictLinkDelete,
		Constraints:      cel,
	}))
	a.executor = engine.New(engine.Deps{
		Store:   docs,
		Schemas: schemas,
		Events:  sinks,
		Metrics: a.metrics,
		Logger:  logger,
	}, engine.Config{MaxCommands: cfg.MaxCommands, UndoDepth: cfg.UndoDepth})

	deps := mcp.ServerDeps{
		Executor:   a.executor,
		Registry:   reg,
		Schemas:    schemas,
		Store:      a.store,
		Events:     sinks,
		Predicates: expressions.NewExprEngine(),
		Queries:    expressions.NewGoJQEngine(0),
		Options:    mcp.Options{MaxGroupMembers: cfg.MaxGroupMembers},
		Logger:     logger,
	}
	if a.store != nil && cfg.AutosaveSchedule != "" {
		a.autosave, err = scheduler.NewScheduler(scheduler.Config{
			Schedule: cfg.AutosaveSchedule,
			Name:     cfg.AutosaveName,
		}, docs, a.store, sinks, a.metrics, logger)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("autosave: %w", err)
		}
		deps.Autosave = a.autosave
	}

	a.server = mcp.NewServer(deps)
	a.notifier = mcp.NewChangeNotifier(a.server)

	reg.OnReload(func(count int) {
		ev := &schema.Event{
			Type:      schema.EventRegistry,
			Payload:   map[string]any{"types": count},
			Timestamp: time.Now().UTC(),
		}
		if err := sinks.AppendEvent(context.Background(), ev); err != nil {
			logger.Warn("registry event append failed", "error", err)
		}
	})
	return a, nil
}

// start launches the background workers. They stop when ctx is done.
func (a *app) start(ctx context.Context) error {
	if a.cfg.RegistryPath != "" {
		if err := a.registry.Watch(ctx); err != nil {
			a.logger.Warn("registry hot reload disabled", "error", err)
		}
	}
	if a.autosave != nil {
		if err := a.autosave.Start(ctx); err != nil {
			return err
		}
	}
	go func() {
		if err := a.notifier.Forward(ctx, a.hub); err != nil {
			a.logger.Warn("change notifications stopped", "error", err)
		}
	}()
	return nil
}

// close flushes autosave and closes the store.
func (a *app) close(ctx context.Context) {
	var errs []error
	if a.autosave != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		errs = append(errs, a.autosave.Stop(stopCtx))
		cancel()
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Error("shutdown", "error", err)
	}
}

// health reports the live document size for /healthz.
func (a *app) health() map[string]any {
	doc, rev := a.executor.Store().SnapshotAt()
	s := analysis.Summarize(doc, a.registry)
	return map[string]any{
		"status":      "ok",
		"revision":    rev,
		"nodes":       s.Nodes,
		"links":       s.Links,
		"persistence": a.store != nil,
		"sessions":    len(a.server.Sessions().IDs()),
	}
}

func loadRegistry(cfg Config, logger *slog.Logger) (*registry.Registry, error) {
	reg, err := registry.New(logger)
	if err != nil {
		return nil, err
	}
	if cfg.RegistryPath != "" {
		if err := reg.LoadFile(cfg.RegistryPath); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func openStore(ctx context.Context, path string) (*store.LibSQLStore, error) {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
		}
		dsn = "file:" + path
	}
	st, err := store.NewLibSQLStore(dsn)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}
