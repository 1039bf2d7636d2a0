package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/nodeforge/internal/logging"
	"github.com/rendis/nodeforge/internal/streaming"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context(), "", func(ctx context.Context, a *app) error {
				return a.server.Serve(ctx)
			})
		},
	}
}

func newHTTPCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "http",
		Short: "Serve the MCP tools over streamable HTTP with metrics and an event stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context(), listen, serveHTTP)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "TCP listen address (overrides listen_addr)")
	return cmd
}

// runServer loads the configuration, wires the app and runs transport until
// an interrupt. SIGHUP reloads the configuration.
func runServer(parent context.Context, listen string, transport func(context.Context, *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.ListenAddr = listen
	}

	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.LogLevel))
	logger := logging.NewLeveled(os.Stderr, cfg.LogFormat, level)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(ctx)
	if err := a.start(ctx); err != nil {
		return err
	}

	if err := writePID(); err != nil {
		logger.Warn("cannot write pid file", "error", err)
	} else {
		defer os.Remove(pidPath())
	}
	go watchReload(ctx, cfg, level, logger)

	logger.Info("nodeforge started",
		"version", version,
		"persistence", a.store != nil,
		"autosave", a.autosave != nil,
		"max_commands", cfg.MaxCommands)
	err = transport(ctx, a)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func serveHTTP(ctx context.Context, a *app) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", a.server.HTTPHandler())
	mux.Handle("/metrics", a.metrics.Handler())
	mux.Handle("/events", streaming.SSEHandler(a.hub))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(a.health())
	})

	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http listening", "addr", a.cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// watchReload re-reads the configuration on SIGHUP. Only the log level
// applies live; other changes are reported as needing a restart.
func watchReload(ctx context.Context, current Config, level *slog.LevelVar, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			next, err := loadConfig()
			if err != nil {
				logger.Error("config reload failed", "error", err)
				continue
			}
			d := diffConfigs(current, next)
			if d.LogLevelChanged {
				level.Set(logging.ParseLevel(next.LogLevel))
				logger.Info("log level changed", "level", next.LogLevel)
			}
			if len(d.RestartNeeded) > 0 {
				logger.Warn("restart needed to apply configuration", "fields", d.RestartNeeded)
			}
			current.LogLevel = next.LogLevel
		}
	}
}

func writePID() error {
	if err := os.MkdirAll(nodeforgeDir(), 0o700); err != nil {
		return err
	}
	return os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}
