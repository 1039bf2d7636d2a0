package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	cfg := defaultConfig()
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write settings.json and signal a running server to reload it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			dir := nodeforgeDir()
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("cannot create %s: %w", dir, err)
			}
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			path := settingsPath()
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("cannot write %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)

			if pid, ok := signalRunningServer(); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "Signaled running server (PID %d) to reload configuration\n", pid)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "TCP listen address for the http command")
	f.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "database path (empty disables persistence)")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	f.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")
	f.StringVar(&cfg.RegistryPath, "registry", cfg.RegistryPath, "YAML file adding or overriding node types")
	f.IntVar(&cfg.MaxCommands, "max-commands", cfg.MaxCommands, "maximum commands per transaction")
	f.IntVar(&cfg.UndoDepth, "undo-depth", cfg.UndoDepth, "undo history depth")
	f.Float64Var(&cfg.GroupPadding, "group-padding", cfg.GroupPadding, "margin between a group's edge and its members")
	f.BoolVar(&cfg.StrictLinkDelete, "strict-link-delete", cfg.StrictLinkDelete, "fail when deleting an unbound input")
	f.StringVar(&cfg.AutosaveSchedule, "autosave", cfg.AutosaveSchedule, "autosave cron schedule (empty disables)")
	f.StringVar(&cfg.AutosaveName, "autosave-name", cfg.AutosaveName, "document name autosaves are written under")
	f.IntVar(&cfg.MaxGroupMembers, "max-group-members", cfg.MaxGroupMembers, "flag groups with more members (0 disables)")
	return cmd
}

// signalRunningServer sends SIGHUP to a running nodeforge server (via pidfile).
func signalRunningServer() (int, bool) {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	// Check if process is alive.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return 0, false
	}
	return pid, true
}
