package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/rendis/nodeforge/internal/scheduler"
)

// Config holds all nodeforge server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr       string  `json:"listen_addr" validate:"required"`
	DBPath           string  `json:"db_path"`
	LogLevel         string  `json:"log_level" validate:"oneof=debug info warn warning error"`
	LogFormat        string  `json:"log_format" validate:"oneof=text json"`
	RegistryPath     string  `json:"registry_path,omitempty"`
	MaxCommands      int     `json:"max_commands" validate:"min=1,max=1000"`
	UndoDepth        int     `json:"undo_depth" validate:"min=0,max=1000"`
	GroupPadding     float64 `json:"group_padding" validate:"gte=0"`
	StrictLinkDelete bool    `json:"strict_link_delete"`
	AutosaveSchedule string  `json:"autosave_schedule"`
	AutosaveName     string  `json:"autosave_name"`
	MaxGroupMembers  int     `json:"max_group_members" validate:"gte=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func defaultConfig() Config {
	return Config{
		ListenAddr:       ":4200",
		DBPath:           filepath.Join(nodeforgeDir(), "nodeforge.db"),
		LogLevel:         "info",
		LogFormat:        "text",
		MaxCommands:      100,
		UndoDepth:        50,
		GroupPadding:     60,
		AutosaveSchedule: "@every 5m",
		AutosaveName:     scheduler.DefaultName,
		MaxGroupMembers:  20,
	}
}

// nodeforgeDir is NODEFORGE_HOME, or ~/.nodeforge.
func nodeforgeDir() string {
	if v := os.Getenv("NODEFORGE_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nodeforge"
	}
	return filepath.Join(home, ".nodeforge")
}

func settingsPath() string {
	return filepath.Join(nodeforgeDir(), "settings.json")
}

func pidPath() string {
	return filepath.Join(nodeforgeDir(), "nodeforge.pid")
}

func loadConfig() (Config, error) {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	data, err := os.ReadFile(settingsPath())
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", settingsPath(), err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return cfg, fmt.Errorf("read %s: %w", settingsPath(), err)
	}

	// Layer 3: env vars override.
	env := envReader{}
	env.str("NODEFORGE_LISTEN_ADDR", &cfg.ListenAddr)
	env.str("NODEFORGE_DB_PATH", &cfg.DBPath)
	env.str("NODEFORGE_LOG_LEVEL", &cfg.LogLevel)
	env.str("NODEFORGE_LOG_FORMAT", &cfg.LogFormat)
	env.str("NODEFORGE_REGISTRY_PATH", &cfg.RegistryPath)
	env.integer("NODEFORGE_MAX_COMMANDS", &cfg.MaxCommands)
	env.integer("NODEFORGE_UNDO_DEPTH", &cfg.UndoDepth)
	env.float("NODEFORGE_GROUP_PADDING", &cfg.GroupPadding)
	env.boolean("NODEFORGE_STRICT_LINK_DELETE", &cfg.StrictLinkDelete)
	env.str("NODEFORGE_AUTOSAVE_SCHEDULE", &cfg.AutosaveSchedule)
	env.str("NODEFORGE_AUTOSAVE_NAME", &cfg.AutosaveName)
	env.integer("NODEFORGE_MAX_GROUP_MEMBERS", &cfg.MaxGroupMembers)
	if len(env.errs) > 0 {
		return cfg, errors.Join(env.errs...)
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.AutosaveSchedule != "" {
		if _, err := scheduler.ParseSchedule(c.AutosaveSchedule); err != nil {
			return fmt.Errorf("invalid configuration: autosave_schedule: %w", err)
		}
	}
	return nil
}

// envReader applies NODEFORGE_* variables, collecting parse errors.
type envReader struct {
	errs []error
}

func (e *envReader) str(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	restart := []struct {
		name    string
		changed bool
	}{
		{"listen_addr", old.ListenAddr != new.ListenAddr},
		{"db_path", old.DBPath != new.DBPath},
		{"log_format", old.LogFormat != new.LogFormat},
		{"registry_path", old.RegistryPath != new.RegistryPath},
		{"max_commands", old.MaxCommands != new.MaxCommands},
		{"undo_depth", old.UndoDepth != new.UndoDepth},
		{"group_padding", old.GroupPadding != new.GroupPadding},
		{"strict_link_delete", old.StrictLinkDelete != new.StrictLinkDelete},
		{"autosave_schedule", old.AutosaveSchedule != new.AutosaveSchedule},
		{"autosave_name", old.AutosaveName != new.AutosaveName},
		{"max_group_members", old.MaxGroupMembers != new.MaxGroupMembers},
	}
	for _, r := range restart {
		if r.changed {
			d.RestartNeeded = append(d.RestartNeeded, r.name)
		}
	}
	return d
}
