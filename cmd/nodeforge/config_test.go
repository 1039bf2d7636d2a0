package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("NODEFORGE_HOME", dir)
	return dir
}

func writeSettings(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(content), 0o644))
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := withHome(t)

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":4200", cfg.ListenAddr)
	assert.Equal(t, filepath.Join(dir, "nodeforge.db"), cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 100, cfg.MaxCommands)
	assert.Equal(t, 60.0, cfg.GroupPadding)
	assert.Equal(t, "@every 5m", cfg.AutosaveSchedule)
	assert.Equal(t, "autosave", cfg.AutosaveName)
	assert.False(t, cfg.StrictLinkDelete)
}

func TestLoadConfigLayers(t *testing.T) {
	dir := withHome(t)
	writeSettings(t, dir, `{"log_level": "debug", "max_commands": 5, "db_path": "", "strict_link_delete": true}`)
	t.Setenv("NODEFORGE_MAX_COMMANDS", "7")
	t.Setenv("NODEFORGE_GROUP_PADDING", "12.5")
	t.Setenv("NODEFORGE_AUTOSAVE_SCHEDULE", "*/10 * * * *")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel, "settings.json over defaults")
	assert.Empty(t, cfg.DBPath, "settings.json can disable persistence")
	assert.True(t, cfg.StrictLinkDelete)
	assert.Equal(t, 7, cfg.MaxCommands, "env over settings.json")
	assert.Equal(t, 12.5, cfg.GroupPadding)
	assert.Equal(t, "*/10 * * * *", cfg.AutosaveSchedule)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		settings string
		env      map[string]string
	}{
		{name: "malformed settings", settings: `{"max_commands": `},
		{name: "zero max commands", env: map[string]string{"NODEFORGE_MAX_COMMANDS": "0"}},
		{name: "non-numeric env", env: map[string]string{"NODEFORGE_UNDO_DEPTH": "lots"}},
		{name: "non-bool env", env: map[string]string{"NODEFORGE_STRICT_LINK_DELETE": "maybe"}},
		{name: "unknown log level", env: map[string]string{"NODEFORGE_LOG_LEVEL": "loud"}},
		{name: "unknown log format", settings: `{"log_format": "xml"}`},
		{name: "negative padding", env: map[string]string{"NODEFORGE_GROUP_PADDING": "-1"}},
		{name: "bad cron", env: map[string]string{"NODEFORGE_AUTOSAVE_SCHEDULE": "every tuesday"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := withHome(t)
			if tc.settings != "" {
				writeSettings(t, dir, tc.settings)
			}
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := loadConfig()
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigEmptyScheduleDisablesAutosave(t *testing.T) {
	dir := withHome(t)
	writeSettings(t, dir, `{"autosave_schedule": ""}`)

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.AutosaveSchedule)
}

func TestDiffConfigs(t *testing.T) {
	old := defaultConfig()

	d := diffConfigs(old, old)
	assert.False(t, d.LogLevelChanged)
	assert.Empty(t, d.RestartNeeded)

	next := old
	next.LogLevel = "debug"
	next.ListenAddr = ":9999"
	next.UndoDepth = 3
	d = diffConfigs(old, next)
	assert.True(t, d.LogLevelChanged)
	assert.Equal(t, []string{"listen_addr", "undo_depth"}, d.RestartNeeded)
}
