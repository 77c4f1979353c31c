package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Repair.MaxAttempts != 3 {
		t.Errorf("expected MaxAttempts=3, got %d", cfg.Repair.MaxAttempts)
	}
	if cfg.Meta.HistoryWindow != 200 {
		t.Errorf("expected HistoryWindow=200, got %d", cfg.Meta.HistoryWindow)
	}
	if cfg.Planner.Provider != "offline" {
		t.Errorf("expected Provider=offline, got %s", cfg.Planner.Provider)
	}
	require.NoError(t, cfg.Validate())
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("BOB_PROJECT_ROOT", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, ".bob", "config.yaml")

	cfg := DefaultConfig()
	cfg.ProjectRoot = tmpDir
	cfg.Repair.MaxAttempts = 5
	cfg.Executor.VerifyCommand = "go test ./..."

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, tmpDir, loaded.ProjectRoot)
	require.Equal(t, 5, loaded.Repair.MaxAttempts)
	require.Equal(t, "go test ./...", loaded.Executor.VerifyCommand)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("BOB_MAX_REPAIR_ATTEMPTS", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Repair, cfg.Repair)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("meta: [unterminated"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "empty root", mutate: func(c *Config) { c.ProjectRoot = "" }, wantErr: true},
		{name: "negative attempts", mutate: func(c *Config) { c.Repair.MaxAttempts = -1 }, wantErr: true},
		{name: "zero window", mutate: func(c *Config) { c.Meta.HistoryWindow = 0 }, wantErr: true},
		{name: "thresholds inverted", mutate: func(c *Config) { c.Meta.MediumThreshold = 20 }, wantErr: true},
		{name: "gemini without key", mutate: func(c *Config) { c.Planner.Provider = "gemini" }, wantErr: true},
		{name: "gemini with key", mutate: func(c *Config) {
			c.Planner.Provider = "gemini"
			c.Planner.APIKey = "k"
		}},
		{name: "unknown provider", mutate: func(c *Config) { c.Planner.Provider = "oracle" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 600*time.Second, cfg.GetScriptTimeout())
	require.Equal(t, 10*time.Minute, cfg.GetVerifyTimeout())
	require.Equal(t, 30*time.Second, cfg.GetSMTPTimeout())

	cfg.Tools.ScriptTimeout = "garbage"
	require.Equal(t, 600*time.Second, cfg.GetScriptTimeout())

	cfg.Planner.Timeout = "5s"
	require.Equal(t, 5*time.Second, cfg.GetPlannerTimeout())
}

func TestConfig_StatePath(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.ProjectRoot = root

	got, err := cfg.StatePath("tickets")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, ".bob", "tickets"), got)

	abs := filepath.Join(t.TempDir(), "state")
	cfg.StateDir = abs
	got, err = cfg.StatePath("history.db")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(abs, "history.db"), got)
}

func TestLoggingConfig_IsCategoryEnabled(t *testing.T) {
	lc := LoggingConfig{}
	require.False(t, lc.IsCategoryEnabled("routing"))

	lc.DebugMode = true
	require.True(t, lc.IsCategoryEnabled("routing"))

	lc.Categories = map[string]bool{"routing": false}
	require.False(t, lc.IsCategoryEnabled("routing"))
	require.True(t, lc.IsCategoryEnabled("tools"))
}
