package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strand.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewDefaultConfig_IsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, RejectSkip, cfg.Run.RejectPolicy)
	assert.True(t, cfg.Store.Enabled())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	t.Setenv("STRAND_DB", "/tmp/runs.db")
	path := writeConfig(t, `
run:
  runs: 8
  length: 25
  seed: 42
  workers: 2
  chaos: 0.25
  permissive: true
  reject_policy: stop
store:
  path: ${STRAND_DB}
log:
  level: debug
`)
	cfg := NewDefaultConfig()
	require.NoError(t, Load(path, cfg))

	assert.Equal(t, 8, cfg.Run.Runs)
	assert.Equal(t, 25, cfg.Run.Length)
	assert.Equal(t, uint64(42), cfg.Run.Seed)
	assert.Equal(t, 2, cfg.Run.Workers)
	assert.Equal(t, 0.25, cfg.Run.Chaos)
	assert.True(t, cfg.Run.Permissive)
	assert.Equal(t, RejectStop, cfg.Run.RejectPolicy)
	assert.Equal(t, 4, cfg.Run.Characters, "unset fields keep defaults")
	assert.True(t, cfg.Run.Shrink)
	assert.Equal(t, "/tmp/runs.db", cfg.Store.Path)
	assert.Equal(t, slog.LevelDebug, cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"unknown field", "run:\n  rnus: 3\n", "field rnus not found"},
		{"zero runs", "run:\n  runs: 0\n", "Runs: cannot be blank"},
		{"bad policy", "run:\n  reject_policy: retry\n", "RejectPolicy: must be a valid value"},
		{"chaos out of range", "run:\n  chaos: 2\n", "Chaos"},
		{"cast longer than run", "run:\n  length: 3\n  characters: 5\n", "Characters"},
		{"bad level", "log:\n  level: loud\n", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Load(writeConfig(t, tt.content), NewDefaultConfig())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_EmptyFileKeepsDefaults(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, Load(writeConfig(t, ""), cfg))
	assert.Equal(t, NewDefaultConfig().Run.Runs, cfg.Run.Runs)
}

func TestLoadOptional_MissingFile(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, LoadOptional(filepath.Join(t.TempDir(), "absent.yaml"), cfg))
	assert.Equal(t, NewDefaultConfig().Run.Length, cfg.Run.Length)
}

func TestLoad_MissingFile(t *testing.T) {
	err := Load(filepath.Join(t.TempDir(), "absent.yaml"), NewDefaultConfig())
	assert.ErrorContains(t, err, "failed to read config file")
}
