package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Pipeline.BatchSize)
	assert.Equal(t, 3, cfg.Pipeline.MaxRetries)
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.LockTimeout())
	assert.InDelta(t, 6.0, cfg.Pipeline.ClassifyThreshold, 0.001)
	assert.Equal(t, 40, cfg.Pipeline.MinLength.Email)
	assert.Equal(t, 15, cfg.Pipeline.MinLength.Chat)
	assert.Equal(t, 80, cfg.Pipeline.MinLength.Transcript)
	assert.Equal(t, 25, cfg.Pipeline.MinLength.Other)
	assert.Equal(t, 400, cfg.Chunker.TargetTokens)
	assert.Equal(t, 150, cfg.Chunker.MinTokens)
	assert.Equal(t, 600, cfg.Chunker.MaxTokens)
	assert.Equal(t, 3, cfg.Chunker.ChatMinMessages)
	assert.Equal(t, 5, cfg.Chunker.ChatMaxMessages)
	assert.Equal(t, 30, cfg.Chunker.TranscriptMinSecs)
	assert.Equal(t, 60, cfg.Chunker.TranscriptMaxSecs)
	assert.InDelta(t, 0.3, cfg.Scorer.BaseScore, 0.001)
	assert.InDelta(t, 0.2, cfg.Scorer.SkipThreshold, 0.001)
	assert.Equal(t, "memory", cfg.Worker.Transport)
	assert.Equal(t, "signal-pipeline", cfg.Temporal.TaskQueue)
	assert.Equal(t, "anthropic", cfg.Oracle.Provider)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.HaikuModel)
	assert.Equal(t, 1024, cfg.Actors.CacheSize)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
  format: console
pipeline:
  batch_size: 50
  min_length:
    chat: 5
actors:
  internal_domains:
    - acme.io
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 50, cfg.Pipeline.BatchSize)
	assert.Equal(t, 5, cfg.Pipeline.MinLength.Chat)
	assert.Equal(t, []string{"acme.io"}, cfg.Actors.InternalDomains)
	// Defaults still apply for unset values
	assert.Equal(t, 40, cfg.Pipeline.MinLength.Email)
	assert.Equal(t, 3, cfg.Pipeline.MaxRetries)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("SIGNAL_STORE_DRIVER", "postgres")
	t.Setenv("SIGNAL_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("SIGNAL_PIPELINE_CLASSIFY_THRESHOLD", "7.5")
	t.Setenv("SIGNAL_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.InDelta(t, 7.5, cfg.Pipeline.ClassifyThreshold, 0.001)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestMinLengthFor(t *testing.T) {
	m := MinLengthConfig{Email: 40, Chat: 15, Transcript: 80, Other: 25}
	assert.Equal(t, 40, m.For("email"))
	assert.Equal(t, 15, m.For("chat"))
	assert.Equal(t, 80, m.For("transcript"))
	assert.Equal(t, 25, m.For("other"))
	assert.Equal(t, 25, m.For("fax"))
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
