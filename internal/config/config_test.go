package config

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "surn.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
language: php
polyfill: mappings/php.smtt
policy: skip
precedence: kind
workers: 4
validate: true
mappings:
  - extra
  - /abs/defs
extensions: ext
custom_opts:
  objects:
    base: App\Model
  strict: true
cache:
  enabled: true
logging:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	dir := filepath.Dir(path)
	assert.Equal(t, dir, cfg.Dir)
	assert.Equal(t, "php", cfg.Language)
	assert.Equal(t, filepath.Join(dir, "mappings/php.smtt"), cfg.Polyfill)
	assert.Equal(t, "skip", cfg.Policy)
	assert.Equal(t, "kind", cfg.Precedence)
	assert.Equal(t, 4, cfg.Workers)
	assert.True(t, cfg.ValidateOutput)
	assert.Equal(t, []string{filepath.Join(dir, "extra"), "/abs/defs"}, cfg.Mappings)
	assert.Equal(t, filepath.Join(dir, "ext"), cfg.Extensions)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, filepath.Join(dir, DefaultCachePath), cfg.Cache.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Equal(t, map[string]string{
		"objects.base": `App\Model`,
		"strict":       "true",
	}, cfg.Custom())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want error
	}{
		{"policy", "policy: retry\n", ErrUnknownPolicy},
		{"precedence", "precedence: random\n", ErrUnknownPrecedence},
		{"workers", "workers: -2\n", ErrInvalidWorkers},
		{"level", "logging:\n  level: loud\n", ErrUnknownLogLevel},
		{"format", "logging:\n  format: xml\n", ErrUnknownLogFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	// t.Setenv forbids t.Parallel.
	t.Setenv("SURN_POLICY", "skip")
	t.Setenv("SURN_CACHE_ENABLED", "true")

	cfg, err := Load(writeConfig(t, "policy: abort\n"))
	require.NoError(t, err)
	assert.Equal(t, "skip", cfg.Policy)
	assert.True(t, cfg.Cache.Enabled)
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultPolicy, cfg.Policy)
	assert.Empty(t, cfg.Custom())
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"":      slog.LevelInfo,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewLogger(LoggingConfig{Level: "warn", Format: "json"}, &buf)
	log.Info("hidden")
	log.Warn("shown", "language", "php")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"language":"php"`)
}
