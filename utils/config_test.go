package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDefaultConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	got, err := EnsureDefaultConfig(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://api.openai.com/v1", cfg.OpenAI.BaseURL)
	assert.Equal(t, 120, cfg.OpenAI.Timeout)
	assert.True(t, filepath.IsAbs(cfg.Data.DBPath))

	cfg.UI.Theme = "dark"
	cfg.Metrics.Addr = "127.0.0.1:9090"
	require.NoError(t, SaveConfig(path, cfg))

	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "dark", again.UI.Theme)
	assert.Equal(t, "127.0.0.1:9090", again.Metrics.Addr)

	// An existing file is left alone.
	_, err = EnsureDefaultConfig(path)
	require.NoError(t, err)
	again, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "dark", again.UI.Theme)
}

func TestLoadConfigFillsMissingKeysWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ui":{"theme":"dark"}}`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "dark", cfg.UI.Theme)
	assert.Equal(t, 4096, cfg.OpenAI.MaxTokens)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, SaveConfig(path, DefaultConfig()))

	t.Setenv("DESKCHAT_DB_PATH", filepath.Join(dir, "override.db"))
	t.Setenv("DESKCHAT_LOG_LEVEL", "debug")
	t.Setenv("OPENAI_TIMEOUT_SECONDS", "30")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "override.db"), cfg.Data.DBPath)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 30, cfg.OpenAI.Timeout)

	t.Setenv("OPENAI_TIMEOUT_SECONDS", "soon")
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DESKCHAT_TEST_DOTENV=from-file\n"), 0644))
	t.Setenv("DESKCHAT_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("DESKCHAT_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("DESKCHAT_TEST_DOTENV"))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLogLevel(" DEBUG "))
	assert.Equal(t, zerolog.WarnLevel, ParseLogLevel("warning"))
	assert.Equal(t, zerolog.InfoLevel, ParseLogLevel("verbose"))
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := GetLogPath(filepath.Join(t.TempDir(), "logs"))
	logger, err := NewLogger(path, "info", false)
	require.NoError(t, err)

	logger.Info().Str("component", "test").Msg("hello")
	logger.Debug().Msg("filtered")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)
	assert.NotContains(t, string(data), "filtered")
}

func TestSafeGoRecoversPanic(t *testing.T) {
	done := make(chan struct{})
	SafeGo(zerolog.Nop(), "test", func() {
		defer close(done)
		panic("boom")
	})
	<-done

	errs := make(chan error, 1)
	SafeGoWithError(zerolog.Nop(), "test", func() error { return os.ErrClosed }, func(err error) { errs <- err })
	assert.ErrorIs(t, <-errs, os.ErrClosed)
}
