package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateHome points HOME at a temp dir and returns the conceptd config dir.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	dir := filepath.Join(home, ".config", "conceptd")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	isolateHome(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Batch.Interval.Duration())
	assert.Equal(t, 20, cfg.Batch.MinChars)
	assert.Equal(t, 200, cfg.Batch.MaxChars)
	assert.True(t, cfg.Batch.FlushOnClose)

	assert.Equal(t, "openai", cfg.Extraction.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.Extraction.Model)
	assert.InDelta(t, 0.7, cfg.Extraction.Temperature, 1e-9)
	assert.Equal(t, 500, cfg.Extraction.MaxTokens)
	assert.Equal(t, 0, cfg.Extraction.Retries)
	assert.False(t, cfg.Extraction.APIKey.IsSet())

	assert.Equal(t, "nats", cfg.Bus.Provider)
	assert.Equal(t, "smartsketch", cfg.Bus.Topic)
	assert.Equal(t, 5*time.Second, cfg.Bus.AckTimeout.Duration())

	assert.Equal(t, "rooms", cfg.Transport.SubjectPrefix)
	assert.Equal(t, cfg.Bus.URL, cfg.Transport.URL)
	assert.True(t, cfg.Redaction.Enabled)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := isolateHome(t)
	path := writeConfig(t, dir, `
batch:
  interval: 2s
  max_chars: 120
  flush_on_close: false
bus:
  provider: stdout
  topic: lectures
`, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Batch.Interval.Duration())
	assert.Equal(t, 120, cfg.Batch.MaxChars)
	assert.Equal(t, 20, cfg.Batch.MinChars, "unset keys keep their defaults")
	assert.False(t, cfg.Batch.FlushOnClose)
	assert.Equal(t, "stdout", cfg.Bus.Provider)
	assert.Equal(t, "lectures", cfg.Bus.Topic)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := isolateHome(t)
	path := writeConfig(t, dir, "batch:\n  max_chars: 120\n", 0600)

	t.Setenv("CONCEPTD_BATCH_MAX_CHARS", "300")
	t.Setenv("CONCEPTD_BATCH_INTERVAL", "750ms")
	t.Setenv("CONCEPTD_EXTRACTION_API_KEY", "sk-test-value")
	t.Setenv("CONCEPTD_EXTRACTION_TEMPERATURE", "0.2")
	t.Setenv("CONCEPTD_TRANSPORT_SESSIONS", "room-a, room-b,,")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 300, cfg.Batch.MaxChars)
	assert.Equal(t, 750*time.Millisecond, cfg.Batch.Interval.Duration())
	assert.Equal(t, "sk-test-value", cfg.Extraction.APIKey.Value())
	assert.InDelta(t, 0.2, cfg.Extraction.Temperature, 1e-9)
	assert.Equal(t, []string{"room-a", "room-b"}, cfg.Transport.Sessions)
}

func TestLoad_ProviderKeyFallback(t *testing.T) {
	isolateHome(t)
	t.Setenv("OPENAI_API_KEY", "sk-from-provider-env")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-from-provider-env", cfg.Extraction.APIKey.Value())
}

func TestLoad_FileValidation(t *testing.T) {
	t.Run("world readable file rejected", func(t *testing.T) {
		dir := isolateHome(t)
		path := writeConfig(t, dir, "batch:\n  max_chars: 120\n", 0644)

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insecure config file permissions")
	})

	t.Run("path outside allowed dirs rejected", func(t *testing.T) {
		isolateHome(t)
		other := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(other, []byte("{}"), 0600))

		_, err := Load(other)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config path validation failed")
	})

	t.Run("explicit missing file rejected", func(t *testing.T) {
		dir := isolateHome(t)
		_, err := Load(filepath.Join(dir, "missing.yaml"))
		require.Error(t, err)
	})

	t.Run("invalid values rejected", func(t *testing.T) {
		dir := isolateHome(t)
		path := writeConfig(t, dir, "batch:\n  min_chars: 300\n  max_chars: 200\n", 0600)

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "batch.max_chars")
	})
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		key      string
		wantPath string
	}{
		{"CONCEPTD_BATCH_MAX_CHARS", "batch.max_chars"},
		{"CONCEPTD_BUS_URL", "bus.url"},
		{"CONCEPTD_EXTRACTION_API_KEY", "extraction.api_key"},
		{"CONCEPTD_VERBOSE", ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			path, _ := envTransform(tt.key, "x")
			assert.Equal(t, tt.wantPath, path)
		})
	}
}
