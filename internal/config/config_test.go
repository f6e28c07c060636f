package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	isolateHome(t)
	cfg, err := Load("")
	require.NoError(t, err)
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"zero interval", func(c *Config) { c.Batch.Interval = 0 }, "batch.interval"},
		{"negative min chars", func(c *Config) { c.Batch.MinChars = -1 }, "batch.min_chars"},
		{"max not above min", func(c *Config) { c.Batch.MaxChars = 20 }, "batch.max_chars"},
		{"unknown extraction provider", func(c *Config) { c.Extraction.Provider = "bard" }, "extraction.provider"},
		{"temperature out of range", func(c *Config) { c.Extraction.Temperature = 2.5 }, "extraction.temperature"},
		{"negative retries", func(c *Config) { c.Extraction.Retries = -1 }, "extraction.retries"},
		{"dedup threshold above one", func(c *Config) { c.Extraction.DedupThreshold = 1.5 }, "extraction.dedup_threshold"},
		{"unknown bus", func(c *Config) { c.Bus.Provider = "kafka" }, "bus.provider"},
		{"empty topic", func(c *Config) { c.Bus.Topic = " " }, "bus.topic"},
		{"wildcard topic", func(c *Config) { c.Bus.Topic = "smart.*" }, "bus.topic"},
		{"nats transport without prefix", func(c *Config) { c.Transport.SubjectPrefix = "" }, "transport.subject_prefix"},
		{"file transport without prefix", func(c *Config) {
			c.Transport.Provider = "file"
			c.Transport.SubjectPrefix = ""
		}, ""},
		{"file transport without path", func(c *Config) {
			c.Transport.Provider = "file"
			c.Transport.URL = ""
		}, "transport.url"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.http_port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret_NeverPrinted(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "sk-live")
	assert.Equal(t, "sk-live-123", s.Value())

	out, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(out))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
