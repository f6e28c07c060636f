// Package config provides configuration loading for conceptd.
//
// Configuration is layered: built-in defaults, an optional YAML file, then
// CONCEPTD_* environment variables. The resulting Config is passed explicitly
// to every component at construction time; nothing reads the environment
// after Load returns.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Config holds the complete conceptd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Batch      BatchConfig      `koanf:"batch"`
	Extraction ExtractionConfig `koanf:"extraction"`
	Bus        BusConfig        `koanf:"bus"`
	Transport  TransportConfig  `koanf:"transport"`
	Redaction  RedactionConfig  `koanf:"redaction"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// BatchConfig controls when accumulated transcript text is handed to the
// extraction service.
type BatchConfig struct {
	// Interval is the minimum time since the last extraction start before the
	// time trigger may fire.
	Interval Duration `koanf:"interval"`
	// MinChars is the exclusive lower bound on batch length for the time trigger.
	MinChars int `koanf:"min_chars"`
	// MaxChars is the exclusive upper bound that fires the size trigger.
	MaxChars int `koanf:"max_chars"`
	// FlushOnClose runs one last extraction over leftover text when a
	// session ends.
	FlushOnClose bool `koanf:"flush_on_close"`
}

// ExtractionConfig configures the language-model client.
type ExtractionConfig struct {
	Provider       string   `koanf:"provider"`
	Model          string   `koanf:"model"`
	Temperature    float64  `koanf:"temperature"`
	MaxTokens      int      `koanf:"max_tokens"`
	APIKey         Secret   `koanf:"api_key"`
	BaseURL        string   `koanf:"base_url"`
	Timeout        Duration `koanf:"timeout"`
	Retries        int      `koanf:"retries"`
	RetryBackoff   Duration `koanf:"retry_backoff"`
	RateLimit      int      `koanf:"rate_limit"` // requests per minute
	RateBurst      int      `koanf:"rate_burst"`
	DedupThreshold float64  `koanf:"dedup_threshold"`
}

// BusConfig configures the outbound message bus.
type BusConfig struct {
	Provider   string   `koanf:"provider"`
	URL        string   `koanf:"url"`
	Topic      string   `koanf:"topic"`
	Stream     string   `koanf:"stream"`
	AckTimeout Duration `koanf:"ack_timeout"`
	Embedded   bool     `koanf:"embedded"`
	StoreDir   string   `koanf:"store_dir"`
	MaxLen     int64    `koanf:"max_len"`
}

// TransportConfig configures how sessions and their transcript events arrive.
type TransportConfig struct {
	Provider      string   `koanf:"provider"`
	URL           string   `koanf:"url"`
	SubjectPrefix string   `koanf:"subject_prefix"`
	ReadyMessage  string   `koanf:"ready_message"`
	Sessions      []string `koanf:"sessions"`
}

// RedactionConfig controls secret scrubbing of transcript text.
type RedactionConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Allowlist string `koanf:"allowlist"`
}

// LoggingConfig is the subset of logging settings exposed to operators.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	Sampling bool   `koanf:"sampling"`
	OTEL     bool   `koanf:"otel"`
}

// TelemetryConfig is the subset of OpenTelemetry settings exposed to operators.
type TelemetryConfig struct {
	Enabled     bool     `koanf:"enabled"`
	Endpoint    string   `koanf:"endpoint"`
	Protocol    string   `koanf:"protocol"`
	ServiceName string   `koanf:"service_name"`
	Insecure    bool     `koanf:"insecure"`
	SampleRate  float64  `koanf:"sample_rate"`
	Interval    Duration `koanf:"export_interval"`
}

// Supported provider names.
var (
	extractionProviders = []string{"openai", "anthropic", "ollama"}
	busProviders        = []string{"nats", "redis", "stdout"}
	transportProviders  = []string{"nats", "file"}
	logFormats          = []string{"json", "console"}
)

// Validate checks the configuration for values no component can work with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port must be 0-65535, got %d", c.Server.Port))
	}

	if c.Batch.Interval.Duration() <= 0 {
		errs = append(errs, errors.New("batch.interval must be positive"))
	}
	if c.Batch.MinChars < 0 {
		errs = append(errs, fmt.Errorf("batch.min_chars must be >= 0, got %d", c.Batch.MinChars))
	}
	if c.Batch.MaxChars <= c.Batch.MinChars {
		errs = append(errs, fmt.Errorf("batch.max_chars (%d) must be greater than batch.min_chars (%d)",
			c.Batch.MaxChars, c.Batch.MinChars))
	}

	if !slices.Contains(extractionProviders, c.Extraction.Provider) {
		errs = append(errs, fmt.Errorf("extraction.provider must be one of %s, got %q",
			strings.Join(extractionProviders, ", "), c.Extraction.Provider))
	}
	if c.Extraction.Model == "" {
		errs = append(errs, errors.New("extraction.model is required"))
	}
	if c.Extraction.Temperature < 0 || c.Extraction.Temperature > 2 {
		errs = append(errs, fmt.Errorf("extraction.temperature must be between 0 and 2, got %v", c.Extraction.Temperature))
	}
	if c.Extraction.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("extraction.max_tokens must be positive, got %d", c.Extraction.MaxTokens))
	}
	if c.Extraction.Retries < 0 {
		errs = append(errs, fmt.Errorf("extraction.retries must be >= 0, got %d", c.Extraction.Retries))
	}
	if c.Extraction.RateLimit < 0 || c.Extraction.RateBurst < 0 {
		errs = append(errs, errors.New("extraction.rate_limit and extraction.rate_burst must be >= 0"))
	}
	if c.Extraction.DedupThreshold < 0 || c.Extraction.DedupThreshold > 1 {
		errs = append(errs, fmt.Errorf("extraction.dedup_threshold must be between 0 and 1, got %v", c.Extraction.DedupThreshold))
	}

	if !slices.Contains(busProviders, c.Bus.Provider) {
		errs = append(errs, fmt.Errorf("bus.provider must be one of %s, got %q",
			strings.Join(busProviders, ", "), c.Bus.Provider))
	}
	if strings.TrimSpace(c.Bus.Topic) == "" {
		errs = append(errs, errors.New("bus.topic is required"))
	}
	if strings.ContainsAny(c.Bus.Topic, " *>") {
		errs = append(errs, fmt.Errorf("bus.topic contains invalid characters: %q", c.Bus.Topic))
	}

	if !slices.Contains(transportProviders, c.Transport.Provider) {
		errs = append(errs, fmt.Errorf("transport.provider must be one of %s, got %q",
			strings.Join(transportProviders, ", "), c.Transport.Provider))
	}
	if c.Transport.Provider == "nats" && strings.TrimSpace(c.Transport.SubjectPrefix) == "" {
		errs = append(errs, errors.New("transport.subject_prefix is required for the nats transport"))
	}
	if c.Transport.Provider == "file" && strings.TrimSpace(c.Transport.URL) == "" {
		errs = append(errs, errors.New("transport.url must name a transcript file for the file transport"))
	}

	if !slices.Contains(logFormats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %v", c.Telemetry.SampleRate))
	}

	return errors.Join(errs...)
}
