package extraction

import (
	"fmt"
	"net/http"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/conceptd/internal/config"
)

// Default configuration values.
const (
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-3-5-haiku-latest"
	defaultOllamaModel    = "llama3.2"
	defaultTemperature    = 0.7
	defaultMaxTokens      = 500
	defaultTimeout        = 60 * time.Second
)

// Rate limiter defaults: 50 requests per minute with bursts of 5.
const (
	defaultRateLimit = 50.0
	defaultBurst     = 5
)

// Config configures the extraction client.
type Config struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
	APIKey      string `json:"-"`
	BaseURL     string
	Timeout     time.Duration
	// RateLimit is requests per minute; zero disables limiting.
	RateLimit float64
	RateBurst int
}

// DefaultConfig returns the OpenAI defaults without an API key.
func DefaultConfig() Config {
	return Config{
		Provider:    "openai",
		Model:       defaultOpenAIModel,
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
		Timeout:     defaultTimeout,
		RateLimit:   defaultRateLimit,
		RateBurst:   defaultBurst,
	}
}

// FromConfig maps the operator settings onto Config.
func FromConfig(c config.ExtractionConfig) Config {
	return Config{
		Provider:    c.Provider,
		Model:       c.Model,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		APIKey:      c.APIKey.Value(),
		BaseURL:     c.BaseURL,
		Timeout:     c.Timeout.Duration(),
		RateLimit:   float64(c.RateLimit),
		RateBurst:   c.RateBurst,
	}
}

// Validate checks that the provider can be constructed.
func (c Config) Validate() error {
	switch c.Provider {
	case "openai", "anthropic":
		if c.APIKey == "" {
			return fmt.Errorf("%s: %w", c.Provider, ErrMissingAPIKey)
		}
	case "ollama":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.Provider)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative: %d", c.MaxTokens)
	}
	return nil
}

// NewModel constructs the langchaingo model for cfg.Provider.
func NewModel(cfg Config) (llms.Model, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(orDefault(cfg.Model, defaultOpenAIModel)),
			openai.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating openai client: %w", err)
		}
		return llm, nil

	case "anthropic":
		opts := []anthropic.Option{
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(orDefault(cfg.Model, defaultAnthropicModel)),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		llm, err := anthropic.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating anthropic client: %w", err)
		}
		return llm, nil

	case "ollama":
		opts := []ollama.Option{
			ollama.WithModel(orDefault(cfg.Model, defaultOllamaModel)),
			ollama.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating ollama client: %w", err)
		}
		return llm, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
