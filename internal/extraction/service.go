// Package extraction asks a language model for the concepts in a transcript.
//
// The model is reached through langchaingo, so any provider it supports can
// sit behind Service. The answer is returned raw; turning it into a concept
// forest is concepts.Build's job.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/conceptd/internal/logging"
)

// Service extracts concepts from transcript text.
type Service interface {
	// Extract returns the model's raw answer for transcript.
	Extract(ctx context.Context, transcript string) (string, error)
}

var (
	// ErrNoChoices means the model returned an empty response.
	ErrNoChoices = errors.New("model returned no choices")

	// ErrMissingAPIKey means a hosted provider was configured without a key.
	ErrMissingAPIKey = errors.New("API key required")

	// ErrUnknownProvider means the provider name is not supported.
	ErrUnknownProvider = errors.New("unknown extraction provider")
)

var _ Service = (*LLMService)(nil)

// Option configures an LLMService.
type Option func(*LLMService)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *LLMService) { s.logger = l }
}

// WithTracer sets the tracer for extraction spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *LLMService) { s.tracer = t }
}

// LLMService implements Service with one chat request per call.
type LLMService struct {
	model   llms.Model
	cfg     Config
	limiter *rate.Limiter
	logger  *logging.Logger
	tracer  trace.Tracer
}

// New creates a service for the configured provider.
func New(cfg Config, opts ...Option) (*LLMService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	model, err := NewModel(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithModel(model, cfg, opts...), nil
}

// NewWithModel wraps an existing model.
func NewWithModel(model llms.Model, cfg Config, opts ...Option) *LLMService {
	s := &LLMService{
		model:   model,
		cfg:     cfg,
		limiter: newLimiter(cfg.RateLimit, cfg.RateBurst),
		logger:  logging.NewNop(),
		tracer:  noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newLimiter converts a per-minute rate into a token bucket. A non-positive
// rate disables limiting.
func newLimiter(perMinute float64, burst int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perMinute/60.0), burst)
}

// Extract sends transcript to the model and returns its trimmed answer.
func (s *LLMService) Extract(ctx context.Context, transcript string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "extraction.extract", trace.WithAttributes(
		attribute.String("llm.provider", s.cfg.Provider),
		attribute.String("llm.model", s.cfg.Model),
		attribute.Int("transcript.chars", len([]rune(transcript))),
	))
	defer span.End()

	if err := s.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate limiter")
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, UserPrompt(transcript)),
	}

	start := time.Now()
	resp, err := s.model.GenerateContent(ctx, messages,
		llms.WithTemperature(s.cfg.Temperature),
		llms.WithMaxTokens(s.cfg.MaxTokens),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate content")
		return "", fmt.Errorf("generating concepts: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		span.SetStatus(codes.Error, "no choices")
		return "", ErrNoChoices
	}

	answer := strings.TrimSpace(resp.Choices[0].Content)
	span.SetAttributes(attribute.Int("response.chars", len(answer)))
	s.logger.Debug(ctx, "model answered",
		zap.Duration("latency", time.Since(start)),
		zap.Int("response_chars", len(answer)),
		zap.String("stop_reason", resp.Choices[0].StopReason))
	return answer, nil
}
