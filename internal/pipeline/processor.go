// Package pipeline batches a session's transcript and runs extraction
// cycles over it.
//
// A Processor owns one session's Batch, TriggerPolicy and Gate. Observe is
// called by the session's driver for every finalized segment; when the
// policy says the batch is ready and the gate admits a cycle, the batch is
// drained and a cycle runs in its own goroutine:
//
//	redact -> extract -> concepts.Build -> publish
//
// At most one cycle per session is in flight. A ready signal that arrives
// while a cycle runs is dropped, and the text stays in the batch until the
// next qualifying segment.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conceptd/internal/concepts"
	"github.com/fyrsmithlabs/conceptd/internal/logging"
)

// Extractor asks a language model for concepts in a transcript and returns
// its raw answer.
type Extractor interface {
	Extract(ctx context.Context, transcript string) (string, error)
}

// Redactor scrubs secrets from text before it leaves the process.
type Redactor interface {
	Redact(ctx context.Context, text string) string
}

// ConceptPublisher delivers one cycle's result to the session's viewers.
type ConceptPublisher interface {
	PublishConcepts(ctx context.Context, nodes []concepts.Node, transcript string) error
}

// Cycle outcomes, used as the metrics label and span attribute.
const (
	outcomeOK              = "ok"
	outcomeExtractionError = "extraction_error"
	outcomeFormatError     = "format_error"
	outcomePublishError    = "publish_error"
	outcomePanic           = "panic"
)

// Config tunes a Processor.
type Config struct {
	Policy TriggerPolicy
	// Retries is how many times a failed extraction is repeated over the
	// same text. Zero disables retrying.
	Retries int
	// RetryBackoff is the delay before the first retry; it doubles each time.
	RetryBackoff time.Duration
	// DedupThreshold collapses near-duplicate labels within one result.
	// Zero disables it.
	DedupThreshold float64
}

// DefaultConfig returns the default policy with retries disabled.
func DefaultConfig() Config {
	return Config{
		Policy:       DefaultPolicy(),
		RetryBackoff: time.Second,
	}
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithTracer sets the tracer used for cycle spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Processor) { p.tracer = t }
}

// WithRedactor scrubs batch text before extraction and publishing.
func WithRedactor(r Redactor) Option {
	return func(p *Processor) { p.redactor = r }
}

// WithMetrics overrides the process-wide metrics.
func WithMetrics(m *Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// Stats is a snapshot of one session's pipeline counters.
type Stats struct {
	SessionID       string    `json:"session_id"`
	Segments        uint64    `json:"segments"`
	Discarded       uint64    `json:"discarded"`
	Suppressed      uint64    `json:"suppressed"`
	Cycles          uint64    `json:"cycles"`
	Failures        uint64    `json:"failures"`
	PublishFailures uint64    `json:"publish_failures"`
	Concepts        uint64    `json:"concepts"`
	InFlight        bool      `json:"in_flight"`
	PendingChars    int       `json:"pending_chars"`
	LastCycleAt     time.Time `json:"last_cycle_at,omitempty"`
}

// Processor runs the batching and extraction pipeline for one session.
type Processor struct {
	sessionID string
	cfg       Config
	extractor Extractor
	publisher ConceptPublisher
	redactor  Redactor
	logger    *logging.Logger
	tracer    trace.Tracer
	metrics   *Metrics
	now       func() time.Time
	buildOpts []concepts.Option

	gate Gate
	wg   sync.WaitGroup

	mu    sync.Mutex
	batch *Batch
	stats Stats
}

// NewProcessor creates a processor for sessionID. The batch clock starts
// now.
func NewProcessor(sessionID string, cfg Config, extractor Extractor, publisher ConceptPublisher, opts ...Option) *Processor {
	p := &Processor{
		sessionID: sessionID,
		cfg:       cfg,
		extractor: extractor,
		publisher: publisher,
		logger:    logging.NewNop(),
		tracer:    noop.NewTracerProvider().Tracer(""),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics()
	}
	if cfg.DedupThreshold > 0 {
		p.buildOpts = append(p.buildOpts, concepts.WithDedup(cfg.DedupThreshold))
	}
	p.batch = NewBatch(p.now())
	p.stats.SessionID = sessionID
	return p
}

// SessionID returns the session this processor serves.
func (p *Processor) SessionID() string {
	return p.sessionID
}

// Observe adds a finalized segment to the batch and starts an extraction
// cycle when the batch is ready and no cycle is in flight.
//
// Text that is empty after trimming is discarded and ErrEmptySegment is
// returned. Observe never blocks on extraction.
func (p *Processor) Observe(ctx context.Context, seg Segment) error {
	seg.Text = strings.TrimSpace(seg.Text)
	if seg.Text == "" {
		p.mu.Lock()
		p.stats.Discarded++
		p.mu.Unlock()
		p.metrics.SegmentsTotal.WithLabelValues("discarded").Inc()
		p.logger.Debug(ctx, "discarded empty segment", zap.Uint64("seq", seg.Seq))
		return ErrEmptySegment
	}

	now := p.now()
	if seg.ReceivedAt.IsZero() {
		seg.ReceivedAt = now
	}
	p.metrics.SegmentsTotal.WithLabelValues("observed").Inc()

	p.mu.Lock()
	p.batch.Append(seg)
	p.stats.Segments++
	length := p.batch.Len()
	trigger := p.cfg.Policy.Evaluate(length, p.batch.Elapsed(now))
	if trigger == TriggerNone {
		p.mu.Unlock()
		p.logger.Trace(ctx, "segment batched",
			zap.Uint64("seq", seg.Seq),
			zap.String("speaker", seg.Speaker),
			zap.Int("batch_chars", length))
		return nil
	}
	if !p.gate.TryEnter() {
		p.stats.Suppressed++
		p.mu.Unlock()
		p.metrics.TriggersTotal.WithLabelValues(string(trigger), "suppressed").Inc()
		p.logger.Debug(ctx, "batch ready but extraction in flight",
			zap.String("trigger", string(trigger)),
			zap.Int("batch_chars", length))
		return nil
	}
	text := p.batch.Drain(now)
	p.wg.Add(1)
	p.mu.Unlock()

	p.metrics.TriggersTotal.WithLabelValues(string(trigger), "fired").Inc()
	go p.runCycle(context.WithoutCancel(ctx), text, trigger) //nolint:errcheck // logged inside
	return nil
}

// Wait blocks until the in-flight cycle, if any, has finished.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Flush waits for the in-flight cycle and then runs one final cycle over
// whatever text remains. It is a no-op for an empty batch.
func (p *Processor) Flush(ctx context.Context) error {
	p.Wait()

	p.mu.Lock()
	if p.batch.Empty() || !p.gate.TryEnter() {
		p.mu.Unlock()
		return nil
	}
	text := p.batch.Drain(p.now())
	p.wg.Add(1)
	p.mu.Unlock()

	p.metrics.TriggersTotal.WithLabelValues(string(TriggerFlush), "fired").Inc()
	return p.runCycle(context.WithoutCancel(ctx), text, TriggerFlush)
}

// Stats returns a snapshot of the session's counters.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.InFlight = p.gate.InFlight()
	s.PendingChars = p.batch.Len()
	return s
}

// runCycle extracts, builds and publishes concepts for text. The caller has
// entered the gate and added to the wait group. A failed extraction still
// publishes an empty concept list so viewers see the cycle happened.
func (p *Processor) runCycle(ctx context.Context, text string, trigger Trigger) (err error) {
	defer p.wg.Done()
	defer p.gate.Exit()

	ctx = logging.WithSessionID(ctx, p.sessionID)
	ctx = logging.WithCycleID(ctx, uuid.NewString())
	ctx, span := p.tracer.Start(ctx, "pipeline.cycle", trace.WithAttributes(
		attribute.String("session.id", p.sessionID),
		attribute.String("cycle.trigger", string(trigger)),
		attribute.Int("cycle.chars", len([]rune(text))),
	))

	start := p.now()
	outcome := outcomeOK
	published := 0
	defer func() {
		if r := recover(); r != nil {
			outcome = outcomePanic
			err = fmt.Errorf("extraction cycle panicked: %v", r)
			p.logger.Error(ctx, "extraction cycle panicked", zap.Any("panic", r))
		}
		p.finishCycle(outcome, published, start)
		span.SetAttributes(
			attribute.String("cycle.outcome", outcome),
			attribute.Int("cycle.concepts", published),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
	}()

	p.logger.Debug(ctx, "extraction cycle started",
		zap.String("trigger", string(trigger)),
		zap.Int("chars", len([]rune(text))))

	if p.redactor != nil {
		text = p.redactor.Redact(ctx, text)
	}

	nodes, extractErr := p.extract(ctx, text)
	if extractErr != nil {
		outcome = outcomeExtractionError
		if errors.Is(extractErr, concepts.ErrFormat) {
			outcome = outcomeFormatError
		}
		p.logger.Warn(ctx, "concept extraction failed, publishing empty result", zap.Error(extractErr))
		nodes = nil
	}

	if pubErr := p.publisher.PublishConcepts(ctx, nodes, text); pubErr != nil {
		outcome = outcomePublishError
		pubErr = fmt.Errorf("%w: %w", ErrPublish, pubErr)
		p.logger.Error(ctx, "failed to publish concepts", zap.Error(pubErr))
		return errors.Join(extractErr, pubErr)
	}

	published = len(nodes)
	p.logger.Info(ctx, "published concepts",
		zap.Int("concepts", published),
		zap.String("trigger", string(trigger)))
	return extractErr
}

func (p *Processor) finishCycle(outcome string, published int, start time.Time) {
	p.metrics.CyclesTotal.WithLabelValues(outcome).Inc()
	p.metrics.CycleDuration.Observe(p.now().Sub(start).Seconds())
	p.metrics.ConceptsPublishedTotal.Add(float64(published))

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Cycles++
	p.stats.Concepts += uint64(published)
	p.stats.LastCycleAt = start
	switch outcome {
	case outcomeOK:
	case outcomePublishError:
		p.stats.PublishFailures++
	default:
		p.stats.Failures++
	}
}

// extract calls the extractor and builds the concept forest, retrying the
// same text with exponential backoff when configured.
func (p *Processor) extract(ctx context.Context, text string) ([]concepts.Node, error) {
	for attempt := 0; ; attempt++ {
		nodes, err := p.extractOnce(ctx, text)
		if err == nil {
			return nodes, nil
		}
		if attempt >= p.cfg.Retries {
			return nil, err
		}

		backoff := p.cfg.RetryBackoff * (1 << attempt)
		p.metrics.RetriesTotal.Inc()
		p.logger.Warn(ctx, "retrying concept extraction",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %w", ErrExtractionService, ctx.Err())
		case <-timer.C:
		}
	}
}

func (p *Processor) extractOnce(ctx context.Context, text string) ([]concepts.Node, error) {
	raw, err := p.extractor.Extract(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractionService, err)
	}
	return concepts.Build(raw, p.buildOpts...)
}
