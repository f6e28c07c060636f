// Package publisher encodes pipeline results as viewer envelopes and hands
// them to the message bus.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conceptd/internal/bus"
	"github.com/fyrsmithlabs/conceptd/internal/concepts"
	"github.com/fyrsmithlabs/conceptd/internal/logging"
)

// Envelope types.
const (
	TypeConcepts   = "concepts"
	TypeAgentReady = "agent_ready"
)

const (
	// DefaultTopic prefixes every session subject.
	DefaultTopic = "smartsketch"
	// DefaultReadyMessage is announced when a session starts.
	DefaultReadyMessage = "conceptd agent is listening"
)

// Envelope is the outer shape of every message viewers receive.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ConceptsData carries one extraction result.
type ConceptsData struct {
	Concepts   []concepts.Node `json:"concepts"`
	Transcript string          `json:"transcript"`
	Timestamp  string          `json:"timestamp"`
}

// ReadyData announces that the agent has joined.
type ReadyData struct {
	Message string `json:"message"`
}

// Subject returns the bus subject for a session.
func Subject(topic, sessionID string) string {
	return topic + "." + sessionID
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Publisher) { p.logger = l }
}

// WithTracer sets the tracer for publish spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Publisher) { p.tracer = t }
}

// WithClock replaces time.Now for envelope timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

// Publisher sends one session's envelopes.
type Publisher struct {
	bus     bus.Bus
	subject string
	now     func() time.Time
	logger  *logging.Logger
	tracer  trace.Tracer
}

// New creates a publisher for sessionID on topic.
func New(b bus.Bus, topic, sessionID string, opts ...Option) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	p := &Publisher{
		bus:     b,
		subject: Subject(topic, sessionID),
		now:     time.Now,
		logger:  logging.NewNop(),
		tracer:  noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subject returns the subject this publisher sends on.
func (p *Publisher) Subject() string {
	return p.subject
}

// PublishConcepts sends a concepts envelope. A nil slice goes out as an
// empty list.
func (p *Publisher) PublishConcepts(ctx context.Context, nodes []concepts.Node, transcript string) error {
	if nodes == nil {
		nodes = []concepts.Node{}
	}
	return p.publish(ctx, Envelope{
		Type: TypeConcepts,
		Data: ConceptsData{
			Concepts:   nodes,
			Transcript: transcript,
			Timestamp:  p.now().UTC().Format(time.RFC3339Nano),
		},
	})
}

// PublishReady sends an agent_ready envelope.
func (p *Publisher) PublishReady(ctx context.Context, message string) error {
	if message == "" {
		message = DefaultReadyMessage
	}
	return p.publish(ctx, Envelope{Type: TypeAgentReady, Data: ReadyData{Message: message}})
}

func (p *Publisher) publish(ctx context.Context, env Envelope) error {
	ctx, span := p.tracer.Start(ctx, "publisher.publish", trace.WithAttributes(
		attribute.String("messaging.destination", p.subject),
		attribute.String("envelope.type", env.Type),
	))
	defer span.End()

	payload, err := json.Marshal(env)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode")
		return fmt.Errorf("encoding %s envelope: %w", env.Type, err)
	}
	span.SetAttributes(attribute.Int("messaging.message.body.size", len(payload)))

	if err := p.bus.Publish(ctx, p.subject, payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish")
		return err
	}
	p.logger.Debug(ctx, "envelope published",
		zap.String("type", env.Type),
		zap.String("subject", p.subject),
		zap.Int("bytes", len(payload)))
	return nil
}
