// Package session drives sessions: it reads each session's transport events
// and feeds final transcripts to that session's pipeline.
package session

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conceptd/internal/bus"
	"github.com/fyrsmithlabs/conceptd/internal/logging"
	"github.com/fyrsmithlabs/conceptd/internal/pipeline"
	"github.com/fyrsmithlabs/conceptd/internal/publisher"
	"github.com/fyrsmithlabs/conceptd/internal/transport"
)

// Deps are the process-wide collaborators shared by every session.
type Deps struct {
	Transport transport.Transport
	Bus       bus.Bus
	Extractor pipeline.Extractor
	// Redactor is optional.
	Redactor pipeline.Redactor
	Logger   *logging.Logger
	Tracer   trace.Tracer
}

// Settings tune every session the same way.
type Settings struct {
	Topic        string
	ReadyMessage string
	FlushOnClose bool
	Pipeline     pipeline.Config
}

// DefaultSettings returns the stock settings.
func DefaultSettings() Settings {
	return Settings{
		Topic:        publisher.DefaultTopic,
		ReadyMessage: publisher.DefaultReadyMessage,
		FlushOnClose: true,
		Pipeline:     pipeline.DefaultConfig(),
	}
}

// Driver runs one session from join to disconnect.
type Driver struct {
	sessionID string
	transport transport.Transport
	processor *pipeline.Processor
	publisher *publisher.Publisher
	settings  Settings
	logger    *logging.Logger
	metrics   *pipeline.Metrics
}

// NewDriver wires a session's publisher and processor.
func NewDriver(sessionID string, deps Deps, settings Settings) *Driver {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}

	pub := publisher.New(deps.Bus, settings.Topic, sessionID,
		publisher.WithLogger(logger),
		publisher.WithTracer(tracer))

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithTracer(tracer),
	}
	if deps.Redactor != nil {
		opts = append(opts, pipeline.WithRedactor(deps.Redactor))
	}

	return &Driver{
		sessionID: sessionID,
		transport: deps.Transport,
		processor: pipeline.NewProcessor(sessionID, settings.Pipeline, deps.Extractor, pub, opts...),
		publisher: pub,
		settings:  settings,
		logger:    logger,
		metrics:   pipeline.NewMetrics(),
	}
}

// SessionID returns the driven session.
func (d *Driver) SessionID() string {
	return d.sessionID
}

// Stats returns the session's pipeline counters.
func (d *Driver) Stats() pipeline.Stats {
	return d.processor.Stats()
}

// Run joins the session and processes events until it disconnects or ctx
// is done. Extraction failures never end the session.
func (d *Driver) Run(ctx context.Context) error {
	ctx = logging.WithSessionID(ctx, d.sessionID)

	events, err := d.transport.Join(ctx, d.sessionID)
	if err != nil {
		return fmt.Errorf("join session %s: %w", d.sessionID, err)
	}

	d.metrics.ActiveSessions.Inc()
	defer d.metrics.ActiveSessions.Dec()

	for {
		select {
		case <-ctx.Done():
			d.close(ctx, "shutdown")
			return nil
		case ev, ok := <-events:
			if !ok {
				d.close(ctx, "transport closed")
				return nil
			}
			if ev.Kind == transport.EventDisconnected {
				d.close(ctx, ev.Reason)
				return nil
			}
			d.handle(ctx, ev)
		}
	}
}

func (d *Driver) handle(ctx context.Context, ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		d.logger.Info(ctx, "joined session")
		if err := d.publisher.PublishReady(ctx, d.settings.ReadyMessage); err != nil {
			d.logger.Error(ctx, "failed to announce agent", zap.Error(err))
		}

	case transport.EventParticipantJoined:
		d.logger.Info(ctx, "participant joined", zap.String("participant", ev.Participant))

	case transport.EventTrackSubscribed:
		if !ev.IsAudio() {
			d.logger.Debug(ctx, "ignoring non-audio track",
				zap.String("track_id", ev.TrackID), zap.String("kind", ev.TrackKind))
			return
		}
		d.logger.Info(ctx, "transcribing audio track",
			zap.String("participant", ev.Participant), zap.String("track_id", ev.TrackID))

	case transport.EventTranscript:
		if !ev.Final {
			d.logger.Trace(ctx, "skipping interim transcript", zap.Uint64("seq", ev.Seq))
			return
		}
		err := d.processor.Observe(ctx, pipeline.Segment{
			Seq:     ev.Seq,
			Text:    ev.Text,
			Speaker: ev.Speaker,
		})
		if err != nil && !errors.Is(err, pipeline.ErrEmptySegment) {
			d.logger.Warn(ctx, "failed to observe segment", zap.Error(err))
		}
	}
}

// close waits for the in-flight cycle and, when configured, extracts what
// is left in the batch.
func (d *Driver) close(ctx context.Context, reason string) {
	ctx = context.WithoutCancel(ctx)
	if d.settings.FlushOnClose {
		if err := d.processor.Flush(ctx); err != nil {
			d.logger.Warn(ctx, "final extraction failed", zap.Error(err))
		}
	} else {
		d.processor.Wait()
	}

	stats := d.processor.Stats()
	fields := []zap.Field{
		zap.String("reason", reason),
		zap.Uint64("segments", stats.Segments),
		zap.Uint64("cycles", stats.Cycles),
		zap.Uint64("concepts", stats.Concepts),
	}
	if !d.settings.FlushOnClose {
		fields = append(fields, zap.Int("dropped_chars", stats.PendingChars))
	}
	d.logger.Info(ctx, "session ended", fields...)
}
