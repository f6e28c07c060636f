package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conceptd/internal/logging"
)

const defaultAckTimeout = 5 * time.Second

// NATSConfig configures the JetStream bus.
type NATSConfig struct {
	URL string
	// Stream captures "<Topic>.>" so viewers can replay a session. When
	// empty, messages go out on core NATS with a server round trip instead
	// of a JetStream ack.
	Stream     string
	Topic      string
	AckTimeout time.Duration
}

// NATSBus publishes through JetStream and waits for the stream's ack.
type NATSBus struct {
	nc         *nats.Conn
	js         nats.JetStreamContext
	ownsConn   bool
	ackTimeout time.Duration
	logger     *logging.Logger
}

var _ Bus = (*NATSBus)(nil)

// Connect opens a NATS connection that keeps retrying in the background.
func Connect(url, name string, logger *logging.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(context.Background(), "disconnected from NATS", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info(context.Background(), "reconnected to NATS", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// DialNATS connects to cfg.URL and returns a bus that closes the
// connection on Close.
func DialNATS(ctx context.Context, cfg NATSConfig, logger *logging.Logger) (*NATSBus, error) {
	nc, err := Connect(cfg.URL, "conceptd-bus", logger)
	if err != nil {
		return nil, err
	}
	b, err := NewNATS(ctx, nc, cfg, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	b.ownsConn = true
	return b, nil
}

// NewNATS creates a bus on an existing connection, creating the stream if
// it does not exist.
func NewNATS(ctx context.Context, nc *nats.Conn, cfg NATSConfig, logger *logging.Logger) (*NATSBus, error) {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	b := &NATSBus{nc: nc, ackTimeout: cfg.AckTimeout, logger: logger}
	if cfg.Stream == "" {
		return b, nil
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	if err := ensureStream(ctx, js, cfg.Stream, cfg.Topic+".>"); err != nil {
		return nil, err
	}
	b.js = js
	logger.Info(ctx, "jetstream bus ready", zap.String("stream", cfg.Stream), zap.String("topic", cfg.Topic))
	return b, nil
}

func ensureStream(ctx context.Context, js nats.JetStreamContext, name, subject string) error {
	_, err := js.StreamInfo(name, nats.Context(ctx))
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", name, err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  []string{subject},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	}, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("add stream %s: %w", name, err)
	}
	return nil
}

// Publish sends payload and waits for the acknowledgement.
func (b *NATSBus) Publish(ctx context.Context, subject string, payload []byte) error {
	if b.nc.IsClosed() {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, b.ackTimeout)
	defer cancel()

	if b.js == nil {
		if err := b.nc.Publish(subject, payload); err != nil {
			return fmt.Errorf("publish %s: %w", subject, err)
		}
		if err := b.nc.FlushWithContext(ctx); err != nil {
			return fmt.Errorf("flush %s: %w", subject, err)
		}
		return nil
	}

	ack, err := b.js.Publish(subject, payload, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	b.logger.Trace(ctx, "message acknowledged",
		zap.String("subject", subject),
		zap.String("stream", ack.Stream),
		zap.Uint64("stream_seq", ack.Sequence))
	return nil
}

// Close drains the connection if the bus opened it.
func (b *NATSBus) Close() error {
	if !b.ownsConn || b.nc.IsClosed() {
		return nil
	}
	return b.nc.Drain()
}
