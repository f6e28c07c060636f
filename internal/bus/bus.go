// Package bus delivers encoded envelopes to session viewers.
//
// Every Bus implementation treats Publish as acknowledged delivery: it
// returns only once the broker has accepted the message or an error is
// known.
package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/conceptd/internal/config"
	"github.com/fyrsmithlabs/conceptd/internal/logging"
)

// Bus publishes payloads on subjects.
type Bus interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Close() error
}

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("bus closed")

// Open creates the bus named by cfg.Provider.
func Open(ctx context.Context, cfg config.BusConfig, logger *logging.Logger) (Bus, error) {
	switch cfg.Provider {
	case "nats":
		return DialNATS(ctx, NATSConfig{
			URL:        cfg.URL,
			Stream:     cfg.Stream,
			Topic:      cfg.Topic,
			AckTimeout: cfg.AckTimeout.Duration(),
		}, logger)
	case "redis":
		return NewRedis(ctx, RedisConfig{URL: cfg.URL, MaxLen: cfg.MaxLen}, logger)
	case "stdout":
		return NewStdout(), nil
	default:
		return nil, fmt.Errorf("unknown bus provider %q", cfg.Provider)
	}
}
