package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conceptd/internal/logging"
)

const (
	// DefaultSubjectPrefix roots every session subject.
	DefaultSubjectPrefix = "rooms"

	eventBuffer = 256
)

// NATSTransport reads session events published by upstream speech workers
// on "<prefix>.<session>.events".
type NATSTransport struct {
	nc     *nats.Conn
	prefix string
	logger *logging.Logger
}

var (
	_ Transport  = (*NATSTransport)(nil)
	_ Discoverer = (*NATSTransport)(nil)
)

// NewNATS creates a transport on nc.
func NewNATS(nc *nats.Conn, prefix string, logger *logging.Logger) *NATSTransport {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSTransport{nc: nc, prefix: prefix, logger: logger}
}

// EventsSubject is where sessionID's events are published.
func (t *NATSTransport) EventsSubject(sessionID string) string {
	return t.prefix + "." + sessionID + ".events"
}

// DiscoverySubject is where new sessions are announced.
func (t *NATSTransport) DiscoverySubject() string {
	return t.prefix + ".sessions.open"
}

// Join subscribes to sessionID. A connected event is delivered first, once
// the subscription is live.
func (t *NATSTransport) Join(ctx context.Context, sessionID string) (<-chan Event, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, ".*> \t") {
		return nil, fmt.Errorf("invalid session id %q", sessionID)
	}

	msgs := make(chan *nats.Msg, eventBuffer)
	sub, err := t.nc.ChanSubscribe(t.EventsSubject(sessionID), msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", t.EventsSubject(sessionID), err)
	}
	if err := t.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription: %w", err)
	}

	out := make(chan Event, eventBuffer)
	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()

		if !send(ctx, out, Event{Kind: EventConnected, SessionID: sessionID}) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgs:
				ev, err := DecodeEvent(msg.Data)
				if err != nil {
					t.logger.Warn(ctx, "dropping malformed session event",
						zap.String("subject", msg.Subject), zap.Error(err))
					continue
				}
				if ev.Kind == EventConnected {
					continue
				}
				ev.SessionID = sessionID
				if !send(ctx, out, ev) || ev.Kind == EventDisconnected {
					return
				}
			}
		}
	}()
	return out, nil
}

type announcement struct {
	SessionID string `json:"session_id"`
}

// Discover delivers the id of every session announced on the discovery
// subject. Announcements are not deduplicated.
func (t *NATSTransport) Discover(ctx context.Context) (<-chan string, error) {
	msgs := make(chan *nats.Msg, eventBuffer)
	sub, err := t.nc.ChanSubscribe(t.DiscoverySubject(), msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", t.DiscoverySubject(), err)
	}
	if err := t.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription: %w", err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgs:
				var a announcement
				if err := json.Unmarshal(msg.Data, &a); err != nil || a.SessionID == "" {
					t.logger.Warn(ctx, "dropping malformed session announcement", zap.ByteString("data", msg.Data))
					continue
				}
				select {
				case out <- a.SessionID:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
