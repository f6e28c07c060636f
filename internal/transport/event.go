// Package transport delivers a session's lifecycle and transcript events as
// a typed channel.
//
// Events arrive in order on a channel the transport owns and closes. A
// session ends with EventDisconnected, after which the channel is closed.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// EventKind identifies an Event.
type EventKind string

const (
	EventConnected         EventKind = "connected"
	EventParticipantJoined EventKind = "participant_joined"
	EventTrackSubscribed   EventKind = "track_subscribed"
	EventTranscript        EventKind = "transcript"
	EventDisconnected      EventKind = "disconnected"
)

// Event is one thing that happened in a session. Fields beyond Kind are set
// according to the kind.
type Event struct {
	Kind        EventKind `json:"event"`
	SessionID   string    `json:"session_id,omitempty"`
	Participant string    `json:"participant,omitempty"`
	TrackID     string    `json:"track_id,omitempty"`
	TrackKind   string    `json:"kind,omitempty"`
	Text        string    `json:"text,omitempty"`
	Final       bool      `json:"final,omitempty"`
	Speaker     string    `json:"speaker,omitempty"`
	Seq         uint64    `json:"seq,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// IsAudio reports whether a track_subscribed event is for an audio track.
// Tracks with no declared kind count as audio.
func (e Event) IsAudio() bool {
	return e.TrackKind == "" || e.TrackKind == "audio"
}

// ErrUnknownEvent means an event payload named no known kind.
var ErrUnknownEvent = errors.New("unknown transport event")

// DecodeEvent parses one JSON event.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	switch ev.Kind {
	case EventConnected, EventParticipantJoined, EventTrackSubscribed, EventTranscript, EventDisconnected:
		return ev, nil
	}
	return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Kind)
}

// Transport joins sessions.
type Transport interface {
	// Join starts delivering sessionID's events. The channel is closed
	// after EventDisconnected or once ctx is done.
	Join(ctx context.Context, sessionID string) (<-chan Event, error)
}

// Discoverer announces sessions as they open.
type Discoverer interface {
	// Discover delivers session ids until ctx is done.
	Discover(ctx context.Context) (<-chan string, error)
}

// send delivers ev unless ctx ends first.
func send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
