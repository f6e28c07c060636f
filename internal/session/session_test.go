package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/conceptd/internal/bus"
	"github.com/fyrsmithlabs/conceptd/internal/logging"
	"github.com/fyrsmithlabs/conceptd/internal/publisher"
	"github.com/fyrsmithlabs/conceptd/internal/transport"
)

type extractFunc func(ctx context.Context, text string) (string, error)

func (f extractFunc) Extract(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

func staticAnswer(raw string) extractFunc {
	return func(context.Context, string) (string, error) { return raw, nil }
}

type fakeTransport struct {
	mu       sync.Mutex
	sessions map[string]chan transport.Event
	joinErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sessions: make(map[string]chan transport.Event)}
}

func (f *fakeTransport) Join(_ context.Context, sessionID string) (<-chan transport.Event, error) {
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	ch := make(chan transport.Event, 64)
	f.mu.Lock()
	f.sessions[sessionID] = ch
	f.mu.Unlock()
	return ch, nil
}

func (f *fakeTransport) channel(t *testing.T, sessionID string) chan transport.Event {
	t.Helper()
	var ch chan transport.Event
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		ch = f.sessions[sessionID]
		return ch != nil
	}, 3*time.Second, 5*time.Millisecond)
	return ch
}

type fakeDiscoverer struct {
	ids chan string
}

func (f *fakeDiscoverer) Discover(context.Context) (<-chan string, error) {
	return f.ids, nil
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type conceptsData struct {
	Concepts []struct {
		Label    string  `json:"label"`
		ParentID *string `json:"parent_id"`
	} `json:"concepts"`
	Transcript string `json:"transcript"`
}

func decode(t *testing.T, msg bus.Message) (envelope, conceptsData) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(msg.Payload, &env))
	var data conceptsData
	if env.Type == publisher.TypeConcepts {
		require.NoError(t, json.Unmarshal(env.Data, &data))
	}
	return env, data
}

func transcript(text string) transport.Event {
	return transport.Event{Kind: transport.EventTranscript, Text: text, Final: true}
}

const answer = `[{"id":"c1","label":"Thermodynamics","type":"main"},{"id":"c2","label":"Entropy","parent":"c1"}]`

func TestDriver_SessionLifecycle(t *testing.T) {
	tr := newFakeTransport()
	b := bus.NewMemory()
	logger := logging.NewTestLogger()
	d := NewDriver("room-1", Deps{Transport: tr, Bus: b, Extractor: staticAnswer(answer), Logger: logger.Logger}, DefaultSettings())

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	events := tr.channel(t, "room-1")
	events <- transport.Event{Kind: transport.EventConnected}
	events <- transport.Event{Kind: transport.EventParticipantJoined, Participant: "prof"}
	events <- transport.Event{Kind: transport.EventTrackSubscribed, TrackID: "TR_v", TrackKind: "video"}
	events <- transport.Event{Kind: transport.EventTranscript, Text: strings.Repeat("i", 300), Final: false}
	events <- transcript(strings.Repeat("a", 90))
	events <- transcript(strings.Repeat("b", 90))
	events <- transcript(strings.Repeat("c", 70))
	events <- transcript("   ")
	events <- transcript("and that is entropy")
	events <- transport.Event{Kind: transport.EventDisconnected, Reason: "room closed"}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not stop")
	}

	msgs := b.Messages()
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		assert.Equal(t, "smartsketch.room-1", m.Subject)
	}

	ready, _ := decode(t, msgs[0])
	assert.Equal(t, publisher.TypeAgentReady, ready.Type)

	first, data := decode(t, msgs[1])
	assert.Equal(t, publisher.TypeConcepts, first.Type)
	assert.Equal(t, strings.Repeat("a", 90)+" "+strings.Repeat("b", 90)+" "+strings.Repeat("c", 70), data.Transcript)
	require.Len(t, data.Concepts, 2)
	assert.Equal(t, "c1", *data.Concepts[1].ParentID)

	_, flushed := decode(t, msgs[2])
	assert.Equal(t, "and that is entropy", flushed.Transcript, "leftover text is flushed on close")

	stats := d.Stats()
	assert.Equal(t, uint64(4), stats.Segments)
	assert.Equal(t, uint64(1), stats.Discarded)
	assert.Equal(t, uint64(2), stats.Cycles)

	ended := logger.FilterMessage("session ended").All()
	require.Len(t, ended, 1)
	assert.NotContains(t, ended[0].ContextMap(), "dropped_chars", "nothing is dropped after a flush")
}

func TestDriver_NoFlushOnClose(t *testing.T) {
	tr := newFakeTransport()
	b := bus.NewMemory()
	settings := DefaultSettings()
	settings.FlushOnClose = false
	logger := logging.NewTestLogger()
	d := NewDriver("room-2", Deps{Transport: tr, Bus: b, Extractor: staticAnswer(answer), Logger: logger.Logger}, settings)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	events := tr.channel(t, "room-2")
	events <- transcript("a short remark")
	close(events)

	require.NoError(t, <-done)
	assert.Empty(t, b.Messages())
	assert.Equal(t, len("a short remark"), d.Stats().PendingChars)
	logger.AssertField(t, "session ended", "dropped_chars", int64(len("a short remark")))
}

func TestDriver_ExtractionFailureKeepsSessionAlive(t *testing.T) {
	tr := newFakeTransport()
	b := bus.NewMemory()
	var mu sync.Mutex
	calls := 0
	ext := extractFunc(func(context.Context, string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return "", errors.New("upstream 500")
		}
		return answer, nil
	})
	settings := DefaultSettings()
	settings.FlushOnClose = false
	d := NewDriver("room-3", Deps{Transport: tr, Bus: b, Extractor: ext}, settings)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	events := tr.channel(t, "room-3")
	events <- transcript(strings.Repeat("x", 201))
	require.Eventually(t, func() bool { return len(b.Messages()) == 1 }, 3*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !d.Stats().InFlight }, 3*time.Second, 5*time.Millisecond)

	events <- transcript(strings.Repeat("y", 201))
	require.Eventually(t, func() bool { return len(b.Messages()) == 2 }, 3*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	msgs := b.Messages()
	_, failed := decode(t, msgs[0])
	assert.Empty(t, failed.Concepts, "failed cycle publishes an empty list")
	_, ok := decode(t, msgs[1])
	assert.Len(t, ok.Concepts, 2)
}

func TestDriver_JoinError(t *testing.T) {
	tr := newFakeTransport()
	tr.joinErr = errors.New("no such room")
	d := NewDriver("room-4", Deps{Transport: tr, Bus: bus.NewMemory(), Extractor: staticAnswer(`[]`)}, DefaultSettings())

	err := d.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "room-4")
}

func TestManager_DiscoveryAndStats(t *testing.T) {
	tr := newFakeTransport()
	b := bus.NewMemory()
	disc := &fakeDiscoverer{ids: make(chan string, 4)}
	logger := logging.NewTestLogger()
	m := NewManager(Deps{Transport: tr, Bus: b, Extractor: staticAnswer(answer), Logger: logger.Logger}, DefaultSettings())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, []string{"alpha"}, disc) }()

	disc.ids <- "beta"
	disc.ids <- "beta"

	alpha := tr.channel(t, "alpha")
	beta := tr.channel(t, "beta")
	require.Eventually(t, func() bool { return len(m.Stats()) == 2 }, 3*time.Second, 5*time.Millisecond)

	stats := m.Stats()
	assert.Equal(t, "alpha", stats[0].SessionID)
	assert.Equal(t, "beta", stats[1].SessionID)
	assert.False(t, m.Join(ctx, "alpha"), "active sessions are not joined twice")

	beta <- transcript("beta text")
	beta <- transport.Event{Kind: transport.EventDisconnected, Reason: "done"}
	require.Eventually(t, func() bool { return len(m.Stats()) == 1 }, 3*time.Second, 5*time.Millisecond)

	alpha <- transcript(strings.Repeat("z", 201))
	require.Eventually(t, func() bool {
		for _, msg := range b.Messages() {
			if msg.Subject == "smartsketch.alpha" {
				return true
			}
		}
		return false
	}, 3*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not stop")
	}
	assert.Empty(t, m.Stats())

	var betaSeen bool
	for _, msg := range b.Messages() {
		if msg.Subject == "smartsketch.beta" {
			_, data := decode(t, msg)
			betaSeen = betaSeen || data.Transcript == "beta text"
		}
	}
	assert.True(t, betaSeen, "beta was flushed on disconnect")
}

func TestManager_EndToEndOverNATS(t *testing.T) {
	srv, err := bus.StartEmbedded(bus.EmbeddedConfig{Port: -1, StoreDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})
	ctx := context.Background()

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	viewer, err := nc.SubscribeSync("smartsketch.lecture")
	require.NoError(t, err)

	b, err := bus.NewNATS(ctx, nc, bus.NATSConfig{Stream: "SMARTSKETCH", Topic: "smartsketch"}, logging.NewNop())
	require.NoError(t, err)

	m := NewManager(Deps{
		Transport: transport.NewNATS(nc, "rooms", logging.NewNop()),
		Bus:       b,
		Extractor: staticAnswer(answer),
	}, DefaultSettings())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(runCtx, []string{"lecture"}, nil) }()

	next := func() envelope {
		msg, err := viewer.NextMsg(5 * time.Second)
		require.NoError(t, err)
		var env envelope
		require.NoError(t, json.Unmarshal(msg.Data, &env))
		return env
	}
	assert.Equal(t, publisher.TypeAgentReady, next().Type)

	publish := func(v any) {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		require.NoError(t, nc.Publish("rooms.lecture.events", data))
	}
	publish(map[string]any{"event": "transcript", "text": strings.Repeat("q", 250), "final": true, "seq": 1})

	env := next()
	assert.Equal(t, publisher.TypeConcepts, env.Type)
	var data conceptsData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Len(t, data.Concepts, 2)

	publish(map[string]any{"event": "disconnected", "reason": "lecture over"})
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not return after the only session ended")
	}
}
