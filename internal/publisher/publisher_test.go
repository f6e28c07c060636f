package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/conceptd/internal/bus"
	"github.com/fyrsmithlabs/conceptd/internal/concepts"
	"github.com/fyrsmithlabs/conceptd/internal/telemetry"
)

func fixedClock() time.Time {
	return time.Date(2026, 4, 2, 15, 4, 5, 123456789, time.FixedZone("CEST", 2*3600))
}

func TestPublishConcepts(t *testing.T) {
	b := bus.NewMemory()
	p := New(b, "", "room-1", WithClock(fixedClock))

	nodes, err := concepts.Build(`[{"id":"c1","label":"Osmosis","type":"main","explanation":"water moves"},` +
		`{"id":"c2","label":"Membrane","type":"detail","explanation":"barrier","parent":"c1"}]`)
	require.NoError(t, err)

	require.NoError(t, p.PublishConcepts(context.Background(), nodes, "osmosis and membranes"))

	msgs := b.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "smartsketch.room-1", msgs[0].Subject)
	assert.JSONEq(t, `{
		"type": "concepts",
		"data": {
			"concepts": [
				{"id":"c1","label":"Osmosis","kind":"main","explanation":"water moves","parent_id":null},
				{"id":"c2","label":"Membrane","kind":"detail","explanation":"barrier","parent_id":"c1"}
			],
			"transcript": "osmosis and membranes",
			"timestamp": "2026-04-02T13:04:05.123456789Z"
		}
	}`, string(msgs[0].Payload))
}

func TestPublishConcepts_NilIsEmptyList(t *testing.T) {
	b := bus.NewMemory()
	p := New(b, "lectures", "r", WithClock(fixedClock))

	require.NoError(t, p.PublishConcepts(context.Background(), nil, "um"))

	msgs := b.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "lectures.r", msgs[0].Subject)
	assert.Contains(t, string(msgs[0].Payload), `"concepts":[]`)
}

func TestPublishReady(t *testing.T) {
	b := bus.NewMemory()
	p := New(b, "", "room-9")

	require.NoError(t, p.PublishReady(context.Background(), ""))
	require.NoError(t, p.PublishReady(context.Background(), "hello"))

	msgs := b.Messages()
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"type":"agent_ready","data":{"message":"conceptd agent is listening"}}`, string(msgs[0].Payload))
	assert.JSONEq(t, `{"type":"agent_ready","data":{"message":"hello"}}`, string(msgs[1].Payload))
}

func TestPublish_BusErrorReturned(t *testing.T) {
	b := bus.NewMemory()
	boom := errors.New("nats: no responders available for request")
	b.FailWith(boom)
	tel := telemetry.NewTestTelemetry()
	p := New(b, "", "room-1", WithTracer(tel.Tracer("publisher")))

	err := p.PublishConcepts(context.Background(), nil, "")
	assert.ErrorIs(t, err, boom)
	tel.AssertSpanExists(t, "publisher.publish")
	tel.AssertSpanAttribute(t, "publisher.publish", "envelope.type", TypeConcepts)
}
