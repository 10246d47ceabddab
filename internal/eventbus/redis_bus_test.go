package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBusDelivery(t *testing.T) {
	server := miniredis.RunT(t)

	bus := NewRedisBus(server.Addr(), discardLogger())

	events := make(chan Event, 4)
	bus.Subscribe(TopicCells, func(_ context.Context, event Event) {
		events <- event
	})

	ctx := context.Background()
	require.NoError(t, bus.Start(ctx))

	// Give the subscriber a moment to attach before publishing.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, bus.Publish(ctx, Event{
		Topic:   TopicCells,
		Payload: map[string]any{"cell_key": "cell-a", "event_type": "created"},
	}))

	select {
	case event := <-events:
		assert.Equal(t, TopicCells, event.Topic)
		assert.Equal(t, "cell-a", event.Payload["cell_key"])
		assert.Equal(t, "created", event.Payload["event_type"])
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}

	require.NoError(t, bus.Stop(ctx))
}

func TestRedisBusStartFailsWithoutBroker(t *testing.T) {
	bus := NewRedisBus("127.0.0.1:1", discardLogger())

	err := bus.Start(context.Background())
	assert.Error(t, err)
}

func TestRedisBusPublisherIntegration(t *testing.T) {
	server := miniredis.RunT(t)

	bus := NewRedisBus(server.Addr(), discardLogger())

	events := make(chan Event, 1)
	bus.Subscribe(TopicUsers, func(_ context.Context, event Event) {
		events <- event
	})

	ctx := context.Background()
	require.NoError(t, bus.Start(ctx))
	defer bus.Stop(ctx)

	time.Sleep(50 * time.Millisecond)

	publisher := NewPublisher(bus, discardLogger())
	publisher.UserEvent(ctx, "user-1", "registered", map[string]any{"email": "a@b.com"})

	select {
	case event := <-events:
		assert.Equal(t, "user-1", event.Payload["user_id"])
		assert.Equal(t, "registered", event.Payload["event_type"])
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
	assert.Equal(t, int64(0), publisher.Failures())
}
