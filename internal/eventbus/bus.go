// Package eventbus provides asynchronous event publishing over either an
// in-process bus or a Redis broker. Delivery is best effort: publish failures
// are counted and logged, never propagated to callers.
package eventbus

import "context"

// Topics carrying domain events.
const (
	TopicCells = "hivedb-cells"
	TopicUsers = "hivedb-users"
	TopicAudit = "hivedb-audit"
)

// Event is one message on a topic.
type Event struct {
	Topic   string
	Payload map[string]any
}

// Handler consumes events delivered from a subscription.
type Handler func(ctx context.Context, event Event)

// Bus is the transport for domain events. Publish must be non-blocking from
// the caller's perspective; per-topic delivery order follows publish order.
type Bus interface {
	// Start begins dispatching events.
	Start(ctx context.Context) error

	// Stop drains and shuts the bus down.
	Stop(ctx context.Context) error

	// Publish enqueues an event for delivery.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for a topic. Must be called before Start.
	Subscribe(topic string, handler Handler)
}
