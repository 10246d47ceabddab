package eventbus

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Publisher emits domain events fire-and-forget. Publish failures are logged
// and counted; they never reach the calling request path.
type Publisher struct {
	bus    Bus
	logger *slog.Logger

	failures atomic.Int64
}

// NewPublisher wraps a bus with the fire-and-forget event helpers.
func NewPublisher(bus Bus, logger *slog.Logger) *Publisher {
	return &Publisher{bus: bus, logger: logger}
}

// CellEvent publishes a cell lifecycle or data event.
func (p *Publisher) CellEvent(ctx context.Context, cellKey, eventType string, data map[string]any) {
	p.publish(ctx, Event{
		Topic: TopicCells,
		Payload: map[string]any{
			"cell_key":   cellKey,
			"event_type": eventType,
			"timestamp":  nowSeconds(),
			"data":       data,
		},
	})
}

// UserEvent publishes a user lifecycle event.
func (p *Publisher) UserEvent(ctx context.Context, userID, eventType string, data map[string]any) {
	p.publish(ctx, Event{
		Topic: TopicUsers,
		Payload: map[string]any{
			"user_id":    userID,
			"event_type": eventType,
			"timestamp":  nowSeconds(),
			"data":       data,
		},
	})
}

// AuditEvent publishes an audit trail entry.
func (p *Publisher) AuditEvent(ctx context.Context, actorID, action, resource string, details map[string]any) {
	p.publish(ctx, Event{
		Topic: TopicAudit,
		Payload: map[string]any{
			"actor_id":  actorID,
			"action":    action,
			"resource":  resource,
			"timestamp": nowSeconds(),
			"details":   details,
		},
	})
}

// Failures reports how many publishes have failed.
func (p *Publisher) Failures() int64 {
	return p.failures.Load()
}

func (p *Publisher) publish(ctx context.Context, event Event) {
	if p.bus == nil {
		return
	}
	if err := p.bus.Publish(ctx, event); err != nil {
		p.failures.Add(1)
		p.logger.Warn("failed to publish event",
			slog.String("topic", event.Topic), slog.Any("error", err))
	}
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
