package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-redis/redis/v8"
)

// RedisBus delivers events through Redis pub/sub. Redis preserves publish
// order per channel, so per-topic ordering carries over from the broker.
type RedisBus struct {
	client *redis.Client
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[string][]Handler
	started  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisBus creates a broker-backed bus connected to addr.
func NewRedisBus(addr string, logger *slog.Logger) *RedisBus {
	return &RedisBus{
		client:   redis.NewClient(&redis.Options{Addr: addr}),
		logger:   logger,
		handlers: make(map[string][]Handler),
	}
}

// Subscribe registers a handler for a topic.
func (b *RedisBus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// Start verifies the broker connection and launches one consumer goroutine
// per subscribed topic.
func (b *RedisBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return nil
	}

	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to event broker: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.started = true

	for topic, handlers := range b.handlers {
		sub := b.client.Subscribe(runCtx, topic)
		b.wg.Add(1)
		go b.consume(runCtx, sub, topic, handlers)
	}
	return nil
}

// Stop cancels the consumers and closes the broker connection.
func (b *RedisBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	cancel := b.cancel
	b.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.client.Close()
}

// Publish sends an event to the broker.
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := b.client.Publish(ctx, event.Topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// consume delivers broker messages for one topic to its handlers.
func (b *RedisBus) consume(ctx context.Context, sub *redis.PubSub, topic string, handlers []Handler) {
	defer b.wg.Done()
	defer sub.Close()

	channel := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-channel:
			if !ok {
				return
			}

			var payload map[string]any
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				b.logger.Error("failed to decode event",
					slog.String("topic", topic), slog.Any("error", err))
				continue
			}

			event := Event{Topic: topic, Payload: payload}
			for _, handler := range handlers {
				handler(ctx, event)
			}
		}
	}
}
