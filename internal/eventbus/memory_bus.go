package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	apperrors "github.com/hivedb/hivedb/internal/errors"
)

// defaultQueueSize bounds each topic's in-flight queue.
const defaultQueueSize = 1024

// topicQueue is one topic's bounded buffer with its dispatch goroutine.
type topicQueue struct {
	mu      sync.Mutex
	events  []Event
	notify  chan struct{}
	dropped atomic.Int64
}

// MemoryBus delivers events inside the process. Each topic has a bounded
// queue served by a single dispatch goroutine, so events on one topic are
// handled in publish order. When a queue is full the oldest event is dropped
// and counted.
type MemoryBus struct {
	queueSize int
	logger    *slog.Logger

	mu       sync.Mutex
	queues   map[string]*topicQueue
	handlers map[string][]Handler
	started  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMemoryBus creates an in-process bus with the default per-topic queue
// size.
func NewMemoryBus(logger *slog.Logger) *MemoryBus {
	return &MemoryBus{
		queueSize: defaultQueueSize,
		logger:    logger,
		queues:    make(map[string]*topicQueue),
		handlers:  make(map[string][]Handler),
	}
}

// Subscribe registers a handler for a topic.
func (b *MemoryBus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// Start launches one dispatch goroutine per known topic.
func (b *MemoryBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.started = true

	for topic := range b.handlers {
		queue := b.queueLocked(topic)
		b.wg.Add(1)
		go b.dispatch(runCtx, topic, queue)
	}
	return nil
}

// Stop cancels dispatching and waits for the dispatch goroutines to exit.
func (b *MemoryBus) Stop(ctx context.Context) error {
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
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish enqueues an event, dropping the oldest queued event when the topic
// queue is full.
func (b *MemoryBus) Publish(_ context.Context, event Event) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return apperrors.Wrap(apperrors.ErrUnavailable, "event bus is not running")
	}
	queue := b.queueLocked(event.Topic)
	b.mu.Unlock()

	queue.mu.Lock()
	if len(queue.events) >= b.queueSize {
		queue.events = queue.events[1:]
		queue.dropped.Add(1)
		b.logger.Warn("event queue full, dropping oldest event",
			slog.String("topic", event.Topic))
	}
	queue.events = append(queue.events, event)
	queue.mu.Unlock()

	select {
	case queue.notify <- struct{}{}:
	default:
	}
	return nil
}

// Dropped reports how many events were discarded for a topic.
func (b *MemoryBus) Dropped(topic string) int64 {
	b.mu.Lock()
	queue, ok := b.queues[topic]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	return queue.dropped.Load()
}

// dispatch drains one topic queue, invoking every handler in order.
func (b *MemoryBus) dispatch(ctx context.Context, topic string, queue *topicQueue) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-queue.notify:
		}

		for {
			queue.mu.Lock()
			if len(queue.events) == 0 {
				queue.mu.Unlock()
				break
			}
			event := queue.events[0]
			queue.events = queue.events[1:]
			queue.mu.Unlock()

			b.mu.Lock()
			handlers := b.handlers[topic]
			b.mu.Unlock()

			for _, handler := range handlers {
				handler(ctx, event)
			}
		}
	}
}

// queueLocked returns the queue for a topic, creating it if needed. Callers
// must hold b.mu.
func (b *MemoryBus) queueLocked(topic string) *topicQueue {
	queue, ok := b.queues[topic]
	if !ok {
		queue = &topicQueue{notify: make(chan struct{}, 1)}
		b.queues[topic] = queue
	}
	return queue
}
