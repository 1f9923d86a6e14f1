package memory

import (
	"context"
	"sync"

	"github.com/aescanero/dago-wrap/pkg/ports"
	"go.uber.org/zap"
)

type subscriber struct {
	id      uint64
	handler ports.EventHandler
}

// InMemoryEventBus implements EventBus with in-process handlers.
// Handlers of a topic are called synchronously, in subscription order.
type InMemoryEventBus struct {
	subscribers map[string][]subscriber
	nextID      uint64
	logger      *zap.Logger
	mu          sync.RWMutex
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryEventBus{
		subscribers: make(map[string][]subscriber),
		logger:      logger,
	}
}

// Publish delivers an event to all subscribers of a topic
func (e *InMemoryEventBus) Publish(ctx context.Context, topic string, event ports.Event) error {
	e.mu.RLock()
	subs := make([]subscriber, len(e.subscribers[topic]))
	copy(subs, e.subscribers[topic])
	e.mu.RUnlock()

	for _, s := range subs {
		if err := s.handler(ctx, event); err != nil {
			e.logger.Warn("handler error",
				zap.String("topic", topic),
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	}

	return nil
}

// Subscribe registers handler on a topic until ctx is done
func (e *InMemoryEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subscribers[topic] = append(e.subscribers[topic], subscriber{id: id, handler: handler})
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.unsubscribe(topic, id)
	}()

	return nil
}

// Unsubscribe removes all subscriptions from a topic
func (e *InMemoryEventBus) Unsubscribe(ctx context.Context, topic string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.subscribers, topic)
	return nil
}

// Close drops every subscription
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.subscribers = make(map[string][]subscriber)
	return nil
}

// unsubscribe removes one subscription from a topic
func (e *InMemoryEventBus) unsubscribe(topic string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subscribers[topic]
	for i, s := range subs {
		if s.id == id {
			e.subscribers[topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}
