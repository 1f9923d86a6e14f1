// Package ports declares the interfaces the orchestrator depends on.
// Adapters under pkg/adapters implement them.
package ports

import (
	"context"
	"time"
)

// Event topics
const (
	TopicRuns   = "wrap.runs"
	TopicEvents = "wrap.events"
)

// EventType identifies an event published on the bus
type EventType string

const (
	EventTypeRunSubmitted EventType = "run.submitted"
	EventTypeRunStarted   EventType = "run.started"
	EventTypeRunCompleted EventType = "run.completed"
	EventTypeRunFailed    EventType = "run.failed"
	EventTypeRunCancelled EventType = "run.cancelled"

	// EventTypeLifecycle carries a node lifecycle notification. The node
	// event name is stored under Data["event"].
	EventTypeLifecycle EventType = "wrap.lifecycle"
)

// Event is the unit exchanged over an EventBus
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id,omitempty"`
	Wrap      string                 `json:"wrap,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventHandler processes a received event
type EventHandler func(ctx context.Context, event Event) error

// EventBus publishes and delivers events by topic
type EventBus interface {
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}
