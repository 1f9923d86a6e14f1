package wrap

import (
	"context"
	"sync"
)

// EventType names a lifecycle notification
type EventType string

const (
	EventPreLoad   EventType = "pre-load"
	EventLoad      EventType = "load"
	EventPostLoad  EventType = "post-load"
	EventLoadError EventType = "load-error"

	// attribute mutations
	EventKey      EventType = "key"
	EventID       EventType = "id"
	EventSelector EventType = "selector"
	EventPrepend  EventType = "prepend"
	EventAppend   EventType = "append"
	EventEl       EventType = "el"
	EventEditable EventType = "editable"
	EventPlace    EventType = "place"

	// EventAll subscribes a listener to every event
	EventAll EventType = "*"
)

// Event is a lifecycle notification.
//
// For EventLoad, Key, Value and Unit describe the folded control (Value is
// the stored value, or the merged map for keyless controls). For
// EventPostLoad, Value is the final accumulator as *Content. For
// EventLoadError, Err holds the failure. Attribute events carry the new
// value in Value.
type Event struct {
	Type  EventType
	Key   string
	Value interface{}
	Unit  Loadable
	Err   error
}

// Listener receives lifecycle notifications. ctx is the context of the load
// pass, or context.Background() for attribute events.
type Listener func(ctx context.Context, event Event)

type subscription struct {
	eventType EventType
	listener  Listener
}

// emitter calls listeners synchronously in registration order
type emitter struct {
	mu   sync.RWMutex
	subs []subscription
}

func (e *emitter) on(eventType EventType, l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, subscription{eventType: eventType, listener: l})
}

func (e *emitter) emit(ctx context.Context, event Event) {
	e.mu.RLock()
	subs := make([]subscription, len(e.subs))
	copy(subs, e.subs)
	e.mu.RUnlock()

	for _, s := range subs {
		if s.eventType == EventAll || s.eventType == event.Type {
			s.listener(ctx, event)
		}
	}
}
