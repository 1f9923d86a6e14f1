package wrap

import (
	"context"

	"github.com/aescanero/dago-wrap/pkg/flow"
	"go.uber.org/zap"
)

// Key returns the node key
func (n *Node) Key() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.key
}

// SetKey sets the node key
func (n *Node) SetKey(key string) *Node {
	return n.setString(&n.key, EventKey, key)
}

// ID returns the node id
func (n *Node) ID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.id
}

// SetID sets the node id
func (n *Node) SetID(id string) *Node {
	return n.setString(&n.id, EventID, id)
}

// Selector returns the node selector
func (n *Node) Selector() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.selector
}

// SetSelector sets the node selector
func (n *Node) SetSelector(selector string) *Node {
	return n.setString(&n.selector, EventSelector, selector)
}

// Prepend returns the prepend marker
func (n *Node) Prepend() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.prepend
}

// SetPrepend sets the prepend marker
func (n *Node) SetPrepend(prepend string) *Node {
	return n.setString(&n.prepend, EventPrepend, prepend)
}

// Append returns the append marker
func (n *Node) Append() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.append
}

// SetAppend sets the append marker
func (n *Node) SetAppend(append string) *Node {
	return n.setString(&n.append, EventAppend, append)
}

// El returns the element bound to the node
func (n *Node) El() interface{} {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.el
}

// SetEl binds an element to the node
func (n *Node) SetEl(el interface{}) *Node {
	n.mu.Lock()
	n.el = el
	n.mu.Unlock()

	n.events.emit(context.Background(), Event{Type: EventEl, Value: el})
	return n
}

func (n *Node) setString(field *string, eventType EventType, value string) *Node {
	n.mu.Lock()
	*field = value
	n.mu.Unlock()

	n.events.emit(context.Background(), Event{Type: eventType, Value: value})
	return n
}

// Editable reports whether the node is editable
func (n *Node) Editable() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.editable
}

// SetEditable sets the editable flag and propagates it to every registered
// control that accepts it
func (n *Node) SetEditable(editable bool) *Node {
	n.mu.Lock()
	n.editable = editable
	n.mu.Unlock()

	n.flow.ForEach(func(e flow.Entry[*control]) {
		if e.Unit.setEditable != nil {
			e.Unit.setEditable(editable)
		}
	})

	n.events.emit(context.Background(), Event{Type: EventEditable, Value: editable})
	return n
}

// Place returns the node place
func (n *Node) Place() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.place
}

// SetPlace sets the node place and propagates it to every registered control
// that accepts it, except controls whose own place contains "force"
func (n *Node) SetPlace(place string) *Node {
	n.mu.Lock()
	n.place = place
	n.mu.Unlock()

	n.flow.ForEach(func(e flow.Entry[*control]) {
		e.Unit.applyPlace(place)
	})

	n.events.emit(context.Background(), Event{Type: EventPlace, Value: place})
	return n
}

// CID returns the id of the designated container, or "" without one
func (n *Node) CID() string {
	n.mu.RLock()
	c := n.container
	n.mu.RUnlock()

	if c == nil || c.getID == nil {
		return ""
	}
	return c.getID()
}

// SetCID sets the id of the designated container
func (n *Node) SetCID(id string) *Node {
	n.mu.RLock()
	c := n.container
	n.mu.RUnlock()

	if c == nil || c.setID == nil {
		n.logger.Debug("cannot set container id", zap.String("id", id), zap.Error(ErrNoContainer))
		return n
	}
	c.setID(id)
	return n
}

// Defaults merges values into the node defaults without overwriting
func (n *Node) Defaults(values map[string]interface{}) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	FillMissing(n.defaults, values)
	return n
}

// SetDefault sets one default value
func (n *Node) SetDefault(key string, value interface{}) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.defaults[key] = value
	return n
}

// Default returns one default value
func (n *Node) Default(key string) interface{} {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.defaults[key]
}
