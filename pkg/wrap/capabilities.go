package wrap

import (
	"context"
	"strings"
)

// Control kinds reported through Kinded
const (
	APIWrap      = "wrap"
	APIContainer = "container"
)

// Loadable is the one capability every control must provide.
// Load may read the accumulator of the running pass; its result is folded
// into that accumulator by the node.
type Loadable interface {
	Load(ctx context.Context, content *Content) (interface{}, error)
}

// LoadFunc adapts a function to Loadable
type LoadFunc func(ctx context.Context, content *Content) (interface{}, error)

// Load calls f
func (f LoadFunc) Load(ctx context.Context, content *Content) (interface{}, error) {
	return f(ctx, content)
}

// Identifiable controls receive the registration key as id when they have none
type Identifiable interface {
	ID() string
	SetID(id string)
}

// Placeable controls follow the place of their node
type Placeable interface {
	Place() string
	SetPlace(place string)
}

// Editable controls follow the editable flag of their node
type Editable interface {
	Editable() bool
	SetEditable(editable bool)
}

// Kinded reports the kind of a control, e.g. APIContainer
type Kinded interface {
	API() string
}

// Controls is a batch of keyed controls for Bulk
type Controls map[string]Loadable

// control is a registered unit with its optional capabilities resolved
type control struct {
	key  string
	unit Loadable
	api  string

	getID       func() string
	setID       func(string)
	getPlace    func() string
	setPlace    func(string)
	setEditable func(bool)
}

// resolve probes the optional capabilities of unit once
func resolve(key string, unit Loadable) *control {
	c := &control{key: key, unit: unit}

	// Node setters are fluent, so they are bound explicitly
	if n, ok := unit.(*Node); ok {
		c.api = APIWrap
		c.getID = n.ID
		c.setID = func(id string) { n.SetID(id) }
		c.getPlace = n.Place
		c.setPlace = func(place string) { n.SetPlace(place) }
		c.setEditable = func(editable bool) { n.SetEditable(editable) }
		return c
	}

	if k, ok := unit.(Kinded); ok {
		c.api = k.API()
	}
	if i, ok := unit.(Identifiable); ok {
		c.getID = i.ID
		c.setID = i.SetID
	}
	if p, ok := unit.(Placeable); ok {
		c.getPlace = p.Place
		c.setPlace = p.SetPlace
	}
	if e, ok := unit.(Editable); ok {
		c.setEditable = e.SetEditable
	}
	return c
}

func (c *control) isContainer() bool {
	return c.api == APIContainer
}

// applyPlace sets place unless the control pinned its own place with "force"
func (c *control) applyPlace(place string) {
	if c.setPlace == nil {
		return
	}
	if existing := c.getPlace(); existing == "" || !strings.Contains(existing, "force") {
		c.setPlace(place)
	}
}
