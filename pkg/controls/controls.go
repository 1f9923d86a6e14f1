// Package controls provides the stock controls a manifest can declare.
package controls

import (
	"context"
	"errors"
	"sync"

	"github.com/aescanero/dago-wrap/pkg/wrap"
)

// ErrUnknownControlType is returned by the factory for an unsupported type
var ErrUnknownControlType = errors.New("unknown control type")

// Base carries the optional id, place and editable capabilities shared by
// the stock controls
type Base struct {
	mu       sync.RWMutex
	id       string
	place    string
	editable bool
}

// ID returns the control id
func (b *Base) ID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.id
}

// SetID sets the control id
func (b *Base) SetID(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.id = id
}

// Place returns the control place
func (b *Base) Place() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.place
}

// SetPlace sets the control place
func (b *Base) SetPlace(place string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.place = place
}

// Editable reports whether the control is editable
func (b *Base) Editable() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.editable
}

// SetEditable sets the editable flag
func (b *Base) SetEditable(editable bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.editable = editable
}

// Static loads a fixed value
type Static struct {
	Base
	value interface{}
}

// NewStatic creates a control that always loads value
func NewStatic(value interface{}) *Static {
	return &Static{value: value}
}

// Load returns the stored value
func (s *Static) Load(ctx context.Context, _ *wrap.Content) (interface{}, error) {
	return s.value, nil
}

// Container is a static control tagged as a container, so composite nodes
// track it as their container
type Container struct {
	Static
}

// NewContainer creates a container with the given id that loads value
func NewContainer(id string, value interface{}) *Container {
	c := &Container{Static: Static{value: value}}
	c.SetID(id)
	return c
}

// API reports the container kind
func (c *Container) API() string {
	return wrap.APIContainer
}
