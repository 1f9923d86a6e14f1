package wrap

import "errors"

var (
	// ErrNoControl is raised when a registration carries no control
	ErrNoControl = errors.New("wrap: no control provided")

	// ErrIncompatibleControl marks a control that does not implement Loadable
	ErrIncompatibleControl = errors.New("wrap: control does not implement Loadable")

	// ErrUnmergeableResult is returned when a keyless control yields a
	// result that is not a map
	ErrUnmergeableResult = errors.New("wrap: keyless control returned a non-map result")

	// ErrControlPanic is returned when a control panics during Load
	ErrControlPanic = errors.New("wrap: control panicked")

	// ErrNoContainer is returned when a container operation runs on a node
	// without a container
	ErrNoContainer = errors.New("wrap: node has no container")
)
