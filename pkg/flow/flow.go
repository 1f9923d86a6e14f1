package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrUnknownGroup is returned when a unit is added to a group that does not exist
var ErrUnknownGroup = errors.New("unknown flow group")

// Group is an ordering class for unit execution
type Group int

const (
	Parallel Group = iota
	Series
	Eventually
)

// order is the sequence in which Exec schedules groups
var order = [...]Group{Parallel, Series, Eventually}

func (g Group) String() string {
	switch g {
	case Parallel:
		return "parallel"
	case Series:
		return "series"
	case Eventually:
		return "eventually"
	default:
		return "unknown"
	}
}

// ParseGroup converts a group name into a Group. An empty name means Parallel.
func ParseGroup(name string) (Group, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "parallel":
		return Parallel, nil
	case "series":
		return Series, nil
	case "eventually":
		return Eventually, nil
	default:
		return Parallel, fmt.Errorf("%w: %q", ErrUnknownGroup, name)
	}
}

func (g Group) valid() bool {
	return g >= Parallel && g <= Eventually
}

// Entry is a unit registered under an optional key in a group
type Entry[T any] struct {
	Key   string
	Unit  T
	Group Group
}

// Task runs a single entry. A non-nil error fails the whole Exec.
type Task[T any] func(ctx context.Context, entry Entry[T]) error

// GroupFunc is called once a group reached a terminal state. The returned
// error replaces err, so a hook can both observe and translate failures.
type GroupFunc func(group Group, err error) error

// Flow holds the registered entries of every group.
// Groups are append-only: entries are never removed.
type Flow[T any] struct {
	mu     sync.RWMutex
	groups [len(order)][]Entry[T]
	limit  int
}

// New creates an empty flow
func New[T any]() *Flow[T] {
	return &Flow[T]{}
}

// SetLimit caps the number of Parallel members running at once. Zero or a
// negative value removes the cap.
func (f *Flow[T]) SetLimit(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = n
}

// Add appends a unit to a group
func (f *Flow[T]) Add(group Group, key string, unit T) error {
	if !group.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownGroup, int(group))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.groups[group] = append(f.groups[group], Entry[T]{Key: key, Unit: unit, Group: group})
	return nil
}

// ForEach visits every entry, group by group, in registration order
func (f *Flow[T]) ForEach(fn func(entry Entry[T])) {
	for _, g := range order {
		for _, e := range f.Entries(g) {
			fn(e)
		}
	}
}

// Entries returns a copy of the entries registered in a group
func (f *Flow[T]) Entries(group Group) []Entry[T] {
	if !group.valid() {
		return nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	entries := make([]Entry[T], len(f.groups[group]))
	copy(entries, f.groups[group])
	return entries
}

// Len returns the number of registered entries across all groups
func (f *Flow[T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	total := 0
	for _, entries := range f.groups {
		total += len(entries)
	}
	return total
}

// Exec runs every group against task. Groups are started in the order
// Parallel, Series, Eventually and a group only starts once the previous one
// succeeded. The first task error is returned unchanged (unless onGroup
// replaces it) and no further group is scheduled.
//
// Entries added while Exec is running are not part of the current pass.
func (f *Flow[T]) Exec(ctx context.Context, task Task[T], onGroup GroupFunc) error {
	f.mu.RLock()
	var snapshot [len(order)][]Entry[T]
	for i, entries := range f.groups {
		snapshot[i] = append([]Entry[T](nil), entries...)
	}
	limit := f.limit
	f.mu.RUnlock()

	for _, g := range order {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		if g == Parallel {
			err = runParallel(ctx, snapshot[g], task, limit)
		} else {
			err = runSeries(ctx, snapshot[g], task)
		}

		if onGroup != nil {
			err = onGroup(g, err)
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// runParallel starts every entry concurrently. The context handed to the
// tasks is cancelled as soon as one of them fails.
func runParallel[T any](ctx context.Context, entries []Entry[T], task Task[T], limit int) error {
	if len(entries) == 0 {
		return nil
	}

	eg, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		eg.SetLimit(limit)
	}

	for _, e := range entries {
		eg.Go(func() error {
			return task(gctx, e)
		})
	}

	return eg.Wait()
}

// runSeries runs entries one after the other in registration order
func runSeries[T any](ctx context.Context, entries []Entry[T], task Task[T]) error {
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := task(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
