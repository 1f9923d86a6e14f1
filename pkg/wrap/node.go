package wrap

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aescanero/dago-wrap/pkg/flow"
	"github.com/aescanero/dago-wrap/pkg/ports"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/aescanero/dago-wrap/pkg/wrap"

// Node is a composite control. It owns the registered controls, their
// ordering groups and the node attributes, and it is itself Loadable so
// nodes can be nested.
type Node struct {
	flow     *flow.Flow[*control]
	events   emitter
	logger   *zap.Logger
	metrics  ports.MetricsCollector
	tracer   trace.Tracer
	timeout  time.Duration
	parallel int

	mu         sync.RWMutex
	key        string
	id         string
	selector   string
	prepend    string
	append     string
	el         interface{}
	editable   bool
	place      string
	defaults   map[string]interface{}
	container  *control
	containers []Loadable
	content    *Content
}

// Option configures a Node
type Option func(*Node)

// WithLogger sets the logger used for diagnostics
func WithLogger(logger *zap.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithMetrics sets the collector that records passes and control loads
func WithMetrics(metrics ports.MetricsCollector) Option {
	return func(n *Node) {
		if metrics != nil {
			n.metrics = metrics
		}
	}
}

// WithTracer sets the tracer used for pass and control spans
func WithTracer(tracer trace.Tracer) Option {
	return func(n *Node) {
		if tracer != nil {
			n.tracer = tracer
		}
	}
}

// WithControlTimeout bounds every control Load call
func WithControlTimeout(d time.Duration) Option {
	return func(n *Node) {
		n.timeout = d
	}
}

// WithMaxParallel caps the number of parallel controls loading at once
func WithMaxParallel(max int) Option {
	return func(n *Node) {
		n.parallel = max
	}
}

// New creates an empty node
func New(opts ...Option) *Node {
	n := &Node{
		flow:     flow.New[*control](),
		logger:   zap.NewNop(),
		metrics:  ports.NopMetrics{},
		tracer:   otel.Tracer(tracerName),
		defaults: make(map[string]interface{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.flow.SetLimit(n.parallel)
	return n
}

// API reports the kind of a node
func (n *Node) API() string {
	return APIWrap
}

// Use calls plugin with the node and returns the node
func (n *Node) Use(plugin func(*Node)) *Node {
	plugin(n)
	return n
}

// On registers a listener for one event type, or for all with EventAll
func (n *Node) On(eventType EventType, l Listener) *Node {
	n.events.on(eventType, l)
	return n
}

// OnAny registers a listener for every event
func (n *Node) OnAny(l Listener) *Node {
	return n.On(EventAll, l)
}

// Parallel registers a control whose Load may run concurrently with the
// other parallel controls. It panics with ErrNoControl when unit is nil.
func (n *Node) Parallel(key string, unit interface{}) *Node {
	return n.mustAdd(key, unit, flow.Parallel)
}

// Series registers a control that loads after the previous series control
// finished. It panics with ErrNoControl when unit is nil.
func (n *Node) Series(key string, unit interface{}) *Node {
	return n.mustAdd(key, unit, flow.Series)
}

// Eventually registers a control that loads once the parallel and series
// groups succeeded. It panics with ErrNoControl when unit is nil.
func (n *Node) Eventually(key string, unit interface{}) *Node {
	return n.mustAdd(key, unit, flow.Eventually)
}

func (n *Node) mustAdd(key string, unit interface{}, group flow.Group) *Node {
	if err := n.Add(key, unit, group); err != nil {
		panic(err)
	}
	return n
}

// Add registers unit in group under key. An empty key merges the control
// result into the accumulator instead of storing it under a key.
//
// A nil unit returns ErrNoControl. A Controls batch, or a plain
// map[string]Loadable, is registered through Bulk. Any other value that does
// not implement Loadable is skipped with a warning and Add returns nil, as is
// a node that already contains n.
func (n *Node) Add(key string, unit interface{}, group flow.Group) error {
	if unit == nil {
		return ErrNoControl
	}

	switch u := unit.(type) {
	case Controls:
		return n.bulk(group, u)
	case map[string]Loadable:
		return n.bulk(group, Controls(u))
	case Loadable:
		return n.add(key, u, group)
	default:
		n.logger.Warn("skipping incompatible control",
			zap.String("key", key),
			zap.String("type", fmt.Sprintf("%T", unit)),
			zap.Error(ErrIncompatibleControl))
		return nil
	}
}

// Bulk registers every control of the batch in group, in key order. Nil
// members are skipped.
func (n *Node) Bulk(group flow.Group, controls Controls) *Node {
	if err := n.bulk(group, controls); err != nil {
		panic(err)
	}
	return n
}

func (n *Node) bulk(group flow.Group, controls Controls) error {
	keys := make([]string, 0, len(controls))
	for k := range controls {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		unit := controls[k]
		if unit == nil {
			n.logger.Debug("skipping empty bulk member", zap.String("key", k))
			continue
		}
		if err := n.add(k, unit, group); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) add(key string, unit Loadable, group flow.Group) error {
	// loading it would recurse forever
	if nested, ok := unit.(*Node); ok && nested.reaches(n) {
		n.logger.Warn("skipping control that contains the node",
			zap.String("key", key),
			zap.Error(ErrIncompatibleControl))
		return nil
	}

	c := resolve(key, unit)

	if c.api == "" {
		n.logger.Debug("control does not report its kind", zap.String("key", key))
	}

	n.mu.Lock()
	switch {
	case c.isContainer():
		if n.container == nil {
			n.container = c
		}
		n.containers = append(n.containers, unit)
	case c.api == APIWrap:
		if nested, ok := unit.(*Node); ok && nested != n {
			n.containers = append(n.containers, nested.Containers()...)
		}
	}
	n.mu.Unlock()

	// containers keep their own id
	if key != "" && c.setID != nil && !c.isContainer() && c.getID() == "" {
		c.setID(key)
	}

	if err := n.flow.Add(group, key, c); err != nil {
		return fmt.Errorf("failed to register control %q: %w", key, err)
	}

	n.logger.Debug("control registered",
		zap.String("key", key),
		zap.Stringer("group", group),
		zap.String("api", c.api))
	return nil
}

// reaches reports whether target is n or is nested anywhere below n
func (n *Node) reaches(target *Node) bool {
	if n == target {
		return true
	}
	found := false
	n.flow.ForEach(func(e flow.Entry[*control]) {
		if nested, ok := e.Unit.unit.(*Node); ok && !found {
			found = nested.reaches(target)
		}
	})
	return found
}

// Container returns the first container registered on the node
func (n *Node) Container() Loadable {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.container == nil {
		return nil
	}
	return n.container.unit
}

// Containers returns every container known to the node, including the ones
// imported from nested nodes
func (n *Node) Containers() []Loadable {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]Loadable(nil), n.containers...)
}

// Len returns the number of registered controls
func (n *Node) Len() int {
	return n.flow.Len()
}

// Content returns the accumulator of the last pass
func (n *Node) Content() *Content {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.content
}

// Load runs a nested pass seeded with the parent accumulator and returns the
// nested accumulator as a map, so a Node can be registered as a control.
func (n *Node) Load(ctx context.Context, parent *Content) (interface{}, error) {
	var seed map[string]interface{}
	if parent != nil {
		seed = parent.Snapshot()
	}

	content, err := n.Run(ctx, seed)
	if err != nil {
		return nil, err
	}
	return content.Snapshot(), nil
}

// RunAsync starts a pass in a new goroutine and calls done exactly once with
// either the error or the accumulator.
func (n *Node) RunAsync(ctx context.Context, seed map[string]interface{}, done func(err error, content *Content)) {
	go func() {
		content, err := n.Run(ctx, seed)
		if done != nil {
			done(err, content)
		}
	}()
}

// Run performs one load pass. The accumulator is seeded with seed and then
// the node defaults, both without overwriting. The first control error is
// returned unchanged and no accumulator is delivered with it.
func (n *Node) Run(ctx context.Context, seed map[string]interface{}) (*Content, error) {
	start := time.Now()

	content := NewContent(seed)
	n.mu.Lock()
	content.Merge(n.defaults)
	n.content = content
	n.mu.Unlock()

	ctx, span := n.tracer.Start(ctx, "wrap.Run", trace.WithAttributes(
		attribute.String("wrap.id", n.ID()),
		attribute.Int("wrap.controls", n.flow.Len()),
	))
	defer span.End()

	n.events.emit(ctx, Event{Type: EventPreLoad})

	pass := &pass{node: n, content: content}
	err := n.flow.Exec(ctx, pass.loadControl, n.groupDone)
	if err != nil {
		n.logger.Debug("wrap load failed", zap.String("id", n.ID()), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		n.metrics.RecordPass("failed", time.Since(start))
		n.events.emit(ctx, Event{Type: EventLoadError, Err: err})
		return nil, err
	}

	n.logger.Debug("wrap load done",
		zap.String("id", n.ID()),
		zap.Int("entries", content.Len()),
		zap.Duration("duration", time.Since(start)))
	n.metrics.RecordPass("completed", time.Since(start))
	n.events.emit(ctx, Event{Type: EventPostLoad, Value: content})
	return content, nil
}

// groupDone observes the terminal state of every scheduled group
func (n *Node) groupDone(group flow.Group, err error) error {
	status := "completed"
	if err != nil {
		status = "failed"
	}
	n.logger.Debug("wrap load group finished",
		zap.Stringer("group", group),
		zap.String("status", status))
	n.metrics.RecordGroupCompleted(group.String(), status)
	return err
}

// pass holds the per-pass state shared by the control tasks
type pass struct {
	node    *Node
	content *Content
	// serialises fold+notify so every load event reflects one completed fold
	foldMu sync.Mutex
}

func (p *pass) loadControl(ctx context.Context, entry flow.Entry[*control]) error {
	n := p.node
	c := entry.Unit
	start := time.Now()

	ctx, span := n.tracer.Start(ctx, "wrap.control", trace.WithAttributes(
		attribute.String("control.key", c.key),
		attribute.String("control.group", entry.Group.String()),
	))
	defer span.End()

	n.logger.Debug("wrap load task started",
		zap.String("key", c.key),
		zap.Stringer("group", entry.Group))

	result, err := p.invoke(ctx, c)
	if err == nil {
		err = p.fold(ctx, c, result)
	}

	if err != nil {
		n.logger.Debug("wrap load task failed", zap.String("key", c.key), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		n.metrics.RecordControlLoad(entry.Group.String(), "failed", time.Since(start))
		return err
	}

	n.metrics.RecordControlLoad(entry.Group.String(), "completed", time.Since(start))
	return nil
}

// invoke calls the control, bounded by the node timeout
func (p *pass) invoke(ctx context.Context, c *control) (result interface{}, err error) {
	if p.node.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.node.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %q: %v", ErrControlPanic, c.key, r)
		}
	}()

	return c.unit.Load(ctx, p.content)
}

func (p *pass) fold(ctx context.Context, c *control, result interface{}) error {
	p.foldMu.Lock()
	defer p.foldMu.Unlock()

	// a sibling failed, the accumulator will not be delivered
	if err := ctx.Err(); err != nil {
		return err
	}

	value, skipped, err := p.content.fold(c.key, result)
	if err != nil {
		return fmt.Errorf("control %q: %w", c.key, err)
	}
	if len(skipped) > 0 {
		p.node.logger.Debug("keyless result fields already present",
			zap.Strings("fields", skipped))
	}

	p.node.logger.Debug("wrap load task loaded", zap.String("key", c.key))
	p.node.events.emit(ctx, Event{Type: EventLoad, Key: c.key, Value: value, Unit: c.unit})
	return nil
}
