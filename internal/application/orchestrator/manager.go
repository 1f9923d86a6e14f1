package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/dago-wrap/pkg/domain"
	"github.com/aescanero/dago-wrap/pkg/manifest"
	"github.com/aescanero/dago-wrap/pkg/ports"
	"github.com/aescanero/dago-wrap/pkg/wrap"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrWrapNotFound is returned for a name no composite is registered under
	ErrWrapNotFound = errors.New("wrap not found")

	// ErrWrapExists is returned when a name is registered twice
	ErrWrapExists = errors.New("wrap already registered")

	// ErrRunFinished is returned when a run already reached a terminal state
	ErrRunFinished = errors.New("run already in terminal state")
)

type runIDKey struct{}

// WithRunID returns a context carrying runID
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run id carried by ctx, or ""
func RunIDFromContext(ctx context.Context) string {
	runID, _ := ctx.Value(runIDKey{}).(string)
	return runID
}

// WrapInfo describes a registered composite
type WrapInfo struct {
	Name     string `json:"name"`
	ID       string `json:"id,omitempty"`
	Controls int    `json:"controls"`
}

// Manager coordinates the runs of registered composites
type Manager struct {
	eventBus ports.EventBus
	storage  ports.StateStorage
	metrics  ports.MetricsCollector
	logger   *zap.Logger

	mu    sync.RWMutex
	wraps map[string]*wrap.Node

	// Track active runs
	runs   sync.Map // map[string]*runContext
	active int64

	runTimeout time.Duration
}

// runContext holds state for a single run
type runContext struct {
	runID      string
	wrap       string
	status     domain.RunStatus
	startedAt  time.Time
	cancelFunc context.CancelFunc
	mu         sync.Mutex
}

// NewManager creates a new orchestrator manager
func NewManager(
	eventBus ports.EventBus,
	storage ports.StateStorage,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	runTimeout time.Duration,
) *Manager {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		eventBus:   eventBus,
		storage:    storage,
		metrics:    metrics,
		logger:     logger,
		wraps:      make(map[string]*wrap.Node),
		runTimeout: runTimeout,
	}
}

// Register makes node runnable under name and forwards its lifecycle events
// to the event bus
func (m *Manager) Register(name string, node *wrap.Node) error {
	if name == "" || node == nil {
		return fmt.Errorf("wrap name and node are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.wraps[name]; exists {
		return fmt.Errorf("%w: %s", ErrWrapExists, name)
	}

	node.OnAny(m.forward(name))
	m.wraps[name] = node

	m.logger.Info("wrap registered",
		zap.String("wrap", name),
		zap.Int("controls", node.Len()))
	return nil
}

// RegisterManifests validates and builds every manifest with factory and
// registers the result under the manifest name
func (m *Manager) RegisterManifests(manifests []*manifest.Manifest, validator *Validator, factory manifest.ControlFactory, opts ...wrap.Option) error {
	for _, mf := range manifests {
		if err := validator.Validate(mf); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}

		node, err := manifest.Build(mf, factory, opts...)
		if err != nil {
			return err
		}

		if err := m.Register(mf.Name, node); err != nil {
			return err
		}
	}
	return nil
}

// Wraps lists the registered composites sorted by name
func (m *Manager) Wraps() []WrapInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]WrapInfo, 0, len(m.wraps))
	for name, node := range m.wraps {
		infos = append(infos, WrapInfo{Name: name, ID: node.ID(), Controls: node.Len()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (m *Manager) lookup(name string) (*wrap.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, ok := m.wraps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWrapNotFound, name)
	}
	return node, nil
}

// forward publishes the lifecycle events of a run on the events topic.
// Events outside a run, such as attribute changes at build time, are dropped.
func (m *Manager) forward(name string) wrap.Listener {
	return func(ctx context.Context, e wrap.Event) {
		runID := RunIDFromContext(ctx)
		if runID == "" {
			return
		}

		data := map[string]interface{}{"event": string(e.Type)}
		if e.Key != "" {
			data["key"] = e.Key
		}
		if e.Value != nil {
			data["value"] = e.Value
		}
		if e.Err != nil {
			data["error"] = e.Err.Error()
		}

		m.publish(ctx, ports.TopicEvents, ports.Event{
			Type:  ports.EventTypeLifecycle,
			RunID: runID,
			Wrap:  name,
			Data:  data,
		})
	}
}

// Submit stores a new run of the named composite and publishes it on the
// runs topic for the worker pool
func (m *Manager) Submit(ctx context.Context, name string, seed map[string]interface{}) (string, error) {
	state, err := m.createRun(ctx, name, seed)
	if err != nil {
		m.metrics.RecordRunSubmitted(name, "rejected")
		return "", err
	}

	event := ports.Event{
		Type:  ports.EventTypeRunSubmitted,
		RunID: state.RunID,
		Wrap:  name,
	}
	if err := m.eventBus.Publish(ctx, ports.TopicRuns, m.stamp(event)); err != nil {
		m.logger.Error("failed to publish run submitted event",
			zap.String("run_id", state.RunID),
			zap.Error(err))
		m.finish(ctx, state, domain.RunStatusFailed, nil, err)
		return "", fmt.Errorf("failed to publish event: %w", err)
	}

	m.metrics.RecordRunSubmitted(name, "accepted")
	m.logger.Info("run submitted",
		zap.String("run_id", state.RunID),
		zap.String("wrap", name))

	return state.RunID, nil
}

// Run executes the named composite synchronously and returns the final
// run state. A failed pass returns the state together with the error.
func (m *Manager) Run(ctx context.Context, name string, seed map[string]interface{}) (*domain.RunState, error) {
	state, err := m.createRun(ctx, name, seed)
	if err != nil {
		m.metrics.RecordRunSubmitted(name, "rejected")
		return nil, err
	}
	m.metrics.RecordRunSubmitted(name, "accepted")

	return m.Execute(ctx, state.RunID)
}

func (m *Manager) createRun(ctx context.Context, name string, seed map[string]interface{}) (*domain.RunState, error) {
	if _, err := m.lookup(name); err != nil {
		return nil, err
	}

	state := &domain.RunState{
		RunID:       uuid.New().String(),
		Wrap:        name,
		Status:      domain.RunStatusSubmitted,
		Seed:        seed,
		SubmittedAt: time.Now(),
	}

	if err := m.storage.SaveRun(ctx, state); err != nil {
		m.logger.Error("failed to save initial run state",
			zap.String("run_id", state.RunID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to save run state: %w", err)
	}

	m.runs.Store(state.RunID, &runContext{
		runID:  state.RunID,
		wrap:   name,
		status: domain.RunStatusSubmitted,
	})
	return state, nil
}

// Execute runs a submitted run to completion. Runs that were cancelled
// before starting are returned unchanged. The error of a failed pass is
// returned as is.
func (m *Manager) Execute(ctx context.Context, runID string) (*domain.RunState, error) {
	state, err := m.storage.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run state: %w", err)
	}
	if state.Status.IsTerminal() {
		m.runs.Delete(runID)
		m.logger.Info("skipping finished run",
			zap.String("run_id", runID),
			zap.String("status", string(state.Status)))
		return state, nil
	}

	node, err := m.lookup(state.Wrap)
	if err != nil {
		return m.finish(ctx, state, domain.RunStatusFailed, nil, err), err
	}

	val, _ := m.runs.LoadOrStore(runID, &runContext{
		runID:  runID,
		wrap:   state.Wrap,
		status: domain.RunStatusSubmitted,
	})
	rc := val.(*runContext)

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if m.runTimeout > 0 {
		runCtx, cancel = context.WithTimeout(WithRunID(ctx, runID), m.runTimeout)
	} else {
		runCtx, cancel = context.WithCancel(WithRunID(ctx, runID))
	}
	defer cancel()

	rc.mu.Lock()
	if rc.status != domain.RunStatusSubmitted {
		status := rc.status
		rc.mu.Unlock()
		if status == domain.RunStatusCancelled {
			m.runs.Delete(runID)
			return m.cancelled(ctx, state), nil
		}
		return nil, fmt.Errorf("run %s is already %s", runID, status)
	}
	rc.status = domain.RunStatusRunning
	rc.startedAt = time.Now()
	rc.cancelFunc = cancel
	rc.mu.Unlock()

	startedAt := rc.startedAt
	state.Status = domain.RunStatusRunning
	state.StartedAt = &startedAt
	if err := m.storage.SaveRun(ctx, state); err != nil {
		m.logger.Error("failed to save running state",
			zap.String("run_id", runID),
			zap.Error(err))
	}

	m.metrics.SetActiveRuns(m.addActive(1))
	defer func() { m.metrics.SetActiveRuns(m.addActive(-1)) }()

	m.publish(ctx, ports.TopicEvents, ports.Event{
		Type:  ports.EventTypeRunStarted,
		RunID: runID,
		Wrap:  state.Wrap,
	})
	m.logger.Info("run started",
		zap.String("run_id", runID),
		zap.String("wrap", state.Wrap))

	content, runErr := node.Run(runCtx, state.Seed)
	if runErr != nil {
		return m.finish(ctx, state, domain.RunStatusFailed, nil, runErr), runErr
	}
	return m.finish(ctx, state, domain.RunStatusCompleted, content.Snapshot(), nil), nil
}

func (m *Manager) addActive(delta int64) int {
	return int(atomic.AddInt64(&m.active, delta))
}

// cancelled returns the stored state of a cancelled run. The cancelling
// call may not have saved it yet, so held is used as the fallback.
func (m *Manager) cancelled(ctx context.Context, held *domain.RunState) *domain.RunState {
	stored, err := m.storage.GetRun(ctx, held.RunID)
	if err == nil && stored.Status == domain.RunStatusCancelled {
		return stored
	}
	if err != nil {
		m.logger.Warn("failed to get cancelled run state",
			zap.String("run_id", held.RunID),
			zap.Error(err))
	}

	state := held.Clone()
	state.Status = domain.RunStatusCancelled
	return state
}

// finish records the terminal state of a run, unless it was cancelled
// first. It never returns nil.
func (m *Manager) finish(ctx context.Context, state *domain.RunState, status domain.RunStatus, content map[string]interface{}, runErr error) *domain.RunState {
	runID := state.RunID

	var startedAt time.Time
	if val, ok := m.runs.Load(runID); ok {
		rc := val.(*runContext)
		rc.mu.Lock()
		if rc.status == domain.RunStatusCancelled {
			rc.mu.Unlock()
			m.runs.Delete(runID)
			return m.cancelled(ctx, state)
		}
		rc.status = status
		startedAt = rc.startedAt
		rc.mu.Unlock()
		m.runs.Delete(runID)
	}

	now := time.Now()
	state.Status = status
	state.Content = content
	state.CompletedAt = &now
	if runErr != nil {
		state.Error = runErr.Error()
	}

	if err := m.storage.SaveRun(ctx, state); err != nil {
		m.logger.Error("failed to save final run state",
			zap.String("run_id", runID),
			zap.Error(err))
	}

	eventType := ports.EventTypeRunCompleted
	data := map[string]interface{}{}
	if status == domain.RunStatusFailed {
		eventType = ports.EventTypeRunFailed
		data["error"] = state.Error
	}
	m.publish(ctx, ports.TopicEvents, ports.Event{
		Type:  eventType,
		RunID: runID,
		Wrap:  state.Wrap,
		Data:  data,
	})

	var duration time.Duration
	if !startedAt.IsZero() {
		duration = now.Sub(startedAt)
	}
	m.metrics.RecordRunCompleted(state.Wrap, string(status), duration)

	if runErr != nil {
		m.logger.Warn("run failed",
			zap.String("run_id", runID),
			zap.String("wrap", state.Wrap),
			zap.Error(runErr))
	} else {
		m.logger.Info("run completed",
			zap.String("run_id", runID),
			zap.String("wrap", state.Wrap),
			zap.Duration("duration", duration))
	}

	return state
}

// GetRun retrieves the current state of a run
func (m *Manager) GetRun(ctx context.Context, runID string) (*domain.RunState, error) {
	state, err := m.storage.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run state: %w", err)
	}
	return state, nil
}

// ListRuns returns every stored run, most recent first
func (m *Manager) ListRuns(ctx context.Context) ([]*domain.RunState, error) {
	ids, err := m.storage.ListRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	states := make([]*domain.RunState, 0, len(ids))
	for _, id := range ids {
		state, err := m.storage.GetRun(ctx, id)
		if err != nil {
			if errors.Is(err, ports.ErrRunNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to get run state: %w", err)
		}
		states = append(states, state)
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].SubmittedAt.After(states[j].SubmittedAt)
	})
	return states, nil
}

// CancelRun cancels a submitted or running run
func (m *Manager) CancelRun(ctx context.Context, runID string) error {
	state, err := m.storage.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to get run state: %w", err)
	}

	val, ok := m.runs.Load(runID)
	if !ok {
		if state.Status.IsTerminal() {
			return fmt.Errorf("%w: %s", ErrRunFinished, state.Status)
		}
		val, _ = m.runs.LoadOrStore(runID, &runContext{
			runID:  runID,
			wrap:   state.Wrap,
			status: domain.RunStatusSubmitted,
		})
	}

	rc := val.(*runContext)
	rc.mu.Lock()
	if rc.status.IsTerminal() {
		status := rc.status
		rc.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRunFinished, status)
	}
	if rc.cancelFunc != nil {
		rc.cancelFunc()
	}
	// a run that has not started keeps its entry until Execute drops it
	rc.status = domain.RunStatusCancelled
	rc.mu.Unlock()

	now := time.Now()
	state.Status = domain.RunStatusCancelled
	state.CompletedAt = &now

	if err := m.storage.SaveRun(ctx, state); err != nil {
		return fmt.Errorf("failed to save run state: %w", err)
	}

	m.publish(ctx, ports.TopicEvents, ports.Event{
		Type:  ports.EventTypeRunCancelled,
		RunID: runID,
		Wrap:  state.Wrap,
	})
	m.metrics.RecordRunCompleted(state.Wrap, string(domain.RunStatusCancelled), 0)

	m.logger.Info("run cancelled", zap.String("run_id", runID))
	return nil
}

// publish sends an event, logging failures
func (m *Manager) publish(ctx context.Context, topic string, event ports.Event) {
	event = m.stamp(event)
	if err := m.eventBus.Publish(ctx, topic, event); err != nil {
		m.logger.Error("failed to publish event",
			zap.String("run_id", event.RunID),
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}

func (m *Manager) stamp(event ports.Event) ports.Event {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return event
}

// Shutdown cancels every active run
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	m.runs.Range(func(key, value interface{}) bool {
		rc := value.(*runContext)
		rc.mu.Lock()
		if rc.cancelFunc != nil {
			rc.cancelFunc()
		}
		rc.mu.Unlock()
		return true
	})

	m.logger.Info("orchestrator manager shut down complete")
	return nil
}
