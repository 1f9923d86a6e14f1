package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	eventsmemory "github.com/aescanero/dago-wrap/pkg/adapters/events/memory"
	storagememory "github.com/aescanero/dago-wrap/pkg/adapters/storage/memory"
	"github.com/aescanero/dago-wrap/pkg/controls"
	"github.com/aescanero/dago-wrap/pkg/domain"
	"github.com/aescanero/dago-wrap/pkg/manifest"
	"github.com/aescanero/dago-wrap/pkg/ports"
	"github.com/aescanero/dago-wrap/pkg/wrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recorder struct {
	mu     sync.Mutex
	events []ports.Event
}

func (r *recorder) handle(_ context.Context, e ports.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		if e.Type == ports.EventTypeLifecycle {
			out = append(out, e.Data["event"].(string))
			continue
		}
		out = append(out, string(e.Type))
	}
	return out
}

// unreliableStorage fails reads on demand and can hold saves of one status
// until released
type unreliableStorage struct {
	ports.StateStorage

	failGet atomic.Bool

	holdStatus domain.RunStatus
	saving     chan struct{}
	release    chan struct{}
}

func (s *unreliableStorage) GetRun(ctx context.Context, runID string) (*domain.RunState, error) {
	if s.failGet.Load() {
		return nil, errors.New("connection reset by peer")
	}
	return s.StateStorage.GetRun(ctx, runID)
}

func (s *unreliableStorage) SaveRun(ctx context.Context, state *domain.RunState) error {
	if s.release != nil && state.Status == s.holdStatus {
		s.saving <- struct{}{}
		<-s.release
	}
	return s.StateStorage.SaveRun(ctx, state)
}

func newTestManager(t *testing.T) (*Manager, *eventsmemory.InMemoryEventBus, *storagememory.InMemoryStateStorage) {
	t.Helper()
	bus := eventsmemory.NewInMemoryEventBus(zaptest.NewLogger(t))
	store := storagememory.NewInMemoryStateStorage(time.Hour)
	return NewManager(bus, store, nil, zaptest.NewLogger(t), time.Minute), bus, store
}

func greeting() *wrap.Node {
	return wrap.New().
		Parallel("name", wrap.LoadFunc(func(context.Context, *wrap.Content) (interface{}, error) {
			return "ada", nil
		})).
		Series("greeting", wrap.LoadFunc(func(_ context.Context, c *wrap.Content) (interface{}, error) {
			name, _ := c.Get("name")
			return "hello " + name.(string), nil
		}))
}

func TestRegister(t *testing.T) {
	m, _, _ := newTestManager(t)

	require.NoError(t, m.Register("greeting", greeting()))
	require.ErrorIs(t, m.Register("greeting", greeting()), ErrWrapExists)
	require.Error(t, m.Register("", greeting()))
	require.Error(t, m.Register("empty", nil))
}

func TestWrapsAreSorted(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.NoError(t, m.Register("b", greeting()))
	require.NoError(t, m.Register("a", wrap.New().SetID("root")))

	assert.Equal(t, []WrapInfo{
		{Name: "a", ID: "root", Controls: 0},
		{Name: "b", Controls: 2},
	}, m.Wraps())
}

func TestRun(t *testing.T) {
	m, bus, _ := newTestManager(t)
	require.NoError(t, m.Register("greeting", greeting()))

	rec := &recorder{}
	require.NoError(t, bus.Subscribe(context.Background(), ports.TopicEvents, rec.handle))

	state, err := m.Run(context.Background(), "greeting", map[string]interface{}{"lang": "en"})

	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, state.Status)
	assert.Equal(t, map[string]interface{}{
		"lang":     "en",
		"name":     "ada",
		"greeting": "hello ada",
	}, state.Content)
	require.NotNil(t, state.StartedAt)
	require.NotNil(t, state.CompletedAt)

	assert.Equal(t, []string{
		string(ports.EventTypeRunStarted),
		string(wrap.EventPreLoad),
		string(wrap.EventLoad),
		string(wrap.EventLoad),
		string(wrap.EventPostLoad),
		string(ports.EventTypeRunCompleted),
	}, rec.types())

	for _, e := range rec.events {
		assert.Equal(t, state.RunID, e.RunID)
		assert.Equal(t, "greeting", e.Wrap)
		assert.NotEmpty(t, e.ID)
	}

	stored, err := m.GetRun(context.Background(), state.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, stored.Status)
}

func TestRunFailureReturnsControlError(t *testing.T) {
	m, bus, _ := newTestManager(t)
	boom := errors.New("backend down")
	require.NoError(t, m.Register("broken", wrap.New().Parallel("x", wrap.LoadFunc(
		func(context.Context, *wrap.Content) (interface{}, error) { return nil, boom }))))

	rec := &recorder{}
	require.NoError(t, bus.Subscribe(context.Background(), ports.TopicEvents, rec.handle))

	state, err := m.Run(context.Background(), "broken", nil)

	require.ErrorIs(t, err, boom)
	require.NotNil(t, state)
	assert.Equal(t, domain.RunStatusFailed, state.Status)
	assert.Equal(t, boom.Error(), state.Error)
	assert.Nil(t, state.Content)
	assert.Contains(t, rec.types(), string(wrap.EventLoadError))
	assert.Contains(t, rec.types(), string(ports.EventTypeRunFailed))
}

func TestRunUnknownWrap(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Run(context.Background(), "missing", nil)
	require.ErrorIs(t, err, ErrWrapNotFound)

	_, err = m.Submit(context.Background(), "missing", nil)
	require.ErrorIs(t, err, ErrWrapNotFound)
}

func TestAttributeEventsOutsideRunsAreDropped(t *testing.T) {
	m, bus, _ := newTestManager(t)
	node := greeting()
	require.NoError(t, m.Register("greeting", node))

	rec := &recorder{}
	require.NoError(t, bus.Subscribe(context.Background(), ports.TopicEvents, rec.handle))

	node.SetID("main").SetEditable(true)

	assert.Empty(t, rec.types())
}

func TestSubmitThenExecute(t *testing.T) {
	m, bus, _ := newTestManager(t)
	require.NoError(t, m.Register("greeting", greeting()))

	submitted := &recorder{}
	require.NoError(t, bus.Subscribe(context.Background(), ports.TopicRuns, submitted.handle))

	runID, err := m.Submit(context.Background(), "greeting", nil)
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	require.Len(t, submitted.events, 1)
	assert.Equal(t, ports.EventTypeRunSubmitted, submitted.events[0].Type)
	assert.Equal(t, runID, submitted.events[0].RunID)

	state, err := m.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSubmitted, state.Status)

	state, err = m.Execute(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, state.Status)
	assert.Equal(t, "hello ada", state.Content["greeting"])

	// a second delivery of the same run is a no-op
	again, err := m.Execute(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, again.Status)
}

func TestExecuteUnknownRun(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Execute(context.Background(), "nope")
	require.ErrorIs(t, err, ports.ErrRunNotFound)
}

func TestCancelBeforeExecute(t *testing.T) {
	m, _, _ := newTestManager(t)
	called := false
	require.NoError(t, m.Register("w", wrap.New().Parallel("x", wrap.LoadFunc(
		func(context.Context, *wrap.Content) (interface{}, error) {
			called = true
			return 1, nil
		}))))

	runID, err := m.Submit(context.Background(), "w", nil)
	require.NoError(t, err)
	require.NoError(t, m.CancelRun(context.Background(), runID))

	state, err := m.Execute(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, state.Status)
	assert.False(t, called)
}

func TestCancelRunningRun(t *testing.T) {
	m, _, _ := newTestManager(t)
	started := make(chan struct{})
	require.NoError(t, m.Register("slow", wrap.New().Parallel("x", wrap.LoadFunc(
		func(ctx context.Context, _ *wrap.Content) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}))))

	runID, err := m.Submit(context.Background(), "slow", nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := m.Execute(context.Background(), runID)
		done <- err
	}()

	<-started
	require.NoError(t, m.CancelRun(context.Background(), runID))

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run was not cancelled")
	}

	state, err := m.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, state.Status)
}

func TestCancelFinishedRun(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.NoError(t, m.Register("greeting", greeting()))

	state, err := m.Run(context.Background(), "greeting", nil)
	require.NoError(t, err)

	require.ErrorIs(t, m.CancelRun(context.Background(), state.RunID), ErrRunFinished)
}

func TestRunTimeout(t *testing.T) {
	bus := eventsmemory.NewInMemoryEventBus(nil)
	store := storagememory.NewInMemoryStateStorage(0)
	m := NewManager(bus, store, nil, nil, 20*time.Millisecond)
	require.NoError(t, m.Register("slow", wrap.New().Parallel("x", wrap.LoadFunc(
		func(ctx context.Context, _ *wrap.Content) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}))))

	state, err := m.Run(context.Background(), "slow", nil)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.RunStatusFailed, state.Status)
}

func TestListRunsNewestFirst(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.NoError(t, m.Register("greeting", greeting()))

	first, err := m.Submit(context.Background(), "greeting", nil)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := m.Submit(context.Background(), "greeting", nil)
	require.NoError(t, err)

	runs, err := m.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].RunID)
	assert.Equal(t, first, runs[1].RunID)
}

func TestRegisterManifests(t *testing.T) {
	m, _, _ := newTestManager(t)
	mf, err := manifest.Parse([]byte(`
name: profile
defaults:
  lang: en
controls:
  - key: user
    type: static
    value:
      name: ada
  - key: title
    group: series
    type: script
    script: "'Dr. ' + content.user.name"
`))
	require.NoError(t, err)

	factory := controls.NewFactory(nil, nil, time.Second, nil)
	require.NoError(t, m.RegisterManifests([]*manifest.Manifest{mf}, NewValidator(), factory))

	state, err := m.Run(context.Background(), "profile", nil)
	require.NoError(t, err)
	assert.Equal(t, "Dr. ada", state.Content["title"])
	assert.Equal(t, "en", state.Content["lang"])
}

func TestRegisterManifestsRejectsInvalid(t *testing.T) {
	m, _, _ := newTestManager(t)
	factory := controls.NewFactory(nil, nil, time.Second, nil)

	err := m.RegisterManifests([]*manifest.Manifest{{Name: "bad", Controls: []manifest.Control{{Key: "x"}}}}, NewValidator(), factory)

	require.Error(t, err)
	assert.Empty(t, m.Wraps())
}

func TestShutdownCancelsRuns(t *testing.T) {
	m, _, _ := newTestManager(t)
	started := make(chan struct{})
	require.NoError(t, m.Register("slow", wrap.New().Parallel("x", wrap.LoadFunc(
		func(ctx context.Context, _ *wrap.Content) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}))))

	done := make(chan error, 1)
	go func() {
		_, err := m.Run(context.Background(), "slow", nil)
		done <- err
	}()

	<-started
	require.NoError(t, m.Shutdown(context.Background()))

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run survived shutdown")
	}
}

func TestExecuteSurvivesStorageReadFailure(t *testing.T) {
	store := &unreliableStorage{StateStorage: storagememory.NewInMemoryStateStorage(time.Hour)}
	m := NewManager(eventsmemory.NewInMemoryEventBus(nil), store, nil, zaptest.NewLogger(t), time.Minute)
	require.NoError(t, m.Register("w", wrap.New().Parallel("x", wrap.LoadFunc(
		func(context.Context, *wrap.Content) (interface{}, error) {
			store.failGet.Store(true)
			return 1, nil
		}))))

	ctx := context.Background()
	runID, err := m.Submit(ctx, "w", nil)
	require.NoError(t, err)

	state, err := m.Execute(ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, domain.RunStatusCompleted, state.Status)
	assert.Equal(t, map[string]interface{}{"x": 1}, state.Content)

	store.failGet.Store(false)
	stored, err := m.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, stored.Status)
	assert.Equal(t, map[string]interface{}{"x": 1}, stored.Content)
}

func TestCancelledRunSurvivesStorageReadFailure(t *testing.T) {
	store := &unreliableStorage{StateStorage: storagememory.NewInMemoryStateStorage(time.Hour)}
	m := NewManager(eventsmemory.NewInMemoryEventBus(nil), store, nil, zaptest.NewLogger(t), time.Minute)
	started := make(chan struct{})
	require.NoError(t, m.Register("slow", wrap.New().Parallel("x", wrap.LoadFunc(
		func(ctx context.Context, _ *wrap.Content) (interface{}, error) {
			close(started)
			<-ctx.Done()
			store.failGet.Store(true)
			return nil, ctx.Err()
		}))))

	ctx := context.Background()
	runID, err := m.Submit(ctx, "slow", nil)
	require.NoError(t, err)

	type result struct {
		state *domain.RunState
		err   error
	}
	done := make(chan result, 1)
	go func() {
		state, err := m.Execute(ctx, runID)
		done <- result{state, err}
	}()

	<-started
	require.NoError(t, m.CancelRun(ctx, runID))

	select {
	case r := <-done:
		require.ErrorIs(t, r.err, context.Canceled)
		require.NotNil(t, r.state)
		assert.Equal(t, domain.RunStatusCancelled, r.state.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("run was not cancelled")
	}
}

func TestExecuteWhileCancelIsSavingIsSkipped(t *testing.T) {
	store := &unreliableStorage{
		StateStorage: storagememory.NewInMemoryStateStorage(time.Hour),
		holdStatus:   domain.RunStatusCancelled,
		saving:       make(chan struct{}),
		release:      make(chan struct{}),
	}
	bus := eventsmemory.NewInMemoryEventBus(nil)
	m := NewManager(bus, store, nil, zaptest.NewLogger(t), time.Minute)

	var called atomic.Bool
	require.NoError(t, m.Register("w", wrap.New().Parallel("x", wrap.LoadFunc(
		func(context.Context, *wrap.Content) (interface{}, error) {
			called.Store(true)
			return 1, nil
		}))))

	rec := &recorder{}
	require.NoError(t, bus.Subscribe(context.Background(), ports.TopicEvents, rec.handle))

	ctx := context.Background()
	runID, err := m.Submit(ctx, "w", nil)
	require.NoError(t, err)

	cancelled := make(chan error, 1)
	go func() { cancelled <- m.CancelRun(ctx, runID) }()

	// the run is marked cancelled, storage still says submitted
	<-store.saving

	state, err := m.Execute(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, state.Status)
	assert.False(t, called.Load())

	close(store.release)
	require.NoError(t, <-cancelled)

	stored, err := m.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, stored.Status)
	assert.Equal(t, []string{string(ports.EventTypeRunCancelled)}, rec.types())

	// a later delivery sees the stored terminal state
	again, err := m.Execute(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, again.Status)
	assert.False(t, called.Load())
}
