package flow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects the order in which tasks start and finish
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestParseGroup(t *testing.T) {
	tests := []struct {
		name    string
		want    Group
		wantErr bool
	}{
		{"", Parallel, false},
		{"parallel", Parallel, false},
		{"Series", Series, false},
		{" eventually ", Eventually, false},
		{"later", Parallel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGroup(tt.name)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnknownGroup)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, mustParse(t, got.String()))
		})
	}
}

func mustParse(t *testing.T, name string) Group {
	t.Helper()
	g, err := ParseGroup(name)
	require.NoError(t, err)
	return g
}

func TestAddRejectsUnknownGroup(t *testing.T) {
	f := New[string]()
	err := f.Add(Group(7), "x", "unit")
	require.ErrorIs(t, err, ErrUnknownGroup)
	assert.Equal(t, 0, f.Len())
}

func TestForEachVisitsGroupsInOrder(t *testing.T) {
	f := New[string]()
	require.NoError(t, f.Add(Eventually, "e", "e"))
	require.NoError(t, f.Add(Series, "s1", "s1"))
	require.NoError(t, f.Add(Parallel, "p", "p"))
	require.NoError(t, f.Add(Series, "s2", "s2"))

	var keys []string
	f.ForEach(func(e Entry[string]) { keys = append(keys, e.Key) })

	assert.Equal(t, []string{"p", "s1", "s2", "e"}, keys)
	assert.Equal(t, 4, f.Len())
	assert.Len(t, f.Entries(Series), 2)
}

func TestExecEmptyFlow(t *testing.T) {
	f := New[string]()
	var groups []Group

	err := f.Exec(context.Background(), func(ctx context.Context, e Entry[string]) error {
		t.Fatalf("unexpected task for %s", e.Key)
		return nil
	}, func(g Group, err error) error {
		groups = append(groups, g)
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, []Group{Parallel, Series, Eventually}, groups)
}

func TestExecSeriesRunsInRegistrationOrder(t *testing.T) {
	f := New[time.Duration]()
	// earlier members sleep longer so a concurrent run would reorder them
	require.NoError(t, f.Add(Series, "a", 30*time.Millisecond))
	require.NoError(t, f.Add(Series, "b", 10*time.Millisecond))
	require.NoError(t, f.Add(Series, "c", 0))

	rec := &recorder{}
	err := f.Exec(context.Background(), func(ctx context.Context, e Entry[time.Duration]) error {
		rec.add("start " + e.Key)
		time.Sleep(e.Unit)
		rec.add("end " + e.Key)
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"start a", "end a", "start b", "end b", "start c", "end c"}, rec.list())
}

func TestExecParallelRunsConcurrently(t *testing.T) {
	f := New[string]()
	for _, k := range []string{"x", "y", "z"} {
		require.NoError(t, f.Add(Parallel, k, k))
	}

	var running, peak atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 3)

	go func() {
		for i := 0; i < 3; i++ {
			<-started
		}
		close(release)
	}()

	err := f.Exec(context.Background(), func(ctx context.Context, e Entry[string]) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		started <- struct{}{}
		<-release
		running.Add(-1)
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, int32(3), peak.Load())
}

func TestExecParallelLimit(t *testing.T) {
	f := New[int]()
	for i := 0; i < 6; i++ {
		require.NoError(t, f.Add(Parallel, "", i))
	}
	f.SetLimit(2)

	var running, peak atomic.Int32
	err := f.Exec(context.Background(), func(ctx context.Context, e Entry[int]) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return nil
	}, nil)

	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestExecGroupsAreSequential(t *testing.T) {
	f := New[string]()
	require.NoError(t, f.Add(Eventually, "e", "e"))
	require.NoError(t, f.Add(Series, "s", "s"))
	require.NoError(t, f.Add(Parallel, "p1", "p1"))
	require.NoError(t, f.Add(Parallel, "p2", "p2"))

	rec := &recorder{}
	err := f.Exec(context.Background(), func(ctx context.Context, e Entry[string]) error {
		rec.add(e.Group.String())
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"parallel", "parallel", "series", "eventually"}, rec.list())
}

func TestExecFailureStopsLaterGroups(t *testing.T) {
	boom := errors.New("boom")

	f := New[string]()
	require.NoError(t, f.Add(Parallel, "p1", "ok"))
	require.NoError(t, f.Add(Parallel, "p2", "ok"))
	require.NoError(t, f.Add(Series, "s1", "fail"))
	require.NoError(t, f.Add(Series, "s2", "ok"))
	require.NoError(t, f.Add(Eventually, "e", "ok"))

	rec := &recorder{}
	var groups []string

	err := f.Exec(context.Background(), func(ctx context.Context, e Entry[string]) error {
		rec.add(e.Key)
		if e.Unit == "fail" {
			return boom
		}
		return nil
	}, func(g Group, err error) error {
		groups = append(groups, g.String())
		return err
	})

	require.Equal(t, boom, err)
	assert.ElementsMatch(t, []string{"p1", "p2", "s1"}, rec.list())
	assert.Equal(t, []string{"parallel", "series"}, groups)
}

func TestExecParallelFailureCancelsSiblings(t *testing.T) {
	boom := errors.New("boom")

	f := New[string]()
	require.NoError(t, f.Add(Parallel, "slow", "slow"))
	require.NoError(t, f.Add(Parallel, "bad", "bad"))
	require.NoError(t, f.Add(Eventually, "never", "never"))

	var sawCancel atomic.Bool
	err := f.Exec(context.Background(), func(ctx context.Context, e Entry[string]) error {
		switch e.Unit {
		case "bad":
			return boom
		case "slow":
			select {
			case <-ctx.Done():
				sawCancel.Store(true)
				return ctx.Err()
			case <-time.After(time.Second):
				return nil
			}
		}
		t.Errorf("unexpected task %s", e.Key)
		return nil
	}, nil)

	require.ErrorIs(t, err, boom)
	assert.True(t, sawCancel.Load())
}

func TestExecGroupHookReplacesError(t *testing.T) {
	boom := errors.New("boom")
	wrapped := errors.New("wrapped")

	f := New[string]()
	require.NoError(t, f.Add(Series, "s", "s"))

	err := f.Exec(context.Background(), func(ctx context.Context, e Entry[string]) error {
		return boom
	}, func(g Group, err error) error {
		if err != nil {
			return wrapped
		}
		return nil
	})

	assert.Equal(t, wrapped, err)
}

func TestExecCancelledContext(t *testing.T) {
	f := New[string]()
	require.NoError(t, f.Add(Series, "s", "s"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.Exec(ctx, func(ctx context.Context, e Entry[string]) error {
		t.Fatal("task must not run on a cancelled context")
		return nil
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
}
