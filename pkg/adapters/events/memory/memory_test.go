package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aescanero/dago-wrap/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInOrder(t *testing.T) {
	bus := NewInMemoryEventBus(nil)
	ctx := context.Background()

	var got []string
	require.NoError(t, bus.Subscribe(ctx, ports.TopicEvents, func(_ context.Context, e ports.Event) error {
		got = append(got, "first:"+e.ID)
		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx, ports.TopicEvents, func(_ context.Context, e ports.Event) error {
		got = append(got, "second:"+e.ID)
		return errors.New("ignored")
	}))

	require.NoError(t, bus.Publish(ctx, ports.TopicEvents, ports.Event{ID: "1"}))
	require.NoError(t, bus.Publish(ctx, ports.TopicRuns, ports.Event{ID: "other topic"}))

	assert.Equal(t, []string{"first:1", "second:1"}, got)
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	bus := NewInMemoryEventBus(nil)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	require.NoError(t, bus.Subscribe(ctx, "t", func(context.Context, ports.Event) error {
		calls++
		return nil
	}))
	require.NoError(t, bus.Subscribe(context.Background(), "t", func(context.Context, ports.Event) error {
		return nil
	}))

	cancel()
	require.Eventually(t, func() bool {
		bus.mu.RLock()
		defer bus.mu.RUnlock()
		return len(bus.subscribers["t"]) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), "t", ports.Event{}))
	assert.Equal(t, 0, calls)
}

func TestUnsubscribeAndClose(t *testing.T) {
	bus := NewInMemoryEventBus(nil)
	ctx := context.Background()

	calls := 0
	handler := func(context.Context, ports.Event) error {
		calls++
		return nil
	}
	require.NoError(t, bus.Subscribe(ctx, "a", handler))
	require.NoError(t, bus.Subscribe(ctx, "b", handler))

	require.NoError(t, bus.Unsubscribe(ctx, "a"))
	require.NoError(t, bus.Publish(ctx, "a", ports.Event{}))
	require.NoError(t, bus.Publish(ctx, "b", ports.Event{}))
	assert.Equal(t, 1, calls)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Publish(ctx, "b", ports.Event{}))
	assert.Equal(t, 1, calls)
}
