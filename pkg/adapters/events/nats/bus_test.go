package nats

import (
	"context"
	"testing"

	"github.com/aescanero/dago-wrap/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventBusRequiresConnection(t *testing.T) {
	_, err := NewEventBus(nil, "workers", nil)
	require.Error(t, err)
}

func TestQueueFor(t *testing.T) {
	b := &EventBus{queueGroup: "wrap-workers"}

	assert.Equal(t, "wrap-workers", b.queueFor(ports.TopicRuns))
	assert.Equal(t, "", b.queueFor(ports.TopicEvents))
}

func TestConnectRequiresURL(t *testing.T) {
	_, err := Connect(context.Background(), ConnectionConfig{}, nil)
	require.Error(t, err)
}
