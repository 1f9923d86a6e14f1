package prometheus

import (
	"testing"
	"time"

	"github.com/aescanero/dago-wrap/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ports.MetricsCollector = (*Collector)(nil)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPass("completed", 10*time.Millisecond)
	c.RecordPass("completed", 20*time.Millisecond)
	c.RecordPass("failed", time.Millisecond)
	c.RecordControlLoad("series", "completed", time.Millisecond)
	c.RecordGroupCompleted("parallel", "failed")
	c.RecordRunSubmitted("profile", "accepted")
	c.RecordRunCompleted("profile", "completed", time.Second)
	c.SetActiveRuns(3)
	c.SetQueueDepth(7)
	c.RecordWorkerPoolStatus(2, 1, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.passesTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.passesTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.controlsLoaded.WithLabelValues("series", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.groupsCompleted.WithLabelValues("parallel", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsSubmitted.WithLabelValues("profile", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsCompleted.WithLabelValues("profile", "completed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.activeRuns))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.queueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.workerPoolIdle))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.workerPoolBusy))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.workerPoolStopped))
}

func TestCollectorRegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)

	require.Panics(t, func() { NewCollector(reg) })

	other := prometheus.NewRegistry()
	assert.NotPanics(t, func() { NewCollector(other) })
}
