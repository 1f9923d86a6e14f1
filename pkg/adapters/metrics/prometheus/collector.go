package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	passesTotal       *prometheus.CounterVec
	passDuration      *prometheus.HistogramVec
	controlsLoaded    *prometheus.CounterVec
	controlDuration   *prometheus.HistogramVec
	groupsCompleted   *prometheus.CounterVec
	runsSubmitted     *prometheus.CounterVec
	runsCompleted     *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	activeRuns        prometheus.Gauge
	queueDepth        prometheus.Gauge
	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge
}

// NewCollector registers the wrap metrics on reg. A nil reg uses the default
// registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		passesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrap_passes_total",
				Help: "Total number of load passes",
			},
			[]string{"status"},
		),
		passDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wrap_pass_duration_seconds",
				Help:    "Load pass duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"status"},
		),
		controlsLoaded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrap_controls_loaded_total",
				Help: "Total number of control loads",
			},
			[]string{"group", "status"},
		),
		controlDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wrap_control_duration_seconds",
				Help:    "Control load duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"group"},
		),
		groupsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrap_groups_completed_total",
				Help: "Total number of ordering groups that reached a terminal state",
			},
			[]string{"group", "status"},
		),
		runsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrap_runs_submitted_total",
				Help: "Total number of runs submitted",
			},
			[]string{"wrap", "status"},
		),
		runsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrap_runs_completed_total",
				Help: "Total number of runs that finished",
			},
			[]string{"wrap", "status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wrap_run_duration_seconds",
				Help:    "Run duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"wrap"},
		),
		activeRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wrap_active_runs",
				Help: "Number of currently running runs",
			},
		),
		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wrap_queue_depth",
				Help: "Number of submitted runs waiting for a worker",
			},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wrap_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wrap_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wrap_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
	}
}

// RecordPass records one load pass
func (c *Collector) RecordPass(status string, duration time.Duration) {
	c.passesTotal.WithLabelValues(status).Inc()
	c.passDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordControlLoad records one control load
func (c *Collector) RecordControlLoad(group, status string, duration time.Duration) {
	c.controlsLoaded.WithLabelValues(group, status).Inc()
	c.controlDuration.WithLabelValues(group).Observe(duration.Seconds())
}

// RecordGroupCompleted records a group reaching a terminal state
func (c *Collector) RecordGroupCompleted(group, status string) {
	c.groupsCompleted.WithLabelValues(group, status).Inc()
}

// RecordRunSubmitted records a run submission
func (c *Collector) RecordRunSubmitted(wrap, status string) {
	c.runsSubmitted.WithLabelValues(wrap, status).Inc()
}

// RecordRunCompleted records a finished run
func (c *Collector) RecordRunCompleted(wrap, status string, duration time.Duration) {
	c.runsCompleted.WithLabelValues(wrap, status).Inc()
	c.runDuration.WithLabelValues(wrap).Observe(duration.Seconds())
}

// SetActiveRuns sets the number of running runs
func (c *Collector) SetActiveRuns(count int) {
	c.activeRuns.Set(float64(count))
}

// SetQueueDepth sets the number of queued runs
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}
