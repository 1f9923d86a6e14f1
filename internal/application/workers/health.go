package workers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthStatus is a point-in-time summary of the pool
type HealthStatus struct {
	TotalWorkers   int       `json:"total_workers"`
	IdleWorkers    int       `json:"idle_workers"`
	BusyWorkers    int       `json:"busy_workers"`
	StoppedWorkers int       `json:"stopped_workers"`
	QueueDepth     int       `json:"queue_depth"`
	QueueCapacity  int       `json:"queue_capacity"`
	Healthy        bool      `json:"healthy"`
	Timestamp      time.Time `json:"timestamp"`
}

// saturated reports whether every worker is busy and runs are waiting
func (s *HealthStatus) saturated() bool {
	return s.TotalWorkers > 0 && s.BusyWorkers == s.TotalWorkers && s.QueueDepth > 0
}

// HealthMonitor samples the pool periodically, publishes the sample as
// metrics and remembers the last one
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	logger   *zap.Logger

	mu   sync.RWMutex
	last *HealthStatus
}

// NewHealthMonitor creates a monitor sampling pool every interval
// (30s when interval is not positive)
func NewHealthMonitor(pool *Pool, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthMonitor{
		pool:     pool,
		interval: interval,
		logger:   logger,
	}
}

// watch samples the pool until ctx is done
func (h *HealthMonitor) watch(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check()
		}
	}
}

// Check samples the pool, records the sample and returns it. Health
// transitions are logged at info level, steady state at debug.
func (h *HealthMonitor) Check() *HealthStatus {
	status := h.GetStatus()

	h.pool.metrics.RecordWorkerPoolStatus(status.IdleWorkers, status.BusyWorkers, status.StoppedWorkers)
	h.pool.metrics.SetQueueDepth(status.QueueDepth)

	h.mu.Lock()
	previous := h.last
	h.last = status
	h.mu.Unlock()

	fields := []zap.Field{
		zap.Int("total", status.TotalWorkers),
		zap.Int("idle", status.IdleWorkers),
		zap.Int("busy", status.BusyWorkers),
		zap.Int("stopped", status.StoppedWorkers),
		zap.Int("queued", status.QueueDepth),
		zap.Bool("healthy", status.Healthy),
	}

	switch {
	case previous == nil || previous.Healthy != status.Healthy:
		if status.Healthy {
			h.logger.Info("worker pool health check", fields...)
		} else {
			h.logger.Warn("worker pool health check", fields...)
		}
	default:
		h.logger.Debug("worker pool health check", fields...)
	}

	if status.saturated() {
		h.logger.Warn("all workers are busy and runs are queued",
			zap.Int("queued", status.QueueDepth),
			zap.Int("capacity", status.QueueCapacity))
	}

	return status
}

// LastStatus returns the most recent sample taken by Check, or nil
func (h *HealthMonitor) LastStatus() *HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// GetStatus computes the current status without recording it
func (h *HealthMonitor) GetStatus() *HealthStatus {
	status := &HealthStatus{
		QueueDepth:    h.pool.QueueDepth(),
		QueueCapacity: cap(h.pool.jobs),
		Timestamp:     time.Now(),
	}

	for _, s := range h.pool.GetStatus() {
		status.TotalWorkers++
		switch s {
		case WorkerStatusIdle:
			status.IdleWorkers++
		case WorkerStatusBusy:
			status.BusyWorkers++
		case WorkerStatusStopped:
			status.StoppedWorkers++
		}
	}

	// busy workers are fine as long as the queue still has room
	status.Healthy = status.TotalWorkers > 0 && status.StoppedWorkers == 0 &&
		(status.IdleWorkers > 0 || status.QueueDepth < status.QueueCapacity)

	return status
}

// IsHealthy reports whether the pool can take more runs
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}
