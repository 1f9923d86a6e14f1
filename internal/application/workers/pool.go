package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/dago-wrap/pkg/domain"
	"github.com/aescanero/dago-wrap/pkg/ports"
	"go.uber.org/zap"
)

// ErrQueueFull is returned to the event bus when a submitted run cannot be
// queued. Buses with acknowledgements redeliver it later.
var ErrQueueFull = errors.New("run queue is full")

// Executor runs a submitted run to completion
type Executor interface {
	Execute(ctx context.Context, runID string) (*domain.RunState, error)
}

// Pool manages a pool of worker goroutines
type Pool struct {
	size     int
	executor Executor
	eventBus ports.EventBus
	metrics  ports.MetricsCollector
	logger   *zap.Logger
	health   *HealthMonitor

	jobs    chan string
	workers []*worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// worker represents a single worker goroutine
type worker struct {
	id      string
	pool    *Pool
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// NewPool creates a new worker pool. queueSize bounds the runs waiting for
// a free worker.
func NewPool(
	size int,
	queueSize int,
	executor Executor,
	eventBus ports.EventBus,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	healthCheckInterval time.Duration,
) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		size:     size,
		executor: executor,
		eventBus: eventBus,
		metrics:  metrics,
		logger:   logger,
		jobs:     make(chan string, queueSize),
		workers:  make([]*worker, size),
		ctx:      ctx,
		cancel:   cancel,
	}

	pool.health = NewHealthMonitor(pool, healthCheckInterval, logger)

	return pool
}

// Health returns the pool health monitor
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// Start subscribes to submitted runs and starts the workers
func (p *Pool) Start() error {
	p.logger.Info("starting worker pool", zap.Int("size", p.size))

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:      fmt.Sprintf("worker-%d", i),
			pool:    p,
			status:  WorkerStatusIdle,
			lastJob: time.Now(),
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(p.ctx)
	}

	if err := p.eventBus.Subscribe(p.ctx, ports.TopicRuns, p.enqueue); err != nil {
		p.cancel()
		p.wg.Wait()
		return fmt.Errorf("failed to subscribe to runs: %w", err)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.health.watch(p.ctx)
	}()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// enqueue hands a submitted run to the workers without blocking the bus
func (p *Pool) enqueue(ctx context.Context, event ports.Event) error {
	if event.Type != ports.EventTypeRunSubmitted {
		return nil
	}
	if event.RunID == "" {
		p.logger.Error("submitted event without run id", zap.String("event_id", event.ID))
		return nil
	}

	select {
	case p.jobs <- event.RunID:
		p.metrics.SetQueueDepth(len(p.jobs))
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	default:
		p.logger.Warn("run queue is full",
			zap.String("run_id", event.RunID),
			zap.Int("capacity", cap(p.jobs)))
		return ErrQueueFull
	}
}

// QueueDepth returns the number of runs waiting for a worker
func (p *Pool) QueueDepth() int {
	return len(p.jobs)
}

// Shutdown gracefully shuts down the worker pool. Runs in progress are
// cancelled through their context.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	// stops the workers and the health monitor
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout")
	}
}

// GetStatus returns the status of all workers
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus)
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

// run is the main worker loop
func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	w.pool.logger.Debug("worker started", zap.String("worker_id", w.id))

	for {
		select {
		case <-ctx.Done():
			w.setStatus(WorkerStatusStopped)
			w.pool.logger.Debug("worker stopped", zap.String("worker_id", w.id))
			return
		case runID := <-w.pool.jobs:
			w.pool.metrics.SetQueueDepth(len(w.pool.jobs))
			w.execute(ctx, runID)
		}
	}
}

func (w *worker) setStatus(status WorkerStatus) {
	w.mu.Lock()
	w.status = status
	w.mu.Unlock()
}

// execute processes one submitted run
func (w *worker) execute(ctx context.Context, runID string) {
	w.mu.Lock()
	w.status = WorkerStatusBusy
	w.lastJob = time.Now()
	w.mu.Unlock()

	defer w.setStatus(WorkerStatusIdle)

	w.pool.logger.Info("executing run",
		zap.String("worker_id", w.id),
		zap.String("run_id", runID))

	startTime := time.Now()
	state, err := w.pool.executor.Execute(ctx, runID)
	if err != nil {
		w.pool.logger.Warn("run execution failed",
			zap.String("worker_id", w.id),
			zap.String("run_id", runID),
			zap.Error(err))
		return
	}
	if state == nil {
		w.pool.logger.Error("run execution returned no state",
			zap.String("worker_id", w.id),
			zap.String("run_id", runID))
		return
	}

	w.pool.logger.Info("run execution completed",
		zap.String("worker_id", w.id),
		zap.String("run_id", runID),
		zap.String("status", string(state.Status)),
		zap.Duration("duration", time.Since(startTime)))
}
