// Package worker runs jobs periodically with graceful shutdown.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/oraclesentinel/oracle-sentinel/internal/logger"
)

// Worker interface that background workers should implement
type Worker interface {
	// Name returns worker name for logging
	Name() string
	// Run executes one iteration of work
	Run(ctx context.Context) error
}

// ResultFunc observes the outcome of every run.
type ResultFunc func(ctx context.Context, name string, err error)

// PeriodicWorker wraps a Worker with periodic execution
type PeriodicWorker struct {
	worker   Worker
	interval time.Duration
	onResult ResultFunc
	wg       *sync.WaitGroup
	name     string
}

// NewPeriodicWorker creates new periodic worker. onResult may be nil.
func NewPeriodicWorker(worker Worker, interval time.Duration, onResult ResultFunc) *PeriodicWorker {
	return &PeriodicWorker{
		worker:   worker,
		interval: interval,
		onResult: onResult,
		wg:       &sync.WaitGroup{},
		name:     worker.Name(),
	}
}

// Start starts the worker with graceful shutdown support
func (pw *PeriodicWorker) Start(ctx context.Context) {
	pw.wg.Add(1)
	go pw.run(ctx)
}

// Stop waits for the worker to exit, up to timeout. It reports whether the
// worker stopped in time.
func (pw *PeriodicWorker) Stop(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		pw.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Debug("Worker %s stopped", pw.name)
		return true
	case <-time.After(timeout):
		logger.Warn("Worker %s stop timeout", pw.name)
		return false
	}
}

func (pw *PeriodicWorker) run(ctx context.Context) {
	defer pw.wg.Done()

	logger.Info("Worker %s started (interval: %v)", pw.name, pw.interval)

	// Run immediately on start
	pw.runOnce(ctx)

	ticker := time.NewTicker(pw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Worker %s stopping", pw.name)
			return
		case <-ticker.C:
			pw.runOnce(ctx)
		}
	}
}

func (pw *PeriodicWorker) runOnce(ctx context.Context) {
	err := pw.worker.Run(ctx)
	if err != nil && ctx.Err() == nil {
		logger.Error("Worker %s failed: %v", pw.name, err)
	}
	if pw.onResult != nil && ctx.Err() == nil {
		pw.onResult(ctx, pw.name, err)
	}
}

// WorkerGroup manages multiple workers with graceful shutdown
type WorkerGroup struct {
	workers  []*PeriodicWorker
	onResult ResultFunc
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
}

// NewWorkerGroup creates new worker group. onResult, when set, is attached
// to every worker added afterwards.
func NewWorkerGroup(ctx context.Context, onResult ResultFunc) *WorkerGroup {
	ctx, cancel := context.WithCancel(ctx)
	return &WorkerGroup{
		workers:  make([]*PeriodicWorker, 0),
		onResult: onResult,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Add adds worker to group
func (wg *WorkerGroup) Add(worker Worker, interval time.Duration) {
	wg.mu.Lock()
	defer wg.mu.Unlock()

	wg.workers = append(wg.workers, NewPeriodicWorker(worker, interval, wg.onResult))
}

// Start starts all workers
func (wg *WorkerGroup) Start() {
	wg.mu.Lock()
	defer wg.mu.Unlock()

	for _, worker := range wg.workers {
		worker.Start(wg.ctx)
	}
	logger.Info("Worker group started with %d worker(s)", len(wg.workers))
}

// Stop cancels all workers and waits for each up to timeout.
func (wg *WorkerGroup) Stop(timeout time.Duration) {
	logger.Info("Stopping worker group (%d worker(s))...", len(wg.workers))
	wg.cancel()

	wg.mu.Lock()
	defer wg.mu.Unlock()

	for _, worker := range wg.workers {
		worker.Stop(timeout)
	}
	logger.Info("Worker group stopped")
}

// Alerter delivers failure and recovery notices.
type Alerter interface {
	SendError(ctx context.Context, job string, err error) error
	SendRecovery(ctx context.Context, job string, failureCount int) error
}

// FailureTracker counts consecutive failures per worker. It alerts on the
// first failure of a streak and again when the worker recovers.
type FailureTracker struct {
	alerter Alerter
	mu      sync.Mutex
	streaks map[string]int
}

// NewFailureTracker creates a tracker. A nil alerter only logs.
func NewFailureTracker(alerter Alerter) *FailureTracker {
	return &FailureTracker{alerter: alerter, streaks: map[string]int{}}
}

// Observe records one run result. It matches ResultFunc.
func (t *FailureTracker) Observe(ctx context.Context, name string, err error) {
	t.mu.Lock()
	prev := t.streaks[name]
	if err != nil {
		t.streaks[name] = prev + 1
	} else {
		t.streaks[name] = 0
	}
	t.mu.Unlock()

	if t.alerter == nil {
		return
	}
	if err != nil && prev == 0 {
		if sendErr := t.alerter.SendError(ctx, name, err); sendErr != nil {
			logger.Warn("Failed to send error notification: %v", sendErr)
		}
	}
	if err == nil && prev > 0 {
		if sendErr := t.alerter.SendRecovery(ctx, name, prev); sendErr != nil {
			logger.Warn("Failed to send recovery notification: %v", sendErr)
		}
	}
}

// Failures returns the current consecutive failure count for name.
func (t *FailureTracker) Failures(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streaks[name]
}
