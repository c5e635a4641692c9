// Package jobs holds the scheduled batch jobs. Each job is re-entrant,
// logs per-item failures and keeps going, and reports a models.JobResult.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/oraclesentinel/oracle-sentinel/internal/lock"
	"github.com/oraclesentinel/oracle-sentinel/internal/logger"
	"github.com/oraclesentinel/oracle-sentinel/internal/models"
	"github.com/oraclesentinel/oracle-sentinel/internal/worker"
)

// Notifier is the best-effort notification sink.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

func notify(ctx context.Context, n Notifier, text string) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, text); err != nil {
		logger.Warn("Notification failed: %v", err)
	}
}

// skipOrFail counts a per-item error: missing upstream data is a skip,
// anything else a failure.
func skipOrFail(r *models.JobResult, err error) {
	if errors.Is(err, models.ErrDataUnavailable) {
		r.Skipped++
		return
	}
	r.Failed++
}

// RunExclusive runs w while holding <dir>/<name>.lock. When another process
// holds the lock, w is not run and ran is false.
func RunExclusive(ctx context.Context, w worker.Worker, dir string) (ran bool, err error) {
	fl := lock.New(filepath.Join(dir, w.Name()+".lock"))
	ok, err := fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire %s lock: %w", w.Name(), err)
	}
	if !ok {
		logger.Info("Job %s is already running elsewhere, skipping", w.Name())
		return false, nil
	}
	defer fl.Unlock() //nolint:errcheck
	return true, w.Run(ctx)
}

type lockedWorker struct {
	inner worker.Worker
	dir   string
}

// WithLock wraps w so that every run goes through RunExclusive.
func WithLock(w worker.Worker, dir string) worker.Worker {
	return &lockedWorker{inner: w, dir: dir}
}

func (l *lockedWorker) Name() string {
	return l.inner.Name()
}

func (l *lockedWorker) Run(ctx context.Context) error {
	_, err := RunExclusive(ctx, l.inner, l.dir)
	return err
}
