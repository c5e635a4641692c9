package jobs

import (
	"context"
	"time"

	"github.com/oraclesentinel/oracle-sentinel/internal/ledger"
	"github.com/oraclesentinel/oracle-sentinel/internal/logger"
	"github.com/oraclesentinel/oracle-sentinel/internal/models"
	"github.com/oraclesentinel/oracle-sentinel/internal/telegram"
)

// Snapshot fills due price snapshots for every active prediction.
type Snapshot struct {
	ledger *ledger.Ledger
	now    func() time.Time
}

func NewSnapshot(l *ledger.Ledger) *Snapshot {
	return &Snapshot{ledger: l, now: time.Now}
}

func (s *Snapshot) Name() string { return "snapshot" }

func (s *Snapshot) Run(ctx context.Context) error {
	_, err := s.Execute(ctx)
	return err
}

func (s *Snapshot) Execute(ctx context.Context) (models.JobResult, error) {
	res, err := s.ledger.UpdateSnapshots(ctx, s.now().UTC())
	if err != nil {
		return res, err
	}
	logger.Info("Snapshot finished: %s", res)
	return res, nil
}

// Resolve settles predictions whose markets have closed and pushes an alert
// per resolution, plus a digest when several resolve together.
type Resolve struct {
	ledger   *ledger.Ledger
	notifier Notifier
}

func NewResolve(l *ledger.Ledger, notifier Notifier) *Resolve {
	return &Resolve{ledger: l, notifier: notifier}
}

func (r *Resolve) Name() string { return "resolve" }

func (r *Resolve) Run(ctx context.Context) error {
	_, _, err := r.Execute(ctx)
	return err
}

func (r *Resolve) Execute(ctx context.Context) (models.JobResult, []models.Prediction, error) {
	res, resolved, err := r.ledger.CheckResolutions(ctx)
	for _, p := range resolved {
		notify(ctx, r.notifier, telegram.FormatResolution(p))
	}
	if len(resolved) > 1 {
		notify(ctx, r.notifier, telegram.FormatResolutionSummary(resolved))
	}
	if err != nil {
		return res, resolved, err
	}
	logger.Info("Resolve finished: %s", res)
	return res, resolved, nil
}

// ReanalyzeConfig sets the pre-close window, measured from now.
type ReanalyzeConfig struct {
	WindowStart time.Duration
	WindowEnd   time.Duration
}

// Reanalyze re-evaluates never-revised predictions shortly before their
// market closes and revises them when the recommendation changed.
type Reanalyze struct {
	ledger   *ledger.Ledger
	notifier Notifier
	cfg      ReanalyzeConfig
	now      func() time.Time
}

func NewReanalyze(l *ledger.Ledger, notifier Notifier, cfg ReanalyzeConfig) *Reanalyze {
	if cfg.WindowStart <= 0 {
		cfg.WindowStart = 5 * time.Hour
	}
	if cfg.WindowEnd <= cfg.WindowStart {
		cfg.WindowEnd = cfg.WindowStart + time.Hour
	}
	return &Reanalyze{ledger: l, notifier: notifier, cfg: cfg, now: time.Now}
}

func (r *Reanalyze) Name() string { return "reanalyze" }

func (r *Reanalyze) Run(ctx context.Context) error {
	_, err := r.Execute(ctx)
	return err
}

func (r *Reanalyze) Execute(ctx context.Context) (models.JobResult, error) {
	result := models.JobResult{Job: r.Name()}
	now := r.now().UTC()
	preds, err := r.ledger.UnrevisedClosingBetween(ctx, now.Add(r.cfg.WindowStart), now.Add(r.cfg.WindowEnd))
	if err != nil {
		return result, err
	}
	for _, p := range preds {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		rev, err := r.ledger.Reevaluate(ctx, p, "pre-close reanalysis")
		if err != nil {
			logger.Warn("Reanalysis failed for prediction #%d: %v", p.ID, err)
			skipOrFail(&result, err)
			continue
		}
		result.Processed++
		if rev.Revised {
			notify(ctx, r.notifier, telegram.FormatRevision(p, rev.Before, rev.Decision, "pre-close reanalysis"))
		}
	}
	logger.Info("Reanalyze finished: %s", result)
	return result, nil
}
