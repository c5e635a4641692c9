// Package improvement applies diagnosis proposals to the agent configuration
// and drives the full self-improvement cycle.
package improvement

import (
	"context"
	"fmt"
	"time"

	"github.com/oraclesentinel/oracle-sentinel/internal/agentconfig"
	"github.com/oraclesentinel/oracle-sentinel/internal/diagnosis"
	"github.com/oraclesentinel/oracle-sentinel/internal/lock"
	"github.com/oraclesentinel/oracle-sentinel/internal/logger"
	"github.com/oraclesentinel/oracle-sentinel/internal/models"
	"github.com/oraclesentinel/oracle-sentinel/internal/storage"
)

// ApplyProposal mutates cfg according to p. Missing parameters fall back to
// the diagnosis targets. Unknown fix types fail with models.ErrApplyFailure.
func ApplyProposal(cfg *agentconfig.Snapshot, p models.Proposal) error {
	fp := p.FixParams
	switch p.FixType {
	case models.FixThreshold:
		v := fp.ProposedValue
		if v <= 0 {
			v = diagnosis.TargetThreshold
		}
		cfg.MinEdgeThreshold = v

	case models.FixCategoryConfidence:
		cat := fp.Category
		if cat == "" {
			cat = p.CategoryAffected
		}
		if cat == "" || cat == models.CategoryAll {
			return fmt.Errorf("%w: category confidence fix without a category", models.ErrApplyFailure)
		}
		m := fp.ConfidenceMultiplier
		if m <= 0 {
			m = diagnosis.TargetCategoryMultiplier
		}
		if cfg.ConfidenceMultipliers == nil {
			cfg.ConfidenceMultipliers = map[string]float64{}
		}
		cfg.ConfidenceMultipliers[cat] = m

	case models.FixDampening:
		d := fp.DampeningFactor
		if d <= 0 {
			d = diagnosis.TargetDampening
		}
		cfg.ProbabilityDampening = d

	case models.FixDataRequirement:
		n := fp.MinNewsSources
		if n <= 0 {
			n = diagnosis.TargetMinNewsSources
		}
		cfg.MinNewsSources = n

	case models.FixPromptEnhancement:
		if len(fp.Lessons) == 0 {
			return fmt.Errorf("%w: prompt enhancement without lessons", models.ErrApplyFailure)
		}
		cfg.AppendLessons(fp.Lessons)

	default:
		return fmt.Errorf("%w: unknown fix type %q", models.ErrApplyFailure, p.FixType)
	}
	return nil
}

// ApplyResult reports one applier run.
type ApplyResult struct {
	models.JobResult
	Outcomes  []models.ProposalOutcome
	Config    agentconfig.Snapshot
	Committed bool
}

// Applier is the Improvement Applier.
type Applier struct {
	store   *storage.Storage
	configs *agentconfig.Store
	now     func() time.Time
}

func NewApplier(store *storage.Storage, configs *agentconfig.Store) *Applier {
	return &Applier{store: store, configs: configs, now: time.Now}
}

// LockPath is the file lock serialising Apply runs for this config document.
func (a *Applier) LockPath() string {
	return a.configs.Path() + ".apply.lock"
}

// Apply processes every pending proposal in creation order against one copy
// of the configuration. Each proposal is validated on its own, so a bad one
// is marked failed without blocking the rest. The configuration is committed
// once, with a backup and a version bump, when at least one proposal applied.
//
// Selecting, applying and marking happen under one exclusive lock, so
// overlapping runs in any process never apply the same proposal twice.
func (a *Applier) Apply(ctx context.Context) (ApplyResult, error) {
	res := ApplyResult{JobResult: models.JobResult{Job: "apply"}}

	fl := lock.New(a.LockPath())
	if err := fl.Lock(ctx, 0); err != nil {
		return res, fmt.Errorf("failed to acquire apply lock: %w", err)
	}
	defer fl.Unlock() //nolint:errcheck

	pending, err := a.store.PendingProposals(ctx)
	if err != nil {
		return res, err
	}
	if len(pending) == 0 {
		res.Config = a.configs.Reload()
		return res, nil
	}

	var outcomes []models.ProposalOutcome
	applied := 0
	cfg, committed, err := a.configs.Update(ctx, func(cfg *agentconfig.Snapshot) (bool, error) {
		outcomes = outcomes[:0]
		applied = 0
		for _, p := range pending {
			trial := cfg.Clone()
			err := ApplyProposal(&trial, p)
			if err == nil {
				if verr := trial.Validate(); verr != nil {
					err = fmt.Errorf("%w: %v", models.ErrApplyFailure, verr)
				}
			}
			if err != nil {
				logger.Warn("Proposal %s (%s) failed: %v", p.ID, p.FixType, err)
				outcomes = append(outcomes, models.ProposalOutcome{ID: p.ID, Status: models.ProposalFailed, Reason: err.Error()})
				continue
			}
			*cfg = trial
			applied++
			logger.Info("Applied proposal %s: %s", p.ID, p.ProposedFix)
			outcomes = append(outcomes, models.ProposalOutcome{ID: p.ID, Status: models.ProposalApplied})
		}
		return applied > 0, nil
	})
	if err != nil {
		return res, fmt.Errorf("failed to update agent config: %w", err)
	}

	res.Config = cfg
	res.Committed = committed
	res.Outcomes = outcomes
	res.Processed = applied
	res.Failed = len(outcomes) - applied

	marked, err := a.store.MarkProposals(ctx, outcomes, a.now().UTC())
	if err != nil {
		return res, fmt.Errorf("failed to record proposal outcomes: %w", err)
	}
	if marked < len(outcomes) {
		res.Skipped = len(outcomes) - marked
		logger.Warn("%d proposal(s) were already processed by another run", res.Skipped)
	}
	return res, nil
}
