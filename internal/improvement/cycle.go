package improvement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oraclesentinel/oracle-sentinel/internal/accuracy"
	"github.com/oraclesentinel/oracle-sentinel/internal/agentconfig"
	"github.com/oraclesentinel/oracle-sentinel/internal/diagnosis"
	"github.com/oraclesentinel/oracle-sentinel/internal/logger"
	"github.com/oraclesentinel/oracle-sentinel/internal/models"
	"github.com/oraclesentinel/oracle-sentinel/internal/postmortem"
	"github.com/oraclesentinel/oracle-sentinel/internal/storage"
)

// Report summarises one self-improvement cycle.
type Report struct {
	PostMortem models.JobResult
	Summary    accuracy.Summary
	Patterns   models.ErrorPatterns
	Proposals  []models.Proposal
	Apply      ApplyResult
	Applied    bool
}

// String renders a short multi-line digest for logs and notifications.
func (r Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Post-mortem: %s\n", r.PostMortem)
	o := r.Summary.Overall
	fmt.Fprintf(&sb, "Accuracy: %.2f%% (%d/%d resolved), PnL $%.2f\n", o.AccuracyPct, o.Correct, o.Resolved, o.TotalPnL)
	fmt.Fprintf(&sb, "Trend: %s\n", r.Summary.Trend.Label)
	fmt.Fprintf(&sb, "Proposals: %d new", len(r.Proposals))
	if r.Applied {
		fmt.Fprintf(&sb, ", %d applied, %d failed, config v%d", r.Apply.Processed, r.Apply.Failed, r.Apply.Config.Version)
	}
	return sb.String()
}

// Cycle runs post-mortem, aggregation, diagnosis and optionally the applier
// in that order.
type Cycle struct {
	store      *storage.Storage
	analyzer   *postmortem.Analyzer
	aggregator *accuracy.Aggregator
	configs    *agentconfig.Store
	applier    *Applier
	now        func() time.Time
}

func NewCycle(store *storage.Storage, analyzer *postmortem.Analyzer, aggregator *accuracy.Aggregator, configs *agentconfig.Store) *Cycle {
	return &Cycle{
		store:      store,
		analyzer:   analyzer,
		aggregator: aggregator,
		configs:    configs,
		applier:    NewApplier(store, configs),
		now:        time.Now,
	}
}

// Applier exposes the cycle's applier for standalone runs.
func (c *Cycle) Applier() *Applier {
	return c.applier
}

// Run executes the cycle. A post-mortem failure is logged and the cycle
// continues with whatever analyses exist; later stages abort on error.
func (c *Cycle) Run(ctx context.Context, apply bool) (Report, error) {
	var rep Report
	now := c.now().UTC()

	pm, err := c.analyzer.AnalyzeAll(ctx)
	rep.PostMortem = pm
	if err != nil {
		if ctx.Err() != nil {
			return rep, err
		}
		logger.Warn("Post-mortem stage failed: %v", err)
	}

	summary, err := c.aggregator.Refresh(ctx, now)
	if err != nil {
		return rep, fmt.Errorf("accuracy refresh failed: %w", err)
	}
	rep.Summary = summary

	patterns, err := c.analyzer.Patterns(ctx)
	if err != nil {
		return rep, fmt.Errorf("error pattern aggregation failed: %w", err)
	}
	rep.Patterns = patterns

	cfg := c.configs.Reload()
	rep.Proposals = diagnosis.Diagnose(summary, patterns, cfg, now)
	if len(rep.Proposals) > 0 {
		if err := c.store.InsertProposals(ctx, rep.Proposals); err != nil {
			return rep, fmt.Errorf("failed to store proposals: %w", err)
		}
		logger.Info("Diagnosis produced %d proposal(s)", len(rep.Proposals))
	}

	if !apply {
		return rep, nil
	}
	res, err := c.applier.Apply(ctx)
	rep.Apply = res
	if err != nil {
		return rep, err
	}
	rep.Applied = true
	return rep, nil
}
