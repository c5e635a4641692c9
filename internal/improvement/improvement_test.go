package improvement

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/oraclesentinel/oracle-sentinel/internal/accuracy"
	"github.com/oraclesentinel/oracle-sentinel/internal/agentconfig"
	"github.com/oraclesentinel/oracle-sentinel/internal/lock"
	"github.com/oraclesentinel/oracle-sentinel/internal/models"
	"github.com/oraclesentinel/oracle-sentinel/internal/postmortem"
	"github.com/oraclesentinel/oracle-sentinel/internal/storage"
)

func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestConfigs(t *testing.T) *agentconfig.Store {
	t.Helper()
	dir := t.TempDir()
	return agentconfig.NewStore(filepath.Join(dir, "agent_config.json"), filepath.Join(dir, "backups"))
}

func TestApplyProposal(t *testing.T) {
	tests := []struct {
		name    string
		p       models.Proposal
		wantErr bool
		check   func(agentconfig.Snapshot) bool
	}{
		{
			name:  "threshold",
			p:     models.Proposal{FixType: models.FixThreshold, FixParams: models.FixParams{ProposedValue: 10}},
			check: func(c agentconfig.Snapshot) bool { return c.MinEdgeThreshold == 10 },
		},
		{
			name:  "threshold default",
			p:     models.Proposal{FixType: models.FixThreshold},
			check: func(c agentconfig.Snapshot) bool { return c.MinEdgeThreshold == 5 },
		},
		{
			name:  "category from proposal",
			p:     models.Proposal{FixType: models.FixCategoryConfidence, CategoryAffected: "sports"},
			check: func(c agentconfig.Snapshot) bool { return c.ConfidenceMultipliers["sports"] == 0.8 },
		},
		{
			name:    "category missing",
			p:       models.Proposal{FixType: models.FixCategoryConfidence, CategoryAffected: models.CategoryAll},
			wantErr: true,
		},
		{
			name:  "dampening",
			p:     models.Proposal{FixType: models.FixDampening},
			check: func(c agentconfig.Snapshot) bool { return c.ProbabilityDampening == 0.1 },
		},
		{
			name:  "data requirement",
			p:     models.Proposal{FixType: models.FixDataRequirement, FixParams: models.FixParams{MinNewsSources: 7}},
			check: func(c agentconfig.Snapshot) bool { return c.MinNewsSources == 7 },
		},
		{
			name:  "lessons",
			p:     models.Proposal{FixType: models.FixPromptEnhancement, FixParams: models.FixParams{Lessons: []string{"a", "a", "b"}}},
			check: func(c agentconfig.Snapshot) bool { return len(c.LessonsLearned) == 2 },
		},
		{
			name:    "lessons empty",
			p:       models.Proposal{FixType: models.FixPromptEnhancement},
			wantErr: true,
		},
		{
			name:    "unknown",
			p:       models.Proposal{FixType: "rewrite_everything"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := agentconfig.Defaults()
			err := ApplyProposal(&cfg, tt.p)
			if tt.wantErr {
				if !errors.Is(err, models.ErrApplyFailure) {
					t.Fatalf("expected ErrApplyFailure, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyProposal: %v", err)
			}
			if !tt.check(cfg) {
				t.Errorf("unexpected config: %+v", cfg)
			}
		})
	}
}

func TestApplier_Apply(t *testing.T) {
	s := newTestStorage(t)
	configs := newTestConfigs(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	proposals := []models.Proposal{
		{DiagnosisType: "low_overall_accuracy", FixType: models.FixThreshold, FixParams: models.FixParams{ProposedValue: 5}, CreatedAt: base},
		{DiagnosisType: "mystery", FixType: "rewrite_everything", CreatedAt: base.Add(time.Second)},
		{DiagnosisType: "lessons_from_errors", FixType: models.FixPromptEnhancement, FixParams: models.FixParams{Lessons: []string{"Check injuries"}}, CreatedAt: base.Add(2 * time.Second)},
	}
	if err := s.InsertProposals(ctx, proposals); err != nil {
		t.Fatalf("InsertProposals: %v", err)
	}

	a := NewApplier(s, configs)
	res, err := a.Apply(ctx)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Committed || res.Processed != 2 || res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Config.Version != 1 || res.Config.MinEdgeThreshold != 5 || !res.Config.HasLesson("Check injuries") {
		t.Errorf("unexpected config: %+v", res.Config)
	}
	if res.Outcomes[1].Status != models.ProposalFailed || res.Outcomes[1].Reason == "" {
		t.Errorf("unknown fix type should fail with a reason: %+v", res.Outcomes[1])
	}

	recent, err := s.RecentProposals(ctx, 10)
	if err != nil {
		t.Fatalf("RecentProposals: %v", err)
	}
	statuses := map[models.ProposalStatus]int{}
	for _, p := range recent {
		statuses[p.Status]++
	}
	if statuses[models.ProposalApplied] != 2 || statuses[models.ProposalFailed] != 1 {
		t.Errorf("unexpected statuses: %v", statuses)
	}

	res, err = a.Apply(ctx)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if res.Committed || res.Config.Version != 1 {
		t.Errorf("re-run without pending proposals must be a no-op: %+v", res)
	}
	backups, _ := configs.Backups()
	if len(backups) != 1 {
		t.Errorf("expected 1 backup, got %d", len(backups))
	}
}

func TestApplier_VersionPerCommittedRun(t *testing.T) {
	s := newTestStorage(t)
	configs := newTestConfigs(t)
	ctx := context.Background()
	a := NewApplier(s, configs)

	const runs = 3
	for i := 0; i < runs; i++ {
		p := models.Proposal{
			DiagnosisType: "lessons_from_errors",
			FixType:       models.FixPromptEnhancement,
			FixParams:     models.FixParams{Lessons: []string{fmt.Sprintf("Lesson %d", i)}},
		}
		if err := s.InsertProposals(ctx, []models.Proposal{p}); err != nil {
			t.Fatalf("InsertProposals: %v", err)
		}
		if _, err := a.Apply(ctx); err != nil {
			t.Fatalf("Apply run %d: %v", i, err)
		}
	}

	cfg := configs.Reload()
	if cfg.Version != runs || len(cfg.LessonsLearned) != runs {
		t.Errorf("expected version %d with %d lessons, got %+v", runs, runs, cfg)
	}
	backups, err := configs.Backups()
	if err != nil {
		t.Fatalf("Backups: %v", err)
	}
	if len(backups) != runs {
		t.Errorf("expected %d backups, got %d", runs, len(backups))
	}
}

func TestApplier_ConcurrentRunsApplyOnce(t *testing.T) {
	s := newTestStorage(t)
	configs := newTestConfigs(t)
	ctx := context.Background()

	p := models.Proposal{DiagnosisType: "low_overall_accuracy", FixType: models.FixThreshold, FixParams: models.FixParams{ProposedValue: 7}}
	if err := s.InsertProposals(ctx, []models.Proposal{p}); err != nil {
		t.Fatalf("InsertProposals: %v", err)
	}

	// Hold the apply lock so both runs start waiting at the same point.
	a := NewApplier(s, configs)
	holder := lock.New(a.LockPath())
	if ok, err := holder.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock: ok=%v err=%v", ok, err)
	}

	var wg sync.WaitGroup
	results := make([]ApplyResult, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = NewApplier(s, configs).Apply(ctx)
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	if err := holder.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	wg.Wait()

	committed, processed := 0, 0
	for i, res := range results {
		if errs[i] != nil {
			t.Fatalf("Apply %d: %v", i, errs[i])
		}
		if res.Committed {
			committed++
		}
		processed += res.Processed
	}
	if committed != 1 || processed != 1 {
		t.Errorf("expected exactly one run to apply the proposal, got committed=%d processed=%d", committed, processed)
	}
	if cfg := configs.Reload(); cfg.Version != 1 || cfg.MinEdgeThreshold != 7 {
		t.Errorf("expected version 1 with threshold 7, got %+v", cfg)
	}
	backups, err := configs.Backups()
	if err != nil {
		t.Fatalf("Backups: %v", err)
	}
	if len(backups) != 1 {
		t.Errorf("expected 1 backup, got %d", len(backups))
	}
}

func seedWrong(t *testing.T, s *storage.Storage, category string, n int) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		p := &models.Prediction{
			MarketRef: fmt.Sprintf("%s-%d", category, i), Question: "Will it happen?", Signal: models.BuyYes,
			AIProbability: 0.8, MarketPrice: 0.5, Edge: 30, Confidence: models.ConfidenceHigh,
			Category: category, CreatedAt: now,
		}
		if err := s.CreatePrediction(ctx, p); err != nil {
			t.Fatalf("CreatePrediction: %v", err)
		}
		if _, err := s.ResolvePrediction(ctx, p.ID, models.ResolutionNo, -100, false, now); err != nil {
			t.Fatalf("ResolvePrediction: %v", err)
		}
	}
}

func TestCycle_RunConverges(t *testing.T) {
	s := newTestStorage(t)
	configs := newTestConfigs(t)
	seedWrong(t, s, "sports", 5)
	ctx := context.Background()

	c := NewCycle(s, postmortem.NewAnalyzer(s, nil, 0), accuracy.NewAggregator(s, nil, 0), configs)

	rep, err := c.Run(ctx, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.Proposals) != 2 {
		t.Fatalf("expected threshold and category proposals, got %d", len(rep.Proposals))
	}
	cfg := rep.Apply.Config
	if cfg.Version != 1 || cfg.MinEdgeThreshold != 5 || cfg.ConfidenceMultipliers["sports"] != 0.8 {
		t.Errorf("unexpected config after cycle: %+v", cfg)
	}

	rep, err = c.Run(ctx, true)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(rep.Proposals) != 0 || rep.Apply.Committed || rep.Apply.Config.Version != 1 {
		t.Errorf("converged config should yield no new proposals: %+v", rep.Apply)
	}
}

func TestCycle_DiagnoseOnly(t *testing.T) {
	s := newTestStorage(t)
	configs := newTestConfigs(t)
	seedWrong(t, s, "crypto", 5)
	ctx := context.Background()

	c := NewCycle(s, postmortem.NewAnalyzer(s, nil, 0), accuracy.NewAggregator(s, nil, 0), configs)
	rep, err := c.Run(ctx, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Applied || len(rep.Proposals) == 0 {
		t.Errorf("expected proposals without applying: %+v", rep)
	}
	pending, _ := s.PendingProposals(ctx)
	if len(pending) != len(rep.Proposals) {
		t.Errorf("expected %d pending, got %d", len(rep.Proposals), len(pending))
	}
	if configs.Reload().Version != 0 {
		t.Error("config must not change without apply")
	}
}
