package main

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/oraclesentinel/oracle-sentinel/internal/accuracy"
	"github.com/oraclesentinel/oracle-sentinel/internal/agentconfig"
	"github.com/oraclesentinel/oracle-sentinel/internal/categorizer"
	"github.com/oraclesentinel/oracle-sentinel/internal/config"
	"github.com/oraclesentinel/oracle-sentinel/internal/decision"
	"github.com/oraclesentinel/oracle-sentinel/internal/estimator"
	"github.com/oraclesentinel/oracle-sentinel/internal/improvement"
	"github.com/oraclesentinel/oracle-sentinel/internal/jobs"
	"github.com/oraclesentinel/oracle-sentinel/internal/ledger"
	"github.com/oraclesentinel/oracle-sentinel/internal/logger"
	"github.com/oraclesentinel/oracle-sentinel/internal/polymarket"
	"github.com/oraclesentinel/oracle-sentinel/internal/postmortem"
	"github.com/oraclesentinel/oracle-sentinel/internal/report"
	"github.com/oraclesentinel/oracle-sentinel/internal/storage"
	"github.com/oraclesentinel/oracle-sentinel/internal/telegram"
	"github.com/oraclesentinel/oracle-sentinel/internal/worker"
)

// app holds every wired component for one invocation.
type app struct {
	cfg        *config.Config
	store      *storage.Storage
	configs    *agentconfig.Store
	markets    *polymarket.Client
	classifier *categorizer.Categorizer
	evaluator  *decision.Evaluator
	ledger     *ledger.Ledger
	aggregator *accuracy.Aggregator
	cycle      *improvement.Cycle
	evidence   jobs.EvidenceSource // nil: no news provider, min_news_sources not enforced

	telegram *telegram.Client
	notifier jobs.Notifier // nil when telegram is disabled
	alerter  worker.Alerter
}

func newApp(cfg *config.Config) (*app, error) {
	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	configs := agentconfig.NewStore(cfg.Agent.ConfigPath, cfg.Agent.BackupDir)
	if snap, err := configs.Load(); err != nil {
		logger.Warn("Agent config unavailable, running on defaults: %v", err)
	} else {
		logger.Debug("Agent config v%d loaded from %s", snap.Version, configs.Path())
		if snap.MinNewsSources > 0 {
			logger.Warn("min_news_sources=%d is inactive: no evidence source is configured", snap.MinNewsSources)
		}
	}

	markets := polymarket.NewClient(polymarket.Config{
		GammaAPIURL:       cfg.Polymarket.GammaAPIURL,
		Timeout:           cfg.Polymarket.Timeout,
		RequestsPerSecond: cfg.Polymarket.RequestsPerSecond,
		MaxRetryTime:      cfg.Polymarket.MaxRetryTime,
	})

	llm := estimator.NewClient(estimator.Config{
		APIKey:        cfg.Estimator.APIKey,
		BaseURL:       cfg.Estimator.BaseURL,
		Model:         cfg.Estimator.Model,
		AnalysisModel: cfg.Estimator.AnalysisModel,
		MaxTokens:     cfg.Estimator.MaxTokens,
		Temperature:   cfg.Estimator.Temperature,
		Timeout:       cfg.Estimator.Timeout,
	})

	classifier := categorizer.New()
	evaluator := decision.NewEvaluator(llm, configs)
	aggregator := accuracy.NewAggregator(store, classifier, cfg.Jobs.TrendDays)
	analyzer := postmortem.NewAnalyzer(store, llm, cfg.Jobs.PostmortemBatch)

	a := &app{
		cfg:        cfg,
		store:      store,
		configs:    configs,
		markets:    markets,
		classifier: classifier,
		evaluator:  evaluator,
		ledger:     ledger.New(store, markets, evaluator),
		aggregator: aggregator,
		cycle:      improvement.NewCycle(store, analyzer, aggregator, configs),
	}

	if cfg.Telegram.Enabled {
		tg, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		logger.Info("Telegram client initialized successfully")
		a.telegram = tg
		a.notifier = tg
		a.alerter = tg
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	return a, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logger.Error("Failed to close storage: %v", err)
	}
}

func (a *app) scanJob() *jobs.Scan {
	return jobs.NewScan(a.markets, a.classifier, a.evaluator, a.ledger, a.configs, a.evidence, a.notifier, jobs.ScanConfig{
		MarketLimit:    a.cfg.Polymarket.MarketLimit,
		MinTimeToClose: a.cfg.Jobs.MinTimeToClose,
		MaxSignals:     a.cfg.Jobs.MaxSignalsPerScan,
	})
}

func (a *app) snapshotJob() *jobs.Snapshot {
	return jobs.NewSnapshot(a.ledger)
}

func (a *app) resolveJob() *jobs.Resolve {
	return jobs.NewResolve(a.ledger, a.notifier)
}

func (a *app) reanalyzeJob() *jobs.Reanalyze {
	return jobs.NewReanalyze(a.ledger, a.notifier, jobs.ReanalyzeConfig{
		WindowStart: a.cfg.Jobs.ReanalyzeWindowStart,
		WindowEnd:   a.cfg.Jobs.ReanalyzeWindowEnd,
	})
}

func (a *app) improveJob(apply bool) *jobs.Improve {
	return jobs.NewImprove(a.cycle, apply, a.notifier)
}

func (a *app) counterparties() *jobs.Counterparties {
	return jobs.NewCounterparties(a.ledger, a.notifier)
}

// reportText renders the performance report from the current ledger, config
// and pending proposals. Sections whose data cannot be read fall back to
// their placeholders.
func (a *app) reportText(ctx context.Context) string {
	data := report.Data{Config: a.configs.Reload(), EvidenceChecked: a.evidence != nil}
	if summary, err := a.aggregator.Summarize(ctx, time.Now()); err != nil {
		logger.Error("Failed to summarize ledger: %v", err)
	} else {
		data.Summary = summary
	}
	if pending, err := a.store.PendingProposals(ctx); err != nil {
		logger.Error("Failed to load pending proposals: %v", err)
	} else {
		data.Proposals = pending
	}

	var buf bytes.Buffer
	if err := report.Render(&buf, data); err != nil {
		logger.Error("Failed to render report: %v", err)
	}
	return buf.String()
}
