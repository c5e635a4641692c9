package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oraclesentinel/oracle-sentinel/internal/agentconfig"
	"github.com/oraclesentinel/oracle-sentinel/internal/ledger"
	"github.com/oraclesentinel/oracle-sentinel/internal/logger"
	"github.com/oraclesentinel/oracle-sentinel/internal/models"
	"github.com/oraclesentinel/oracle-sentinel/internal/telegram"
)

// MarketLister returns candidate markets for scanning.
type MarketLister interface {
	FetchMarkets(ctx context.Context, limit int) ([]models.Market, error)
}

// Classifier assigns a category label.
type Classifier interface {
	Categorize(question, description string) string
}

// EvidenceSource counts the independent sources available for a market.
type EvidenceSource interface {
	CountSources(ctx context.Context, m models.Market) (int, error)
}

// ConfigSource hands out the latest persisted configuration.
type ConfigSource interface {
	Reload() agentconfig.Snapshot
}

// ScanConfig tunes the scan job.
type ScanConfig struct {
	MarketLimit    int
	MinTimeToClose time.Duration
	MaxSignals     int
}

// Scan evaluates top markets and records a prediction for every BUY decision.
type Scan struct {
	markets    MarketLister
	classifier Classifier
	evaluator  ledger.Evaluator
	ledger     *ledger.Ledger
	configs    ConfigSource
	evidence   EvidenceSource
	notifier   Notifier
	cfg        ScanConfig
	now        func() time.Time
}

// NewScan creates the scan job. classifier, evidence and notifier may be nil.
func NewScan(markets MarketLister, classifier Classifier, evaluator ledger.Evaluator, l *ledger.Ledger,
	configs ConfigSource, evidence EvidenceSource, notifier Notifier, cfg ScanConfig) *Scan {
	if cfg.MarketLimit <= 0 {
		cfg.MarketLimit = 20
	}
	return &Scan{
		markets:    markets,
		classifier: classifier,
		evaluator:  evaluator,
		ledger:     l,
		configs:    configs,
		evidence:   evidence,
		notifier:   notifier,
		cfg:        cfg,
		now:        time.Now,
	}
}

func (s *Scan) Name() string { return "scan" }

func (s *Scan) Run(ctx context.Context) error {
	_, _, err := s.Execute(ctx)
	return err
}

// Execute runs one scan. Processed counts markets that reached the Decision
// Engine; the returned predictions are the signals recorded in this run.
func (s *Scan) Execute(ctx context.Context) (models.JobResult, []models.Prediction, error) {
	result := models.JobResult{Job: s.Name()}
	markets, err := s.markets.FetchMarkets(ctx, s.cfg.MarketLimit)
	if err != nil {
		return result, nil, fmt.Errorf("failed to fetch markets: %w", err)
	}
	logger.Info("Scanning %d markets", len(markets))

	minSources := 0
	if s.evidence != nil && s.configs != nil {
		minSources = s.configs.Reload().MinNewsSources
	}

	var signals []models.Prediction
	for _, m := range markets {
		if err := ctx.Err(); err != nil {
			return result, signals, err
		}
		if s.cfg.MaxSignals > 0 && len(signals) >= s.cfg.MaxSignals {
			logger.Info("Signal cap of %d reached, stopping scan", s.cfg.MaxSignals)
			break
		}
		if reason := s.ineligible(m); reason != "" {
			logger.Debug("Skipping market %s: %s", m.Ref, reason)
			result.Skipped++
			continue
		}
		active, err := s.ledger.HasActive(ctx, m.Ref)
		if err != nil {
			logger.Error("Failed to check ledger for market %s: %v", m.Ref, err)
			result.Failed++
			continue
		}
		if active {
			result.Skipped++
			continue
		}
		if s.evidence != nil {
			n, err := s.evidence.CountSources(ctx, m)
			if err != nil {
				logger.Warn("Evidence lookup failed for market %s: %v", m.Ref, err)
				skipOrFail(&result, err)
				continue
			}
			if n < minSources {
				logger.Debug("Skipping market %s: %d sources, need %d", m.Ref, n, minSources)
				result.Skipped++
				continue
			}
		}

		category := ""
		if s.classifier != nil {
			category = s.classifier.Categorize(m.Question, m.Description)
		}
		ev, err := s.evaluator.Evaluate(ctx, m, category)
		if err != nil {
			logger.Warn("Evaluation failed for market %s: %v", m.Ref, err)
			skipOrFail(&result, err)
			continue
		}
		result.Processed++
		if !ev.Decision.Recommendation.IsDirectional() {
			logger.Debug("Market %s: %s (%s)", m.Ref, ev.Decision.Recommendation, ev.Decision.Rule)
			continue
		}

		p, err := s.ledger.Create(ctx, ev)
		if errors.Is(err, models.ErrDuplicateSignal) {
			logger.Info("Market %s already has an active prediction", m.Ref)
			continue
		}
		if err != nil {
			logger.Error("Failed to record prediction for market %s: %v", m.Ref, err)
			result.Failed++
			continue
		}
		signals = append(signals, *p)
		notify(ctx, s.notifier, telegram.FormatSignal(*p, m.EventURL))
	}
	logger.Info("Scan finished: %s, %d new signal(s)", result, len(signals))
	return result, signals, nil
}

func (s *Scan) ineligible(m models.Market) string {
	if m.Closed || !m.Active {
		return "market not open"
	}
	now := s.now()
	if m.EndDate.IsZero() {
		return ""
	}
	if !m.EndDate.After(now) {
		return "end date passed"
	}
	if m.EndDate.Sub(now) < s.cfg.MinTimeToClose {
		return "closes too soon"
	}
	return ""
}
