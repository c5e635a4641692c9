package accuracy

import (
	"context"
	"fmt"
	"time"

	"github.com/oraclesentinel/oracle-sentinel/internal/logger"
	"github.com/oraclesentinel/oracle-sentinel/internal/storage"
)

// Classifier assigns a category label to free text.
type Classifier interface {
	Categorize(question, description string) string
}

// Aggregator recomputes and persists rollups from the ledger.
type Aggregator struct {
	store      *storage.Storage
	classifier Classifier
	trendDays  int
}

// NewAggregator creates an Aggregator. classifier may be nil, in which case
// uncategorised predictions are reported under UncategorizedLabel.
func NewAggregator(store *storage.Storage, classifier Classifier, trendDays int) *Aggregator {
	if trendDays <= 0 {
		trendDays = TrendDays
	}
	return &Aggregator{store: store, classifier: classifier, trendDays: trendDays}
}

// BackfillCategories classifies every prediction without a category and
// returns the number updated.
func (a *Aggregator) BackfillCategories(ctx context.Context) (int, error) {
	if a.classifier == nil {
		return 0, nil
	}
	preds, err := a.store.UncategorizedPredictions(ctx)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, p := range preds {
		cat := a.classifier.Categorize(p.Question, "")
		if err := a.store.SetCategory(ctx, p.ID, cat); err != nil {
			return updated, err
		}
		updated++
	}
	if updated > 0 {
		logger.Info("Backfilled categories for %d prediction(s)", updated)
	}
	return updated, nil
}

// Summarize computes the summary without writing rollups.
func (a *Aggregator) Summarize(ctx context.Context, now time.Time) (Summary, error) {
	preds, err := a.store.AllPredictions(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Build(preds, now, a.trendDays), nil
}

// Refresh backfills categories, recomputes every rollup and upserts them.
// Running it twice over an unchanged ledger leaves the stored rollups
// identical.
func (a *Aggregator) Refresh(ctx context.Context, now time.Time) (Summary, error) {
	if _, err := a.BackfillCategories(ctx); err != nil {
		return Summary{}, fmt.Errorf("failed to backfill categories: %w", err)
	}
	s, err := a.Summarize(ctx, now)
	if err != nil {
		return Summary{}, err
	}
	if err := a.store.UpsertDailyRollups(ctx, s.Daily); err != nil {
		return s, err
	}
	if err := a.store.UpsertCategoryRollups(ctx, s.Categories); err != nil {
		return s, err
	}
	if err := a.store.UpsertAgentMetrics(ctx, s.AgentMetrics()); err != nil {
		return s, err
	}
	logger.Info("Accuracy refreshed: %d total, %d resolved, %.1f%% accuracy, trend %s",
		s.Overall.Total, s.Overall.Resolved, s.Overall.AccuracyPct, s.Trend.Label)
	return s, nil
}
