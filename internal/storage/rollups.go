package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/oraclesentinel/oracle-sentinel/internal/models"
)

// UpsertDailyRollups writes the recomputed daily rollups, replacing rows with
// the same date. Rows carry no write timestamp, so rewriting unchanged input
// leaves the table byte-identical.
func (s *Storage) UpsertDailyRollups(ctx context.Context, rows []models.DailyRollup) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range rows {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO accuracy_daily
				(date, total_signals, buy_yes, buy_no, resolved, correct, accuracy_pct, total_pnl, avg_edge)
			VALUES (:date, :total_signals, :buy_yes, :buy_no, :resolved, :correct, :accuracy_pct, :total_pnl, :avg_edge)
			ON CONFLICT(date) DO UPDATE SET
				total_signals = excluded.total_signals,
				buy_yes       = excluded.buy_yes,
				buy_no        = excluded.buy_no,
				resolved      = excluded.resolved,
				correct       = excluded.correct,
				accuracy_pct  = excluded.accuracy_pct,
				total_pnl     = excluded.total_pnl,
				avg_edge      = excluded.avg_edge`, r); err != nil {
			return fmt.Errorf("failed to upsert daily rollup %s: %w", r.Date, err)
		}
	}
	return tx.Commit()
}

// DailyRollups returns all daily rollups ordered by date.
func (s *Storage) DailyRollups(ctx context.Context) ([]models.DailyRollup, error) {
	rows := []models.DailyRollup{}
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT date, total_signals, buy_yes, buy_no, resolved, correct, accuracy_pct, total_pnl, avg_edge
		FROM accuracy_daily ORDER BY date`); err != nil {
		return nil, fmt.Errorf("failed to query daily rollups: %w", err)
	}
	return rows, nil
}

// UpsertCategoryRollups writes the recomputed category rollups.
func (s *Storage) UpsertCategoryRollups(ctx context.Context, rows []models.CategoryRollup) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range rows {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO accuracy_category
				(category, total, resolved, correct, wrong, accuracy_pct, total_pnl, avg_edge, avg_prob_correct, avg_prob_wrong)
			VALUES (:category, :total, :resolved, :correct, :wrong, :accuracy_pct, :total_pnl, :avg_edge, :avg_prob_correct, :avg_prob_wrong)
			ON CONFLICT(category) DO UPDATE SET
				total            = excluded.total,
				resolved         = excluded.resolved,
				correct          = excluded.correct,
				wrong            = excluded.wrong,
				accuracy_pct     = excluded.accuracy_pct,
				total_pnl        = excluded.total_pnl,
				avg_edge         = excluded.avg_edge,
				avg_prob_correct = excluded.avg_prob_correct,
				avg_prob_wrong   = excluded.avg_prob_wrong`, r); err != nil {
			return fmt.Errorf("failed to upsert category rollup %s: %w", r.Category, err)
		}
	}
	return tx.Commit()
}

// CategoryRollups returns all category rollups ordered by category.
func (s *Storage) CategoryRollups(ctx context.Context) ([]models.CategoryRollup, error) {
	rows := []models.CategoryRollup{}
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT category, total, resolved, correct, wrong, accuracy_pct, total_pnl, avg_edge, avg_prob_correct, avg_prob_wrong
		FROM accuracy_category ORDER BY category`); err != nil {
		return nil, fmt.Errorf("failed to query category rollups: %w", err)
	}
	return rows, nil
}

// UpsertAgentMetrics writes the daily agent summary row.
func (s *Storage) UpsertAgentMetrics(ctx context.Context, m models.AgentMetrics) error {
	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO agent_metrics
			(date, total_predictions, resolved, correct, accuracy_pct, avg_edge, brier_score, trend, best_category, worst_category)
		VALUES (:date, :total_predictions, :resolved, :correct, :accuracy_pct, :avg_edge, :brier_score, :trend, :best_category, :worst_category)
		ON CONFLICT(date) DO UPDATE SET
			total_predictions = excluded.total_predictions,
			resolved          = excluded.resolved,
			correct           = excluded.correct,
			accuracy_pct      = excluded.accuracy_pct,
			avg_edge          = excluded.avg_edge,
			brier_score       = excluded.brier_score,
			trend             = excluded.trend,
			best_category     = excluded.best_category,
			worst_category    = excluded.worst_category`, m); err != nil {
		return fmt.Errorf("failed to upsert agent metrics: %w", err)
	}
	return nil
}

// LatestAgentMetrics returns the most recent summary row.
func (s *Storage) LatestAgentMetrics(ctx context.Context) (*models.AgentMetrics, error) {
	var m models.AgentMetrics
	err := s.db.GetContext(ctx, &m, `
		SELECT date, total_predictions, resolved, correct, accuracy_pct, avg_edge, brier_score, trend, best_category, worst_category
		FROM agent_metrics ORDER BY date DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent metrics: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent metrics: %w", err)
	}
	return &m, nil
}
