package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	"github.com/oraclesentinel/oracle-sentinel/internal/models"
)

// SaveErrorAnalysis stores the analysis for a prediction. A prediction is
// analysed at most once; it reports false if an analysis already existed.
func (s *Storage) SaveErrorAnalysis(ctx context.Context, a models.ErrorAnalysis) (bool, error) {
	missed, err := json.Marshal(a.WhatWeMissed)
	if err != nil {
		return false, fmt.Errorf("failed to encode what_we_missed: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO error_analyses
			(prediction_id, category, error_type, error_magnitude, what_we_missed,
			 root_cause, lesson, category_insight, analyzed_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		a.PredictionID, a.Category, a.ErrorType, a.Magnitude, string(missed),
		a.RootCause, nullString(a.Lesson), a.CategoryInsight, a.AnalyzedAt.UnixNano())
	if err != nil {
		return false, fmt.Errorf("failed to save error analysis: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ErrorPatterns aggregates all stored analyses. Lessons are newest first and
// exclude empty or placeholder text.
func (s *Storage) ErrorPatterns(ctx context.Context) (models.ErrorPatterns, error) {
	out := models.ErrorPatterns{
		ByType:     map[string]int{},
		ByCategory: map[string]int{},
		Lessons:    []string{},
	}

	type countRow struct {
		Key   string `db:"k"`
		Count int    `db:"n"`
	}
	var byType []countRow
	if err := s.db.SelectContext(ctx, &byType,
		`SELECT error_type AS k, COUNT(*) AS n FROM error_analyses GROUP BY error_type`); err != nil {
		return out, fmt.Errorf("failed to count error types: %w", err)
	}
	for _, r := range byType {
		out.ByType[r.Key] = r.Count
		out.Total += r.Count
	}

	var byCat []countRow
	if err := s.db.SelectContext(ctx, &byCat,
		`SELECT category AS k, COUNT(*) AS n FROM error_analyses GROUP BY category`); err != nil {
		return out, fmt.Errorf("failed to count error categories: %w", err)
	}
	for _, r := range byCat {
		out.ByCategory[r.Key] = r.Count
	}

	if err := s.db.SelectContext(ctx, &out.Lessons, `
		SELECT lesson FROM error_analyses
		WHERE lesson IS NOT NULL AND TRIM(lesson) != '' AND lesson != 'N/A'
		ORDER BY analyzed_at DESC, id DESC`); err != nil {
		return out, fmt.Errorf("failed to query lessons: %w", err)
	}

	var avg sql.NullFloat64
	if err := s.db.GetContext(ctx, &avg, `SELECT AVG(error_magnitude) FROM error_analyses`); err != nil {
		return out, fmt.Errorf("failed to average error magnitude: %w", err)
	}
	out.AvgMagnitude = math.Round(avg.Float64*1000) / 1000
	return out, nil
}
