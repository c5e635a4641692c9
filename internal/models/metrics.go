package models

import "time"

// DailyRollup aggregates predictions by creation date (UTC, YYYY-MM-DD).
type DailyRollup struct {
	Date        string   `db:"date"`
	Total       int      `db:"total_signals"`
	BuyYes      int      `db:"buy_yes"`
	BuyNo       int      `db:"buy_no"`
	Resolved    int      `db:"resolved"`
	Correct     int      `db:"correct"`
	AccuracyPct *float64 `db:"accuracy_pct"`
	TotalPnL    float64  `db:"total_pnl"`
	AvgEdge     float64  `db:"avg_edge"`
}

// CategoryRollup aggregates predictions by category.
type CategoryRollup struct {
	Category       string   `db:"category"`
	Total          int      `db:"total"`
	Resolved       int      `db:"resolved"`
	Correct        int      `db:"correct"`
	Wrong          int      `db:"wrong"`
	AccuracyPct    *float64 `db:"accuracy_pct"`
	TotalPnL       float64  `db:"total_pnl"`
	AvgEdge        float64  `db:"avg_edge"`
	AvgProbCorrect *float64 `db:"avg_prob_correct"`
	AvgProbWrong   *float64 `db:"avg_prob_wrong"`
}

// ConfidenceRollup aggregates resolved predictions by confidence label.
type ConfidenceRollup struct {
	Confidence  Confidence
	Total       int
	Resolved    int
	Correct     int
	AccuracyPct *float64
}

// OverallMetrics summarises the whole ledger.
type OverallMetrics struct {
	Total       int
	Resolved    int
	Pending     int
	Correct     int
	Wrong       int
	AccuracyPct float64
	AvgEdge     float64
	TotalPnL    float64
	BrierScore  *float64
}

type TrendLabel string

const (
	TrendImproving    TrendLabel = "improving"
	TrendDeclining    TrendLabel = "declining"
	TrendStable       TrendLabel = "stable"
	TrendInsufficient TrendLabel = "insufficient_data"
)

// DailyAccuracy is one data point of a trend series.
type DailyAccuracy struct {
	Date     string
	Resolved int
	Correct  int
	Accuracy float64
}

// Trend compares mean daily accuracy between two halves of a window.
type Trend struct {
	Label      TrendLabel
	Days       int
	Points     []DailyAccuracy
	FirstHalf  float64
	SecondHalf float64
}

type WeaknessType string

const (
	WeaknessLowAccuracyCategory WeaknessType = "low_accuracy_category"
	WeaknessOverconfidence      WeaknessType = "overconfidence"
	WeaknessOverallLowAccuracy  WeaknessType = "overall_low_accuracy"
)

// Weakness is a detected performance problem.
type Weakness struct {
	Type       WeaknessType
	Category   string
	Severity   Severity
	Value      float64
	VsOverall  float64
	SampleSize int
}

// AgentMetrics is the persisted one-row-per-day summary of the whole agent.
type AgentMetrics struct {
	Date          string   `db:"date"`
	Total         int      `db:"total_predictions"`
	Resolved      int      `db:"resolved"`
	Correct       int      `db:"correct"`
	AccuracyPct   float64  `db:"accuracy_pct"`
	AvgEdge       float64  `db:"avg_edge"`
	BrierScore    *float64 `db:"brier_score"`
	Trend         string   `db:"trend"`
	BestCategory  *string  `db:"best_category"`
	WorstCategory *string  `db:"worst_category"`
}

// Error types assigned by the post-mortem analyzer.
const (
	ErrorOverconfidence     = "overconfidence"
	ErrorUnderconfidence    = "underconfidence"
	ErrorWrongData          = "wrong_data"
	ErrorMisinterpretation  = "misinterpretation"
	ErrorTiming             = "timing"
	ErrorMarketManipulation = "market_manipulation"
	ErrorBlackSwan          = "black_swan"
	ErrorInsufficientData   = "insufficient_data"
	ErrorUnknown            = "unknown"
)

// ErrorAnalysis explains why one resolved prediction was wrong.
type ErrorAnalysis struct {
	PredictionID    int64
	Category        string
	ErrorType       string
	Magnitude       float64
	WhatWeMissed    []string
	RootCause       string
	Lesson          string
	CategoryInsight string
	AnalyzedAt      time.Time
}

// ErrorPatterns is the aggregated error feed consumed by diagnosis.
// Lessons are ordered newest first.
type ErrorPatterns struct {
	Total        int
	ByType       map[string]int
	ByCategory   map[string]int
	Lessons      []string
	AvgMagnitude float64
}
