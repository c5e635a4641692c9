// Package postmortem classifies wrong predictions and aggregates the
// resulting error feed.
package postmortem

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oraclesentinel/oracle-sentinel/internal/estimator"
	"github.com/oraclesentinel/oracle-sentinel/internal/logger"
	"github.com/oraclesentinel/oracle-sentinel/internal/models"
	"github.com/oraclesentinel/oracle-sentinel/internal/storage"
)

const systemPrompt = `You are an error analysis engine for a prediction market forecasting agent.
Analyze why a prediction was wrong and identify the type of error, what
information was missed or misweighted, and a specific lesson for future
predictions. Be concise and actionable. Output JSON only.`

// DefaultBatch caps the number of predictions analysed per run.
const DefaultBatch = 20

var errorTypes = map[string]bool{
	models.ErrorOverconfidence:     true,
	models.ErrorUnderconfidence:    true,
	models.ErrorWrongData:          true,
	models.ErrorMisinterpretation:  true,
	models.ErrorTiming:             true,
	models.ErrorMarketManipulation: true,
	models.ErrorBlackSwan:          true,
	models.ErrorInsufficientData:   true,
	models.ErrorUnknown:            true,
}

// Completer sends one prompt to a language model.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Analyzer produces error analyses for wrong predictions.
type Analyzer struct {
	store *storage.Storage
	llm   Completer
	batch int
	now   func() time.Time
}

// NewAnalyzer creates an Analyzer. With a nil llm, AnalyzeAll does nothing.
func NewAnalyzer(store *storage.Storage, llm Completer, batch int) *Analyzer {
	if batch <= 0 {
		batch = DefaultBatch
	}
	return &Analyzer{store: store, llm: llm, batch: batch, now: time.Now}
}

// AnalyzeAll classifies wrong predictions that have no analysis yet. A model
// failure leaves the prediction unanalysed so the next run retries it.
func (a *Analyzer) AnalyzeAll(ctx context.Context) (models.JobResult, error) {
	result := models.JobResult{Job: "postmortem"}
	if a.llm == nil {
		return result, nil
	}
	preds, err := a.store.WrongWithoutAnalysis(ctx, a.batch)
	if err != nil {
		return result, err
	}
	for _, p := range preds {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		resp, err := a.llm.Complete(ctx, systemPrompt, BuildPrompt(p))
		if err != nil {
			logger.Warn("Error analysis failed for prediction #%d: %v", p.ID, err)
			result.Failed++
			continue
		}
		analysis := ParseAnalysis(resp)
		analysis.PredictionID = p.ID
		analysis.Category = p.Category
		analysis.AnalyzedAt = a.now().UTC()
		saved, err := a.store.SaveErrorAnalysis(ctx, analysis)
		if err != nil {
			logger.Error("Failed to save error analysis for prediction #%d: %v", p.ID, err)
			result.Failed++
			continue
		}
		if !saved {
			result.Skipped++
			continue
		}
		result.Processed++
		logger.Info("Prediction #%d classified as %s (magnitude %.2f)", p.ID, analysis.ErrorType, analysis.Magnitude)
	}
	return result, nil
}

// Patterns returns the aggregated error feed.
func (a *Analyzer) Patterns(ctx context.Context) (models.ErrorPatterns, error) {
	return a.store.ErrorPatterns(ctx)
}

// BuildPrompt renders the analysis request for one wrong prediction.
func BuildPrompt(p models.Prediction) string {
	reasoning := p.Reasoning
	if reasoning == "" {
		reasoning = "No reasoning recorded"
	}
	var sb strings.Builder
	sb.WriteString("WRONG PREDICTION ANALYSIS\n\n")
	fmt.Fprintf(&sb, "Question: %s\n", p.Question)
	fmt.Fprintf(&sb, "Category: %s\n\n", p.Category)
	sb.WriteString("Our Prediction:\n")
	fmt.Fprintf(&sb, "- Signal: %s\n", p.Signal)
	fmt.Fprintf(&sb, "- AI Probability: %.3f\n", p.AIProbability)
	fmt.Fprintf(&sb, "- Market Price at Signal: %.3f\n", p.MarketPrice)
	fmt.Fprintf(&sb, "- Edge Claimed: %+.1f%%\n", p.Edge)
	fmt.Fprintf(&sb, "- Confidence: %s\n\n", p.Confidence)
	fmt.Fprintf(&sb, "Actual Outcome: %s\n\n", p.Resolution)
	fmt.Fprintf(&sb, "Our Reasoning at Time of Prediction:\n%s\n\n", reasoning)
	sb.WriteString(`Analyze this error and respond with JSON:
{
  "error_type": "one of: overconfidence, underconfidence, wrong_data, misinterpretation, timing, market_manipulation, black_swan, insufficient_data",
  "error_magnitude": 0.0-1.0,
  "what_we_missed": ["things we should have considered"],
  "root_cause": "single sentence explaining the main reason",
  "lesson_learned": "specific actionable lesson for future predictions",
  "category_specific_insight": "insight specific to this market category"
}`)
	return sb.String()
}

type rawAnalysis struct {
	ErrorType       string              `json:"error_type"`
	Magnitude       estimator.FlexFloat `json:"error_magnitude"`
	WhatWeMissed    []string            `json:"what_we_missed"`
	RootCause       string              `json:"root_cause"`
	Lesson          string              `json:"lesson_learned"`
	CategoryInsight string              `json:"category_specific_insight"`
}

// ParseAnalysis extracts an analysis from model output. Output that cannot
// be parsed is recorded as an unknown error of magnitude 0.5 with no lesson.
func ParseAnalysis(resp string) models.ErrorAnalysis {
	fallback := models.ErrorAnalysis{
		ErrorType:    models.ErrorUnknown,
		Magnitude:    0.5,
		WhatWeMissed: []string{"Could not parse analysis"},
		RootCause:    truncate(strings.TrimSpace(resp), 200),
	}
	obj := estimator.ExtractJSON(resp)
	if obj == "" {
		return fallback
	}
	var raw rawAnalysis
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return fallback
	}

	out := models.ErrorAnalysis{
		ErrorType:       strings.ToLower(strings.TrimSpace(raw.ErrorType)),
		Magnitude:       0.5,
		WhatWeMissed:    raw.WhatWeMissed,
		RootCause:       strings.TrimSpace(raw.RootCause),
		Lesson:          strings.TrimSpace(raw.Lesson),
		CategoryInsight: strings.TrimSpace(raw.CategoryInsight),
	}
	if !errorTypes[out.ErrorType] {
		out.ErrorType = models.ErrorUnknown
	}
	if v, ok := raw.Magnitude.Value(); ok {
		out.Magnitude = min(max(v, 0), 1)
	}
	if out.WhatWeMissed == nil {
		out.WhatWeMissed = []string{}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
