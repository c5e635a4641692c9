// Package diagnosis maps accuracy metrics and error patterns to
// machine-applicable configuration proposals.
package diagnosis

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oraclesentinel/oracle-sentinel/internal/accuracy"
	"github.com/oraclesentinel/oracle-sentinel/internal/agentconfig"
	"github.com/oraclesentinel/oracle-sentinel/internal/models"
)

// Diagnosis types.
const (
	LowOverallAccuracy       = "low_overall_accuracy"
	CategoryUnderperformance = "category_underperformance"
	SystematicOverconfidence = "systematic_overconfidence"
	NegativeEdge             = "negative_edge"
	InsufficientDataErrors   = "insufficient_data_errors"
	LessonsFromErrors        = "lessons_from_errors"
)

// Targets the rules move parameters toward. The applier falls back to the
// same values when a proposal carries no parameters.
const (
	TargetThreshold             = 5.0
	TargetNegativeEdgeThreshold = 10.0
	TargetCategoryMultiplier    = 0.8
	TargetDampening             = 0.1
	TargetMinNewsSources        = 5
	MaxLessonsPerProposal       = 5
)

const (
	minResolvedOverall  = 5
	minResolvedCategory = 3
	minPatternErrors    = 2
	lowOverallPct       = 40.0
	lowCategoryPct      = 30.0
)

// Diagnose returns the proposals warranted by the current metrics. A rule
// only fires when applying its fix would change cfg, so a converged
// configuration yields no proposals.
func Diagnose(s accuracy.Summary, patterns models.ErrorPatterns, cfg agentconfig.Snapshot, now time.Time) []models.Proposal {
	var out []models.Proposal
	add := func(p models.Proposal) {
		p.ID = uuid.NewString()
		p.Status = models.ProposalProposed
		p.CreatedAt = now
		if p.CategoryAffected == "" {
			p.CategoryAffected = models.CategoryAll
		}
		out = append(out, p)
	}

	o := s.Overall
	if o.Resolved >= minResolvedOverall && o.AccuracyPct < lowOverallPct && cfg.MinEdgeThreshold < TargetThreshold {
		add(models.Proposal{
			DiagnosisType:  LowOverallAccuracy,
			Detail:         fmt.Sprintf("Overall accuracy is %.2f%% with %d resolved (target: >50%%)", o.AccuracyPct, o.Resolved),
			Severity:       models.SeverityCritical,
			ProposedFix:    fmt.Sprintf("Increase edge threshold from %g%% to %g%% before signaling", cfg.MinEdgeThreshold, TargetThreshold),
			ExpectedImpact: "Fewer signals but higher quality",
			FixType:        models.FixThreshold,
			FixParams: models.FixParams{
				Parameter:     "min_edge_threshold",
				CurrentValue:  cfg.MinEdgeThreshold,
				ProposedValue: TargetThreshold,
			},
		})
	}

	for _, c := range s.Categories {
		if c.Resolved < minResolvedCategory || c.AccuracyPct == nil || *c.AccuracyPct >= lowCategoryPct {
			continue
		}
		if cfg.Multiplier(c.Category) <= TargetCategoryMultiplier {
			continue
		}
		add(models.Proposal{
			DiagnosisType:    CategoryUnderperformance,
			Detail:           fmt.Sprintf("%s accuracy is %.2f%% with %d resolved", c.Category, *c.AccuracyPct, c.Resolved),
			CategoryAffected: c.Category,
			Severity:         models.SeverityHigh,
			ProposedFix:      fmt.Sprintf("Reduce confidence in %s predictions by applying %gx multiplier", c.Category, TargetCategoryMultiplier),
			ExpectedImpact:   fmt.Sprintf("More conservative %s predictions", c.Category),
			FixType:          models.FixCategoryConfidence,
			FixParams: models.FixParams{
				Category:             c.Category,
				ConfidenceMultiplier: TargetCategoryMultiplier,
			},
		})
	}

	if n := patterns.ByType[models.ErrorOverconfidence]; n >= minPatternErrors && cfg.ProbabilityDampening < TargetDampening {
		add(models.Proposal{
			DiagnosisType:  SystematicOverconfidence,
			Detail:         fmt.Sprintf("Found %d overconfidence errors", n),
			Severity:       models.SeverityHigh,
			ProposedFix:    fmt.Sprintf("Apply probability dampening: move all probabilities %g%% closer to 50%%", TargetDampening*100),
			ExpectedImpact: "Less extreme probability estimates",
			FixType:        models.FixDampening,
			FixParams:      models.FixParams{DampeningFactor: TargetDampening},
		})
	}

	if o.Total > 0 && o.AvgEdge < 0 && cfg.MinEdgeThreshold < TargetNegativeEdgeThreshold {
		add(models.Proposal{
			DiagnosisType:  NegativeEdge,
			Detail:         fmt.Sprintf("Average edge is %.2f%% (should be positive)", o.AvgEdge),
			Severity:       models.SeverityHigh,
			ProposedFix:    fmt.Sprintf("Only signal when edge > %g%% instead of current threshold", TargetNegativeEdgeThreshold),
			ExpectedImpact: "Much fewer signals but positive expected value",
			FixType:        models.FixThreshold,
			FixParams: models.FixParams{
				Parameter:     "min_edge_threshold",
				CurrentValue:  cfg.MinEdgeThreshold,
				ProposedValue: TargetNegativeEdgeThreshold,
			},
		})
	}

	if n := patterns.ByType[models.ErrorInsufficientData]; n >= minPatternErrors && cfg.MinNewsSources < TargetMinNewsSources {
		add(models.Proposal{
			DiagnosisType:  InsufficientDataErrors,
			Detail:         fmt.Sprintf("Found %d errors due to insufficient data", n),
			Severity:       models.SeverityMedium,
			ProposedFix:    fmt.Sprintf("Require minimum %d news sources before making prediction", TargetMinNewsSources),
			ExpectedImpact: "Better informed predictions",
			FixType:        models.FixDataRequirement,
			FixParams:      models.FixParams{MinNewsSources: TargetMinNewsSources},
		})
	}

	if lessons := NewLessons(patterns.Lessons, cfg, MaxLessonsPerProposal); len(lessons) > 0 {
		add(models.Proposal{
			DiagnosisType:  LessonsFromErrors,
			Detail:         fmt.Sprintf("Extracted %d new lessons from error analysis", len(lessons)),
			Severity:       models.SeverityMedium,
			ProposedFix:    "Incorporate lessons into the estimator prompt",
			ExpectedImpact: "Estimator learns from past mistakes",
			FixType:        models.FixPromptEnhancement,
			FixParams:      models.FixParams{Lessons: lessons},
		})
	}

	return out
}

// NewLessons returns up to limit lessons, newest first, that cfg does not
// already hold.
func NewLessons(lessons []string, cfg agentconfig.Snapshot, limit int) []string {
	var picked agentconfig.Snapshot
	for _, l := range lessons {
		if len(picked.LessonsLearned) == limit {
			break
		}
		if cfg.HasLesson(l) {
			continue
		}
		picked.AppendLessons([]string{l})
	}
	return picked.LessonsLearned
}
