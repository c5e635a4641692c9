// Package decision converts a probability estimate into a trade recommendation.
//
// Decide is pure: identical inputs always yield identical outputs, and any
// recommendation text produced upstream is recorded for audit only.
package decision

import (
	"fmt"
	"math"

	"github.com/oraclesentinel/oracle-sentinel/internal/agentconfig"
	"github.com/oraclesentinel/oracle-sentinel/internal/models"
)

const (
	NearResolvedHigh = 0.97
	NearResolvedLow  = 0.03
	CoinFlipLow      = 0.45
	CoinFlipHigh     = 0.55

	MinProbability = 0.01
	MaxProbability = 0.99
)

// Rule names recorded on every decision.
const (
	RuleLowConfidence    = "low_confidence"
	RuleNearResolved     = "near_resolved"
	RuleCoinFlip         = "coin_flip_zone"
	RuleStrongEdge       = "strong_edge"
	RuleEdge             = "edge"
	RuleSmallEdge        = "small_edge"
	RuleMediumConfidence = "medium_confidence"
	RuleDefault          = "default"
)

// Input is everything Decide looks at besides the configuration.
type Input struct {
	Probability float64
	Confidence  models.Confidence
	MarketPrice float64
	Category    string
	Suggested   models.Recommendation
}

// Dampen pulls p toward 0.5 by factor d.
func Dampen(p, d float64) float64 {
	return p + (0.5-p)*d
}

// Edge returns the signed percentage-point gap between probability and price,
// rounded to 1e-6 so that values such as 0.58-0.55 compare as 3.0.
func Edge(probability, price float64) float64 {
	return math.Round((probability-price)*100*1e6) / 1e6
}

// Decide applies dampening, the category threshold and the fixed rule ladder.
// The first matching rule wins.
func Decide(in Input, cfg agentconfig.Snapshot) models.Decision {
	adjusted := Dampen(in.Probability, cfg.ProbabilityDampening)
	edge := Edge(adjusted, in.MarketPrice)
	threshold := cfg.EffectiveThreshold(in.Category)
	abs := math.Abs(edge)

	rec, rule := models.NoTrade, RuleDefault
	switch {
	case in.Confidence == models.ConfidenceLow:
		rec, rule = models.Skip, RuleLowConfidence
	case in.MarketPrice > NearResolvedHigh || in.MarketPrice < NearResolvedLow:
		rec, rule = models.NoTrade, RuleNearResolved
	case in.MarketPrice >= CoinFlipLow && in.MarketPrice <= CoinFlipHigh:
		rec, rule = models.NoTrade, RuleCoinFlip
	case abs >= 2*threshold && in.Confidence == models.ConfidenceHigh:
		rec, rule = side(edge), RuleStrongEdge
	case abs >= threshold && in.Confidence == models.ConfidenceHigh:
		rec, rule = side(edge), RuleEdge
	case abs < threshold:
		rec, rule = models.NoTrade, RuleSmallEdge
	case in.Confidence == models.ConfidenceMedium:
		rec, rule = models.NoTrade, RuleMediumConfidence
	}

	return models.Decision{
		Recommendation:      rec,
		Edge:                edge,
		AdjustedProbability: adjusted,
		EffectiveThreshold:  threshold,
		Rule:                rule,
		Overridden:          in.Suggested != "" && in.Suggested != rec,
		Confidence:          in.Confidence,
		ConfigVersion:       cfg.Version,
	}
}

func side(edge float64) models.Recommendation {
	if edge > 0 {
		return models.BuyYes
	}
	return models.BuyNo
}

// SanitizeEstimate clamps the probability into [0.01, 0.99] and forces LOW
// confidence when the probability is missing (NaN) or out of range or the
// confidence label is unknown. A missing probability is replaced by fallback.
// The returned error wraps models.ErrMalformedEstimate and is informational:
// the sanitized estimate is always usable.
func SanitizeEstimate(e models.Estimate, fallback float64) (models.Estimate, error) {
	var problems []string

	if math.IsNaN(e.Probability) || math.IsInf(e.Probability, 0) {
		problems = append(problems, "probability missing")
		e.Probability = fallback
	} else if e.Probability < 0 || e.Probability > 1 {
		problems = append(problems, fmt.Sprintf("probability %.4f out of range", e.Probability))
	}
	e.Probability = clamp(e.Probability, MinProbability, MaxProbability)

	if c, ok := models.ParseConfidence(string(e.Confidence)); ok {
		e.Confidence = c
	} else {
		problems = append(problems, fmt.Sprintf("confidence %q unknown", e.Confidence))
	}

	if len(problems) > 0 {
		e.Confidence = models.ConfidenceLow
		return e, fmt.Errorf("%w: %v", models.ErrMalformedEstimate, problems)
	}
	return e, nil
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
