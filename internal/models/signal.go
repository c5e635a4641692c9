package models

import (
	"strings"
	"time"
)

// Recommendation is the Decision Engine's output label.
type Recommendation string

const (
	BuyYes  Recommendation = "BUY_YES"
	BuyNo   Recommendation = "BUY_NO"
	NoTrade Recommendation = "NO_TRADE"
	Skip    Recommendation = "SKIP"
)

// IsDirectional reports whether the recommendation takes a side.
func (r Recommendation) IsDirectional() bool {
	return r == BuyYes || r == BuyNo
}

// ParseRecommendation normalises upstream text. Unknown labels map to "".
func ParseRecommendation(s string) Recommendation {
	switch r := Recommendation(strings.ToUpper(strings.TrimSpace(s))); r {
	case BuyYes, BuyNo, NoTrade, Skip:
		return r
	}
	return ""
}

// Confidence is the coarse reliability label attached to an estimate.
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// ParseConfidence normalises a confidence label; ok is false for unknown values.
func ParseConfidence(s string) (Confidence, bool) {
	switch c := Confidence(strings.ToUpper(strings.TrimSpace(s))); c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return c, true
	}
	return "", false
}

// Estimate is the Probability Estimator's output. Suggested is informational only.
type Estimate struct {
	Probability float64        `json:"probability"`
	Confidence  Confidence     `json:"confidence"`
	Reasoning   string         `json:"reasoning"`
	Suggested   Recommendation `json:"suggested,omitempty"`
}

// Decision is the auditable output of the Decision Engine.
type Decision struct {
	Recommendation      Recommendation `json:"recommendation"`
	Edge                float64        `json:"edge"`
	AdjustedProbability float64        `json:"adjusted_probability"`
	EffectiveThreshold  float64        `json:"effective_threshold"`
	Rule                string         `json:"rule"`
	Overridden          bool           `json:"overridden"`
	Confidence          Confidence     `json:"confidence"`
	ConfigVersion       int            `json:"config_version"`
}

// Evaluation bundles one pass of estimator plus Decision Engine over a market.
type Evaluation struct {
	Market    Market
	Category  string
	Estimate  Estimate
	Decision  Decision
	Malformed bool
	Evaluated time.Time
}
