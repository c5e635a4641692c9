package models

import "time"

// FixType selects how the Improvement Applier mutates the agent configuration.
type FixType string

const (
	FixThreshold          FixType = "threshold_adjustment"
	FixCategoryConfidence FixType = "category_confidence_adjustment"
	FixDampening          FixType = "probability_dampening"
	FixDataRequirement    FixType = "data_requirement"
	FixPromptEnhancement  FixType = "prompt_enhancement"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

type ProposalStatus string

const (
	ProposalProposed ProposalStatus = "proposed"
	ProposalApplied  ProposalStatus = "applied"
	ProposalFailed   ProposalStatus = "failed"
)

// CategoryAll marks proposals that are not scoped to one category.
const CategoryAll = "all"

// FixParams carries the structured arguments for a fix. Only the fields
// relevant to the proposal's FixType are set.
type FixParams struct {
	Parameter            string   `json:"parameter,omitempty"`
	CurrentValue         float64  `json:"current_value,omitempty"`
	ProposedValue        float64  `json:"proposed_value,omitempty"`
	Category             string   `json:"category,omitempty"`
	ConfidenceMultiplier float64  `json:"confidence_multiplier,omitempty"`
	DampeningFactor      float64  `json:"dampening_factor,omitempty"`
	MinNewsSources       int      `json:"min_news_sources,omitempty"`
	Lessons              []string `json:"lessons,omitempty"`
}

// Proposal is a machine-applicable suggestion to change one configuration parameter.
type Proposal struct {
	ID               string         `json:"id"`
	DiagnosisType    string         `json:"diagnosis_type"`
	Detail           string         `json:"diagnosis_detail"`
	CategoryAffected string         `json:"category_affected"`
	Severity         Severity       `json:"severity"`
	ProposedFix      string         `json:"proposed_fix"`
	ExpectedImpact   string         `json:"expected_impact"`
	FixType          FixType        `json:"fix_type"`
	FixParams        FixParams      `json:"fix_params"`
	Status           ProposalStatus `json:"status"`
	FailureReason    string         `json:"failure_reason,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	AppliedAt        time.Time      `json:"applied_at"`
}

// ProposalOutcome is the terminal status the applier assigns to one proposal.
type ProposalOutcome struct {
	ID     string
	Status ProposalStatus
	Reason string
}
