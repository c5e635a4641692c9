// Package agentconfig holds the versioned, self-tuned decision parameters.
//
// The document lives in a single JSON file. Readers take an immutable
// Snapshot via Reload; the only writer is Store.Update, which serialises
// writers with a file lock, keeps the previous document as a timestamped
// backup, bumps the version and replaces the file with a rename.
package agentconfig

import (
	"fmt"
	"slices"
	"strings"
)

const (
	DefaultMinEdgeThreshold = 3.0
	DefaultMinNewsSources   = 3
)

// Snapshot is one version of the agent configuration. Treat it as read-only;
// use Clone before mutating.
type Snapshot struct {
	MinEdgeThreshold      float64            `json:"min_edge_threshold"`
	ConfidenceMultipliers map[string]float64 `json:"confidence_multipliers"`
	ProbabilityDampening  float64            `json:"probability_dampening"`
	MinNewsSources        int                `json:"min_news_sources"`
	LessonsLearned        []string           `json:"lessons_learned"`
	Version               int                `json:"version"`
	LastUpdated           string             `json:"last_updated,omitempty"`
}

// Defaults returns the hardcoded fallback configuration at version 0.
func Defaults() Snapshot {
	return Snapshot{
		MinEdgeThreshold:      DefaultMinEdgeThreshold,
		ConfidenceMultipliers: map[string]float64{},
		ProbabilityDampening:  0,
		MinNewsSources:        DefaultMinNewsSources,
		LessonsLearned:        []string{},
		Version:               0,
	}
}

// Clone returns a deep copy safe to mutate.
func (s Snapshot) Clone() Snapshot {
	c := s
	c.ConfidenceMultipliers = make(map[string]float64, len(s.ConfidenceMultipliers))
	for k, v := range s.ConfidenceMultipliers {
		c.ConfidenceMultipliers[k] = v
	}
	c.LessonsLearned = slices.Clone(s.LessonsLearned)
	if c.LessonsLearned == nil {
		c.LessonsLearned = []string{}
	}
	return c
}

// Multiplier returns the category confidence multiplier, 1.0 when unset.
// Non-positive stored values are ignored.
func (s Snapshot) Multiplier(category string) float64 {
	if m, ok := s.ConfidenceMultipliers[category]; ok && m > 0 {
		return m
	}
	return 1.0
}

// EffectiveThreshold is the minimum absolute edge (pp) required for the category.
func (s Snapshot) EffectiveThreshold(category string) float64 {
	return s.MinEdgeThreshold / s.Multiplier(category)
}

// HasLesson reports whether the lesson is already recorded (case-insensitive).
func (s Snapshot) HasLesson(lesson string) bool {
	key := normalizeLesson(lesson)
	for _, l := range s.LessonsLearned {
		if normalizeLesson(l) == key {
			return true
		}
	}
	return false
}

// AppendLessons adds lessons not yet present, preserving order. It returns
// the number added.
func (s *Snapshot) AppendLessons(lessons []string) int {
	added := 0
	for _, l := range lessons {
		l = strings.TrimSpace(l)
		if l == "" || s.HasLesson(l) {
			continue
		}
		s.LessonsLearned = append(s.LessonsLearned, l)
		added++
	}
	return added
}

// LessonsPrompt renders the lessons block injected into estimator prompts.
// Empty when there are no lessons.
func (s Snapshot) LessonsPrompt() string {
	if len(s.LessonsLearned) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("LESSONS FROM PAST MISTAKES (apply these to your analysis):\n")
	for i, l := range s.LessonsLearned {
		fmt.Fprintf(&b, "%d. %s\n", i+1, l)
	}
	return b.String()
}

// Validate checks parameter ranges.
func (s Snapshot) Validate() error {
	if s.MinEdgeThreshold <= 0 {
		return fmt.Errorf("min_edge_threshold must be positive")
	}
	if s.ProbabilityDampening < 0 || s.ProbabilityDampening > 1 {
		return fmt.Errorf("probability_dampening must be between 0 and 1")
	}
	if s.MinNewsSources < 0 {
		return fmt.Errorf("min_news_sources must not be negative")
	}
	if s.Version < 0 {
		return fmt.Errorf("version must not be negative")
	}
	return nil
}

func normalizeLesson(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
