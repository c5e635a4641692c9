// Package report renders the plain-text performance report.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/oraclesentinel/oracle-sentinel/internal/accuracy"
	"github.com/oraclesentinel/oracle-sentinel/internal/agentconfig"
	"github.com/oraclesentinel/oracle-sentinel/internal/models"
)

const (
	NotAvailable = "N/A"
	Pending      = "pending"
	// EvidenceInactive marks MinNewsSources when no evidence source is wired.
	EvidenceInactive = "inactive: no evidence source"
)

var heading = color.New(color.FgCyan, color.Bold)

// Data is everything one report shows.
type Data struct {
	Summary   accuracy.Summary
	Config    agentconfig.Snapshot
	Proposals []models.Proposal
	// EvidenceChecked reports whether the scan enforces MinNewsSources.
	EvidenceChecked bool
}

// Render writes the report to w. Missing values render as placeholders.
func Render(w io.Writer, d Data) error {
	var b strings.Builder
	s := d.Summary
	o := s.Overall
	rule := strings.Repeat("=", 60)

	b.WriteString(rule + "\n")
	b.WriteString(heading.Sprint("ORACLE SENTINEL PERFORMANCE REPORT") + "\n")
	if !s.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "Generated: %s\n", s.GeneratedAt.UTC().Format("2006-01-02 15:04 UTC"))
	}
	b.WriteString(rule + "\n")

	fmt.Fprintf(&b, "\nTotal predictions tracked: %d\n", o.Total)
	fmt.Fprintf(&b, "BUY_YES: %d | BUY_NO: %d\n", s.BySignal[models.BuyYes], s.BySignal[models.BuyNo])

	section(&b, "RESOLVED")
	fmt.Fprintf(&b, "Resolved: %d/%d\n", o.Resolved, o.Total)
	if o.Resolved > 0 {
		fmt.Fprintf(&b, "Accuracy: %.2f%% (%d/%d correct)\n", o.AccuracyPct, o.Correct, o.Resolved)
		fmt.Fprintf(&b, "Total P&L: $%+.2f (hypothetical $100/bet)\n", o.TotalPnL)
		fmt.Fprintf(&b, "Avg P&L per trade: $%+.2f\n", o.TotalPnL/float64(o.Resolved))
	} else {
		fmt.Fprintf(&b, "Accuracy: %s\n", Pending)
		fmt.Fprintf(&b, "Total P&L: %s\n", Pending)
	}
	fmt.Fprintf(&b, "Avg edge: %+.2fpp\n", o.AvgEdge)
	fmt.Fprintf(&b, "Brier score: %s\n", optFloat(o.BrierScore, "%.4f", NotAvailable))

	section(&b, "UNRESOLVED")
	mv := s.Movement
	fmt.Fprintf(&b, "Unresolved: %d\n", mv.Unresolved)
	if withSnap := mv.OurWay + mv.Against; withSnap > 0 {
		fmt.Fprintf(&b, "Price moving our way: %d/%d (%.0f%%)\n", mv.OurWay, withSnap, 100*float64(mv.OurWay)/float64(withSnap))
		fmt.Fprintf(&b, "Price moving against: %d/%d\n", mv.Against, withSnap)
	} else {
		fmt.Fprintf(&b, "Price movement: %s\n", NotAvailable)
	}
	if mv.NoSnapshot > 0 {
		fmt.Fprintf(&b, "Awaiting first snapshot: %d\n", mv.NoSnapshot)
	}

	section(&b, "BY CONFIDENCE")
	if len(s.ByConfidence) == 0 {
		b.WriteString(NotAvailable + "\n")
	}
	for _, c := range s.ByConfidence {
		fmt.Fprintf(&b, "%-6s %d predictions, %d resolved, accuracy: %s\n",
			c.Confidence, c.Total, c.Resolved, optFloat(c.AccuracyPct, "%.1f%%", Pending))
	}

	section(&b, "BY CATEGORY")
	if len(s.Categories) == 0 {
		b.WriteString(NotAvailable + "\n")
	}
	for _, c := range s.Categories {
		fmt.Fprintf(&b, "%-14s %3d total, %3d resolved, accuracy: %-8s P&L: $%+.2f\n",
			c.Category, c.Total, c.Resolved, optFloat(c.AccuracyPct, "%.1f%%", Pending), c.TotalPnL)
	}
	fmt.Fprintf(&b, "Best category: %s\n", categoryLabel(s.BestCategory))
	fmt.Fprintf(&b, "Worst category: %s\n", categoryLabel(s.WorstCategory))

	section(&b, "TREND")
	tr := s.Trend
	if tr.Label == "" || tr.Label == models.TrendInsufficient {
		fmt.Fprintf(&b, "Trend: %s (insufficient data)\n", NotAvailable)
	} else {
		fmt.Fprintf(&b, "Trend (%dd): %s (%.1f%% -> %.1f%%)\n", tr.Days, tr.Label, tr.FirstHalf, tr.SecondHalf)
	}

	section(&b, "WEAKNESSES")
	if len(s.Weaknesses) == 0 {
		b.WriteString("None detected\n")
	}
	for _, wk := range s.Weaknesses {
		label := string(wk.Type)
		if wk.Category != "" {
			label += " (" + wk.Category + ")"
		}
		fmt.Fprintf(&b, "[%s] %s: %.1f, n=%d\n", strings.ToUpper(string(wk.Severity)), label, wk.Value, wk.SampleSize)
	}

	section(&b, "AGENT CONFIG")
	cfg := d.Config
	fmt.Fprintf(&b, "Version: %d", cfg.Version)
	if cfg.LastUpdated != "" {
		fmt.Fprintf(&b, " (updated %s)", cfg.LastUpdated)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Min edge threshold: %.1fpp\n", cfg.MinEdgeThreshold)
	fmt.Fprintf(&b, "Probability dampening: %.2f\n", cfg.ProbabilityDampening)
	if d.EvidenceChecked {
		fmt.Fprintf(&b, "Min news sources: %d\n", cfg.MinNewsSources)
	} else {
		fmt.Fprintf(&b, "Min news sources: %d (%s)\n", cfg.MinNewsSources, EvidenceInactive)
	}
	if len(cfg.ConfidenceMultipliers) == 0 {
		fmt.Fprintf(&b, "Category multipliers: %s\n", NotAvailable)
	} else {
		cats := make([]string, 0, len(cfg.ConfidenceMultipliers))
		for c := range cfg.ConfidenceMultipliers {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		parts := make([]string, len(cats))
		for i, c := range cats {
			parts[i] = fmt.Sprintf("%s=%.2f", c, cfg.ConfidenceMultipliers[c])
		}
		fmt.Fprintf(&b, "Category multipliers: %s\n", strings.Join(parts, ", "))
	}
	fmt.Fprintf(&b, "Lessons learned: %d\n", len(cfg.LessonsLearned))

	section(&b, "PENDING PROPOSALS")
	if len(d.Proposals) == 0 {
		b.WriteString("None\n")
	}
	for _, p := range d.Proposals {
		fmt.Fprintf(&b, "[%s] %s: %s\n", strings.ToUpper(string(p.Severity)), p.DiagnosisType, p.ProposedFix)
	}
	b.WriteString(rule + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func section(b *strings.Builder, title string) {
	b.WriteString("\n" + heading.Sprint(title) + "\n")
}

func optFloat(v *float64, format, placeholder string) string {
	if v == nil {
		return placeholder
	}
	return fmt.Sprintf(format, *v)
}

func categoryLabel(c *models.CategoryRollup) string {
	if c == nil {
		return NotAvailable
	}
	return fmt.Sprintf("%s (%s, %d resolved)", c.Category, optFloat(c.AccuracyPct, "%.1f%%", Pending), c.Resolved)
}
