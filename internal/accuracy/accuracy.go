// Package accuracy rolls ledger records up into performance metrics.
//
// Every function in this file is a pure function of the prediction list, so
// recomputing from an unchanged ledger always yields identical output.
package accuracy

import (
	"math"
	"sort"
	"time"

	"github.com/oraclesentinel/oracle-sentinel/internal/models"
)

const (
	// TrendDays is the default trend window.
	TrendDays = 7
	// TrendDelta is the percentage-point change that separates a trend from noise.
	TrendDelta = 5.0

	minResolvedForWeakness = 3
	minResolvedForOverall  = 5
	minResolvedForRanking  = 2

	// UncategorizedLabel groups predictions that have no category.
	UncategorizedLabel = "other"
)

const dateLayout = "2006-01-02"

// Movement counts unresolved predictions by direction of the latest snapshot
// relative to the entry price.
type Movement struct {
	Unresolved int
	OurWay     int
	Against    int
	NoSnapshot int
}

// Summary is the complete aggregate consumed by diagnosis and reporting.
type Summary struct {
	GeneratedAt   time.Time
	Overall       models.OverallMetrics
	BySignal      map[models.Recommendation]int
	Daily         []models.DailyRollup
	Categories    []models.CategoryRollup
	ByConfidence  []models.ConfidenceRollup
	Trend         models.Trend
	Weaknesses    []models.Weakness
	Movement      Movement
	BestCategory  *models.CategoryRollup
	WorstCategory *models.CategoryRollup
}

// Build computes the full summary at now.
func Build(preds []models.Prediction, now time.Time, trendDays int) Summary {
	overall := Overall(preds)
	cats := ByCategory(preds)
	best, worst := BestWorst(cats)
	bySignal := map[models.Recommendation]int{}
	for _, p := range preds {
		bySignal[p.Signal]++
	}
	return Summary{
		GeneratedAt:   now,
		Overall:       overall,
		BySignal:      bySignal,
		Daily:         Daily(preds),
		Categories:    cats,
		ByConfidence:  ByConfidence(preds),
		Trend:         ComputeTrend(preds, now, trendDays),
		Weaknesses:    Weaknesses(overall, cats),
		Movement:      ComputeMovement(preds),
		BestCategory:  best,
		WorstCategory: worst,
	}
}

// AgentMetrics flattens the summary into the persisted daily row.
func (s Summary) AgentMetrics() models.AgentMetrics {
	m := models.AgentMetrics{
		Date:        s.GeneratedAt.UTC().Format(dateLayout),
		Total:       s.Overall.Total,
		Resolved:    s.Overall.Resolved,
		Correct:     s.Overall.Correct,
		AccuracyPct: s.Overall.AccuracyPct,
		AvgEdge:     s.Overall.AvgEdge,
		BrierScore:  s.Overall.BrierScore,
		Trend:       string(s.Trend.Label),
	}
	if s.BestCategory != nil {
		name := s.BestCategory.Category
		m.BestCategory = &name
	}
	if s.WorstCategory != nil {
		name := s.WorstCategory.Category
		m.WorstCategory = &name
	}
	return m
}

// Overall computes whole-ledger metrics. Accuracy is 0 while nothing has
// resolved.
func Overall(preds []models.Prediction) models.OverallMetrics {
	var m models.OverallMetrics
	var edgeSum, pnlSum float64
	for _, p := range preds {
		m.Total++
		edgeSum += p.Edge
		if !p.IsResolved() {
			continue
		}
		m.Resolved++
		pnlSum += p.PnL
		if p.DirectionCorrect {
			m.Correct++
		} else {
			m.Wrong++
		}
	}
	m.Pending = m.Total - m.Resolved
	if m.Resolved > 0 {
		m.AccuracyPct = round(float64(m.Correct)/float64(m.Resolved)*100, 2)
	}
	if m.Total > 0 {
		m.AvgEdge = round(edgeSum/float64(m.Total), 2)
	}
	m.TotalPnL = round(pnlSum, 2)
	m.BrierScore = Brier(preds)
	return m
}

// Brier returns the mean squared error between the recorded probability and
// the outcome (1 iff resolved YES) over resolved predictions, or nil when
// none have resolved.
func Brier(preds []models.Prediction) *float64 {
	var sum float64
	n := 0
	for _, p := range preds {
		if !p.IsResolved() {
			continue
		}
		outcome := 0.0
		if p.Resolution == models.ResolutionYes {
			outcome = 1.0
		}
		d := p.AIProbability - outcome
		sum += d * d
		n++
	}
	if n == 0 {
		return nil
	}
	b := round(sum/float64(n), 4)
	return &b
}

// Daily groups predictions by UTC creation date, ascending.
func Daily(preds []models.Prediction) []models.DailyRollup {
	type acc struct {
		row     models.DailyRollup
		edgeSum float64
	}
	byDate := map[string]*acc{}
	for _, p := range preds {
		key := p.CreatedAt.UTC().Format(dateLayout)
		a, ok := byDate[key]
		if !ok {
			a = &acc{row: models.DailyRollup{Date: key}}
			byDate[key] = a
		}
		a.row.Total++
		a.edgeSum += p.Edge
		switch p.Signal {
		case models.BuyYes:
			a.row.BuyYes++
		case models.BuyNo:
			a.row.BuyNo++
		}
		if p.IsResolved() {
			a.row.Resolved++
			a.row.TotalPnL += p.PnL
			if p.DirectionCorrect {
				a.row.Correct++
			}
		}
	}

	out := make([]models.DailyRollup, 0, len(byDate))
	for _, a := range byDate {
		r := a.row
		r.AccuracyPct = pct(r.Correct, r.Resolved, 1)
		r.TotalPnL = round(r.TotalPnL, 2)
		r.AvgEdge = round(a.edgeSum/float64(r.Total), 2)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// ByCategory groups predictions by category, ordered by total descending
// then name.
func ByCategory(preds []models.Prediction) []models.CategoryRollup {
	type acc struct {
		row                    models.CategoryRollup
		edgeSum                float64
		probCorrect, probWrong float64
	}
	byCat := map[string]*acc{}
	for _, p := range preds {
		key := p.Category
		if key == "" {
			key = UncategorizedLabel
		}
		a, ok := byCat[key]
		if !ok {
			a = &acc{row: models.CategoryRollup{Category: key}}
			byCat[key] = a
		}
		a.row.Total++
		a.edgeSum += p.Edge
		if !p.IsResolved() {
			continue
		}
		a.row.Resolved++
		a.row.TotalPnL += p.PnL
		if p.DirectionCorrect {
			a.row.Correct++
			a.probCorrect += p.AIProbability
		} else {
			a.row.Wrong++
			a.probWrong += p.AIProbability
		}
	}

	out := make([]models.CategoryRollup, 0, len(byCat))
	for _, a := range byCat {
		r := a.row
		r.AccuracyPct = pct(r.Correct, r.Resolved, 2)
		r.TotalPnL = round(r.TotalPnL, 2)
		r.AvgEdge = round(a.edgeSum/float64(r.Total), 2)
		if r.Correct > 0 {
			v := round(a.probCorrect/float64(r.Correct), 3)
			r.AvgProbCorrect = &v
		}
		if r.Wrong > 0 {
			v := round(a.probWrong/float64(r.Wrong), 3)
			r.AvgProbWrong = &v
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// ByConfidence groups predictions by confidence label in LOW, MEDIUM, HIGH
// order. Labels with no predictions are omitted.
func ByConfidence(preds []models.Prediction) []models.ConfidenceRollup {
	order := []models.Confidence{models.ConfidenceLow, models.ConfidenceMedium, models.ConfidenceHigh}
	byConf := map[models.Confidence]*models.ConfidenceRollup{}
	for _, p := range preds {
		r, ok := byConf[p.Confidence]
		if !ok {
			r = &models.ConfidenceRollup{Confidence: p.Confidence}
			byConf[p.Confidence] = r
		}
		r.Total++
		if p.IsResolved() {
			r.Resolved++
			if p.DirectionCorrect {
				r.Correct++
			}
		}
	}
	var out []models.ConfidenceRollup
	for _, c := range order {
		if r, ok := byConf[c]; ok {
			r.AccuracyPct = pct(r.Correct, r.Resolved, 1)
			out = append(out, *r)
		}
	}
	return out
}

// ComputeTrend compares mean daily accuracy between the older and newer half
// of the resolved predictions created within the last days days.
func ComputeTrend(preds []models.Prediction, now time.Time, days int) models.Trend {
	if days <= 0 {
		days = TrendDays
	}
	y, mo, d := now.UTC().Date()
	since := time.Date(y, mo, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -days)

	byDate := map[string]*models.DailyAccuracy{}
	for _, p := range preds {
		if !p.IsResolved() || p.CreatedAt.Before(since) {
			continue
		}
		key := p.CreatedAt.UTC().Format(dateLayout)
		pt, ok := byDate[key]
		if !ok {
			pt = &models.DailyAccuracy{Date: key}
			byDate[key] = pt
		}
		pt.Resolved++
		if p.DirectionCorrect {
			pt.Correct++
		}
	}

	points := make([]models.DailyAccuracy, 0, len(byDate))
	for _, pt := range byDate {
		pt.Accuracy = round(float64(pt.Correct)/float64(pt.Resolved)*100, 2)
		points = append(points, *pt)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })

	t := models.Trend{Label: models.TrendInsufficient, Days: days, Points: points}
	if len(points) < 2 {
		return t
	}
	mid := len(points) / 2
	t.FirstHalf = round(meanAccuracy(points[:mid]), 2)
	t.SecondHalf = round(meanAccuracy(points[mid:]), 2)
	switch diff := t.SecondHalf - t.FirstHalf; {
	case diff > TrendDelta:
		t.Label = models.TrendImproving
	case diff < -TrendDelta:
		t.Label = models.TrendDeclining
	default:
		t.Label = models.TrendStable
	}
	return t
}

// Weaknesses flags categories well below the overall accuracy, categories
// whose wrong calls were made with high probability, and a low overall
// accuracy.
func Weaknesses(overall models.OverallMetrics, cats []models.CategoryRollup) []models.Weakness {
	var out []models.Weakness
	for _, c := range cats {
		if c.Resolved < minResolvedForWeakness {
			continue
		}
		acc := deref(c.AccuracyPct)
		if acc < overall.AccuracyPct-10 {
			sev := models.SeverityMedium
			if acc < 30 {
				sev = models.SeverityHigh
			}
			out = append(out, models.Weakness{
				Type:       models.WeaknessLowAccuracyCategory,
				Category:   c.Category,
				Severity:   sev,
				Value:      acc,
				VsOverall:  round(acc-overall.AccuracyPct, 2),
				SampleSize: c.Resolved,
			})
		}
		if c.AvgProbWrong != nil && *c.AvgProbWrong > 0.6 {
			sev := models.SeverityMedium
			if *c.AvgProbWrong > 0.7 {
				sev = models.SeverityHigh
			}
			out = append(out, models.Weakness{
				Type:       models.WeaknessOverconfidence,
				Category:   c.Category,
				Severity:   sev,
				Value:      *c.AvgProbWrong,
				SampleSize: c.Wrong,
			})
		}
	}
	if overall.Resolved >= minResolvedForOverall && overall.AccuracyPct < 40 {
		sev := models.SeverityHigh
		if overall.AccuracyPct < 30 {
			sev = models.SeverityCritical
		}
		out = append(out, models.Weakness{
			Type:       models.WeaknessOverallLowAccuracy,
			Category:   models.CategoryAll,
			Severity:   sev,
			Value:      overall.AccuracyPct,
			SampleSize: overall.Resolved,
		})
	}
	return out
}

// BestWorst picks the highest and lowest accuracy categories among those with
// at least two resolved predictions. Ties keep the first in input order.
func BestWorst(cats []models.CategoryRollup) (best, worst *models.CategoryRollup) {
	for i := range cats {
		c := &cats[i]
		if c.Resolved < minResolvedForRanking {
			continue
		}
		if best == nil || deref(c.AccuracyPct) > deref(best.AccuracyPct) {
			best = c
		}
		if worst == nil || deref(c.AccuracyPct) < deref(worst.AccuracyPct) {
			worst = c
		}
	}
	return best, worst
}

// ComputeMovement compares each unresolved prediction's latest snapshot with
// its entry price. A flat price counts against.
func ComputeMovement(preds []models.Prediction) Movement {
	var m Movement
	for _, p := range preds {
		if p.IsResolved() {
			continue
		}
		m.Unresolved++
		snap, ok := p.LatestSnapshot()
		if !ok {
			m.NoSnapshot++
			continue
		}
		if (p.Signal == models.BuyYes && snap.Price > p.MarketPrice) ||
			(p.Signal == models.BuyNo && snap.Price < p.MarketPrice) {
			m.OurWay++
		} else {
			m.Against++
		}
	}
	return m
}

func meanAccuracy(points []models.DailyAccuracy) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range points {
		sum += p.Accuracy
	}
	return sum / float64(len(points))
}

func pct(correct, resolved int, places int) *float64 {
	if resolved == 0 {
		return nil
	}
	v := round(float64(correct)/float64(resolved)*100, places)
	return &v
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
