// Package ledger tracks each traded signal from creation through its
// observation windows to a terminal resolution.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oraclesentinel/oracle-sentinel/internal/logger"
	"github.com/oraclesentinel/oracle-sentinel/internal/models"
	"github.com/oraclesentinel/oracle-sentinel/internal/storage"
)

const (
	ResolveYesAt = 0.95
	ResolveNoAt  = 0.05
)

var stake = decimal.NewFromInt(100)

// MarketSource returns the current state of one market.
type MarketSource interface {
	FetchMarket(ctx context.Context, ref string) (models.Market, error)
}

// Evaluator re-runs estimator and Decision Engine for a market.
type Evaluator interface {
	Evaluate(ctx context.Context, m models.Market, category string) (models.Evaluation, error)
}

// Ledger is the Prediction Ledger service.
type Ledger struct {
	store     *storage.Storage
	markets   MarketSource
	evaluator Evaluator
	now       func() time.Time
}

// New creates a Ledger. evaluator may be nil when revisions are not needed.
func New(store *storage.Storage, markets MarketSource, evaluator Evaluator) *Ledger {
	return &Ledger{store: store, markets: markets, evaluator: evaluator, now: time.Now}
}

// Create records a BUY decision as a new ACTIVE prediction. It returns an
// error wrapping models.ErrDuplicateSignal when the market already has an
// unresolved prediction.
func (l *Ledger) Create(ctx context.Context, ev models.Evaluation) (*models.Prediction, error) {
	d := ev.Decision
	if !d.Recommendation.IsDirectional() {
		return nil, fmt.Errorf("cannot record %s decision for %s", d.Recommendation, ev.Market.Ref)
	}
	created := ev.Evaluated
	if created.IsZero() {
		created = l.now()
	}
	p := &models.Prediction{
		MarketRef:     ev.Market.Ref,
		Question:      ev.Market.Question,
		Signal:        d.Recommendation,
		AIProbability: d.AdjustedProbability,
		MarketPrice:   ev.Market.YesPrice,
		Edge:          d.Edge,
		Confidence:    d.Confidence,
		Category:      ev.Category,
		Reasoning:     ev.Estimate.Reasoning,
		CreatedAt:     created.UTC(),
		MarketEndDate: ev.Market.EndDate,
	}
	if err := l.store.CreatePrediction(ctx, p); err != nil {
		return nil, err
	}
	logger.Info("Recorded prediction #%d: %s on %q (edge=%+.1f, conf=%s)",
		p.ID, p.Signal, truncate(p.Question, 60), p.Edge, p.Confidence)
	return p, nil
}

// HasActive reports whether the market already has an unresolved prediction.
func (l *Ledger) HasActive(ctx context.Context, marketRef string) (bool, error) {
	_, err := l.store.ActivePredictionByMarket(ctx, marketRef)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UnrevisedClosingBetween returns ACTIVE, never-revised predictions whose
// market ends within [from, to].
func (l *Ledger) UnrevisedClosingBetween(ctx context.Context, from, to time.Time) ([]models.Prediction, error) {
	return l.store.UnrevisedClosingBetween(ctx, from, to)
}

// DueHorizons returns the empty horizons whose elapsed time has passed.
func DueHorizons(p models.Prediction, now time.Time) []models.Horizon {
	elapsed := now.Sub(p.CreatedAt)
	var due []models.Horizon
	for _, h := range models.Horizons {
		if elapsed < h.Duration() {
			break
		}
		if _, filled := p.Snapshots[h]; !filled {
			due = append(due, h)
		}
	}
	return due
}

// UpdateSnapshots fills every due horizon of every ACTIVE prediction with the
// current price. Filled slots are never overwritten, so repeated runs at the
// same instant change nothing.
func (l *Ledger) UpdateSnapshots(ctx context.Context, now time.Time) (models.JobResult, error) {
	result := models.JobResult{Job: "snapshot"}
	active, err := l.store.ActivePredictions(ctx)
	if err != nil {
		return result, err
	}

	prices := make(map[string]float64)
	for _, p := range active {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		due := DueHorizons(p, now)
		if len(due) == 0 {
			result.Skipped++
			continue
		}
		price, ok := prices[p.MarketRef]
		if !ok {
			m, err := l.markets.FetchMarket(ctx, p.MarketRef)
			if err != nil {
				logger.Warn("Snapshot skipped for prediction #%d: %v", p.ID, err)
				if errors.Is(err, models.ErrDataUnavailable) {
					result.Skipped++
				} else {
					result.Failed++
				}
				continue
			}
			price = m.YesPrice
			prices[p.MarketRef] = price
		}

		wrote := 0
		for _, h := range due {
			ok, err := l.store.InsertSnapshot(ctx, p.ID, h, price, now)
			if err != nil {
				logger.Error("Failed to write %s snapshot for prediction #%d: %v", h, p.ID, err)
				result.Failed++
				break
			}
			if ok {
				wrote++
			}
		}
		if wrote > 0 {
			logger.Debug("Prediction #%d: filled %d snapshot(s) at %.3f", p.ID, wrote, price)
			result.Processed++
		}
	}
	return result, nil
}

// ClassifyResolution maps a market to its terminal outcome. ok is false while
// the market is open or its final price is ambiguous.
func ClassifyResolution(m models.Market) (models.Resolution, bool) {
	if !m.Closed {
		return "", false
	}
	switch {
	case m.YesPrice >= ResolveYesAt:
		return models.ResolutionYes, true
	case m.YesPrice <= ResolveNoAt:
		return models.ResolutionNo, true
	}
	return "", false
}

// ComputeOutcome returns the hypothetical PnL of a $100 stake and whether the
// call was right. The entry price is the YES price for BUY_YES and its
// complement for BUY_NO. Non-directional signals carry no position.
func ComputeOutcome(signal models.Recommendation, yesPrice float64, res models.Resolution) (float64, bool) {
	one := decimal.NewFromInt(1)
	var entry decimal.Decimal
	var won bool
	switch signal {
	case models.BuyYes:
		entry = decimal.NewFromFloat(yesPrice)
		won = res == models.ResolutionYes
	case models.BuyNo:
		entry = one.Sub(decimal.NewFromFloat(yesPrice))
		won = res == models.ResolutionNo
	default:
		return 0, false
	}
	if !won {
		return stake.Neg().InexactFloat64(), false
	}
	if !entry.IsPositive() {
		return 0, true
	}
	return stake.Mul(one.Sub(entry)).Div(entry).Round(2).InexactFloat64(), true
}

// CheckResolutions resolves every ACTIVE prediction whose market has closed
// decisively. It returns the predictions resolved in this run.
func (l *Ledger) CheckResolutions(ctx context.Context) (models.JobResult, []models.Prediction, error) {
	result := models.JobResult{Job: "resolve"}
	active, err := l.store.ActivePredictions(ctx)
	if err != nil {
		return result, nil, err
	}

	var resolved []models.Prediction
	for _, p := range active {
		if err := ctx.Err(); err != nil {
			return result, resolved, err
		}
		m, err := l.markets.FetchMarket(ctx, p.MarketRef)
		if err != nil {
			logger.Warn("Resolution check skipped for prediction #%d: %v", p.ID, err)
			if errors.Is(err, models.ErrDataUnavailable) {
				result.Skipped++
			} else {
				result.Failed++
			}
			continue
		}
		res, ok := ClassifyResolution(m)
		if !ok {
			if m.Closed {
				logger.Debug("Market %s closed at ambiguous price %.3f, leaving active", m.Ref, m.YesPrice)
			}
			result.Skipped++
			continue
		}

		pnl, correct := ComputeOutcome(p.Signal, p.MarketPrice, res)
		at := l.now().UTC()
		changed, err := l.store.ResolvePrediction(ctx, p.ID, res, pnl, correct, at)
		if err != nil {
			logger.Error("Failed to resolve prediction #%d: %v", p.ID, err)
			result.Failed++
			continue
		}
		if !changed {
			result.Skipped++
			continue
		}
		p.Resolution, p.PnL, p.DirectionCorrect, p.ResolvedAt = res, pnl, correct, at
		resolved = append(resolved, p)
		result.Processed++
		logger.Info("Resolved prediction #%d %q -> %s | P&L: $%+.2f", p.ID, truncate(p.Question, 40), res, pnl)
	}
	return result, resolved, nil
}

// Revise overwrites the current signal of an ACTIVE prediction with d.
func (l *Ledger) Revise(ctx context.Context, id int64, d models.Decision, reason string) error {
	return l.store.RevisePrediction(ctx, id, storage.Revision{
		Signal:      d.Recommendation,
		Probability: d.AdjustedProbability,
		Edge:        d.Edge,
		Confidence:  d.Confidence,
		Reason:      reason,
		At:          l.now().UTC(),
	})
}

// Revision describes the outcome of a re-evaluation.
type Revision struct {
	Prediction models.Prediction
	Before     models.Recommendation
	Decision   models.Decision
	Revised    bool
}

// Reevaluate fetches a fresh quote, re-runs the evaluator and revises the
// prediction when the recommendation differs from the current signal.
func (l *Ledger) Reevaluate(ctx context.Context, p models.Prediction, reason string) (Revision, error) {
	out := Revision{Prediction: p, Before: p.Signal}
	if l.evaluator == nil {
		return out, errors.New("no evaluator configured")
	}
	m, err := l.markets.FetchMarket(ctx, p.MarketRef)
	if err != nil {
		return out, err
	}
	ev, err := l.evaluator.Evaluate(ctx, m, p.Category)
	if err != nil {
		return out, err
	}
	out.Decision = ev.Decision
	if ev.Decision.Recommendation == p.Signal {
		return out, nil
	}
	if err := l.Revise(ctx, p.ID, ev.Decision, reason); err != nil {
		return out, err
	}
	out.Revised = true
	logger.Info("Revised prediction #%d: %s -> %s (%s)", p.ID, p.Signal, ev.Decision.Recommendation, reason)
	return out, nil
}

// AttachCounterparty links a large external trade to an ACTIVE prediction.
func (l *Ledger) AttachCounterparty(ctx context.Context, id int64, cp models.Counterparty) error {
	return l.store.AttachCounterparty(ctx, id, cp)
}

// HandleCounterpartyExit marks the attached counter-party EXITED and
// re-evaluates the prediction. A repeated exit event for the same prediction
// is a no-op.
func (l *Ledger) HandleCounterpartyExit(ctx context.Context, id int64) (Revision, error) {
	p, err := l.store.GetPrediction(ctx, id)
	if err != nil {
		return Revision{}, err
	}
	if p.IsResolved() {
		return Revision{Prediction: *p, Before: p.Signal}, fmt.Errorf("prediction %d: %w", id, models.ErrNotActive)
	}
	changed, err := l.store.MarkCounterpartyExited(ctx, id)
	if err != nil {
		return Revision{}, err
	}
	if !changed {
		logger.Debug("Prediction #%d has no holding counterparty, ignoring exit", id)
		return Revision{Prediction: *p, Before: p.Signal}, nil
	}
	return l.Reevaluate(ctx, *p, "counterparty exited position")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
