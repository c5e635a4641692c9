package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oraclesentinel/oracle-sentinel/internal/agentconfig"
	"github.com/oraclesentinel/oracle-sentinel/internal/logger"
	"github.com/oraclesentinel/oracle-sentinel/internal/models"
)

// Estimator produces a probability estimate for a market. lessons is the
// rendered lessons block from the current configuration (may be empty).
type Estimator interface {
	Estimate(ctx context.Context, m models.Market, category string, lessons string) (models.Estimate, error)
}

// ConfigSource hands out the latest persisted configuration.
type ConfigSource interface {
	Reload() agentconfig.Snapshot
}

// Evaluator runs estimator, sanitising and Decide against a freshly reloaded
// configuration.
type Evaluator struct {
	estimator Estimator
	configs   ConfigSource
	now       func() time.Time
}

func NewEvaluator(estimator Estimator, configs ConfigSource) *Evaluator {
	return &Evaluator{estimator: estimator, configs: configs, now: time.Now}
}

// Evaluate returns the full audit trail for one market. Estimator failures
// are returned; malformed estimates are sanitised and flagged instead.
func (e *Evaluator) Evaluate(ctx context.Context, m models.Market, category string) (models.Evaluation, error) {
	cfg := e.configs.Reload()

	raw, err := e.estimator.Estimate(ctx, m, category, cfg.LessonsPrompt())
	if err != nil {
		return models.Evaluation{}, fmt.Errorf("failed to estimate %s: %w", m.Ref, err)
	}

	est, err := SanitizeEstimate(raw, m.YesPrice)
	malformed := false
	if err != nil {
		if !errors.Is(err, models.ErrMalformedEstimate) {
			return models.Evaluation{}, err
		}
		malformed = true
		logger.Warn("Estimate for %s sanitised: %v", m.Ref, err)
	}

	d := Decide(Input{
		Probability: est.Probability,
		Confidence:  est.Confidence,
		MarketPrice: m.YesPrice,
		Category:    category,
		Suggested:   est.Suggested,
	}, cfg)

	if d.Overridden {
		logger.Info("Recommendation override for %s: estimator said %s, decided %s (edge=%+.1f, conf=%s, price=%.1f%%, rule=%s)",
			m.Ref, est.Suggested, d.Recommendation, d.Edge, d.Confidence, m.YesPrice*100, d.Rule)
	}

	return models.Evaluation{
		Market:    m,
		Category:  category,
		Estimate:  est,
		Decision:  d,
		Malformed: malformed,
		Evaluated: e.now(),
	}, nil
}
