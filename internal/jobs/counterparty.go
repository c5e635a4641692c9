package jobs

import (
	"context"
	"fmt"

	"github.com/oraclesentinel/oracle-sentinel/internal/ledger"
	"github.com/oraclesentinel/oracle-sentinel/internal/logger"
	"github.com/oraclesentinel/oracle-sentinel/internal/models"
	"github.com/oraclesentinel/oracle-sentinel/internal/telegram"
)

const exitReason = "counterparty exited position"

// Counterparties ingests large external trades linked to predictions.
type Counterparties struct {
	ledger   *ledger.Ledger
	notifier Notifier
}

// NewCounterparties creates the ingestion service. notifier may be nil.
func NewCounterparties(l *ledger.Ledger, notifier Notifier) *Counterparties {
	return &Counterparties{ledger: l, notifier: notifier}
}

// Attach links a HOLDING counter-party trade to an ACTIVE prediction.
func (c *Counterparties) Attach(ctx context.Context, id int64, cp models.Counterparty) error {
	if cp.Source == "" || cp.TradeID == "" {
		return fmt.Errorf("counterparty source and trade id are required")
	}
	if cp.Size <= 0 || cp.Price <= 0 || cp.Price >= 1 {
		return fmt.Errorf("counterparty size must be positive and price within (0, 1)")
	}
	cp.Status = models.CounterpartyHolding
	if err := c.ledger.AttachCounterparty(ctx, id, cp); err != nil {
		return err
	}
	logger.Info("Attached %s trade %s (size %.2f @ %.3f) to prediction #%d", cp.Source, cp.TradeID, cp.Size, cp.Price, id)
	return nil
}

// Exit records that the attached counter-party reversed its position. The
// prediction is re-evaluated and an alert goes out when the signal changes.
func (c *Counterparties) Exit(ctx context.Context, id int64) (ledger.Revision, error) {
	rev, err := c.ledger.HandleCounterpartyExit(ctx, id)
	if err != nil {
		return rev, err
	}
	if rev.Revised {
		notify(ctx, c.notifier, telegram.FormatRevision(rev.Prediction, rev.Before, rev.Decision, exitReason))
	}
	return rev, nil
}
