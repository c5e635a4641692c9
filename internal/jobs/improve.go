package jobs

import (
	"context"

	"github.com/oraclesentinel/oracle-sentinel/internal/improvement"
	"github.com/oraclesentinel/oracle-sentinel/internal/logger"
	"github.com/oraclesentinel/oracle-sentinel/internal/telegram"
)

// Improve runs the self-improvement cycle.
type Improve struct {
	cycle    *improvement.Cycle
	apply    bool
	notifier Notifier
}

// NewImprove creates the job. With apply false the cycle stops after
// persisting proposals.
func NewImprove(cycle *improvement.Cycle, apply bool, notifier Notifier) *Improve {
	return &Improve{cycle: cycle, apply: apply, notifier: notifier}
}

func (i *Improve) Name() string { return "improve" }

func (i *Improve) Run(ctx context.Context) error {
	_, err := i.Execute(ctx)
	return err
}

func (i *Improve) Execute(ctx context.Context) (improvement.Report, error) {
	rep, err := i.cycle.Run(ctx, i.apply)
	if err != nil {
		return rep, err
	}
	logger.Info("Improvement cycle finished:\n%s", rep)
	if len(rep.Proposals) > 0 || rep.Apply.Committed {
		notify(ctx, i.notifier, telegram.FormatCycle(rep.String()))
	}
	return rep, nil
}
