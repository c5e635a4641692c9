package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/oraclesentinel/oracle-sentinel/internal/jobs"
	"github.com/oraclesentinel/oracle-sentinel/internal/logger"
	"github.com/oraclesentinel/oracle-sentinel/internal/models"
	"github.com/oraclesentinel/oracle-sentinel/internal/telegram"
	"github.com/oraclesentinel/oracle-sentinel/internal/worker"
)

const shutdownTimeout = 30 * time.Second

// withApp loads configuration, wires the app and runs fn under a context
// cancelled on SIGINT or SIGTERM. Failures are logged and never turned into a
// non-zero exit status, so cron and systemd timers keep their schedule.
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Failed to load config: %v", err))
		return nil
	}
	a, err := newApp(cfg)
	if err != nil {
		logger.Error("Failed to start: %v", err)
		return nil
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := fn(ctx, a); err != nil {
		logger.Error("%v", err)
	}
	return nil
}

// runOnce runs a single job under its cross-process lock. Job failures are
// logged; the job itself logs its result counts.
func runOnce(ctx context.Context, a *app, w worker.Worker) error {
	ran, err := jobs.RunExclusive(ctx, w, a.cfg.Jobs.LockDir)
	if err != nil {
		logger.Error("Job %s failed: %v", w.Name(), err)
		return nil
	}
	if !ran {
		fmt.Fprintf(os.Stderr, "%s is already running, skipped\n", w.Name())
	}
	return nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every job periodically until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			tracker := worker.NewFailureTracker(a.alerter)
			group := worker.NewWorkerGroup(ctx, tracker.Observe)

			dir := a.cfg.Jobs.LockDir
			group.Add(jobs.WithLock(a.scanJob(), dir), a.cfg.Jobs.ScanInterval)
			group.Add(jobs.WithLock(a.snapshotJob(), dir), a.cfg.Jobs.SnapshotInterval)
			group.Add(jobs.WithLock(a.resolveJob(), dir), a.cfg.Jobs.ResolveInterval)
			group.Add(jobs.WithLock(a.reanalyzeJob(), dir), a.cfg.Jobs.ReanalyzeInterval)
			group.Add(jobs.WithLock(a.improveJob(a.cfg.Jobs.AutoApply), dir), a.cfg.Jobs.ImproveInterval)

			if a.telegram != nil {
				a.telegram.SetReportHandler(func(ctx context.Context) (string, error) {
					return a.reportText(ctx), nil
				})
				a.telegram.ListenForCommands(ctx)
			}

			logger.Info("Starting sentinel (scan every %v, resolve every %v, improve every %v, auto-apply: %t)",
				a.cfg.Jobs.ScanInterval, a.cfg.Jobs.ResolveInterval, a.cfg.Jobs.ImproveInterval, a.cfg.Jobs.AutoApply)
			group.Start()

			<-ctx.Done()
			logger.Info("Shutdown signal received, cleaning up...")
			group.Stop(shutdownTimeout)
			logger.Info("Service stopped")
			return nil
		})
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the performance report",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), a.reportText(ctx))
			return err
		})
	},
}

var cycleApply bool

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run the self-improvement cycle (post-mortem, aggregate, diagnose)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			return runOnce(ctx, a, a.improveJob(cycleApply))
		})
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply pending improvement proposals to the agent config",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			res, err := a.cycle.Applier().Apply(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.JobResult.String())
			for _, o := range res.Outcomes {
				status := color.GreenString(string(o.Status))
				if o.Reason != "" {
					status = color.RedString("%s (%s)", o.Status, o.Reason)
				}
				fmt.Fprintf(out, "  %s  %s\n", o.ID, status)
			}
			if res.Committed {
				fmt.Fprintf(out, "Agent config is now v%d\n", res.Config.Version)
				if a.notifier != nil {
					if err := a.notifier.Notify(ctx, telegram.FormatCycle(res.JobResult.String())); err != nil {
						logger.Warn("Notification failed: %v", err)
					}
				}
			}
			return nil
		})
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan top markets and record new signals",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			return runOnce(ctx, a, a.scanJob())
		})
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Record due price snapshots for active predictions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			return runOnce(ctx, a, a.snapshotJob())
		})
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Settle predictions whose markets have closed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			return runOnce(ctx, a, a.resolveJob())
		})
	},
}

var reanalyzeCmd = &cobra.Command{
	Use:   "reanalyze",
	Short: "Re-evaluate predictions about to close",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			return runOnce(ctx, a, a.reanalyzeJob())
		})
	},
}

var attachFlags struct {
	source  string
	tradeID string
	size    float64
	price   float64
}

var attachCmd = &cobra.Command{
	Use:   "attach <prediction-id>",
	Short: "Attach a large counterparty trade to an active prediction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid prediction id %q: %w", args[0], err)
		}
		return withApp(func(ctx context.Context, a *app) error {
			cp := models.Counterparty{
				Source:  attachFlags.source,
				TradeID: attachFlags.tradeID,
				Size:    attachFlags.size,
				Price:   attachFlags.price,
			}
			if err := a.counterparties().Attach(ctx, id, cp); err != nil {
				return fmt.Errorf("failed to attach counterparty to #%d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Prediction #%d now tracks %s trade %s\n", id, cp.Source, cp.TradeID)
			return nil
		})
	},
}

var exitCmd = &cobra.Command{
	Use:   "exit <prediction-id>",
	Short: "Record that the counterparty on a prediction exited its position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid prediction id %q: %w", args[0], err)
		}
		return withApp(func(ctx context.Context, a *app) error {
			rev, err := a.counterparties().Exit(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to handle counterparty exit for #%d: %w", id, err)
			}
			out := cmd.OutOrStdout()
			if !rev.Revised {
				fmt.Fprintf(out, "Prediction #%d unchanged (%s)\n", id, rev.Before)
				return nil
			}
			fmt.Fprintf(out, "Prediction #%d revised %s -> %s\n", id, rev.Before, rev.Decision.Recommendation)
			return nil
		})
	},
}

func init() {
	attachCmd.Flags().StringVar(&attachFlags.source, "source", "whale_tracker", "Where the trade was observed")
	attachCmd.Flags().StringVar(&attachFlags.tradeID, "trade-id", "", "External trade identifier")
	attachCmd.Flags().Float64Var(&attachFlags.size, "size", 0, "Trade size in USDC")
	attachCmd.Flags().Float64Var(&attachFlags.price, "price", 0, "Trade price of the chosen side")
	_ = attachCmd.MarkFlagRequired("trade-id")

	cycleCmd.Flags().BoolVar(&cycleApply, "apply", false, "Apply the resulting proposals to the agent config")
}
