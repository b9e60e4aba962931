package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/supporttools/GoSQLSync/pkg/scheduler"
)

// NewScheduleCommand creates the schedule command.
func NewScheduleCommand(rootOpts *RootOptions) *cobra.Command {
	var runNow bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run snapshot, export and retention jobs on their cron schedules",
		Long: `Run unattended: the snapshot export fires on schedules.snapshot, the
catalog export on schedules.export and local retention hourly when
local.retention is set. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, rootOpts, "")
			if err != nil {
				return err
			}
			defer a.Close()

			sched := scheduler.NewScheduler(a, a.cfg.Schedules, a.cfg.Local.Retention != "", a.logger)
			if err := sched.SetupJobs(); err != nil {
				return err
			}
			if runNow {
				if err := sched.RunOnce(scheduler.JobSnapshot); err != nil {
					a.logger.Errorf("Initial snapshot failed: %v", err)
				}
			}

			sched.Start()
			sched.WaitForever(ctx)
			a.logger.Info("Shutting down...")
			sched.Stop()
			return nil
		},
	}

	cmd.Flags().BoolVar(&runNow, "run-now", false, "run the snapshot job once before waiting for the schedule")

	return cmd
}

// signalContext returns a context cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
