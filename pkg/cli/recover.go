package cli

import (
	"github.com/spf13/cobra"

	"github.com/supporttools/GoSQLSync/pkg/checkpoint"
)

// NewRecoverCommand creates the recover-cursors command.
func NewRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	opts := checkpoint.RecoverOptions{}

	cmd := &cobra.Command{
		Use:   "recover-cursors",
		Short: "Rebuild export cursors from the objects in the bucket",
		Long: `Rebuild lost or stale export cursors from the incremental artifacts already
in the bucket. For each table the cursor is set to the highest upper bound
among its <database>.<table>.<lower>-<upper> objects. A stored cursor above
the recovered one is kept unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, rootOpts, "")
			if err != nil {
				return err
			}
			defer a.Close()

			recovered, err := checkpoint.Recover(ctx, a.syncer.Store(), a.cursors, opts, a.logger)
			if len(recovered) > 0 {
				printRecovered(cmd.OutOrStdout(), recovered, opts.DryRun)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&opts.Database, "database", "", "only recover cursors of this database")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report without writing cursors")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "lower stored cursors that are above the recovered value")

	return cmd
}
