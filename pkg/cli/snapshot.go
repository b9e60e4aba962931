package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// SnapshotOptions holds flags for the snapshot command. Unset flags fall
// back to export.snapshot in the config file.
type SnapshotOptions struct {
	*RootOptions
	Database            string
	Table               string
	DateColumn          string
	Date                string
	OnlyIfUpdatedWithin time.Duration
}

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Append one day's rows of a table to its daily report",
		Long: `Export the rows of one table whose date column equals midnight of the
given day, append them to reports/<table>-<day>.csv and upload the report.

Example:
  gosqlsync snapshot --table BucketUtilization --date-column EndTime
  gosqlsync snapshot --date 2020-08-05 --only-if-updated-within 10m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "database", "", "database holding the table")
	cmd.Flags().StringVar(&opts.Table, "table", "", "table to snapshot")
	cmd.Flags().StringVar(&opts.DateColumn, "date-column", "", "column matched against midnight of the day")
	cmd.Flags().StringVar(&opts.Date, "date", "", "day to export as YYYY-MM-DD (default: today)")
	cmd.Flags().DurationVar(&opts.OnlyIfUpdatedWithin, "only-if-updated-within", 0, "skip unless the table changed within this window")

	return cmd
}

func runSnapshot(cmd *cobra.Command, opts *SnapshotOptions) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, opts.RootOptions, "")
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.snapshotCommand()
	if err != nil {
		return err
	}
	if opts.Database != "" {
		snap.Database = opts.Database
	}
	if opts.Table != "" {
		snap.Table = opts.Table
	}
	if opts.DateColumn != "" {
		snap.DateColumn = opts.DateColumn
	}
	if opts.Date != "" {
		date, err := time.Parse("2006-01-02", opts.Date)
		if err != nil {
			return fmt.Errorf("invalid --date %q: %w", opts.Date, err)
		}
		snap.Date = date
	}
	if cmd.Flags().Changed("only-if-updated-within") {
		snap.OnlyIfUpdatedWithin = opts.OnlyIfUpdatedWithin
	}

	report, err := a.orch.Run(ctx, snap)
	if err != nil {
		return err
	}
	switch {
	case report.Snapshot == nil:
	case report.Snapshot.Skipped:
		fmt.Fprintln(cmd.OutOrStdout(), "Table not updated recently, nothing fetched")
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "Appended %d row(s) to %s, uploaded as %q\n",
			report.Snapshot.Rows, report.Snapshot.Path, report.Snapshot.Key)
	}
	return nil
}
