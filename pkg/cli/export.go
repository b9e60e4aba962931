package cli

import (
	"github.com/spf13/cobra"

	"github.com/supporttools/GoSQLSync/pkg/export"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Databases []string
	StartOver bool
	Force     bool
	Family    string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every table of one or more databases",
		Long: `Export every table of the given databases to object storage.

Tables with an auto-increment column are exported incrementally from the
last recorded cursor; the rest are exported in full. Tables already in the
completion log are skipped unless --force is given.

Example:
  gosqlsync export --database BA_Billing
  gosqlsync export --database BA_Billing --start-over --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Databases, "database", nil, "database to export (repeatable, default: the host's includeDatabases)")
	cmd.Flags().BoolVar(&opts.StartOver, "start-over", false, "export every table in FULL mode")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "export tables already in the completion log")
	cmd.Flags().StringVar(&opts.Family, "family", "", "name of a separate completion log")

	return cmd
}

func runExport(cmd *cobra.Command, opts *ExportOptions) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, opts.RootOptions, opts.Family)
	if err != nil {
		return err
	}
	defer a.Close()

	databases, err := a.databases(opts.Databases)
	if err != nil {
		return err
	}

	report, err := a.orch.Run(ctx, export.CatalogExport{
		Databases: databases,
		StartOver: opts.StartOver,
		Force:     opts.Force,
	})
	if report != nil {
		printExportReport(cmd.OutOrStdout(), report)
	}
	return err
}
