package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/supporttools/GoSQLSync/pkg/export"
)

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	var database string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Generate ClickHouse DDL for every table of a database",
		Long: `Generate a ClickHouse CREATE TABLE statement for every table in the
database's manifest and write it to schemas/<database>/<table>.sql in the
work directory. Columns whose MySQL type has no mapping are left as
comments to be finished by hand.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, rootOpts, "")
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.orch.Run(ctx, export.SchemaExport{Database: database})
			if report != nil {
				for _, path := range report.Schemas {
					fmt.Fprintln(cmd.OutOrStdout(), path)
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&database, "database", "", "database to describe (required)")
	_ = cmd.MarkFlagRequired("database")

	return cmd
}
