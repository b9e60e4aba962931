// Package cli implements the gosqlsync command line.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Host       string
	Debug      bool
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "gosqlsync",
		Short: "Export MySQL tables to object storage",
		Long: `GoSQLSync exports MySQL tables as CSV, incrementally where the table has an
auto-increment column, uploads them gzip-compressed to S3-compatible storage,
pulls them back down for loading and generates matching ClickHouse DDL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "path to the YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Host, "host", "", "configured host to run against (default: defaultHost)")
	cmd.PersistentFlags().BoolVarP(&opts.Debug, "debug", "d", false, "debug logging")

	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewSnapshotCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewScheduleCommand(opts))
	cmd.AddCommand(NewRecoverCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}
