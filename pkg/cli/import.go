package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Key     string
	Prefix  string
	Table   string
	Date    string
	Presign time.Duration
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Download exported objects into the import directory",
		Long: `Download and decompress exported objects into import.directory.

With --key a single object is fetched; a missing object is reported but is
not an error. With --prefix every object under the prefix is fetched. With
neither, the daily snapshot report for --date (default today) is fetched.
--presign prints a download URL instead of downloading.

Example:
  gosqlsync import --key BucketUtilization-2020-08-05
  gosqlsync import --prefix BA_Billing.
  gosqlsync import --key BA_Billing.Rates.full --presign 15m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Key, "key", "", "object key to download")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "download every object under this prefix")
	cmd.Flags().StringVar(&opts.Table, "table", "", "snapshot table (default: export.snapshot.table)")
	cmd.Flags().StringVar(&opts.Date, "date", "", "snapshot day as YYYY-MM-DD (default: today)")
	cmd.Flags().DurationVar(&opts.Presign, "presign", 0, "print a presigned URL for --key valid this long")
	cmd.MarkFlagsMutuallyExclusive("key", "prefix")

	return cmd
}

func runImport(cmd *cobra.Command, opts *ImportOptions) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, opts.RootOptions, "")
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()

	switch {
	case opts.Presign > 0:
		if opts.Key == "" {
			return errors.New("--presign needs --key")
		}
		url, err := a.importer.Presign(ctx, opts.Key, opts.Presign)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, url)
		return nil

	case opts.Prefix != "":
		fetched, err := a.importer.FetchAll(ctx, opts.Prefix)
		for _, key := range fetched {
			path, _ := a.importer.PathFor(key)
			fmt.Fprintln(out, path)
		}
		return err

	case opts.Key != "":
		found, err := a.importer.Fetch(ctx, opts.Key)
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintf(out, "Object %q does not exist\n", opts.Key)
			return nil
		}
		path, _ := a.importer.PathFor(opts.Key)
		fmt.Fprintln(out, path)
		return nil
	}

	table := opts.Table
	if table == "" {
		table = a.cfg.Export.Snapshot.Table
	}
	if table == "" {
		return errors.New("give --key, --prefix or a snapshot --table")
	}
	date := time.Now()
	if opts.Date != "" {
		if date, err = time.Parse("2006-01-02", opts.Date); err != nil {
			return fmt.Errorf("invalid --date %q: %w", opts.Date, err)
		}
	}
	found, err := a.importer.FetchDaily(ctx, table, date)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintln(out, "The daily report does not exist yet")
	}
	return nil
}
