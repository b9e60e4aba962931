package cli

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/gosuri/uitable"

	"github.com/supporttools/GoSQLSync/pkg/checkpoint"
	"github.com/supporttools/GoSQLSync/pkg/export"
)

func addHeader(table *uitable.Table, cols ...string) {
	headerfmt := color.New(color.FgGreen, color.Underline).SprintFunc()
	row := make([]interface{}, len(cols))
	for i, c := range cols {
		row[i] = headerfmt(c)
	}
	table.AddRow(row...)
}

// printExportReport writes one row per exported or failed table
func printExportReport(w io.Writer, report *export.Report) {
	table := uitable.New()
	table.MaxColWidth = 60
	addHeader(table, "TABLE", "MODE", "RANGE", "ROWS", "OBJECT", "STATUS")

	var rows int64
	for _, res := range report.Exported {
		plan := res.Plan
		rng := "-"
		if plan.RangeColumn != "" {
			rng = fmt.Sprintf("[%d, %d)", plan.Lower, plan.Upper)
		}
		status := "DONE"
		if !res.Uploaded {
			status = "NOT UPLOADED"
		}
		table.AddRow(plan.Ref.String(), plan.Mode.String(), rng, humanize.Comma(res.Rows), res.Key, status)
		rows += res.Rows
	}
	for _, failed := range report.Failed {
		table.AddRow(failed.Ref.String(), "-", "-", "-", "-", color.RedString("FAILED"))
	}

	if len(report.Exported)+len(report.Failed) > 0 {
		fmt.Fprintln(w, table)
	}
	fmt.Fprintf(w, "Exported %d table(s), %s rows, %d failed, in %d attempt(s)\n",
		len(report.Exported), humanize.Comma(rows), len(report.Failed), report.Attempts)
}

// printRecovered writes one row per table found in the bucket
func printRecovered(w io.Writer, recovered []checkpoint.RecoveredCursor, dryRun bool) {
	table := uitable.New()
	addHeader(table, "TABLE", "OBJECTS", "PREVIOUS", "RECOVERED", "STATUS")
	for _, rc := range recovered {
		previous := "-"
		if rc.HadPrevious {
			previous = fmt.Sprint(rc.Previous)
		}
		status := "UNCHANGED"
		switch {
		case rc.Written:
			status = "WRITTEN"
		case dryRun:
			status = "DRY RUN"
		}
		table.AddRow(rc.Ref.String(), rc.Objects, previous, rc.Position, status)
	}
	fmt.Fprintln(w, table)
}
