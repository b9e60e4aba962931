// Package extract decides how much of a table to export, pages it into a
// local CSV file, uploads the file and then advances the table's cursor.
//
// The cursor is only written after the upload is acknowledged, so a crash
// anywhere before that point re-exports the same range on the next run
// (at-least-once delivery).
package extract

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLSync/pkg/checkpoint"
	"github.com/supporttools/GoSQLSync/pkg/metrics"
	"github.com/supporttools/GoSQLSync/pkg/source"
	"github.com/supporttools/GoSQLSync/pkg/storage/local"
)

// Mode is how much of a table an export covers
type Mode int

const (
	// ModeFull exports every row
	ModeFull Mode = iota
	// ModeIncremental exports rows with Lower <= autoinc < Upper
	ModeIncremental
)

func (m Mode) String() string {
	if m == ModeIncremental {
		return "INCREMENTAL"
	}
	return "FULL"
}

// Plan is the export decision for one table
type Plan struct {
	Ref  source.TableRef
	Mode Mode

	// RangeColumn is the auto-increment column, empty when the table has none.
	RangeColumn string
	Lower       uint64
	Upper       uint64

	// Ceiling is the auto-increment counter observed before extraction.
	Ceiling    uint64
	HasCeiling bool

	// LastCursor is the stored cursor when Plan ran; HasCursor reports
	// whether one was stored.
	LastCursor uint64
	HasCursor  bool
}

// Regressed reports whether the counter is behind the stored cursor, as
// after a table was truncated and its counter reset.
func (p Plan) Regressed() bool {
	return p.HasCeiling && p.HasCursor && p.Ceiling < p.LastCursor
}

// FileName returns the local artifact name. Including the range makes a
// re-export of the same range produce the same object key.
func (p Plan) FileName() string {
	if p.Mode == ModeIncremental {
		return fmt.Sprintf("%s.%s.%d-%d.csv", p.Ref.Database, p.Ref.Table, p.Lower, p.Upper)
	}
	return fmt.Sprintf("%s.%s.full.csv", p.Ref.Database, p.Ref.Table)
}

// Selection returns the rows the plan covers
func (p Plan) Selection() source.Selection {
	sel := source.Selection{Database: p.Ref.Database, Table: p.Ref.Table}
	if p.Mode == ModeIncremental {
		sel.RangeColumn = p.RangeColumn
		sel.Lower = p.Lower
		sel.Upper = p.Upper
	}
	return sel
}

// nextCursor returns the cursor to store after a successful upload
func (p Plan) nextCursor() (uint64, bool) {
	switch {
	case p.Regressed():
		return 0, false
	case p.Mode == ModeIncremental:
		return p.Upper, true
	case p.HasCeiling:
		return p.Ceiling, true
	}
	return 0, false
}

// Result describes a finished export
type Result struct {
	Plan          Plan
	Rows          int64
	Path          string
	Key           string
	Uploaded      bool
	CursorWritten bool
}

// Uploader stores a local file and returns its object key once acknowledged
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// Options tune the extractor
type Options struct {
	BatchSize int
	// SkipEmpty suppresses the upload of an INCREMENTAL export with no rows.
	// The cursor still advances.
	SkipEmpty bool
}

// Extractor exports tables
type Extractor struct {
	cursors  checkpoint.CursorStore
	uploader Uploader
	work     *local.Client
	opts     Options
	logger   *logrus.Logger
}

// New creates an extractor
func New(cursors checkpoint.CursorStore, uploader Uploader, work *local.Client, opts Options, logger *logrus.Logger) *Extractor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	return &Extractor{cursors: cursors, uploader: uploader, work: work, opts: opts, logger: logger}
}

// Plan decides the export mode of ref. The ceiling is read here, before any
// rows are fetched, so rows inserted during the export land in the next run.
func (e *Extractor) Plan(ctx context.Context, src source.Source, ref source.TableRef, forceFull bool) (Plan, error) {
	plan := Plan{Ref: ref, Mode: ModeFull}

	columns, err := src.DescribeColumns(ctx, ref.Database, ref.Table)
	if err != nil {
		return plan, fmt.Errorf("failed to describe %s: %w", ref, err)
	}
	for _, c := range columns {
		if c.AutoIncrement {
			plan.RangeColumn = c.Name
			break
		}
	}
	if plan.RangeColumn == "" {
		return plan, nil
	}

	ceiling, ok, err := src.AutoIncrementCeiling(ctx, ref.Database, ref.Table)
	if err != nil {
		return plan, fmt.Errorf("failed to read auto-increment ceiling of %s: %w", ref, err)
	}
	if !ok {
		return plan, nil
	}
	plan.Ceiling, plan.HasCeiling = ceiling, true

	last, hasCursor, err := e.cursors.Read(ctx, ref)
	if err != nil {
		return plan, err
	}
	plan.LastCursor, plan.HasCursor = last, hasCursor

	if forceFull {
		return plan, nil
	}

	plan.Mode = ModeIncremental
	plan.Lower = last
	plan.Upper = ceiling
	return plan, nil
}

// Export runs plan against src. On success the artifact has been uploaded
// and, when the plan yields one, the new cursor stored.
func (e *Extractor) Export(ctx context.Context, src source.Source, plan Plan) (Result, error) {
	start := time.Now()
	ref := plan.Ref
	res := Result{Plan: plan}

	if plan.Regressed() {
		e.logger.Warnf("Auto-increment of %s (%d) is behind the stored cursor (%d), keeping the cursor",
			ref, plan.Ceiling, plan.LastCursor)
	}

	path, err := e.work.DataPath(ref.Database, plan.FileName())
	if err != nil {
		return res, err
	}
	res.Path = path

	e.logger.Infof("Exporting %s in %s mode (range %d-%d)", ref, plan.Mode, plan.Lower, plan.Upper)
	rows, err := writeCSV(ctx, src, plan, path, e.opts.BatchSize)
	res.Rows = rows
	if err != nil {
		metrics.TableExportCount.WithLabelValues(ref.Database, plan.Mode.String(), "error").Inc()
		return res, err
	}
	metrics.RowsExported.WithLabelValues(ref.Database, ref.Table).Add(float64(rows))
	e.logger.Infof("Wrote %s rows of %s to %s", humanize.Comma(rows), ref, path)

	switch {
	case plan.Mode == ModeIncremental && plan.Regressed():
		e.logger.Infof("Nothing to upload for %s", ref)
	case rows == 0 && plan.Mode == ModeIncremental && e.opts.SkipEmpty:
		e.logger.Infof("No new rows in %s, skipping upload", ref)
	default:
		key, err := e.uploader.Upload(ctx, path)
		if err != nil {
			metrics.TableExportCount.WithLabelValues(ref.Database, plan.Mode.String(), "error").Inc()
			return res, fmt.Errorf("failed to upload %s: %w", path, err)
		}
		res.Key, res.Uploaded = key, true
	}

	if cursor, ok := plan.nextCursor(); ok {
		if err := e.cursors.Write(ctx, ref, cursor); err != nil {
			metrics.TableExportCount.WithLabelValues(ref.Database, plan.Mode.String(), "error").Inc()
			return res, err
		}
		res.CursorWritten = true
		metrics.CursorPosition.WithLabelValues(ref.Database, ref.Table).Set(float64(cursor))
	}

	metrics.TableExportCount.WithLabelValues(ref.Database, plan.Mode.String(), "success").Inc()
	metrics.TableExportDuration.WithLabelValues(ref.Database, plan.Mode.String()).Observe(time.Since(start).Seconds())
	return res, nil
}

// writeCSV truncates path and streams the selected rows into it page by page
func writeCSV(ctx context.Context, src source.Source, plan Plan, path string, batchSize int) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}

	sink := NewCSVSink(f, true)
	rows, err := src.QueryPages(ctx, plan.Selection(), batchSize, sink)
	closeErr := f.Close()
	if err != nil {
		return rows, err
	}
	if closeErr != nil {
		return rows, fmt.Errorf("failed to close %s: %w", path, closeErr)
	}
	return rows, nil
}

// CSVSink writes query pages as CSV records, flushing after every page
type CSVSink struct {
	w           *csv.Writer
	writeHeader bool
	pages       int
}

// NewCSVSink wraps w. When writeHeader is false the column header is dropped,
// as when appending to an existing file.
func NewCSVSink(w io.Writer, writeHeader bool) *CSVSink {
	return &CSVSink{w: csv.NewWriter(w), writeHeader: writeHeader}
}

// WriteHeader writes the column names
func (s *CSVSink) WriteHeader(columns []string) error {
	if !s.writeHeader {
		return nil
	}
	if err := s.w.Write(columns); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

// WritePage appends rows
func (s *CSVSink) WritePage(rows [][]string) error {
	if err := s.w.WriteAll(rows); err != nil {
		return err
	}
	s.pages++
	return nil
}

// Pages returns the number of pages written
func (s *CSVSink) Pages() int {
	return s.pages
}
