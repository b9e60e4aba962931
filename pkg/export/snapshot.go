package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/supporttools/GoSQLSync/pkg/extract"
	"github.com/supporttools/GoSQLSync/pkg/metrics"
	"github.com/supporttools/GoSQLSync/pkg/source"
)

// SnapshotResult describes a daily snapshot export
type SnapshotResult struct {
	Path    string
	Key     string
	Rows    int64
	Skipped bool

	day string
}

func (o *Orchestrator) exportSnapshot(ctx context.Context, src source.Source, cmd SnapshotExport, r *run) error {
	if cmd.Database == "" || cmd.Table == "" || cmd.DateColumn == "" {
		return fmt.Errorf("snapshot export needs a database, table and date column")
	}
	ref := source.TableRef{Database: cmd.Database, Table: cmd.Table}

	if r.snapshot == nil {
		staged, err := o.stageSnapshot(ctx, src, cmd, ref, r)
		if err != nil || staged == nil {
			return err
		}
		r.snapshot = staged
	} else {
		r.log.Infof("Rows for %s already appended to %q, retrying the upload", ref, r.snapshot.Path)
	}

	key, err := o.uploader.Upload(ctx, r.snapshot.Path)
	if err != nil {
		return err
	}

	r.snapshot.Key = key
	r.report.Snapshot = r.snapshot
	metrics.LastExportTimestamp.WithLabelValues(cmd.Database, cmd.Name()).SetToCurrentTime()
	r.log.Infof("Fetched data from MySQL for %s", r.snapshot.day)
	return nil
}

// stageSnapshot appends the day's rows to the report file. It returns nil
// when the table is stale and the export is skipped.
func (o *Orchestrator) stageSnapshot(ctx context.Context, src source.Source, cmd SnapshotExport, ref source.TableRef, r *run) (*SnapshotResult, error) {
	now := o.now()
	if cmd.OnlyIfUpdatedWithin > 0 {
		updated, ok, err := src.UpdateTime(ctx, cmd.Database, cmd.Table)
		if err != nil {
			return nil, err
		}
		if ok {
			elapsed := now.Sub(updated)
			r.log.Infof("%s last updated %s ago", ref, elapsed.Round(time.Second))
			if elapsed > cmd.OnlyIfUpdatedWithin {
				r.log.Info("Ran and did not fetch data")
				r.report.Snapshot = &SnapshotResult{Skipped: true}
				return nil, nil
			}
		}
	}

	date := cmd.Date
	if date.IsZero() {
		date = now
	}
	day := date.Format("2006-01-02")

	path, err := o.work.ReportPath(fmt.Sprintf("%s-%s.csv", cmd.Table, day))
	if err != nil {
		return nil, err
	}

	rows, err := o.appendSnapshot(ctx, src, source.Selection{
		Database:    cmd.Database,
		Table:       cmd.Table,
		MatchColumn: cmd.DateColumn,
		MatchValue:  day + " 00:00:00",
	}, path)
	if err != nil {
		return nil, err
	}
	metrics.RowsExported.WithLabelValues(cmd.Database, cmd.Table).Add(float64(rows))
	r.log.Infof("Wrote %d fetched rows to %q", rows, path)

	return &SnapshotResult{Path: path, Rows: rows, day: day}, nil
}

// appendSnapshot stages the selected rows in a temp file and appends them to
// path only once the query has finished, so a failed attempt leaves the
// report untouched. The header is written only when path is new.
func (o *Orchestrator) appendSnapshot(ctx context.Context, src source.Source, sel source.Selection, path string) (int64, error) {
	_, err := os.Stat(path)
	isNew := errors.Is(err, fs.ErrNotExist)

	staged, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, fmt.Errorf("failed to stage snapshot: %w", err)
	}
	defer func() {
		staged.Close()
		os.Remove(staged.Name())
	}()

	rows, err := src.QueryPages(ctx, sel, o.opts.BatchSize, extract.NewCSVSink(staged, isNew))
	if err != nil {
		return rows, err
	}
	if _, err := staged.Seek(0, io.SeekStart); err != nil {
		return rows, err
	}

	report, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return rows, fmt.Errorf("failed to open report %s: %w", path, err)
	}
	if _, err := io.Copy(report, staged); err != nil {
		report.Close()
		return rows, fmt.Errorf("failed to append to report %s: %w", path, err)
	}
	return rows, report.Close()
}
