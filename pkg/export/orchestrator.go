// Package export drives table exports: it connects to the source, walks
// the catalog, runs the extractor per table and retries the whole command
// when the connection fails.
package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLSync/pkg/catalog"
	"github.com/supporttools/GoSQLSync/pkg/checkpoint"
	"github.com/supporttools/GoSQLSync/pkg/extract"
	"github.com/supporttools/GoSQLSync/pkg/metrics"
	"github.com/supporttools/GoSQLSync/pkg/source"
	"github.com/supporttools/GoSQLSync/pkg/storage/local"
)

// RetryPolicy bounds the reconnect-and-retry loop
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Options configures an Orchestrator
type Options struct {
	BatchSize int
	Retry     RetryPolicy
}

// Orchestrator runs export commands against one source host
type Orchestrator struct {
	connector   source.Connector
	catalog     *catalog.Catalog
	extractor   *extract.Extractor
	completions checkpoint.CompletionLog
	uploader    extract.Uploader
	work        *local.Client
	opts        Options
	logger      *logrus.Logger

	now func() time.Time
}

// New creates an orchestrator
func New(
	connector source.Connector,
	cat *catalog.Catalog,
	extractor *extract.Extractor,
	completions checkpoint.CompletionLog,
	uploader extract.Uploader,
	work *local.Client,
	opts Options,
	logger *logrus.Logger,
) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 1
	}
	return &Orchestrator{
		connector:   connector,
		catalog:     cat,
		extractor:   extractor,
		completions: completions,
		uploader:    uploader,
		work:        work,
		opts:        opts,
		logger:      logger,
		now:         time.Now,
	}
}

// Report summarises a finished command
type Report struct {
	RunID     string
	StartedAt time.Time
	Attempts  int

	Exported []extract.Result
	Failed   TableErrors

	Snapshot *SnapshotResult
	Schemas  []string
}

// run carries state that survives retries of one command
type run struct {
	report *Report
	log    *logrus.Entry
	// completed holds tables already appended to the completion log in this
	// run, so a retried pass never appends them twice.
	completed map[source.TableRef]bool
	failed    map[source.TableRef]bool
	// snapshot is set once the snapshot rows are in the report file; later
	// attempts only retry the upload.
	snapshot *SnapshotResult
}

func (r *run) fail(ref source.TableRef, err error) {
	r.failed[ref] = true
	r.report.Failed = append(r.report.Failed, TableError{Ref: ref, Err: err})
	r.log.Errorf("Export of %s failed, continuing with the next table: %v", ref, err)
}

// Run executes cmd. Transient source failures reconnect and rerun the whole
// command with exponential backoff, up to the retry policy's attempt cap.
// Tables that fail for other reasons are collected and returned as
// TableErrors once every other table has been processed.
func (o *Orchestrator) Run(ctx context.Context, cmd Command) (*Report, error) {
	r := &run{
		report: &Report{
			RunID:     uuid.New().String(),
			StartedAt: o.now(),
		},
		completed: make(map[source.TableRef]bool),
		failed:    make(map[source.TableRef]bool),
	}
	r.log = o.logger.WithFields(logrus.Fields{"run": r.report.RunID, "command": cmd.Name()})
	r.log.Infof("Starting %s", cmd.Name())

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.opts.Retry.InitialInterval
	b.MaxInterval = o.opts.Retry.MaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(o.opts.Retry.MaxAttempts-1)), ctx)

	operation := func() error {
		r.report.Attempts++
		err := o.attempt(ctx, cmd, r)
		if err == nil || source.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		metrics.RetryCount.WithLabelValues(cmd.Name()).Inc()
		r.log.Warnf("Attempt %d/%d failed with a connection error, reconnecting in %s: %v",
			r.report.Attempts, o.opts.Retry.MaxAttempts, wait, err)
	}

	err := backoff.RetryNotify(operation, policy, notify)
	if err != nil {
		if source.IsTransient(err) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, r.report.Attempts, err)
		}
		r.log.Errorf("%s aborted: %v", cmd.Name(), err)
		return r.report, err
	}

	if len(r.report.Failed) > 0 {
		return r.report, r.report.Failed
	}
	r.log.Infof("Finished %s in %s", cmd.Name(), o.now().Sub(r.report.StartedAt).Round(time.Millisecond))
	return r.report, nil
}

// attempt connects and runs cmd once
func (o *Orchestrator) attempt(ctx context.Context, cmd Command, r *run) error {
	src, err := o.connector.Connect(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	switch c := cmd.(type) {
	case CatalogExport:
		return o.exportCatalog(ctx, src, c, r)
	case SchemaExport:
		return o.exportSchemas(ctx, src, c, r)
	case SnapshotExport:
		return o.exportSnapshot(ctx, src, c, r)
	default:
		return fmt.Errorf("unknown command %T", cmd)
	}
}

func (o *Orchestrator) exportCatalog(ctx context.Context, src source.Source, cmd CatalogExport, r *run) error {
	if len(cmd.Databases) == 0 {
		return errors.New("no databases to export")
	}

	for _, database := range cmd.Databases {
		refs, err := o.catalog.ListTables(ctx, src, database, cmd.Force)
		if err != nil {
			return err
		}

		for _, ref := range refs {
			if r.completed[ref] || r.failed[ref] {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			res, err := o.exportTable(ctx, src, ref, cmd.StartOver)
			if err != nil {
				if source.IsTransient(err) {
					return err
				}
				r.fail(ref, err)
				continue
			}

			if err := o.completions.Append(ctx, ref); err != nil {
				r.fail(ref, err)
				continue
			}
			r.completed[ref] = true
			r.report.Exported = append(r.report.Exported, res)
			r.log.Infof("Completed %s (%s, %d rows)", ref, res.Plan.Mode, res.Rows)
		}
		metrics.LastExportTimestamp.WithLabelValues(database, cmd.Name()).SetToCurrentTime()
	}
	return nil
}

func (o *Orchestrator) exportTable(ctx context.Context, src source.Source, ref source.TableRef, forceFull bool) (extract.Result, error) {
	plan, err := o.extractor.Plan(ctx, src, ref, forceFull)
	if err != nil {
		return extract.Result{}, err
	}
	if plan.RangeColumn == "" {
		o.logger.Infof("%s has no auto-increment column, exporting in FULL mode", ref)
	}
	return o.extractor.Export(ctx, src, plan)
}
