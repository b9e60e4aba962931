package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/supporttools/GoSQLSync/pkg/catalog"
	"github.com/supporttools/GoSQLSync/pkg/checkpoint"
	"github.com/supporttools/GoSQLSync/pkg/config"
	"github.com/supporttools/GoSQLSync/pkg/export"
	"github.com/supporttools/GoSQLSync/pkg/extract"
	"github.com/supporttools/GoSQLSync/pkg/importer"
	"github.com/supporttools/GoSQLSync/pkg/logging"
	"github.com/supporttools/GoSQLSync/pkg/metrics"
	"github.com/supporttools/GoSQLSync/pkg/source/mysql"
	"github.com/supporttools/GoSQLSync/pkg/storage"
	"github.com/supporttools/GoSQLSync/pkg/storage/local"
	"github.com/supporttools/GoSQLSync/pkg/storage/minio"
	"github.com/supporttools/GoSQLSync/pkg/storage/s3"
	"github.com/supporttools/GoSQLSync/pkg/storage/transfer"
)

// app holds the components one command runs with
type app struct {
	cfg    *config.AppConfig
	host   config.HostConfig
	logger *logrus.Logger

	work        *local.Client
	syncer      *transfer.Syncer
	cursors     checkpoint.CursorStore
	completions checkpoint.CompletionLog
	orch        *export.Orchestrator
	importer    *importer.Importer

	closers []io.Closer
}

// newApp loads configuration and wires every component. family selects a
// separate completion log so independent exports of one database do not
// skip each other's tables.
func newApp(ctx context.Context, opts *RootOptions, family string) (*app, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if opts.Debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	logger, runLog, err := logging.New(cfg.Local.WorkDirectory, cfg.Debug)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{runLog}}
	if cfg.Debug {
		cfg.Display(logger)
	}

	if err := a.wire(ctx, opts.Host, family); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Metrics.Port != "" {
		go metrics.StartMetricsServer(cfg.Metrics.Port, logger)
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, hostName, family string) error {
	host, err := a.cfg.Host(hostName)
	if err != nil {
		return err
	}
	a.host = host

	a.work, err = local.NewClient(a.cfg.Local, a.logger)
	if err != nil {
		return err
	}

	store, err := newObjectStore(ctx, a.cfg.S3, a.logger)
	if err != nil {
		return err
	}
	a.syncer = transfer.NewSyncer(store, a.cfg.S3.ContentType, a.logger)

	if err := a.openCheckpoints(family); err != nil {
		return err
	}

	initial, maxInterval, err := a.cfg.RetryIntervals()
	if err != nil {
		return err
	}

	cat := catalog.New(a.cfg.Export.ExcludeTables, a.completions, a.work, a.logger)
	ext := extract.New(a.cursors, a.syncer, a.work, extract.Options{
		BatchSize: a.cfg.Export.BatchSize,
		SkipEmpty: a.cfg.Export.SkipEmpty,
	}, a.logger)
	a.orch = export.New(mysql.NewConnector(host, a.logger), cat, ext, a.completions, a.syncer, a.work, export.Options{
		BatchSize: a.cfg.Export.BatchSize,
		Retry: export.RetryPolicy{
			MaxAttempts:     a.cfg.Retry.MaxAttempts,
			InitialInterval: initial,
			MaxInterval:     maxInterval,
		},
	}, a.logger)

	a.importer = importer.New(a.syncer, a.cfg.Import, a.logger)
	return nil
}

// openCheckpoints picks the metadata database when enabled and the work
// directory files otherwise.
func (a *app) openCheckpoints(family string) error {
	if !a.cfg.MetadataDB.Enabled {
		a.cursors = checkpoint.NewFileCursorStore(a.work.Root(), a.logger)
		a.completions = checkpoint.NewFileCompletionLog(a.work.Root(), family, a.logger)
		return nil
	}

	db, err := checkpoint.Connect(a.cfg.MetadataDB, a.cfg.Debug, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to metadata database: %w", err)
	}
	a.closers = append(a.closers, gormCloser{db})
	a.cursors = checkpoint.NewDBCursorStore(db)
	a.completions = checkpoint.NewDBCompletionLog(db, family)
	return nil
}

// newObjectStore builds the configured storage backend
func newObjectStore(ctx context.Context, cfg config.S3Config, logger *logrus.Logger) (storage.ObjectStore, error) {
	switch cfg.Backend {
	case "minio":
		return minio.NewClient(cfg, logger)
	case "s3", "":
		return s3.NewClient(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Close releases the run log and database handles
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}

// databases returns the databases to export: the given ones, or the
// host's configured list.
func (a *app) databases(given []string) ([]string, error) {
	if len(given) > 0 {
		return given, nil
	}
	if len(a.host.IncludeDatabases) == 0 {
		return nil, fmt.Errorf("no databases given and host %s has no includeDatabases", a.host.Name)
	}
	return a.host.IncludeDatabases, nil
}

// snapshotCommand builds the snapshot command from configuration
func (a *app) snapshotCommand() (export.SnapshotExport, error) {
	snap := a.cfg.Export.Snapshot
	cmd := export.SnapshotExport{
		Database:   snap.Database,
		Table:      snap.Table,
		DateColumn: snap.DateColumn,
	}
	if cmd.Database == "" && len(a.host.IncludeDatabases) > 0 {
		cmd.Database = a.host.IncludeDatabases[0]
	}
	if snap.DateOverride != "" {
		date, err := time.Parse("2006-01-02", snap.DateOverride)
		if err != nil {
			return cmd, fmt.Errorf("invalid snapshot date override: %w", err)
		}
		cmd.Date = date
	}
	if snap.OnlyIfUpdatedWithin != "" {
		d, err := time.ParseDuration(snap.OnlyIfUpdatedWithin)
		if err != nil {
			return cmd, fmt.Errorf("invalid snapshot staleness window: %w", err)
		}
		cmd.OnlyIfUpdatedWithin = d
	}
	return cmd, nil
}

// RunSnapshot runs the configured snapshot export
func (a *app) RunSnapshot(ctx context.Context) error {
	cmd, err := a.snapshotCommand()
	if err != nil {
		return err
	}
	_, err = a.orch.Run(ctx, cmd)
	return err
}

// RunExport runs a catalog export of the host's databases. Every scheduled
// run walks all tables; the cursors limit each table to its new rows.
func (a *app) RunExport(ctx context.Context) error {
	databases, err := a.databases(nil)
	if err != nil {
		return err
	}
	_, err = a.orch.Run(ctx, export.CatalogExport{Databases: databases, Force: true})
	return err
}

// EnforceRetention prunes old local exports
func (a *app) EnforceRetention() error {
	return a.work.EnforceRetention()
}

type gormCloser struct {
	db *gorm.DB
}

func (c gormCloser) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
