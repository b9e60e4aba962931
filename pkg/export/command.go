package export

import "time"

// Command is one of CatalogExport, SchemaExport or SnapshotExport
type Command interface {
	Name() string
}

// CatalogExport exports every exportable table of each database
type CatalogExport struct {
	Databases []string
	// StartOver forces FULL mode for every table.
	StartOver bool
	// Force ignores the completion log.
	Force bool
}

// Name returns the command name used in logs and metrics
func (CatalogExport) Name() string { return "export" }

// SchemaExport writes ClickHouse DDL for every table in the manifest of Database
type SchemaExport struct {
	Database string
}

// Name returns the command name used in logs and metrics
func (SchemaExport) Name() string { return "schema" }

// SnapshotExport exports the rows of one table whose DateColumn equals
// midnight of Date, appending them to that day's report file.
type SnapshotExport struct {
	Database   string
	Table      string
	DateColumn string
	// Date defaults to today.
	Date time.Time
	// OnlyIfUpdatedWithin skips the export when the table was last modified
	// longer ago than this. Zero always exports.
	OnlyIfUpdatedWithin time.Duration
}

// Name returns the command name used in logs and metrics
func (SnapshotExport) Name() string { return "snapshot" }
