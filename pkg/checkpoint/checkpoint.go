// Package checkpoint persists per-table export progress: the last exported
// auto-increment cursor and the log of tables completed in an export family.
package checkpoint

import (
	"context"

	"github.com/supporttools/GoSQLSync/pkg/source"
)

// CursorStore persists the auto-increment high-water mark per table.
// Write must only be called once the artifact covering everything below
// the cursor has been uploaded.
type CursorStore interface {
	// Read returns the stored cursor. ok is false when none is stored.
	Read(ctx context.Context, ref source.TableRef) (cursor uint64, ok bool, err error)
	Write(ctx context.Context, ref source.TableRef, cursor uint64) error
}

// CompletionLog records which tables finished exporting
type CompletionLog interface {
	// Completed returns the set of table names already logged for database.
	Completed(ctx context.Context, database string) (map[string]bool, error)
	Append(ctx context.Context, ref source.TableRef) error
}
