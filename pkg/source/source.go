// Package source defines the relational source the exporter reads from.
package source

import (
	"context"
	"errors"
	"net"
	"time"
)

// KeyRole is the key role a column plays in its table
type KeyRole string

const (
	// KeyNone marks a column that is not part of the primary key
	KeyNone KeyRole = ""
	// KeyPrimary marks a primary key column
	KeyPrimary KeyRole = "PRI"
)

// TableRef names one table of one database
type TableRef struct {
	Database string
	Table    string
}

func (r TableRef) String() string {
	return r.Database + "." + r.Table
}

// ColumnMeta describes one column of a table as reported by the source
type ColumnMeta struct {
	Name          string
	Type          string // full column type, e.g. "int(10) unsigned"
	Nullable      bool
	Key           KeyRole
	AutoIncrement bool
}

// Selection describes which rows of a table to read. A zero Selection
// reads the whole table.
type Selection struct {
	Database string
	Table    string

	// RangeColumn, when set, restricts rows to RangeColumn >= Lower AND RangeColumn < Upper.
	RangeColumn string
	Lower       uint64
	Upper       uint64

	// MatchColumn, when set, restricts rows to MatchColumn = MatchValue.
	MatchColumn string
	MatchValue  string
}

// PageSink receives query results. WriteHeader is called exactly once,
// before the first page.
type PageSink interface {
	WriteHeader(columns []string) error
	WritePage(rows [][]string) error
}

// Source is the subset of a relational database the exporter needs
type Source interface {
	// ListTables returns the base tables in database.
	ListTables(ctx context.Context, database string) ([]string, error)

	// DescribeColumns returns column metadata in ordinal order.
	DescribeColumns(ctx context.Context, database, table string) ([]ColumnMeta, error)

	// AutoIncrementCeiling returns the next value the table's auto-increment
	// counter will hand out. ok is false when the table has no counter.
	AutoIncrementCeiling(ctx context.Context, database, table string) (ceiling uint64, ok bool, err error)

	// UpdateTime returns when the table was last modified, if the source tracks it.
	UpdateTime(ctx context.Context, database, table string) (updated time.Time, ok bool, err error)

	// QueryPages streams the selected rows to sink in pages of at most
	// pageSize rows and returns the number of rows delivered.
	QueryPages(ctx context.Context, sel Selection, pageSize int, sink PageSink) (int64, error)

	Close() error
}

// Connector opens connections to one source host
type Connector interface {
	Connect(ctx context.Context) (Source, error)
}

// TransientError marks a failure of the connection itself (timeout, dropped
// link, server gone away) as opposed to a failure of the statement.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient source error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// MarkTransient wraps err as a TransientError. A nil err stays nil.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is a connection-level failure worth a
// reconnect and retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
