// Package sourcetest provides an in-memory source.Source for tests.
package sourcetest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/supporttools/GoSQLSync/pkg/source"
)

// Operation names accepted by FailOnce
const (
	OpListTables = "ListTables"
	OpDescribe   = "DescribeColumns"
	OpCeiling    = "AutoIncrementCeiling"
	OpUpdateTime = "UpdateTime"
	OpQueryPages = "QueryPages"
)

// Table is one in-memory table. A nil Ceiling means the table has no
// auto-increment counter.
type Table struct {
	Columns   []source.ColumnMeta
	Rows      [][]string
	Ceiling   *uint64
	UpdatedAt time.Time
}

// Source is an in-memory source.Source
type Source struct {
	mu        sync.Mutex
	databases map[string]map[string]*Table
	failures  map[string][]error

	// Selections records every QueryPages call in order.
	Selections []source.Selection
	// PageReads counts pages handed to sinks across all queries.
	PageReads int
	Closed    int
}

// New returns an empty source
func New() *Source {
	return &Source{
		databases: make(map[string]map[string]*Table),
		failures:  make(map[string][]error),
	}
}

// AddTable registers table in database
func (s *Source) AddTable(database, name string, table *Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.databases[database] == nil {
		s.databases[database] = make(map[string]*Table)
	}
	s.databases[database][name] = table
}

// FailOnce makes the next call of op on table (or database, for
// ListTables) return err.
func (s *Source) FailOnce(op, name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := op + ":" + name
	s.failures[key] = append(s.failures[key], err)
}

func (s *Source) takeFailure(op, name string) error {
	key := op + ":" + name
	queue := s.failures[key]
	if len(queue) == 0 {
		return nil
	}
	s.failures[key] = queue[1:]
	return queue[0]
}

func (s *Source) table(database, name string) (*Table, error) {
	t, ok := s.databases[database][name]
	if !ok {
		return nil, fmt.Errorf("table %s.%s not found", database, name)
	}
	return t, nil
}

// ListTables returns the tables of database in name order
func (s *Source) ListTables(_ context.Context, database string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(OpListTables, database); err != nil {
		return nil, err
	}
	var names []string
	for name := range s.databases[database] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DescribeColumns returns the registered columns
func (s *Source) DescribeColumns(_ context.Context, database, table string) ([]source.ColumnMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(OpDescribe, table); err != nil {
		return nil, err
	}
	t, err := s.table(database, table)
	if err != nil {
		return nil, err
	}
	return append([]source.ColumnMeta(nil), t.Columns...), nil
}

// AutoIncrementCeiling returns the registered ceiling
func (s *Source) AutoIncrementCeiling(_ context.Context, database, table string) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(OpCeiling, table); err != nil {
		return 0, false, err
	}
	t, err := s.table(database, table)
	if err != nil {
		return 0, false, err
	}
	if t.Ceiling == nil {
		return 0, false, nil
	}
	return *t.Ceiling, true, nil
}

// UpdateTime returns the registered modification time
func (s *Source) UpdateTime(_ context.Context, database, table string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(OpUpdateTime, table); err != nil {
		return time.Time{}, false, err
	}
	t, err := s.table(database, table)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.UpdatedAt, !t.UpdatedAt.IsZero(), nil
}

// QueryPages filters the registered rows by sel and pages them into sink
func (s *Source) QueryPages(_ context.Context, sel source.Selection, pageSize int, sink source.PageSink) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Selections = append(s.Selections, sel)
	if err := s.takeFailure(OpQueryPages, sel.Table); err != nil {
		return 0, err
	}
	t, err := s.table(sel.Database, sel.Table)
	if err != nil {
		return 0, err
	}

	header := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c.Name
	}
	if err := sink.WriteHeader(header); err != nil {
		return 0, err
	}

	rangeIdx, matchIdx := -1, -1
	for i, name := range header {
		if sel.RangeColumn != "" && name == sel.RangeColumn {
			rangeIdx = i
		}
		if sel.MatchColumn != "" && name == sel.MatchColumn {
			matchIdx = i
		}
	}

	var total int64
	page := make([][]string, 0, pageSize)
	for _, row := range t.Rows {
		if rangeIdx >= 0 {
			v, err := strconv.ParseUint(row[rangeIdx], 10, 64)
			if err != nil || v < sel.Lower || v >= sel.Upper {
				continue
			}
		}
		if matchIdx >= 0 && row[matchIdx] != sel.MatchValue {
			continue
		}
		page = append(page, append([]string(nil), row...))
		if len(page) == pageSize {
			if err := sink.WritePage(page); err != nil {
				return total, err
			}
			s.PageReads++
			total += int64(len(page))
			page = make([][]string, 0, pageSize)
		}
	}
	if len(page) > 0 {
		if err := sink.WritePage(page); err != nil {
			return total, err
		}
		s.PageReads++
		total += int64(len(page))
	}
	return total, nil
}

// Close counts closes; the source stays usable so a reconnect can reuse it
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed++
	return nil
}

// Connector hands out the same in-memory source on every Connect
type Connector struct {
	Source   *Source
	Connects int
	failures []error
}

// FailConnect makes the next Connect return err
func (c *Connector) FailConnect(err error) {
	c.failures = append(c.failures, err)
}

// Connect returns the shared source
func (c *Connector) Connect(_ context.Context) (source.Source, error) {
	c.Connects++
	if len(c.failures) > 0 {
		err := c.failures[0]
		c.failures = c.failures[1:]
		return nil, err
	}
	return c.Source, nil
}

// Ceiling is a convenience for building Table.Ceiling
func Ceiling(v uint64) *uint64 {
	return &v
}

// SequentialRows builds n rows whose first column counts up from first
func SequentialRows(first, n uint64, extra ...string) [][]string {
	rows := make([][]string, 0, n)
	for i := uint64(0); i < n; i++ {
		row := append([]string{strconv.FormatUint(first+i, 10)}, extra...)
		rows = append(rows, row)
	}
	return rows
}
