// Package mysql provides the MySQL implementation of the export source
package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLSync/pkg/config"
	"github.com/supporttools/GoSQLSync/pkg/source"
)

// MySQL server error codes that mean the connection, not the statement, failed
var transientErrorCodes = map[uint16]bool{
	1040: true, // too many connections
	1053: true, // server shutdown in progress
	1205: true, // lock wait timeout
	2006: true, // server has gone away
	2013: true, // lost connection during query
	3024: true, // max execution time exceeded
}

// Connector opens MySQL connections to a configured host
type Connector struct {
	host   config.HostConfig
	logger *logrus.Logger
}

// NewConnector creates a connector for host
func NewConnector(host config.HostConfig, logger *logrus.Logger) *Connector {
	return &Connector{host: host, logger: logger}
}

// DSN builds the driver connection string for the host
func (c *Connector) DSN() (string, error) {
	connectTimeout, err := time.ParseDuration(c.host.ConnectTimeout)
	if err != nil {
		return "", fmt.Errorf("invalid connect timeout for host %s: %w", c.host.Name, err)
	}
	readTimeout, err := time.ParseDuration(c.host.ReadTimeout)
	if err != nil {
		return "", fmt.Errorf("invalid read timeout for host %s: %w", c.host.Name, err)
	}

	cfg := mysql.NewConfig()
	cfg.User = c.host.Username
	cfg.Passwd = c.host.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.host.Host, c.host.Port)
	cfg.ParseTime = true
	cfg.Timeout = connectTimeout
	cfg.ReadTimeout = readTimeout
	return cfg.FormatDSN(), nil
}

// Connect establishes a connection to the host and verifies it
func (c *Connector) Connect(ctx context.Context) (source.Source, error) {
	dsn, err := c.DSN()
	if err != nil {
		return nil, err
	}

	c.logger.Infof("Connecting to %s (%s:%s)...", c.host.Name, c.host.Host, c.host.Port)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection to %s: %w", c.host.Host, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, classify(err, fmt.Sprintf("failed to ping MySQL server at %s:%s", c.host.Host, c.host.Port))
	}

	c.logger.Info("Connection established.")
	return New(db, c.logger), nil
}

// Source reads tables from a MySQL server
type Source struct {
	db     *sql.DB
	logger *logrus.Logger
}

// New wraps an open database handle
func New(db *sql.DB, logger *logrus.Logger) *Source {
	return &Source{db: db, logger: logger}
}

// Close closes the database connection
func (s *Source) Close() error {
	if s.db != nil {
		s.logger.Info("Closed connection to database.")
		return s.db.Close()
	}
	return nil
}

// ListTables returns the base tables of database in name order
func (s *Source) ListTables(ctx context.Context, database string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT table_name FROM information_schema.tables "+
			"WHERE table_schema = ? AND table_type = 'BASE TABLE' ORDER BY table_name", database)
	if err != nil {
		return nil, classify(err, "failed to list tables")
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, classify(err, "failed to scan table name")
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "error iterating table rows")
	}
	return tables, nil
}

// DescribeColumns returns column metadata for table in ordinal order
func (s *Source) DescribeColumns(ctx context.Context, database, table string) ([]source.ColumnMeta, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT column_name, column_type, is_nullable, column_key, extra FROM information_schema.columns "+
			"WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position", database, table)
	if err != nil {
		return nil, classify(err, "failed to describe "+table)
	}
	defer rows.Close()

	var columns []source.ColumnMeta
	for rows.Next() {
		var name, columnType, nullable, key, extra string
		if err := rows.Scan(&name, &columnType, &nullable, &key, &extra); err != nil {
			return nil, classify(err, "failed to scan column metadata")
		}
		col := source.ColumnMeta{
			Name:          name,
			Type:          columnType,
			Nullable:      strings.EqualFold(nullable, "YES"),
			AutoIncrement: strings.Contains(strings.ToLower(extra), "auto_increment"),
		}
		if key == string(source.KeyPrimary) {
			col.Key = source.KeyPrimary
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "error iterating column rows")
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s.%s not found or has no columns", database, table)
	}
	return columns, nil
}

// AutoIncrementCeiling returns the table's next auto-increment value
func (s *Source) AutoIncrementCeiling(ctx context.Context, database, table string) (uint64, bool, error) {
	var ceiling sql.Null[uint64]
	err := s.db.QueryRowContext(ctx,
		"SELECT auto_increment FROM information_schema.tables WHERE table_schema = ? AND table_name = ?",
		database, table).Scan(&ceiling)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("table %s.%s not found", database, table)
	}
	if err != nil {
		return 0, false, classify(err, "failed to read auto_increment for "+table)
	}
	return ceiling.V, ceiling.Valid, nil
}

// UpdateTime returns the table's last modification time when MySQL tracks it
func (s *Source) UpdateTime(ctx context.Context, database, table string) (time.Time, bool, error) {
	var updated sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT update_time FROM information_schema.tables WHERE table_schema = ? AND table_name = ?",
		database, table).Scan(&updated)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, fmt.Errorf("table %s.%s not found", database, table)
	}
	if err != nil {
		return time.Time{}, false, classify(err, "failed to read update_time for "+table)
	}
	return updated.Time, updated.Valid, nil
}

// QueryPages streams the selected rows to sink in pages of pageSize rows
func (s *Source) QueryPages(ctx context.Context, sel source.Selection, pageSize int, sink source.PageSink) (int64, error) {
	if pageSize <= 0 {
		return 0, fmt.Errorf("page size must be positive, got %d", pageSize)
	}

	query, args := BuildSelect(sel)
	s.logger.Infof("Querying: %q %v", query, args)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, classify(err, "failed to query "+sel.Table)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return 0, classify(err, "failed to read result columns")
	}
	if err := sink.WriteHeader(columns); err != nil {
		return 0, err
	}

	values := make([]any, len(columns))
	scanArgs := make([]any, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	var total int64
	page := make([][]string, 0, pageSize)
	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return total, classify(err, "failed to scan row")
		}
		record := make([]string, len(values))
		for i, v := range values {
			record[i] = formatValue(v)
		}
		page = append(page, record)
		if len(page) == pageSize {
			if err := sink.WritePage(page); err != nil {
				return total, err
			}
			total += int64(len(page))
			page = make([][]string, 0, pageSize)
		}
	}
	if err := rows.Err(); err != nil {
		return total, classify(err, "error iterating rows of "+sel.Table)
	}
	if len(page) > 0 {
		if err := sink.WritePage(page); err != nil {
			return total, err
		}
		total += int64(len(page))
	}
	return total, nil
}

// BuildSelect renders sel as a parameterized SELECT statement
func BuildSelect(sel source.Selection) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	if sel.Database != "" {
		b.WriteString(quoteIdent(sel.Database))
		b.WriteString(".")
	}
	b.WriteString(quoteIdent(sel.Table))

	var conds []string
	var args []any
	if sel.RangeColumn != "" {
		col := quoteIdent(sel.RangeColumn)
		conds = append(conds, col+" >= ?", col+" < ?")
		args = append(args, sel.Lower, sel.Upper)
	}
	if sel.MatchColumn != "" {
		conds = append(conds, quoteIdent(sel.MatchColumn)+" = ?")
		args = append(args, sel.MatchValue)
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	if sel.RangeColumn != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(quoteIdent(sel.RangeColumn))
	}
	return b.String(), args
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case string:
		return val
	case time.Time:
		return val.Format("2006-01-02 15:04:05")
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		if val {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(val)
	}
}

// classify wraps err with msg and marks connection-level failures transient
func classify(err error, msg string) error {
	wrapped := pkgerrors.Wrap(err, msg)
	if isConnectionFailure(err) {
		return source.MarkTransient(wrapped)
	}
	return wrapped
}

func isConnectionFailure(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return transientErrorCodes[myErr.Number]
	}
	return source.IsTransient(err)
}
