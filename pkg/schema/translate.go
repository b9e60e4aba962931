// Package schema translates MySQL column metadata into ClickHouse table DDL.
package schema

import (
	"fmt"
	"strings"

	"github.com/supporttools/GoSQLSync/pkg/source"
)

// UnmappedPrefix marks a column type that needs a manual decision
const UnmappedPrefix = "Unmapped"

// Column is one translated column
type Column struct {
	Name     string
	Type     string // ClickHouse type including any Nullable wrapper
	Source   string // original MySQL column type
	Unmapped bool
}

// Translation is the destination view of a table's columns
type Translation struct {
	Columns       []Column
	PrimaryKey    string
	AutoIncrement string
	// OrderBy is the auto-increment column, else the primary key, else the
	// first non-nullable column. Empty renders ORDER BY tuple().
	OrderBy string
	// Unmapped lists a warning per column whose type has no mapping.
	Unmapped []string
}

// Fragment renders the column list as it appears inside CREATE TABLE
func (t Translation) Fragment() string {
	lines := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		lines[i] = fmt.Sprintf("`%s` %s", c.Name, c.Type)
	}
	return strings.Join(lines, ",\n")
}

// Translate maps columns to ClickHouse types. It fails only when more than
// one column is auto-increment.
func Translate(columns []source.ColumnMeta) (Translation, error) {
	var t Translation
	if len(columns) == 0 {
		return t, fmt.Errorf("no columns to translate")
	}

	for _, c := range columns {
		if c.AutoIncrement {
			if t.AutoIncrement != "" {
				return Translation{}, fmt.Errorf("columns %s and %s are both auto-increment", t.AutoIncrement, c.Name)
			}
			t.AutoIncrement = c.Name
		}
		// Composite keys report the first key column.
		if c.Key == source.KeyPrimary && t.PrimaryKey == "" {
			t.PrimaryKey = c.Name
		}

		chType, ok := MapType(c.Type)
		col := Column{Name: c.Name, Source: c.Type, Unmapped: !ok}
		switch {
		case !ok:
			col.Type = chType
			t.Unmapped = append(t.Unmapped, fmt.Sprintf("column %s has unmapped type %q", c.Name, c.Type))
		case c.Nullable:
			col.Type = "Nullable(" + chType + ")"
		default:
			col.Type = chType
		}
		t.Columns = append(t.Columns, col)
	}

	switch {
	case t.AutoIncrement != "":
		t.OrderBy = t.AutoIncrement
	case t.PrimaryKey != "":
		t.OrderBy = t.PrimaryKey
	default:
		// MergeTree rejects nullable sorting keys.
		for _, c := range columns {
			if !c.Nullable {
				t.OrderBy = c.Name
				break
			}
		}
	}
	return t, nil
}

var integerTypes = map[string]bool{
	"tinyint": true, "smallint": true, "mediumint": true,
	"int": true, "integer": true, "bigint": true,
}

var floatTypes = map[string]bool{
	"float": true, "double": true, "real": true, "decimal": true, "numeric": true,
}

var stringTypes = map[string]bool{
	"char": true, "varchar": true,
	"tinytext": true, "text": true, "mediumtext": true, "longtext": true,
	"enum": true, "set": true, "json": true,
	"binary": true, "varbinary": true,
	"tinyblob": true, "blob": true, "mediumblob": true, "longblob": true,
}

// MapType returns the ClickHouse type for a MySQL column type. ok is false
// when there is no mapping; the returned type is then the Unmapped(<type>)
// placeholder.
func MapType(mysqlType string) (string, bool) {
	t := strings.ToLower(strings.TrimSpace(mysqlType))
	base := t
	if i := strings.IndexAny(base, "( "); i >= 0 {
		base = base[:i]
	}
	unsigned := strings.Contains(t, "unsigned")

	switch {
	case base == "bool" || base == "boolean" || strings.HasPrefix(t, "tinyint(1)"):
		return "UInt8", true
	case integerTypes[base]:
		if unsigned {
			return "UInt64", true
		}
		return "Int64", true
	case floatTypes[base]:
		return "Float64", true
	case stringTypes[base]:
		return "String", true
	case base == "date":
		return "Date", true
	case base == "datetime" || base == "timestamp":
		return "DateTime", true
	}
	return fmt.Sprintf("%s(%s)", UnmappedPrefix, mysqlType), false
}
