// Package catalog enumerates the exportable tables of a database and
// publishes them as a manifest for schema generation.
package catalog

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLSync/pkg/checkpoint"
	"github.com/supporttools/GoSQLSync/pkg/source"
	"github.com/supporttools/GoSQLSync/pkg/storage/local"
)

// Catalog lists tables, filtering operational tables and those already
// completed in the current export family.
type Catalog struct {
	exclude     map[string]bool
	completions checkpoint.CompletionLog
	work        *local.Client
	logger      *logrus.Logger
}

// New creates a catalog. Exclusions are matched case-insensitively.
func New(exclude []string, completions checkpoint.CompletionLog, work *local.Client, logger *logrus.Logger) *Catalog {
	set := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		set[strings.ToLower(name)] = true
	}
	return &Catalog{exclude: set, completions: completions, work: work, logger: logger}
}

// IsExcluded reports whether table is in the static exclusion set
func (c *Catalog) IsExcluded(table string) bool {
	return c.exclude[strings.ToLower(table)]
}

// ListTables returns the tables of database still to export. The full
// exportable set is written to the manifest before the completion log is
// applied, so the manifest always names every exportable table.
func (c *Catalog) ListTables(ctx context.Context, src source.Source, database string, ignoreCompleted bool) ([]source.TableRef, error) {
	names, err := src.ListTables(ctx, database)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables of %s: %w", database, err)
	}

	exportable := make([]string, 0, len(names))
	for _, name := range names {
		if c.IsExcluded(name) {
			c.logger.Debugf("Skipping excluded table %s.%s", database, name)
			continue
		}
		exportable = append(exportable, name)
	}

	if err := c.writeManifest(database, exportable); err != nil {
		return nil, err
	}

	done := map[string]bool{}
	if !ignoreCompleted {
		done, err = c.completions.Completed(ctx, database)
		if err != nil {
			return nil, err
		}
	}

	refs := make([]source.TableRef, 0, len(exportable))
	for _, name := range exportable {
		if done[name] {
			continue
		}
		refs = append(refs, source.TableRef{Database: database, Table: name})
	}

	c.logger.Infof("Found %d tables in %s, %d exportable, %d to export",
		len(names), database, len(exportable), len(refs))
	return refs, nil
}

func (c *Catalog) writeManifest(database string, tables []string) error {
	var buf bytes.Buffer
	for _, t := range tables {
		buf.WriteString(t)
		buf.WriteByte('\n')
	}
	path := c.work.ManifestPath(database)
	if err := checkpoint.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write table manifest %s: %w", path, err)
	}
	return nil
}

// ReadManifest returns the tables recorded by the last ListTables of
// database. ok is false when no manifest exists yet.
func (c *Catalog) ReadManifest(database string) (tables []string, ok bool, err error) {
	data, err := os.ReadFile(c.work.ManifestPath(database))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read table manifest: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			tables = append(tables, name)
		}
	}
	return tables, true, scanner.Err()
}
