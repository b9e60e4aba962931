package export

import (
	"context"
	"fmt"
	"os"

	"github.com/supporttools/GoSQLSync/pkg/schema"
	"github.com/supporttools/GoSQLSync/pkg/source"
)

// exportSchemas renders DDL for every table in the manifest, building the
// manifest through the catalog first when none exists.
func (o *Orchestrator) exportSchemas(ctx context.Context, src source.Source, cmd SchemaExport, r *run) error {
	if cmd.Database == "" {
		return fmt.Errorf("no database given for schema export")
	}

	tables, ok, err := o.catalog.ReadManifest(cmd.Database)
	if err != nil {
		return err
	}
	if !ok {
		r.log.Infof("No table manifest for %s yet, listing tables", cmd.Database)
		refs, err := o.catalog.ListTables(ctx, src, cmd.Database, true)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			tables = append(tables, ref.Table)
		}
	}

	for _, table := range tables {
		ref := source.TableRef{Database: cmd.Database, Table: table}
		if r.completed[ref] || r.failed[ref] {
			continue
		}

		path, err := o.exportSchema(ctx, src, ref, r)
		if err != nil {
			if source.IsTransient(err) {
				return err
			}
			r.fail(ref, err)
			continue
		}
		r.completed[ref] = true
		r.report.Schemas = append(r.report.Schemas, path)
	}
	r.log.Infof("Wrote %d schema(s) for %s", len(r.report.Schemas), cmd.Database)
	return nil
}

func (o *Orchestrator) exportSchema(ctx context.Context, src source.Source, ref source.TableRef, r *run) (string, error) {
	columns, err := src.DescribeColumns(ctx, ref.Database, ref.Table)
	if err != nil {
		return "", err
	}

	translation, err := schema.Translate(columns)
	if err != nil {
		return "", err
	}
	for _, warning := range translation.Unmapped {
		r.log.Warnf("%s: %s, edit the generated DDL by hand", ref, warning)
	}

	ddl, err := schema.Render(ref.Database, ref.Table, translation)
	if err != nil {
		return "", err
	}

	path, err := o.work.SchemaPath(ref.Database, ref.Table)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(ddl), 0644); err != nil {
		return "", fmt.Errorf("failed to write schema %s: %w", path, err)
	}
	r.log.Debugf("Wrote schema for %s to %s (primary key %q, order by %q)",
		ref, path, translation.PrimaryKey, translation.OrderBy)
	return path, nil
}
