package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoSQLSync/pkg/checkpoint"
	"github.com/supporttools/GoSQLSync/pkg/config"
	"github.com/supporttools/GoSQLSync/pkg/logging"
	"github.com/supporttools/GoSQLSync/pkg/source"
	"github.com/supporttools/GoSQLSync/pkg/source/sourcetest"
	"github.com/supporttools/GoSQLSync/pkg/storage/local"
)

func newCatalog(t *testing.T, exclude []string) (*Catalog, *checkpoint.FileCompletionLog) {
	root := t.TempDir()
	work, err := local.NewClient(config.LocalConfig{WorkDirectory: root}, logging.Discard())
	require.NoError(t, err)
	completions := checkpoint.NewFileCompletionLog(root, "", logging.Discard())
	return New(exclude, completions, work, logging.Discard()), completions
}

func newSource(tables ...string) *sourcetest.Source {
	src := sourcetest.New()
	for _, name := range tables {
		src.AddTable("BA_Billing", name, &sourcetest.Table{})
	}
	return src
}

func tableNames(refs []source.TableRef) []string {
	var names []string
	for _, r := range refs {
		names = append(names, r.Table)
	}
	return names
}

func TestListTablesAppliesExclusionsCaseInsensitively(t *testing.T) {
	cat, _ := newCatalog(t, []string{"schema_migrations", "jobqueue"})
	src := newSource("Invoices", "JobQueue", "Rates", "schema_migrations")

	refs, err := cat.ListTables(context.Background(), src, "BA_Billing", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Invoices", "Rates"}, tableNames(refs))
	assert.Equal(t, "BA_Billing", refs[0].Database)
}

func TestListTablesSkipsCompletedButManifestIsComplete(t *testing.T) {
	ctx := context.Background()
	cat, completions := newCatalog(t, []string{"JobQueue"})
	src := newSource("Accounts", "Invoices", "JobQueue", "Rates")

	require.NoError(t, completions.Append(ctx, source.TableRef{Database: "BA_Billing", Table: "Invoices"}))

	refs, err := cat.ListTables(ctx, src, "BA_Billing", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Accounts", "Rates"}, tableNames(refs))

	manifest, ok, err := cat.ReadManifest("BA_Billing")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"Accounts", "Invoices", "Rates"}, manifest)
}

func TestListTablesIgnoreCompleted(t *testing.T) {
	ctx := context.Background()
	cat, completions := newCatalog(t, nil)
	src := newSource("Invoices", "Rates")

	require.NoError(t, completions.Append(ctx, source.TableRef{Database: "BA_Billing", Table: "Invoices"}))

	refs, err := cat.ListTables(ctx, src, "BA_Billing", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"Invoices", "Rates"}, tableNames(refs))
}

func TestReadManifestMissing(t *testing.T) {
	cat, _ := newCatalog(t, nil)
	_, ok, err := cat.ReadManifest("BA_Billing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListTablesSourceError(t *testing.T) {
	cat, _ := newCatalog(t, nil)
	src := newSource("Invoices")
	src.FailOnce(sourcetest.OpListTables, "BA_Billing", source.MarkTransient(errors.New("timeout")))

	_, err := cat.ListTables(context.Background(), src, "BA_Billing", false)
	require.Error(t, err)
	assert.True(t, source.IsTransient(err))

	_, ok, err := cat.ReadManifest("BA_Billing")
	require.NoError(t, err)
	assert.False(t, ok, "no manifest is published when listing fails")
}
