package local

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoSQLSync/pkg/config"
	"github.com/supporttools/GoSQLSync/pkg/logging"
)

func TestPaths(t *testing.T) {
	root := t.TempDir()
	c, err := NewClient(config.LocalConfig{WorkDirectory: root}, logging.Discard())
	require.NoError(t, err)

	data, err := c.DataPath("BA_Billing", "BA_Billing.Invoices.0-2500.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "data", "BA_Billing", "BA_Billing.Invoices.0-2500.csv"), data)
	assert.DirExists(t, filepath.Dir(data))

	schema, err := c.SchemaPath("BA_Billing", "Invoices")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "schemas", "BA_Billing", "Invoices.sql"), schema)

	assert.Equal(t, filepath.Join(root, "manifests", "BA_Billing.tables"), c.ManifestPath("BA_Billing"))
}

func TestEnforceRetention(t *testing.T) {
	root := t.TempDir()
	c, err := NewClient(config.LocalConfig{WorkDirectory: root, Retention: "24h"}, logging.Discard())
	require.NoError(t, err)

	oldData, err := c.DataPath("BA_Billing", "BA_Billing.Invoices.0-10.csv")
	require.NoError(t, err)
	newData, err := c.DataPath("BA_Billing", "BA_Billing.Invoices.10-20.csv")
	require.NoError(t, err)
	oldReport, err := c.ReportPath("BucketUtilization-2020-07-27.csv")
	require.NoError(t, err)
	cursor := filepath.Join(root, "cursors", "BA_Billing", "Invoices.cursor")
	require.NoError(t, os.MkdirAll(filepath.Dir(cursor), 0755))

	for _, p := range []string{oldData, newData, oldReport, cursor} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}
	past := time.Now().Add(-48 * time.Hour)
	for _, p := range []string{oldData, oldReport, cursor} {
		require.NoError(t, os.Chtimes(p, past, past))
	}

	require.NoError(t, c.EnforceRetention())

	assert.NoFileExists(t, oldData)
	assert.NoFileExists(t, oldReport)
	assert.FileExists(t, newData)
	assert.FileExists(t, cursor, "cursors are not subject to retention")
}

func TestEnforceRetentionDisabled(t *testing.T) {
	c, err := NewClient(config.LocalConfig{WorkDirectory: t.TempDir()}, logging.Discard())
	require.NoError(t, err)
	assert.NoError(t, c.EnforceRetention())
}

func TestInvalidRetention(t *testing.T) {
	_, err := NewClient(config.LocalConfig{WorkDirectory: t.TempDir(), Retention: "soon"}, logging.Discard())
	assert.Error(t, err)
}
