package transfer

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoSQLSync/pkg/logging"
	"github.com/supporttools/GoSQLSync/pkg/storage"
	"github.com/supporttools/GoSQLSync/pkg/storage/storagetest"
)

func gunzip(t *testing.T, data []byte) string {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	out, err := io.ReadAll(gz)
	require.NoError(t, err)
	return string(out)
}

func TestKeyFor(t *testing.T) {
	tests := map[string]string{
		"data/BA_Billing/BA_Billing.Invoices.0-2500.csv": "BA_Billing.Invoices.0-2500",
		"reports/BucketUtilization-2020-07-27.csv":       "BucketUtilization-2020-07-27",
		"noext":                                         "noext",
	}
	for path, want := range tests {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, want, KeyFor(path))
		})
	}
}

func TestUploadCreatesBucketAndCompresses(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New("billing-uploads")
	syncer := NewSyncer(store, "", logging.Discard())

	path := filepath.Join(t.TempDir(), "BA_Billing.Invoices.0-3.csv")
	content := "Id,Amount\n0,1.50\n1,2.50\n2,3.50\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	key, err := syncer.Upload(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "BA_Billing.Invoices.0-3", key)

	exists, err := store.BucketExists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	obj, ok := store.Object(key)
	require.True(t, ok)
	assert.Equal(t, "text/plain", obj.Opts.ContentType)
	assert.Equal(t, "gzip", obj.Opts.ContentEncoding)
	assert.Equal(t, content, gunzip(t, obj.Data))
}

func TestUploadSameNameOverwrites(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New("billing-uploads")
	syncer := NewSyncer(store, "text/csv", logging.Discard())

	path := filepath.Join(t.TempDir(), "BA_Billing.Rates.full.csv")
	require.NoError(t, os.WriteFile(path, []byte("a\n1\n"), 0644))
	_, err := syncer.Upload(ctx, path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("a\n1\n2\n"), 0644))
	key, err := syncer.Upload(ctx, path)
	require.NoError(t, err)

	assert.Equal(t, []string{"BA_Billing.Rates.full"}, store.Keys())
	obj, _ := store.Object(key)
	assert.Equal(t, "a\n1\n2\n", gunzip(t, obj.Data))
	assert.Equal(t, "text/csv", obj.Opts.ContentType)
}

func TestUploadFailureIsReported(t *testing.T) {
	store := storagetest.New("billing-uploads")
	store.FailNextPut(errors.New("connection reset"))
	syncer := NewSyncer(store, "", logging.Discard())

	path := filepath.Join(t.TempDir(), "x.csv")
	require.NoError(t, os.WriteFile(path, []byte("a\n"), 0644))

	_, err := syncer.Upload(context.Background(), path)
	assert.Error(t, err)
	assert.Empty(t, store.Keys())
}

func TestDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New("billing-uploads")
	syncer := NewSyncer(store, "", logging.Discard())
	dir := t.TempDir()

	src := filepath.Join(dir, "BucketUtilization-2020-08-05.csv")
	require.NoError(t, os.WriteFile(src, []byte("Bucket,Bytes\nb1,10\n"), 0644))
	key, err := syncer.Upload(ctx, src)
	require.NoError(t, err)

	dst := filepath.Join(dir, "imports", "BucketUtilization-2020-08-05.csv")
	require.NoError(t, syncer.Download(ctx, key, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "Bucket,Bytes\nb1,10\n", string(got))
}

func TestDownloadMissingRemovesPartialFile(t *testing.T) {
	store := storagetest.New("billing-uploads")
	require.NoError(t, store.CreateBucket(context.Background()))
	syncer := NewSyncer(store, "", logging.Discard())

	dst := filepath.Join(t.TempDir(), "missing.csv")
	err := syncer.Download(context.Background(), "missing", dst)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
}
