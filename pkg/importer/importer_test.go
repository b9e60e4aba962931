package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoSQLSync/pkg/config"
	"github.com/supporttools/GoSQLSync/pkg/logging"
	"github.com/supporttools/GoSQLSync/pkg/storage"
	"github.com/supporttools/GoSQLSync/pkg/storage/storagetest"
	"github.com/supporttools/GoSQLSync/pkg/storage/transfer"
)

// upload stores content under the key derived from name, the way an export does
func upload(t *testing.T, syncer *transfer.Syncer, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	key, err := syncer.Upload(context.Background(), path)
	require.NoError(t, err)
	return key
}

func newImporter(t *testing.T, deleteAfter bool) (*Importer, *storagetest.Store, string) {
	store := storagetest.New("billing-uploads")
	syncer := transfer.NewSyncer(store, "", logging.Discard())
	dir := t.TempDir()
	return New(syncer, config.ImportConfig{Directory: dir, DeleteAfterDownload: deleteAfter}, logging.Discard()), store, dir
}

func TestFetch(t *testing.T) {
	tests := []struct {
		name        string
		deleteAfter bool
		wantKeys    []string
	}{
		{name: "keeps object", deleteAfter: false, wantKeys: []string{"BucketUtilization-2020-08-05"}},
		{name: "deletes object after download", deleteAfter: true, wantKeys: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			imp, store, dir := newImporter(t, tt.deleteAfter)
			key := upload(t, imp.syncer, "BucketUtilization-2020-08-05.csv", "Bucket,Bytes\nb1,10\n")

			found, err := imp.Fetch(context.Background(), key)
			require.NoError(t, err)
			assert.True(t, found)

			data, err := os.ReadFile(filepath.Join(dir, "BucketUtilization-2020-08-05.csv"))
			require.NoError(t, err)
			assert.Equal(t, "Bucket,Bytes\nb1,10\n", string(data))
			assert.Equal(t, tt.wantKeys, store.Keys())
		})
	}
}

func TestFetchMissingObject(t *testing.T) {
	imp, store, dir := newImporter(t, true)
	require.NoError(t, store.CreateBucket(context.Background()))

	found, err := imp.Fetch(context.Background(), "BucketUtilization-2020-08-05")
	require.NoError(t, err)
	assert.False(t, found)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no empty file is left behind")
}

func TestFetchDaily(t *testing.T) {
	imp, _, dir := newImporter(t, false)
	upload(t, imp.syncer, "BucketUtilization-2020-07-27.csv", "Bucket\nb1\n")

	found, err := imp.FetchDaily(context.Background(), "BucketUtilization", time.Date(2020, 7, 27, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, found)
	assert.FileExists(t, filepath.Join(dir, "BucketUtilization-2020-07-27.csv"))
}

func TestFetchAllContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	imp, store, dir := newImporter(t, false)
	upload(t, imp.syncer, "BA_Billing.Invoices.0-10.csv", "Id\n1\n")
	upload(t, imp.syncer, "BA_Billing.Rates.full.csv", "Id\n2\n")
	// Not gzip data, so decompression fails.
	require.NoError(t, store.Put(ctx, "BA_Billing.Broken.0-1", strings.NewReader("plain"), 5, storage.PutOptions{}))
	upload(t, imp.syncer, "Other.T.full.csv", "Id\n3\n")

	fetched, err := imp.FetchAll(ctx, "BA_Billing.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BA_Billing.Broken.0-1")
	assert.Equal(t, []string{"BA_Billing.Invoices.0-10", "BA_Billing.Rates.full"}, fetched)

	assert.FileExists(t, filepath.Join(dir, "BA_Billing.Invoices.0-10.csv"))
	assert.FileExists(t, filepath.Join(dir, "BA_Billing.Rates.full.csv"))
	assert.NoFileExists(t, filepath.Join(dir, "BA_Billing.Broken.0-1.csv"))
	assert.NoFileExists(t, filepath.Join(dir, "Other.T.full.csv"))
}

type presigningStore struct {
	*storagetest.Store
}

func (presigningStore) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	return "https://billing-uploads.example.com/" + key + "?expires=" + expiry.String(), nil
}

func TestPresign(t *testing.T) {
	t.Run("unsupported", func(t *testing.T) {
		imp, _, _ := newImporter(t, false)
		_, err := imp.Presign(context.Background(), "k", time.Hour)
		assert.True(t, errors.Is(err, ErrPresignUnsupported))
	})

	t.Run("supported", func(t *testing.T) {
		store := presigningStore{storagetest.New("billing-uploads")}
		imp := New(transfer.NewSyncer(store, "", logging.Discard()), config.ImportConfig{Directory: t.TempDir()}, logging.Discard())
		url, err := imp.Presign(context.Background(), "BA_Billing.Rates.full", 15*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, "https://billing-uploads.example.com/BA_Billing.Rates.full?expires=15m0s", url)
	})
}

func TestPathFor(t *testing.T) {
	imp, _, dir := newImporter(t, false)

	tests := []struct {
		name string
		key  string
		want string
	}{
		{name: "plain key", key: "BA_Billing.Rates.full", want: filepath.Join(dir, "BA_Billing.Rates.full.csv")},
		{name: "nested key", key: "daily/BucketUtilization-2020-07-27", want: filepath.Join(dir, "daily", "BucketUtilization-2020-07-27.csv")},
		{name: "inner dot-dot stays inside", key: "daily/../Rates", want: filepath.Join(dir, "Rates.csv")},
		{name: "parent directory", key: "../../x"},
		{name: "absolute", key: "/etc/cron.d/x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := imp.PathFor(tt.key)
			if tt.want == "" {
				assert.True(t, errors.Is(err, ErrUnsafeKey))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, path)
		})
	}
}

func TestFetchAllRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	imp, store, dir := newImporter(t, true)
	upload(t, imp.syncer, "BA_Billing.Invoices.0-10.csv", "Id\n1\n")
	require.NoError(t, store.Put(ctx, "../../BA_Billing.escape", strings.NewReader("x"), 1, storage.PutOptions{}))

	fetched, err := imp.FetchAll(ctx, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsafeKey))
	assert.Equal(t, []string{"BA_Billing.Invoices.0-10"}, fetched)
	assert.NoFileExists(t, filepath.Join(dir, "..", "..", "BA_Billing.escape.csv"))
	assert.Contains(t, store.Keys(), "../../BA_Billing.escape", "a rejected object is not deleted")
}
