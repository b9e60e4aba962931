// Package importer pulls exported objects back out of object storage into
// a local directory for downstream loading.
package importer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLSync/pkg/config"
	"github.com/supporttools/GoSQLSync/pkg/storage"
	"github.com/supporttools/GoSQLSync/pkg/storage/transfer"
)

// ErrPresignUnsupported is returned by Presign when the store cannot sign URLs
var ErrPresignUnsupported = errors.New("storage backend does not support presigned URLs")

// ErrUnsafeKey is returned for object keys that escape the import directory
var ErrUnsafeKey = errors.New("object key escapes the import directory")

// Importer downloads objects into a local directory
type Importer struct {
	syncer *transfer.Syncer
	dir    string
	delete bool
	logger *logrus.Logger
}

// New creates an importer writing into cfg.Directory
func New(syncer *transfer.Syncer, cfg config.ImportConfig, logger *logrus.Logger) *Importer {
	return &Importer{
		syncer: syncer,
		dir:    cfg.Directory,
		delete: cfg.DeleteAfterDownload,
		logger: logger,
	}
}

// PathFor returns the local file an object is downloaded to. Keys that
// would resolve outside the import directory are rejected.
func (i *Importer) PathFor(key string) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(key) + ".csv")
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeKey, key)
	}
	return filepath.Join(i.dir, rel), nil
}

// Fetch downloads key to PathFor(key). found is false, with a nil error,
// when the object does not exist. When configured to, the object is deleted
// from the bucket once the local copy is complete.
func (i *Importer) Fetch(ctx context.Context, key string) (bool, error) {
	path, err := i.PathFor(key)
	if err != nil {
		return false, err
	}
	i.logger.Infof("Attempting to download %q to %q...", key, path)

	if err := i.syncer.Download(ctx, key, path); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			i.logger.Info("The file does not exist.")
			return false, nil
		}
		return false, err
	}

	if i.delete {
		if err := i.syncer.Store().Delete(ctx, key); err != nil {
			return true, fmt.Errorf("downloaded %s but failed to remove it from the bucket: %w", key, err)
		}
		i.logger.Info("Cleaned up object from bucket.")
	}
	return true, nil
}

// FetchDaily downloads the daily snapshot report of table for date
func (i *Importer) FetchDaily(ctx context.Context, table string, date time.Time) (bool, error) {
	return i.Fetch(ctx, fmt.Sprintf("%s-%s", table, date.Format("2006-01-02")))
}

// FetchAll downloads every object under prefix. A failing object is logged
// and skipped; the joined failures are returned at the end.
func (i *Importer) FetchAll(ctx context.Context, prefix string) ([]string, error) {
	objects, err := i.syncer.Store().List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects under %q: %w", prefix, err)
	}

	var fetched []string
	var errs []error
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return fetched, err
		}
		found, err := i.Fetch(ctx, obj.Key)
		if err != nil {
			i.logger.Errorf("Failed to import %s: %v", obj.Key, err)
			errs = append(errs, fmt.Errorf("%s: %w", obj.Key, err))
			continue
		}
		if found {
			fetched = append(fetched, obj.Key)
		}
	}
	i.logger.Infof("Imported %d of %d object(s) into %s", len(fetched), len(objects), i.dir)
	return fetched, errors.Join(errs...)
}

// Presign returns a time-limited download URL for key
func (i *Importer) Presign(ctx context.Context, key string, expiry time.Duration) (string, error) {
	signer, ok := i.syncer.Store().(storage.Presigner)
	if !ok {
		return "", ErrPresignUnsupported
	}
	return signer.PresignGet(ctx, key, expiry)
}
