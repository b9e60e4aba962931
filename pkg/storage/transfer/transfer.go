// Package transfer moves local artifacts to and from object storage,
// gzip-compressing them on the way up and decompressing on the way down.
package transfer

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLSync/pkg/metrics"
	"github.com/supporttools/GoSQLSync/pkg/storage"
)

const (
	// DefaultContentType is declared on uploads when none is configured
	DefaultContentType = "text/plain"
	contentEncoding    = "gzip"
)

// Syncer uploads and downloads gzip-compressed objects
type Syncer struct {
	store       storage.ObjectStore
	contentType string
	logger      *logrus.Logger
}

// NewSyncer creates a syncer for store. An empty contentType uses text/plain.
func NewSyncer(store storage.ObjectStore, contentType string, logger *logrus.Logger) *Syncer {
	if contentType == "" {
		contentType = DefaultContentType
	}
	return &Syncer{store: store, contentType: contentType, logger: logger}
}

// Store returns the underlying object store
func (s *Syncer) Store() storage.ObjectStore {
	return s.store
}

// KeyFor returns the object key for a local artifact: its base name
// without the extension.
func KeyFor(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// EnsureBucket creates the bucket if it is absent
func (s *Syncer) EnsureBucket(ctx context.Context) error {
	exists, err := s.store.BucketExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	s.logger.Infof("Bucket %q does not exist... creating it!", s.store.Bucket())
	return s.store.CreateBucket(ctx)
}

// Upload compresses the file at path and stores it under KeyFor(path).
// It returns once the store has acknowledged the object.
func (s *Syncer) Upload(ctx context.Context, path string) (string, error) {
	start := time.Now()
	key := KeyFor(path)

	if err := s.EnsureBucket(ctx); err != nil {
		metrics.UploadCount.WithLabelValues("error").Inc()
		return "", err
	}

	compressed, size, err := compressToTemp(path)
	if err != nil {
		metrics.UploadCount.WithLabelValues("error").Inc()
		return "", err
	}
	defer func() {
		compressed.Close()
		os.Remove(compressed.Name())
	}()

	s.logger.Infof("Uploading (gzipped) %s with key %q (%s)...", path, key, humanize.Bytes(uint64(size)))
	err = s.store.Put(ctx, key, compressed, size, storage.PutOptions{
		ContentType:     s.contentType,
		ContentEncoding: contentEncoding,
	})
	if err != nil {
		metrics.UploadCount.WithLabelValues("error").Inc()
		metrics.UploadDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return "", err
	}

	metrics.UploadCount.WithLabelValues("success").Inc()
	metrics.UploadDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
	metrics.UploadBytes.Add(float64(size))
	s.logger.Info("Successfully uploaded file!")

	// The object count is informational only.
	if objects, err := s.store.List(ctx, ""); err != nil {
		s.logger.Warnf("Could not list bucket %s: %v", s.store.Bucket(), err)
	} else {
		s.logger.Infof("There are now %d objects in the bucket.", len(objects))
	}
	return key, nil
}

// compressToTemp gzips the file at path into a temp file rewound for reading
func compressToTemp(path string) (*os.File, int64, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s for upload: %w", path, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "gosqlsync-*.gz")
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create compression buffer: %w", err)
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	gz := gzip.NewWriter(tmp)
	gz.Name = filepath.Base(path)
	if _, err := io.Copy(gz, src); err != nil {
		cleanup()
		return nil, 0, fmt.Errorf("failed to compress %s: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		cleanup()
		return nil, 0, fmt.Errorf("failed to compress %s: %w", path, err)
	}

	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		cleanup()
		return nil, 0, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, 0, err
	}
	return tmp, size, nil
}

// Download fetches key, decompresses it and writes it to path. When the
// object does not exist the error wraps storage.ErrNotFound and no file is
// left at path.
func (s *Syncer) Download(ctx context.Context, key, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	err = s.download(ctx, key, dst)
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Infof("Deleting empty file %q.", path)
		}
		os.Remove(path)
		metrics.DownloadCount.WithLabelValues("error").Inc()
		return err
	}

	metrics.DownloadCount.WithLabelValues("success").Inc()
	s.logger.Infof("Successfully downloaded %s to %s", key, path)
	return nil
}

func (s *Syncer) download(ctx context.Context, key string, dst io.Writer) error {
	body, err := s.store.Get(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()

	gz, err := gzip.NewReader(body)
	if err != nil {
		return fmt.Errorf("object %s is not gzip data: %w", key, err)
	}
	defer gz.Close()

	if _, err := io.Copy(dst, gz); err != nil {
		return fmt.Errorf("failed to decompress %s: %w", key, err)
	}
	return nil
}
