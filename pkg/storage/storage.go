// Package storage defines the object store the exporter uploads artifacts to.
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested object does not exist
var ErrNotFound = errors.New("object not found")

// Object describes one stored object. Keys are relative to the store's prefix.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// PutOptions carries the headers stored with an object
type PutOptions struct {
	ContentType     string
	ContentEncoding string
}

// ObjectStore is a single bucket of an object storage service
type ObjectStore interface {
	Bucket() string
	BucketExists(ctx context.Context) (bool, error)
	CreateBucket(ctx context.Context) error

	// Put stores size bytes read from body under key, replacing any existing object.
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) error
	// Get opens key for reading. It returns ErrNotFound when key does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Object, error)
}

// JoinKey prepends the configured prefix to key
func JoinKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// TrimKey strips the configured prefix from a full object key
func TrimKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, prefix+"/")
}

// Presigner is implemented by stores that can hand out time-limited
// download URLs.
type Presigner interface {
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}
