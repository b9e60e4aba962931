// Package storagetest provides an in-memory storage.ObjectStore for tests.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/supporttools/GoSQLSync/pkg/storage"
)

// StoredObject is an object held by Store
type StoredObject struct {
	Data []byte
	Opts storage.PutOptions
}

// Store is an in-memory bucket
type Store struct {
	mu       sync.Mutex
	bucket   string
	exists   bool
	objects  map[string]StoredObject
	putFails []error

	// Puts counts successful Put calls.
	Puts int
}

// New returns a store whose bucket does not exist yet
func New(bucket string) *Store {
	return &Store{bucket: bucket, objects: make(map[string]StoredObject)}
}

// FailNextPut makes the next Put return err
func (s *Store) FailNextPut(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putFails = append(s.putFails, err)
}

// Object returns the stored object for key
func (s *Store) Object(key string) (StoredObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	return obj, ok
}

// Keys returns all keys in order
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) Bucket() string { return s.bucket }

func (s *Store) BucketExists(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists, nil
}

func (s *Store) CreateBucket(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exists = true
	return nil
}

func (s *Store) Put(_ context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.putFails) > 0 {
		err := s.putFails[0]
		s.putFails = s.putFails[1:]
		return err
	}
	if !s.exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("put %s: declared size %d, got %d bytes", key, size, len(data))
	}
	s.objects[key] = StoredObject{Data: data, Opts: opts}
	s.Puts++
	return nil
}

func (s *Store) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.Data)), nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *Store) List(_ context.Context, prefix string) ([]storage.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.Object
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.Object{Key: key, Size: int64(len(obj.Data)), LastModified: time.Now()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
