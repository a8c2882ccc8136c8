package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/wordgate/apiserver/config"
)

// Backend names accepted in config.StorageConfig.Backend.
const (
	BackendNone  = "none"
	BackendMinio = "minio"
	BackendGCS   = "gcs"
	BackendS3    = "s3"
)

// ErrObjectNotFound is returned by Get when key does not exist. Backends
// wrap their SDK's not-found error with it.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Bucket() string
}

// Storage wraps an ObjectStorage backend with a stable API.
type Storage struct {
	backend ObjectStorage
}

// NewStorage constructs a Storage wrapper for the provided backend.
func NewStorage(backend ObjectStorage) *Storage {
	return &Storage{backend: backend}
}

// Open builds the configured backend and makes sure its bucket exists.
// It returns nil, nil when the backend is "none".
func Open(ctx context.Context, cfg config.StorageConfig) (*Storage, error) {
	var (
		backend ObjectStorage
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendNone:
		return nil, nil
	case BackendMinio:
		backend, err = NewMinioClient(cfg.Minio)
	case BackendGCS:
		backend, err = NewGCSClient(ctx, cfg.GCS)
	case BackendS3:
		backend, err = NewS3Client(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Backend, err)
	}

	return prepare(ctx, cfg.Backend, backend)
}

// prepare wraps backend once its bucket exists. The backend is closed when
// the bucket cannot be ensured.
func prepare(ctx context.Context, name string, backend ObjectStorage) (*Storage, error) {
	s := NewStorage(backend)
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, errors.Join(
			fmt.Errorf("%s: ensure bucket %s: %w", name, backend.Bucket(), err),
			s.Close(),
		)
	}
	return s, nil
}

// Close releases the backend client if it holds one.
func (s *Storage) Close() error {
	if c, ok := s.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// EnsureBucket ensures the configured bucket exists.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// Put uploads an object to the configured bucket.
func (s *Storage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return s.backend.Put(ctx, key, r, size, contentType)
}

// PutJSON marshals v and uploads it under key.
func (s *Storage) PutJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.backend.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json")
}

// Get opens a reader for an object in the configured bucket. A missing key
// yields ErrObjectNotFound.
func (s *Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.backend.Get(ctx, key)
}

// GetJSON downloads key and decodes it into v.
func (s *Storage) GetJSON(ctx context.Context, key string, v any) error {
	rc, err := s.backend.Get(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()
	return json.NewDecoder(rc).Decode(v)
}

// Delete removes an object from the configured bucket. Deleting a missing key
// succeeds.
func (s *Storage) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// List returns the keys under prefix.
func (s *Storage) List(ctx context.Context, prefix string) ([]string, error) {
	return s.backend.List(ctx, prefix)
}

// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}
