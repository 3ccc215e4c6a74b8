// Package blob is a thin S3-like object store used to move rasters between
// pipeline stages. Backends: process memory, a local directory, and any
// S3-compatible service.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Driver identifies a concrete backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"     // local directory (default)
	DriverS3         Driver = "s3"     // S3 / MinIO compatible
	DriverMemory     Driver = "memory" // in-process, tests and dry runs
)

var (
	// ErrNotFound is returned by Get and Head for a missing key.
	ErrNotFound = errors.New("blob: not found")
	// ErrExists is returned by Put when the key exists and Overwrite is unset.
	ErrExists = errors.New("blob: already exists")
	// ErrInvalidKey is returned for empty, absolute or escaping keys.
	ErrInvalidKey = errors.New("blob: invalid key")
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string            // MIME type, optional
	Metadata    map[string]string // small flat key-value pairs
	Overwrite   bool              // replace an existing object instead of failing
}

// Info describes a stored object.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is implemented by every backend. Keys are slash-separated and
// relative; List returns keys in ascending order.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	// Get returns the object and a reader the caller must close.
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	// Delete reports whether the key existed.
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// Exists reports whether key is present in s.
func Exists(ctx context.Context, s Store, key string) (bool, error) {
	_, err := s.Head(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func cloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// checkKey rejects keys that cannot be mapped safely onto every backend.
func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
