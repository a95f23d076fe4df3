// Package storage provides the object backends exports are written to.
package storage

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/watzon/vine/internal/config"
)

var (
	ErrNotFound      = errors.New("object not found")
	ErrInvalidConfig = errors.New("invalid backend configuration")
	ErrInvalidPath   = errors.New("invalid object path")
)

// Backend stores objects addressed by bucket and key. Put overwrites an
// existing object with the same key.
type Backend interface {
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, bucket, key string) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
}

// NewBackend builds the backend selected by cfg and wraps it with the given
// compression ("", "none", "gzip" or "zstd").
func NewBackend(ctx context.Context, cfg config.StorageConfig, compression string) (Backend, error) {
	var backend Backend

	switch cfg.Type {
	case "", "filesystem":
		if cfg.Path == "" {
			return nil, errors.Wrap(ErrInvalidConfig, "filesystem backend requires a path")
		}
		backend = NewFilesystemBackend(cfg.Path)
	case "s3":
		if cfg.S3 == nil {
			return nil, errors.Wrap(ErrInvalidConfig, "s3 backend requires an s3 section")
		}
		s3Backend, err := NewS3Backend(ctx, *cfg.S3)
		if err != nil {
			return nil, err
		}
		backend = s3Backend
	default:
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown backend type %q", cfg.Type)
	}

	if !IsCompressed(compression) {
		return backend, nil
	}
	return NewCompressedBackend(backend, compression)
}
