package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// FilesystemBackend stores objects as files under {basePath}/{bucket}/{key}.
type FilesystemBackend struct {
	basePath string
}

func NewFilesystemBackend(basePath string) *FilesystemBackend {
	return &FilesystemBackend{
		basePath: basePath,
	}
}

// validatePath rejects null bytes, absolute paths and traversal.
func (f *FilesystemBackend) validatePath(bucket, key string) error {
	for _, part := range []string{bucket, key} {
		if part == "" {
			return errors.Wrap(ErrInvalidPath, "empty bucket or key")
		}
		if strings.Contains(part, "\x00") {
			return errors.Wrap(ErrInvalidPath, "null byte not allowed")
		}
		if filepath.IsAbs(part) || (len(part) >= 2 && part[1] == ':') {
			return errors.Wrap(ErrInvalidPath, "absolute paths not allowed")
		}

		clean := filepath.Clean(part)
		if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) ||
			strings.Contains(clean, string(filepath.Separator)+"..") {
			return errors.Wrapf(ErrInvalidPath, "path traversal in %q", part)
		}
	}

	return nil
}

func (f *FilesystemBackend) buildPath(bucket, key string) (string, error) {
	if err := f.validatePath(bucket, key); err != nil {
		return "", err
	}

	fullPath := filepath.Clean(filepath.Join(f.basePath, bucket, key))
	cleanBase := filepath.Clean(f.basePath)

	rel, err := filepath.Rel(cleanBase, fullPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", errors.Wrap(ErrInvalidPath, "path escapes base directory")
	}

	return fullPath, nil
}

// Put writes the object to a temporary file and renames it into place, so
// readers never observe a partially written export.
func (f *FilesystemBackend) Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	fullPath, err := f.buildPath(bucket, key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating directory")
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fullPath)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "creating temporary file")
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, &contextReader{ctx: ctx, r: r}); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "writing file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "closing file")
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "moving file into place")
	}

	return nil
}

// Get opens the object. Caller must close the returned ReadCloser.
func (f *FilesystemBackend) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	fullPath, err := f.buildPath(bucket, key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WithStack(ErrNotFound)
		}
		return nil, errors.Wrap(err, "opening file")
	}

	return file, nil
}

// Delete removes the object. Deleting a missing object is not an error.
func (f *FilesystemBackend) Delete(ctx context.Context, bucket, key string) error {
	fullPath, err := f.buildPath(bucket, key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing file")
	}

	return nil
}

func (f *FilesystemBackend) Exists(ctx context.Context, bucket, key string) (bool, error) {
	fullPath, err := f.buildPath(bucket, key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "checking file")
	}

	return true, nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
