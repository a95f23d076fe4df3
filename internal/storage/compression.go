package storage

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const (
	CompressionNone = "none"
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
)

// IsCompressed reports whether compression names a real codec.
func IsCompressed(compression string) bool {
	return compression != "" && compression != CompressionNone
}

// Extension returns the file suffix for a compression codec, including the dot.
func Extension(compression string) string {
	switch compression {
	case CompressionGzip:
		return ".gz"
	case CompressionZstd:
		return ".zst"
	default:
		return ""
	}
}

// CompressedBackend compresses objects on Put and decompresses them on Get.
// Keys are passed through unchanged.
type CompressedBackend struct {
	backend     Backend
	compression string
}

func NewCompressedBackend(backend Backend, compression string) (*CompressedBackend, error) {
	switch compression {
	case CompressionGzip, CompressionZstd:
	default:
		return nil, errors.Wrapf(ErrInvalidConfig, "unsupported compression %q", compression)
	}
	return &CompressedBackend{
		backend:     backend,
		compression: compression,
	}, nil
}

// Compression returns the codec name.
func (c *CompressedBackend) Compression() string {
	return c.compression
}

func (c *CompressedBackend) Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	pr, pw := io.Pipe()

	go func() {
		var err error
		switch c.compression {
		case CompressionGzip:
			err = compressGzip(pw, r)
		case CompressionZstd:
			err = compressZstd(pw, r)
		}
		pw.CloseWithError(err)
	}()

	err := c.backend.Put(ctx, bucket, key, pr, -1)
	// Unblock the compressor if the backend gave up early.
	pr.CloseWithError(io.ErrClosedPipe)
	return err
}

func (c *CompressedBackend) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	rc, err := c.backend.Get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()

	go func() {
		var err error
		switch c.compression {
		case CompressionGzip:
			err = decompressGzip(pw, rc)
		case CompressionZstd:
			err = decompressZstd(pw, rc)
		}
		rc.Close()
		pw.CloseWithError(err)
	}()

	return pr, nil
}

func (c *CompressedBackend) Delete(ctx context.Context, bucket, key string) error {
	return c.backend.Delete(ctx, bucket, key)
}

func (c *CompressedBackend) Exists(ctx context.Context, bucket, key string) (bool, error) {
	return c.backend.Exists(ctx, bucket, key)
}

func compressGzip(w io.Writer, r io.Reader) error {
	gw := gzip.NewWriter(w)
	if _, err := io.Copy(gw, r); err != nil {
		gw.Close()
		return err
	}
	return gw.Close()
}

func decompressGzip(w io.Writer, r io.Reader) error {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gr.Close()

	_, err = io.Copy(w, gr)
	return err
}

func compressZstd(w io.Writer, r io.Reader) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if _, err := io.Copy(zw, r); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func decompressZstd(w io.Writer, r io.Reader) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()

	_, err = io.Copy(w, zr)
	return err
}
