package persistence

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression names recorded in the manifest. A checkpoint always decodes
// with the compression it was written with, regardless of the current
// configuration.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
)

// ValidCompression reports whether name is a supported compression.
func ValidCompression(name string) bool {
	switch name {
	case CompressionNone, CompressionZstd, CompressionLZ4:
		return true
	}
	return false
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// compressWriter wraps w with the named compression. The returned closer
// flushes the compressor but never closes w.
func compressWriter(name string, w io.Writer) (io.WriteCloser, error) {
	switch name {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionZstd:
		return zstd.NewWriter(w)
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported compression: %q", name)
	}
}

// decompressReader wraps r with the named decompression.
func decompressReader(name string, r io.Reader) (io.Reader, error) {
	switch name {
	case "", CompressionNone:
		return r, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case CompressionLZ4:
		return lz4.NewReader(r), nil
	default:
		return nil, fmt.Errorf("unsupported compression: %q", name)
	}
}
