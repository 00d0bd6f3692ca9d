package compressors

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrUnsupportedCompression is returned when an unsupported compression type is requested
var ErrUnsupportedCompression = errors.New("unsupported compression type")

// Compressor decodes one compressed object format
type Compressor interface {
	// NewReader wraps r with a decompressing reader
	NewReader(r io.Reader) (io.ReadCloser, error)

	// Extension returns the file extension for this compression (e.g., ".zst", ".lz4", ".gz")
	Extension() string
}

// GetCompressor returns the appropriate compressor based on the compression string
func GetCompressor(compression string) (Compressor, error) {
	switch compression {
	case "zstd":
		return NewZstdCompressor(), nil
	case "lz4":
		return NewLZ4Compressor(), nil
	case "gzip":
		return NewGzipCompressor(), nil
	case "none":
		return NewNoneCompressor(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, compression)
	}
}

// Extensions lists the extensions of every real codec, in detection order
func Extensions() []string {
	return []string{".gz", ".zst", ".lz4"}
}

// Detect picks the codec for a filename from its extension. The returned name has the
// compression extension stripped. Names without a known extension get the no-op codec.
func Detect(filename string) (Compressor, string) {
	for _, c := range []Compressor{NewGzipCompressor(), NewZstdCompressor(), NewLZ4Compressor()} {
		if strings.HasSuffix(filename, c.Extension()) {
			return c, strings.TrimSuffix(filename, c.Extension())
		}
	}
	return NewNoneCompressor(), filename
}
