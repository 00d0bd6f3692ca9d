package compressors

import (
	"io"

	"github.com/pierrec/lz4/v4"
)

// LZ4Compressor handles LZ4 decompression
type LZ4Compressor struct{}

// NewLZ4Compressor creates a new LZ4 compressor
func NewLZ4Compressor() *LZ4Compressor {
	return &LZ4Compressor{}
}

// NewReader creates a streaming lz4 decompression reader
func (c *LZ4Compressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

// Extension returns the file extension for LZ4 compression
func (c *LZ4Compressor) Extension() string {
	return ".lz4"
}
