package compressors

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor handles Zstandard decompression
type ZstdCompressor struct {
	workers int
}

// NewZstdCompressor creates a new Zstandard compressor
func NewZstdCompressor() *ZstdCompressor {
	return &ZstdCompressor{
		workers: 4, // Default worker count
	}
}

// WithWorkers sets the number of decoder goroutines
func (c *ZstdCompressor) WithWorkers(workers int) *ZstdCompressor {
	c.workers = workers
	return c
}

// NewReader creates a streaming zstd decompression reader
func (c *ZstdCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(c.workers))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return decoder.IOReadCloser(), nil
}

// Extension returns the file extension for Zstandard compression
func (c *ZstdCompressor) Extension() string {
	return ".zst"
}
