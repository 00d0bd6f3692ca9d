package compressors

import (
	"compress/gzip"
	"fmt"
	"io"
)

// GzipCompressor handles Gzip decompression
type GzipCompressor struct{}

// NewGzipCompressor creates a new Gzip compressor
func NewGzipCompressor() *GzipCompressor {
	return &GzipCompressor{}
}

// NewReader creates a streaming gzip decompression reader
func (c *GzipCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	reader, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	return reader, nil
}

// Extension returns the file extension for Gzip compression
func (c *GzipCompressor) Extension() string {
	return ".gz"
}
