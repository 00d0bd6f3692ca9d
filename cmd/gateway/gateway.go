// Package gateway fetches raw extract files from object storage into a local
// staging directory.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/airframesio/sales-pipeline/cmd/compressors"
	"github.com/airframesio/sales-pipeline/cmd/etlerr"
)

// DefaultSuffix is the object key suffix used when none is configured
const DefaultSuffix = ".csv"

const partSuffix = ".part"

// ObjectStore is the object storage capability the gateway needs
type ObjectStore interface {
	// ListKeys returns every object key in the bucket
	ListKeys(ctx context.Context, bucket string) ([]string, error)
	// Download writes the object body to w
	Download(ctx context.Context, bucket, key string, w io.WriterAt) error
}

// FetchResult describes the files placed in the staging directory
type FetchResult struct {
	Dir   string   `json:"dir"`
	Files []string `json:"files"`
	Count int      `json:"count"`
}

// Option configures a Gateway
type Option func(*Gateway)

// WithDecompression makes compressed variants of the suffix match too
// (e.g. "x.csv.gz" for suffix ".csv"); they are decoded after download.
func WithDecompression(enabled bool) Option {
	return func(g *Gateway) {
		g.decompress = enabled
	}
}

// Gateway lists and downloads suffix-matching objects
type Gateway struct {
	store      ObjectStore
	logger     *slog.Logger
	decompress bool
}

// New creates a Gateway over store
func New(store ObjectStore, logger *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{store: store, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type match struct {
	key        string
	localName  string
	compressor compressors.Compressor
}

// FetchAll downloads every object in bucket whose key ends with suffix into localDir,
// named after the last path segment of the key. Same-named objects overwrite each other.
// The first failure aborts the remaining downloads.
func (g *Gateway) FetchAll(ctx context.Context, bucket, localDir, suffix string) (FetchResult, error) {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	result := FetchResult{Dir: localDir}

	keys, err := g.store.ListKeys(ctx, bucket)
	if err != nil {
		return result, fmt.Errorf("%w: list bucket %s: %w", etlerr.ErrTransfer, bucket, err)
	}
	g.logger.Debug(fmt.Sprintf("Listed %d objects in bucket %s", len(keys), bucket))

	matches := g.filter(keys, suffix)
	if len(matches) == 0 {
		g.logger.Error(fmt.Sprintf("No objects ending with %q found in bucket %s", suffix, bucket))
		return result, fmt.Errorf("%w: bucket %s has no keys ending with %q", etlerr.ErrNoMatchingObjects, bucket, suffix)
	}

	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return result, fmt.Errorf("%w: create staging dir: %w", etlerr.ErrTransfer, err)
	}

	seen := make(map[string]bool, len(matches))
	for i, m := range matches {
		g.logger.Info(fmt.Sprintf("Downloading %d/%d: %s", i+1, len(matches), m.key))

		localPath, err := g.fetchOne(ctx, bucket, localDir, m)
		if err != nil {
			return result, err
		}

		result.Count++
		if !seen[localPath] {
			seen[localPath] = true
			result.Files = append(result.Files, localPath)
		}
	}

	g.logger.Info(fmt.Sprintf("Downloaded %d files from %s to %s", result.Count, bucket, localDir))
	return result, nil
}

func (g *Gateway) filter(keys []string, suffix string) []match {
	var matches []match
	for _, key := range keys {
		if strings.HasSuffix(key, "/") {
			continue
		}
		base := path.Base(key)

		if strings.HasSuffix(key, suffix) {
			matches = append(matches, match{key: key, localName: base})
			continue
		}
		if !g.decompress {
			continue
		}

		compressor, stripped := compressors.Detect(base)
		if stripped != base && strings.HasSuffix(stripped, suffix) {
			matches = append(matches, match{key: key, localName: stripped, compressor: compressor})
		}
	}
	return matches
}

func (g *Gateway) fetchOne(ctx context.Context, bucket, localDir string, m match) (string, error) {
	localPath := filepath.Join(localDir, m.localName)
	rawPath := filepath.Join(localDir, path.Base(m.key)) + partSuffix

	if err := g.download(ctx, bucket, m.key, rawPath); err != nil {
		return "", fmt.Errorf("%w: download %s: %w", etlerr.ErrTransfer, m.key, err)
	}

	if m.compressor == nil {
		if err := os.Rename(rawPath, localPath); err != nil {
			os.Remove(rawPath)
			return "", fmt.Errorf("%w: move %s into place: %w", etlerr.ErrTransfer, m.key, err)
		}
		return localPath, nil
	}

	defer os.Remove(rawPath)
	if err := decompressFile(m.compressor, rawPath, localPath); err != nil {
		return "", fmt.Errorf("%w: decompress %s: %w", etlerr.ErrTransfer, m.key, err)
	}
	g.logger.Debug(fmt.Sprintf("Decompressed %s to %s", m.key, localPath))
	return localPath, nil
}

func (g *Gateway) download(ctx context.Context, bucket, key, partPath string) error {
	file, err := os.Create(partPath)
	if err != nil {
		return err
	}

	if err := g.store.Download(ctx, bucket, key, file); err != nil {
		file.Close()
		os.Remove(partPath)
		return err
	}

	if err := file.Close(); err != nil {
		os.Remove(partPath)
		return err
	}
	return nil
}

func decompressFile(compressor compressors.Compressor, srcPath, dstPath string) (err error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	reader, err := compressor.NewReader(src)
	if err != nil {
		return err
	}
	defer reader.Close()

	tmpPath := dstPath + partSuffix
	dst, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(dst, reader); err != nil {
		dst.Close()
		return err
	}
	if err = dst.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, dstPath)
}

// IsNoMatchingObjects reports whether err means the bucket had nothing to fetch
func IsNoMatchingObjects(err error) bool {
	return errors.Is(err, etlerr.ErrNoMatchingObjects)
}
