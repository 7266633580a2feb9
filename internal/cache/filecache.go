package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileCache is a BodyCache backed by one file per key. Each file starts with
// the expiry as 8 bytes of big-endian unix nanoseconds (0 means none),
// followed by the gzip-compressed body.
type FileCache struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

func NewFileCache(dir string, logger *slog.Logger) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	return &FileCache{
		dir:    dir,
		now:    time.Now,
		logger: logger.With("component", "file_cache"),
	}, nil
}

func (c *FileCache) Dir() string {
	return c.dir
}

func (c *FileCache) path(key string) string {
	return filepath.Join(c.dir, fileName(key))
}

func fileName(key string) string {
	return strings.NewReplacer(":", "_", "/", "_", `\`, "_").Replace(key) + ".cache"
}

func (c *FileCache) Get(_ context.Context, key string) ([]byte, error) {
	raw, err := os.ReadFile(c.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		c.logger.Debug("cache miss", "key", key)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	if len(raw) < 8 {
		c.logger.Warn("corrupt cache entry", "key", key)
		return nil, nil
	}

	expiry := int64(binary.BigEndian.Uint64(raw[:8]))
	if expiry != 0 && c.now().UnixNano() > expiry {
		c.logger.Debug("cache entry expired", "key", key)
		return nil, nil
	}

	data, err := gzipDecompress(raw[8:])
	if err != nil {
		c.logger.Warn("corrupt cache entry", "key", key, "error", err)
		return nil, nil
	}
	c.logger.Debug("cache hit", "key", key, "size_bytes", len(data))
	return data, nil
}

// Set writes to a temporary file and renames it into place so readers never
// see a partial entry.
func (c *FileCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	compressed, err := gzipCompress(value)
	if err != nil {
		return fmt.Errorf("compress: %w", err)
	}

	var expiry int64
	if ttl > 0 {
		expiry = c.now().Add(ttl).UnixNano()
	}
	header := make([]byte, 8)
	binary.BigEndian.PutUint64(header, uint64(expiry))

	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, err = tmp.Write(append(header, compressed...))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", key, err)
	}

	if err := os.Rename(tmpPath, c.path(key)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming %s: %w", key, err)
	}

	c.logger.Debug("cache set", "key", key, "original_size", len(value), "compressed_size", len(compressed), "ttl", ttl)
	return nil
}

func (c *FileCache) Delete(_ context.Context, key string) error {
	err := os.Remove(c.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Keys lists keys matching a glob pattern. Separators in keys are stored as
// underscores, so the returned keys use ':' in their place.
func (c *FileCache) Keys(_ context.Context, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(c.dir, fileName(pattern)))
	if err != nil {
		return nil, fmt.Errorf("listing cache: %w", err)
	}
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSuffix(filepath.Base(m), ".cache")
		keys = append(keys, strings.Replace(name, "_", ":", 1))
	}
	return keys, nil
}
