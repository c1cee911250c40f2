package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/genricoloni/ethist/internal/config"
	"github.com/genricoloni/ethist/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// FetchError reports that a resource could not be downloaded or stored.
// Callers treat it as "resource unavailable", never as fatal.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Cache is a content-addressed on-disk store keyed by a hash of the source URL.
// Entries are never invalidated or evicted.
type Cache struct {
	logger  *zap.Logger
	root    string
	fetcher domain.Fetcher
	flights singleflight.Group
}

// New creates a cache rooted at root, creating the directory if needed.
// A directory that cannot be created is returned as an error and must be
// treated as fatal by the caller.
func New(logger *zap.Logger, root string, fetcher domain.Fetcher) (*Cache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir %s: %w", root, err)
	}
	return &Cache{
		logger:  logger,
		root:    root,
		fetcher: fetcher,
	}, nil
}

// NewHTTPCache creates the cache for generic HTTP resources such as covers
func NewHTTPCache(logger *zap.Logger, cfg *config.AppConfig, fetcher domain.Fetcher) (*Cache, error) {
	c, err := New(logger, cfg.HTTPCacheDir, fetcher)
	if err != nil {
		return nil, err
	}
	logger.Info("HTTP cache ready", zap.String("root", c.root))
	return c, nil
}

// EnsureSessionLayout creates the protocol backend's session cache and its files subdirectory
func EnsureSessionLayout(cfg *config.AppConfig) error {
	if err := os.MkdirAll(cfg.SessionFilesDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create session cache dir: %w", err)
	}
	return nil
}

// Key returns the file name used for url: the decimal form of its 64-bit xxhash
func Key(url string) string {
	return strconv.FormatUint(xxhash.Sum64String(url), 10)
}

// Root returns the cache directory
func (c *Cache) Root() string {
	return c.root
}

// Path returns where the entry for url lives, whether or not it exists yet
func (c *Cache) Path(url string) string {
	return filepath.Join(c.root, Key(url))
}

// Resolve returns the local path holding the bytes of url.
// On a hit no network access happens. On a miss the resource is fetched once,
// even when several callers ask for the same url concurrently.
func (c *Cache) Resolve(ctx context.Context, url string) (string, error) {
	key := Key(url)
	path := filepath.Join(c.root, key)

	if c.exists(path) {
		c.logger.Debug("Cache hit", zap.String("url", url), zap.String("path", path))
		return path, nil
	}

	// The download outlives a single caller so that other waiters on the
	// same key still get the result when the first one gives up.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(key, func() (interface{}, error) {
		if c.exists(path) {
			return path, nil
		}
		return c.download(fetchCtx, url, key)
	})

	select {
	case <-ctx.Done():
		return "", &FetchError{URL: url, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			c.logger.Debug("Joined in-flight download", zap.String("url", url))
		}
		return res.Val.(string), nil
	}
}

func (c *Cache) download(ctx context.Context, url, key string) (string, error) {
	c.logger.Info("Downloading resource", zap.String("url", url))

	data, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}

	path, err := c.store(key, data)
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}

	c.logger.Info("Resource downloaded",
		zap.String("url", url),
		zap.String("path", path),
		zap.Int("bytes", len(data)))
	return path, nil
}

// store writes data to a temporary file next to the entry and renames it into
// place, so a partial write is never visible under the entry's name
func (c *Cache) store(key string, data []byte) (string, error) {
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(c.root, "."+key+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	path := filepath.Join(c.root, key)
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to move entry into place: %w", err)
	}
	return path, nil
}

func (c *Cache) exists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("Failed to stat cache entry", zap.String("path", path), zap.Error(err))
		}
		return false
	}
	return info.Mode().IsRegular()
}
