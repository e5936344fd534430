package elementcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wegman-software/mapit-go/internal/element"
	"github.com/wegman-software/mapit-go/internal/logger"
	"github.com/wegman-software/mapit-go/internal/osmdoc"
)

// Buckets bounds the number of files per cache directory
const Buckets = 1000

// CorruptCacheError is returned when a cached file cannot be parsed. The file
// has been moved to RenamedTo so the next run fetches it again.
type CorruptCacheError struct {
	Path      string
	RenamedTo string
	Err       error
}

func (e *CorruptCacheError) Error() string {
	return fmt.Sprintf("corrupt cache file %s (moved to %s): %v", e.Path, e.RenamedTo, e.Err)
}

func (e *CorruptCacheError) Unwrap() error { return e.Err }

// Stats holds cache counters
type Stats struct {
	Hits    int64
	Fetched int64
	Absent  int64
}

// Cache stores one OSM document per element on disk and falls back to a
// Fetcher on a miss. A confirmed-absent element is stored as an empty file.
// Cache implements osmdoc.Resolver and is safe for concurrent use.
type Cache struct {
	dir     string
	fetcher *Fetcher
	flight  singleflight.Group
	now     func() time.Time

	mu    sync.Mutex
	stats Stats
}

// New creates a cache rooted at dir. fetcher may be nil for offline use.
func New(dir string, fetcher *Fetcher) *Cache {
	return &Cache{dir: dir, fetcher: fetcher, now: time.Now}
}

// Stats returns cache counters
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Path returns the cache file for key: <dir>/<type>/<id mod 1000>/<id>.osm
func (c *Cache) Path(key element.Key) string {
	bucket := key.ID % Buckets
	if bucket < 0 {
		bucket = -bucket
	}
	return filepath.Join(c.dir, string(key.Type), strconv.FormatInt(bucket, 10),
		strconv.FormatInt(key.ID, 10)+".osm")
}

// Resolve returns every element in the cached document for key, fetching and
// storing it first if needed
func (c *Cache) Resolve(ctx context.Context, key element.Key) ([]element.Element, error) {
	v, err, _ := c.flight.Do(key.String(), func() (interface{}, error) {
		return c.resolve(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.([]element.Element), nil
}

func (c *Cache) resolve(ctx context.Context, key element.Key) ([]element.Element, error) {
	path := c.Path(key)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		c.count(func(s *Stats) { s.Hits++ })
	case errors.Is(err, fs.ErrNotExist):
		if c.fetcher == nil {
			return nil, nil
		}
		var found bool
		data, found, err = c.fetcher.Fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			data = nil
		}
		if err := c.write(path, data); err != nil {
			return nil, err
		}
		c.count(func(s *Stats) { s.Fetched++ })
	default:
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		c.count(func(s *Stats) { s.Absent++ })
		return nil, nil
	}

	p := osmdoc.NewParser(element.NewArena(), nil)
	elems, err := p.ParseAll(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, c.quarantine(path, err)
	}
	return elems, nil
}

// write stores data at path via a temporary file in the same directory
func (c *Cache) write(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	return nil
}

// quarantine moves an unparseable cache file aside
func (c *Cache) quarantine(path string, cause error) error {
	renamed := fmt.Sprintf("%s.corrupt-%d", path, c.now().Unix())
	if err := os.Rename(path, renamed); err != nil {
		logger.Get().Error("Failed to move corrupt cache file",
			zap.String("path", path), zap.Error(err))
		renamed = ""
	}
	return &CorruptCacheError{Path: path, RenamedTo: renamed, Err: cause}
}

func (c *Cache) count(fn func(*Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

// Warm resolves every key, filling the cache. It returns how many keys resolved to data.
func (c *Cache) Warm(ctx context.Context, keys []element.Key) (int, error) {
	found := 0
	for _, key := range keys {
		elems, err := c.Resolve(ctx, key)
		if err != nil {
			return found, err
		}
		if len(elems) > 0 {
			found++
		}
	}
	return found, nil
}
