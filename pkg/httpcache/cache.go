// Package httpcache caches upstream GET responses in memory, persists them
// to disk between runs and revalidates stale entries with their ETag.
package httpcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
)

const (
	cacheFile = "otter-cache.gob"
	// FromCacheHeader is set on responses served without a full upstream fetch.
	FromCacheHeader = "X-From-Cache"
	saveInterval    = 15 * time.Minute
)

// Entry is a cached response body.
type Entry struct {
	FreshUntil time.Time // served without asking upstream until then
	ExpiresAt  time.Time // kept for revalidation until then
	ETag       string
	Data       []byte
}

// Cache is an otter-backed response cache with optional disk persistence.
type Cache struct {
	cache      *otter.Cache[string, Entry]
	logger     *slog.Logger
	saveCancel context.CancelFunc
	dir        string
	saveWg     sync.WaitGroup
	ttl        time.Duration
	retain     time.Duration
	mu         sync.Mutex
	now        func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithRetention keeps entries with an ETag for revalidation for d after
// they go stale. The default is 24h.
func WithRetention(d time.Duration) Option {
	return func(c *Cache) { c.retain = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache whose entries are fresh for ttl. With a non-empty dir
// the cache is loaded from and periodically saved to dir.
func New(ctx context.Context, dir string, ttl time.Duration, logger *slog.Logger, opts ...Option) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		dir:    dir,
		ttl:    ttl,
		retain: 24 * time.Hour,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.cache = otter.Must(&otter.Options[string, Entry]{
		MaximumSize:      100_000,
		InitialCapacity:  1_000,
		ExpiryCalculator: otter.ExpiryWriting[string, Entry](ttl + c.retain),
	})

	if dir == "" {
		return c, nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	if err := c.loadFromDisk(); err != nil {
		logger.Warn("failed to load cache from disk", "error", err)
	}
	logger.Info("cache initialized", "dir", dir, "entries_loaded", c.cache.EstimatedSize())

	c.startPeriodicSave(ctx)
	return c, nil
}

func cacheKey(url string) string {
	h := sha256.Sum256([]byte(url))
	return hex.EncodeToString(h[:])
}

// Get returns the entry for url and whether it is still fresh.
func (c *Cache) Get(url string) (Entry, bool, bool) {
	key := cacheKey(url)
	entry, found := c.cache.GetIfPresent(key)
	if !found {
		c.logger.Debug("cache miss", "url", url, "reason", "not_found")
		return Entry{}, false, false
	}
	now := c.now()
	if now.After(entry.ExpiresAt) {
		c.logger.Debug("cache miss", "url", url, "reason", "expired", "expired_at", entry.ExpiresAt)
		c.cache.Invalidate(key)
		return Entry{}, false, false
	}
	return entry, now.Before(entry.FreshUntil), true
}

// Set stores data for url. Entries without an ETag cannot be revalidated,
// so they are dropped as soon as they go stale.
func (c *Cache) Set(url string, data []byte, etag string) {
	now := c.now()
	entry := Entry{
		Data:       data,
		ETag:       etag,
		FreshUntil: now.Add(c.ttl),
		ExpiresAt:  now.Add(c.ttl),
	}
	if etag != "" {
		entry.ExpiresAt = entry.ExpiresAt.Add(c.retain)
	}
	c.cache.Set(cacheKey(url), entry)
	c.logger.Debug("cache set", "url", url, "fresh_until", entry.FreshUntil, "size", len(data))
}

// Len reports the approximate number of entries.
func (c *Cache) Len() int { return c.cache.EstimatedSize() }

func (c *Cache) loadFromDisk() error {
	cachePath := filepath.Join(c.dir, cacheFile)

	file, err := os.Open(cachePath)
	if err != nil {
		if os.IsNotExist(err) {
			c.logger.Info("no existing cache file found", "path", cachePath)
			return nil
		}
		return fmt.Errorf("opening cache file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			c.logger.Debug("failed to close cache file", "error", closeErr)
		}
	}()

	var entries map[string]Entry
	if err := gob.NewDecoder(file).Decode(&entries); err != nil {
		return fmt.Errorf("decoding cache file: %w", err)
	}

	now := c.now()
	valid := 0
	for key, entry := range entries {
		if now.Before(entry.ExpiresAt) {
			c.cache.Set(key, entry)
			valid++
		}
	}
	c.logger.Info("loaded cache from disk",
		"path", cachePath,
		"total_entries", len(entries),
		"valid_entries", valid)
	return nil
}

func (c *Cache) saveToDisk() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cachePath := filepath.Join(c.dir, cacheFile)
	tempPath := cachePath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	defer func() {
		if removeErr := os.Remove(tempPath); removeErr != nil && !os.IsNotExist(removeErr) {
			c.logger.Debug("failed to remove temp file", "error", removeErr)
		}
	}()

	entries := make(map[string]Entry)
	now := c.now()
	for key, entry := range c.cache.All() {
		if now.Before(entry.ExpiresAt) {
			entries[key] = entry
		}
	}

	if err := gob.NewEncoder(file).Encode(entries); err != nil {
		_ = file.Close() //nolint:errcheck // already failing
		return fmt.Errorf("encoding cache to file: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close() //nolint:errcheck // already failing
		return fmt.Errorf("syncing cache file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing cache file: %w", err)
	}
	if err := os.Rename(tempPath, cachePath); err != nil {
		return fmt.Errorf("replacing cache file: %w", err)
	}

	c.logger.Info("cache saved to disk", "entries", len(entries), "path", cachePath)
	return nil
}

func (c *Cache) startPeriodicSave(ctx context.Context) {
	saveCtx, cancel := context.WithCancel(ctx)
	c.saveCancel = cancel

	c.saveWg.Add(1)
	go func() {
		defer c.saveWg.Done()
		ticker := time.NewTicker(saveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-saveCtx.Done():
				return
			case <-ticker.C:
				if err := c.saveToDisk(); err != nil {
					c.logger.Error("periodic cache save failed", "error", err)
				}
			}
		}
	}()
}

// Close stops periodic saving and writes the cache one last time.
func (c *Cache) Close() error {
	if c.dir == "" {
		return nil
	}
	if c.saveCancel != nil {
		c.saveCancel()
	}
	c.saveWg.Wait()

	if err := c.saveToDisk(); err != nil {
		c.logger.Error("final cache save failed", "error", err)
		return err
	}
	c.logger.Info("cache closed and saved to disk")
	return nil
}

// HTTPClient interface for making HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client wraps an HTTP client with caching for GET requests. Other methods
// pass through untouched.
type Client struct {
	cache      *Cache
	httpClient HTTPClient
	logger     *slog.Logger
}

// NewClient creates a caching client. A nil cache disables caching.
func NewClient(cache *Cache, httpClient HTTPClient, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cache: cache, httpClient: httpClient, logger: logger}
}

// Do performs req, answering from the cache when a fresh entry exists and
// revalidating a stale one with If-None-Match.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.cache == nil || req.Method != http.MethodGet {
		return c.httpClient.Do(req)
	}

	url := req.URL.String()
	entry, fresh, found := c.cache.Get(url)
	if found && fresh {
		return cachedResponse(req, entry, http.StatusOK), nil
	}
	if found && entry.ETag != "" {
		req = req.Clone(req.Context())
		req.Header.Set("If-None-Match", entry.ETag)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNotModified && found:
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "error", closeErr)
		}
		etag := resp.Header.Get("ETag")
		if etag == "" {
			etag = entry.ETag
		}
		c.cache.Set(url, entry.Data, etag)
		c.logger.Debug("cache revalidated", "url", url)
		entry.ETag = etag
		return cachedResponse(req, entry, http.StatusOK), nil

	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "error", closeErr)
		}
		if err != nil {
			return nil, fmt.Errorf("reading response body: %w", err)
		}
		c.cache.Set(url, body, resp.Header.Get("ETag"))
		resp.Body = io.NopCloser(bytes.NewReader(body))
	}
	return resp, nil
}

func cachedResponse(req *http.Request, entry Entry, status int) *http.Response {
	resp := &http.Response{
		StatusCode:    status,
		Status:        http.StatusText(status),
		Body:          io.NopCloser(bytes.NewReader(entry.Data)),
		ContentLength: int64(len(entry.Data)),
		Header:        make(http.Header),
		Request:       req,
	}
	resp.Header.Set(FromCacheHeader, "true")
	if entry.ETag != "" {
		resp.Header.Set("ETag", entry.ETag)
	}
	return resp
}
