package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

// CacheForever is the freshness sentinel for responses that never go
// stale, e.g. versioned archive downloads.
const CacheForever = time.Duration(-1)

const userAgent = "wowpkg/1.0 (WoW addon manager)"

// Progress reports download progress; total is -1 when unknown.
type Progress func(done, total int64)

// StatusError is a response with an unexpected HTTP status.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s", e.Code, e.URL)
}

// Client is an HTTP client with a disk cache keyed by method+URL.
// Concurrent requests for the same key collapse onto one in-flight
// call.
type Client struct {
	http   *http.Client
	dir    string
	flight singleflight.Group
	log    *log.Logger
}

// New creates a client caching under dir.
func New(dir string, timeout time.Duration, logger *log.Logger) *Client {
	return &Client{
		http: &http.Client{Timeout: timeout},
		dir:  dir,
		log:  logger,
	}
}

// SetTransport swaps the underlying transport; used by tests.
func (c *Client) SetTransport(rt http.RoundTripper) {
	c.http.Transport = rt
}

func cacheKey(method, url string) string {
	sum := sha256.Sum256([]byte(method + " " + url))
	return hex.EncodeToString(sum[:])
}

func (c *Client) cachePath(method, url string) string {
	return filepath.Join(c.dir, cacheKey(method, url))
}

// fresh reports whether the cached file at path satisfies maxAge.
func fresh(path string, maxAge time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if maxAge == CacheForever {
		return true
	}
	return time.Since(info.ModTime()) < maxAge
}

// Get fetches a URL, serving from the cache while it is younger than
// maxAge. maxAge <= 0 (other than CacheForever) bypasses the cache.
func (c *Client) Get(ctx context.Context, url string, maxAge time.Duration) ([]byte, error) {
	path := c.cachePath(http.MethodGet, url)
	if (maxAge > 0 || maxAge == CacheForever) && fresh(path, maxAge) {
		c.log.Debug("Serving from cache", "url", url)
		return os.ReadFile(path)
	}

	v, err, _ := c.flight.Do(path, func() (any, error) {
		body, err := c.fetch(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		if writeErr := c.writeCache(path, body); writeErr != nil {
			c.log.Warn("Failed to write cache", "url", url, "error", writeErr)
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// GetJSON fetches a URL and decodes the body into v.
func (c *Client) GetJSON(ctx context.Context, url string, maxAge time.Duration, v any) error {
	body, err := c.Get(ctx, url, maxAge)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", url, err)
	}
	return nil
}

// Download fetches a URL to a file cached indefinitely under a content
// address derived from the URL, and returns the file path. Concurrent
// downloads of the same URL collapse onto one request; later callers
// reuse the cached file.
func (c *Client) Download(ctx context.Context, url string, progress Progress) (string, error) {
	path := c.cachePath("DOWNLOAD", url)

	v, err, _ := c.flight.Do(path, func() (any, error) {
		if fresh(path, CacheForever) {
			c.log.Debug("Archive already cached", "url", url)
			return path, nil
		}
		body, err := c.fetch(ctx, url, progress)
		if err != nil {
			return nil, err
		}
		if err := c.writeCache(path, body); err != nil {
			return nil, err
		}
		return path, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// GetRange fetches a byte range of a URL and reports the full resource
// size. A negative from requests the final -from bytes (suffix range).
// Falls back to a full fetch when the server ignores the range.
func (c *Client) GetRange(ctx context.Context, url string, from, to int64) ([]byte, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", userAgent)
	if from < 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d", from))
	} else {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", from, to))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, 0, err
		}
		var total int64 = -1
		if _, err := fmt.Sscanf(resp.Header.Get("Content-Range"), "bytes %d-%d/%d", new(int64), new(int64), &total); err != nil {
			total = -1
		}
		return body, total, nil
	case http.StatusOK:
		// Server does not do ranges; read everything.
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, 0, err
		}
		return body, int64(len(body)), nil
	default:
		return nil, 0, &StatusError{Code: resp.StatusCode, URL: url}
	}
}

func (c *Client) fetch(ctx context.Context, url string, progress Progress) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	c.log.Debug("Fetching", "url", url)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, URL: url}
	}

	var reader io.Reader = resp.Body
	if progress != nil {
		reader = &progressReader{r: resp.Body, total: resp.ContentLength, report: progress}
	}
	return io.ReadAll(reader)
}

func (c *Client) writeCache(path string, body []byte) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return err
	}
	// Write-then-rename so partially written files never look cached.
	tmp, err := os.CreateTemp(c.dir, "fetch-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

type progressReader struct {
	r      io.Reader
	done   int64
	total  int64
	report Progress
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.done += int64(n)
		pr.report(pr.done, pr.total)
	}
	return n, err
}
