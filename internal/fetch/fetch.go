// Package fetch implements the pooled, chunked HTTP downloader: one
// connection-pooled client per remote host, HEAD+range-GET chunked
// downloads with retry/backoff, and plain request/retry primitives.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/cybozu-go/alist2strm/internal/retry"
)

const (
	// miniStreamSize is the smallest file size that is worth splitting into
	// ranged chunks; anything below it downloads as a single stream.
	miniStreamSize = 128 * 1024 * 1024

	chunkBufferSize = 64 * 1024

	userAgent = "alist2strm/1"
)

// Client is a per-host pooled HTTP client with chunked-download support.
type Client struct {
	mu      sync.Mutex
	clients map[string]*http.Client

	// RetryPolicy governs Request and Download retries. NewClient sets it
	// to 3 tries, 1s initial delay, factor 2; a zero value is not replaced
	// by that default.
	RetryPolicy retry.Policy
}

// NewClient returns a Client with the default retry policy.
func NewClient() *Client {
	return &Client{
		clients: make(map[string]*http.Client),
		RetryPolicy: retry.Policy{
			Tries:   3,
			Delay:   time.Second,
			Backoff: 2,
		},
	}
}

func (c *Client) clientFor(rawURL string) *http.Client {
	u, err := url.Parse(rawURL)
	host := ""
	if err == nil {
		host = u.Host
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.clients[host]; ok {
		return cl
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConns = 100
	tr.MaxIdleConnsPerHost = 10
	tr.IdleConnTimeout = 90 * time.Second

	cl := &http.Client{
		Transport: tr,
		Timeout:   10 * time.Second,
	}
	c.clients[host] = cl
	return cl
}

// Request issues one HTTP request, retrying idempotent methods (anything
// but POST/PUT) on timeout up to the retry policy.
func (c *Client) Request(ctx context.Context, method, rawURL string, header http.Header) (*http.Response, error) {
	client := c.clientFor(rawURL)
	idempotent := method != http.MethodPost && method != http.MethodPut

	var resp *http.Response
	do := func() error {
		req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
		if err != nil {
			return err
		}
		req.Header = header.Clone()
		if req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", userAgent)
		}

		r, err := client.Do(req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}

	if !idempotent {
		if err := do(); err != nil {
			return nil, errors.Wrap(err, "fetch: request")
		}
		return resp, nil
	}

	err := retry.Do(ctx, c.RetryPolicy, func() error {
		if isTimeout(ctx.Err()) {
			return ctx.Err()
		}
		return do()
	})
	if err != nil {
		return nil, errors.Wrap(err, "fetch: request")
	}
	return resp, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// byteRange is one contiguous, inclusive byte range of a file.
type byteRange struct {
	start, end int64
}

// calculateRanges splits [0, size-1] into count contiguous byte ranges.
// Remainder bytes are distributed one per range to the lowest-index
// ranges, so range sizes differ by at most one byte. Ported from the
// original caculate_divisional_range.
func calculateRanges(size int64, count int) []byteRange {
	if count <= 0 {
		count = 1
	}
	step := size / int64(count)
	remainder := size % int64(count)

	ranges := make([]byteRange, 0, count)
	start := int64(0)
	for i := 0; i < count; i++ {
		end := start + step - 1
		if int64(i) < remainder {
			end++
		}
		ranges = append(ranges, byteRange{start: start, end: end})
		start = end + 1
	}
	return ranges
}

// Download fetches rawURL into destination. Files under miniStreamSize (or
// when chunkCount<=1 or the server does not report Content-Length) are
// streamed in one request; larger files are split into chunkCount ranged
// requests and written concurrently. The destination either ends up
// containing the complete file or does not exist at all.
func (c *Client) Download(ctx context.Context, rawURL, destination string, chunkCount int, header http.Header) error {
	if header == nil {
		header = http.Header{}
	}

	size, err := c.contentLength(ctx, rawURL, header)
	if err != nil || size <= 0 || chunkCount <= 1 || size < miniStreamSize {
		return c.downloadSingleStream(ctx, rawURL, destination, header)
	}
	return c.downloadChunked(ctx, rawURL, destination, size, chunkCount, header)
}

func (c *Client) contentLength(ctx context.Context, rawURL string, header http.Header) (int64, error) {
	resp, err := c.Request(ctx, http.MethodHead, rawURL, header)
	if err != nil {
		return -1, err
	}
	defer resp.Body.Close()
	if resp.ContentLength <= 0 {
		return -1, nil
	}
	return resp.ContentLength, nil
}

func (c *Client) downloadSingleStream(ctx context.Context, rawURL, destination string, header http.Header) error {
	tmp, err := os.CreateTemp(destinationDir(destination), ".fetch-*")
	if err != nil {
		return errors.Wrap(err, "fetch: create temp file")
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	err = retry.Do(ctx, c.RetryPolicy, func() error {
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return err
		}
		if err := tmp.Truncate(0); err != nil {
			return err
		}

		resp, err := c.Request(ctx, http.MethodGet, rawURL, header)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errors.Newf("fetch: status %d for %s", resp.StatusCode, rawURL)
		}
		_, err = io.CopyBuffer(tmp, resp.Body, make([]byte, chunkBufferSize))
		return err
	})
	if err != nil {
		return errors.Wrap(err, "fetch: download")
	}

	if err := tmp.Sync(); err != nil {
		return errors.Wrap(err, "fetch: sync temp file")
	}
	tmp.Close()
	return os.Rename(tmpPath, destination)
}

func (c *Client) downloadChunked(ctx context.Context, rawURL, destination string, size int64, chunkCount int, header http.Header) error {
	ranges := calculateRanges(size, chunkCount)
	slog.Debug("fetch: chunked download starting", "url", rawURL, "size", humanize.Bytes(uint64(size)), "chunks", len(ranges))

	tmp, err := os.CreateTemp(destinationDir(destination), ".fetch-*")
	if err != nil {
		return errors.Wrap(err, "fetch: create temp file")
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()
	if err := tmp.Truncate(size); err != nil {
		return errors.Wrap(err, "fetch: truncate temp file")
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, r := range ranges {
		r := r
		g.Go(func() error {
			return c.downloadChunk(ctx, rawURL, tmp, r, header)
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "fetch: chunked download")
	}

	if err := tmp.Sync(); err != nil {
		return errors.Wrap(err, "fetch: sync temp file")
	}
	tmp.Close()
	return os.Rename(tmpPath, destination)
}

func (c *Client) downloadChunk(ctx context.Context, rawURL string, tmp *os.File, r byteRange, header http.Header) error {
	return retry.Do(ctx, c.RetryPolicy, func() error {
		h := header.Clone()
		h.Set("Range", rangeHeader(r))

		resp, err := c.Request(ctx, http.MethodGet, rawURL, h)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusPartialContent {
			return errors.Newf("fetch: expected 206 for ranged request, got %d", resp.StatusCode)
		}

		buf := make([]byte, chunkBufferSize)
		offset := r.start
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				if _, err := tmp.WriteAt(buf[:n], offset); err != nil {
					return err
				}
				offset += int64(n)
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				return readErr
			}
		}

		if offset-1 != r.end {
			return errors.Newf("fetch: truncated chunk, got %d bytes, want %d", offset-r.start, r.end-r.start+1)
		}
		return nil
	})
}

func rangeHeader(r byteRange) string {
	return fmt.Sprintf("bytes=%d-%d", r.start, r.end)
}

func destinationDir(destination string) string {
	return filepath.Dir(destination)
}
