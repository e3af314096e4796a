package source

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/klauspost/pgzip"
)

var httpClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	},
	Timeout: 10 * time.Minute,
}

// retryDelay is the base of the exponential backoff between attempts.
var retryDelay = time.Second

// DownloadHTTP performs an HTTP GET with retries and returns the response.
// Client errors are not retried. Caller is responsible for closing resp.Body.
func DownloadHTTP(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	if client == nil {
		client = httpClient
	}

	var resp *http.Response
	var err error

	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * retryDelay
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if reqErr != nil {
			return nil, fmt.Errorf("creating request: %w", reqErr)
		}

		resp, err = client.Do(req)
		if err != nil {
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}
		resp.Body.Close()
		err = fmt.Errorf("HTTP %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, err // don't retry client errors
		}
	}

	return nil, fmt.Errorf("download failed after retries: %w", err)
}

// NewGzipReader creates a gzip decompression reader. When useStdGzip is true,
// it uses the standard library's single-threaded compress/gzip. Otherwise it
// uses pgzip.
func NewGzipReader(r io.Reader, useStdGzip bool) (io.ReadCloser, error) {
	if useStdGzip {
		return gzip.NewReader(r)
	}
	return pgzip.NewReader(r)
}

type countingReader struct {
	reader io.Reader
	n      int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.reader.Read(p)
	cr.n += int64(n)
	return n, err
}

type progressReader struct {
	reader   io.Reader
	read     int64
	total    int64
	callback func(read, total int64)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.read += int64(n)
		pr.callback(pr.read, pr.total)
	}
	return n, err
}

// truncationChecker fails the final read when fewer bytes than announced
// arrived.
type truncationChecker struct {
	counter *countingReader
	total   int64
}

func (tc *truncationChecker) Read(p []byte) (int, error) {
	n, err := tc.counter.Read(p)
	if err == io.EOF && tc.total > 0 && tc.counter.n != tc.total {
		return n, fmt.Errorf("download truncated: got %d of %d bytes", tc.counter.n, tc.total)
	}
	return n, err
}
