// Package source opens claim inputs from local paths, s3:// URIs and
// http(s) URLs, transparently decompressing .gz files.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/gyeh/claimcheck/internal/cloud"
)

// Kind is the input format.
type Kind int

const (
	// KindDeclaration is a fixed-width MZ301 declaration file.
	KindDeclaration Kind = iota
	// KindExport is a practice-management .xlsx export.
	KindExport
)

func (k Kind) String() string {
	if k == KindExport {
		return "export"
	}
	return "declaration"
}

// KindOf infers the format from the location's extension, ignoring .gz.
func KindOf(location string) Kind {
	name := strings.TrimSuffix(strings.ToLower(Name(location)), ".gz")
	if strings.HasSuffix(name, ".xlsx") || strings.HasSuffix(name, ".xlsm") {
		return KindExport
	}
	return KindDeclaration
}

// Name extracts a short display name from a path, URI or URL.
func Name(location string) string {
	p := location
	if i := strings.IndexAny(p, "?#"); i >= 0 && isURL(p) {
		p = p[:i]
	}
	if isURL(p) || cloud.IsURI(p) {
		return path.Base(p)
	}
	return filepath.Base(p)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// ObjectOpener reads objects from S3-style storage.
type ObjectOpener interface {
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Opener resolves input locations to readers.
type Opener struct {
	S3         ObjectOpener // required for s3:// inputs
	HTTPClient *http.Client // nil uses a shared client with retries
	StdGzip    bool         // use compress/gzip instead of pgzip
}

// Open returns the decompressed content of location. onProgress, if set,
// receives the raw bytes read so far and the total size (-1 if unknown).
func (o *Opener) Open(ctx context.Context, location string, onProgress func(read, total int64)) (io.ReadCloser, error) {
	raw, total, err := o.openRaw(ctx, location)
	if err != nil {
		return nil, err
	}

	counter := &countingReader{reader: raw}
	var r io.Reader = &truncationChecker{counter: counter, total: total}
	if onProgress != nil {
		r = &progressReader{reader: r, total: total, callback: onProgress}
	}

	if !strings.HasSuffix(strings.ToLower(Name(location)), ".gz") {
		return readCloser{Reader: r, closers: []io.Closer{raw}}, nil
	}
	gz, err := NewGzipReader(r, o.StdGzip)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("gzip reader for %s: %w", location, err)
	}
	return readCloser{Reader: gz, closers: []io.Closer{gz, raw}}, nil
}

func (o *Opener) openRaw(ctx context.Context, location string) (io.ReadCloser, int64, error) {
	switch {
	case cloud.IsURI(location):
		if o.S3 == nil {
			return nil, 0, fmt.Errorf("no S3 client configured for %s", location)
		}
		bucket, key, err := cloud.ParseURI(location)
		if err != nil {
			return nil, 0, err
		}
		body, err := o.S3.Open(ctx, bucket, key)
		if err != nil {
			return nil, 0, err
		}
		return body, -1, nil
	case isURL(location):
		resp, err := DownloadHTTP(ctx, o.HTTPClient, location)
		if err != nil {
			return nil, 0, fmt.Errorf("downloading %s: %w", location, err)
		}
		return resp.Body, resp.ContentLength, nil
	default:
		f, err := os.Open(location)
		if err != nil {
			return nil, 0, err
		}
		var total int64 = -1
		if info, err := f.Stat(); err == nil {
			total = info.Size()
		}
		return f, total, nil
	}
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (rc readCloser) Close() error {
	var first error
	for _, c := range rc.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Latin1 decodes an ISO-8859-1 stream to UTF-8. Declaration files are
// Latin-1; field offsets count characters, so decoding must happen before
// slicing.
func Latin1(r io.Reader) io.Reader {
	return charmap.ISO8859_1.NewDecoder().Reader(r)
}
