// Package transport downloads files from mirrors with bounded concurrency.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trly/msirepo/internal/log"
)

// Defaults applied when Config leaves a value unset.
const (
	DefaultConcurrency = 5
	DefaultTimeout     = 5 * time.Minute
)

// Request is one file to download.
type Request struct {
	URL         string
	Destination string
	// Data is carried through to the listener untouched.
	Data any
}

// Listener receives one event per started request. Events arrive from
// worker goroutines, so implementations must be safe for concurrent use.
type Listener interface {
	DownloadSucceeded(req Request)
	DownloadFailed(req Request, err error)
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	URL        string
	StatusCode int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// IsStatusError reports whether err is a StatusError.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

// Config configures an HTTPDownloader.
type Config struct {
	Concurrency int
	// Timeout bounds each request, including reading the body.
	Timeout time.Duration
	Client  *http.Client
}

// HTTPDownloader fetches http(s) and file URLs.
type HTTPDownloader struct {
	client      *http.Client
	concurrency int
	timeout     time.Duration
	logger      log.Logger
}

// NewHTTPDownloader creates a downloader.
func NewHTTPDownloader(cfg Config, logger log.Logger) *HTTPDownloader {
	d := &HTTPDownloader{
		client:      cfg.Client,
		concurrency: cfg.Concurrency,
		timeout:     cfg.Timeout,
		logger:      logger,
	}
	if d.concurrency <= 0 {
		d.concurrency = DefaultConcurrency
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTimeout
	}
	if d.client == nil {
		d.client = newClient(d.concurrency)
	}
	return d
}

// newClient builds the client used when Config names none. Connection setup
// and response headers are bounded here; the body is bounded by the
// per-request timeout.
func newClient(concurrency int) *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   concurrency,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: time.Minute,
			ExpectContinueTimeout: time.Second,
		},
	}
}

// Download fetches every request, at most Concurrency at a time, reporting
// each outcome to l. Cancelling ctx stops new requests from starting;
// requests already in flight run to completion. Download returns ctx.Err()
// when it stopped early.
func (d *HTTPDownloader) Download(ctx context.Context, reqs []Request, l Listener) error {
	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)

	for _, req := range reqs {
		if ctx.Err() != nil {
			break
		}

		g.Go(func() error {
			// The slot may have opened after cancellation.
			if ctx.Err() != nil {
				return nil
			}

			if err := d.Fetch(context.WithoutCancel(ctx), req.URL, req.Destination); err != nil {
				d.logger.Debug("Download failed", "url", req.URL, "error", err)
				l.DownloadFailed(req, err)
				return nil
			}

			d.logger.Debug("Download succeeded", "url", req.URL)
			l.DownloadSucceeded(req)
			return nil
		})
	}

	_ = g.Wait()
	return ctx.Err()
}

// Fetch downloads one URL to dest, creating parent directories. A partial
// file is removed on failure.
func (d *HTTPDownloader) Fetch(ctx context.Context, rawURL, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return fmt.Errorf("creating download directory: %w", err)
	}

	body, err := d.open(ctx, rawURL)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	out, err := os.Create(dest) //nolint:gosec // Destination is inside the sync working directory
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}

	if _, err := io.Copy(out, body); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return fmt.Errorf("reading %s: %w", rawURL, err)
	}

	if err := out.Close(); err != nil {
		_ = os.Remove(dest)
		return fmt.Errorf("closing %s: %w", dest, err)
	}

	return nil
}

func (d *HTTPDownloader) open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url %q: %w", rawURL, err)
	}

	if u.Scheme == "file" {
		f, err := os.Open(u.Path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", rawURL, err)
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", rawURL, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	return resp.Body, nil
}

// JoinURL appends a relative path to a mirror base URL.
func JoinURL(base, rel string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(rel, "/")
}
