package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/trly/msirepo/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

type recorder struct {
	mu        sync.Mutex
	succeeded []string
	failed    map[string]error
}

func newRecorder() *recorder {
	return &recorder{failed: make(map[string]error)}
}

func (r *recorder) DownloadSucceeded(req Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.succeeded = append(r.succeeded, req.Data.(string))
}

func (r *recorder) DownloadFailed(req Request, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[req.Data.(string)] = err
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.msi" {
			http.NotFound(w, r)
			return
		}
		_, _ = fmt.Fprintf(w, "content of %s", r.URL.Path)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewHTTPDownloader(Config{Concurrency: 2, Client: srv.Client()}, testutil.NewTestLogger(t))

	reqs := []Request{
		{URL: JoinURL(srv.URL, "a-1.msi"), Destination: filepath.Join(dir, "msi", "a-1.msi"), Data: "a"},
		{URL: JoinURL(srv.URL+"/", "/b-1.msi"), Destination: filepath.Join(dir, "msi", "b-1.msi"), Data: "b"},
		{URL: JoinURL(srv.URL, "missing.msi"), Destination: filepath.Join(dir, "msi", "missing.msi"), Data: "missing"},
	}

	rec := newRecorder()
	require.NoError(t, d.Download(context.Background(), reqs, rec))

	assert.ElementsMatch(t, []string{"a", "b"}, rec.succeeded)
	require.Contains(t, rec.failed, "missing")
	assert.True(t, IsStatusError(rec.failed["missing"]))
	assert.NoFileExists(t, filepath.Join(dir, "msi", "missing.msi"))

	data, err := os.ReadFile(filepath.Join(dir, "msi", "a-1.msi"))
	require.NoError(t, err)
	assert.Equal(t, "content of /a-1.msi", string(data))
}

func TestDownloadBoundsConcurrency(t *testing.T) {
	var active, peak int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := atomic.AddInt32(&active, 1)
		defer atomic.AddInt32(&active, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewHTTPDownloader(Config{Concurrency: 3, Client: srv.Client()}, testutil.NewTestLogger(t))

	var reqs []Request
	for i := 0; i < 12; i++ {
		reqs = append(reqs, Request{URL: fmt.Sprintf("%s/%d", srv.URL, i), Destination: filepath.Join(dir, fmt.Sprint(i)), Data: fmt.Sprint(i)})
	}

	rec := newRecorder()
	require.NoError(t, d.Download(context.Background(), reqs, rec))
	assert.Len(t, rec.succeeded, 12)
	assert.LessOrEqual(t, peak, int32(3))
}

func TestDownloadTimeoutIsPerRequestFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			select {
			case <-release:
			case <-r.Context().Done():
			}
			return
		}
		_, _ = w.Write([]byte("fast"))
	}))
	defer srv.Close()
	defer close(release)

	dir := t.TempDir()
	d := NewHTTPDownloader(Config{Concurrency: 2, Timeout: 50 * time.Millisecond, Client: srv.Client()}, testutil.NewTestLogger(t))

	rec := newRecorder()
	err := d.Download(context.Background(), []Request{
		{URL: srv.URL + "/slow", Destination: filepath.Join(dir, "slow"), Data: "slow"},
		{URL: srv.URL + "/fast", Destination: filepath.Join(dir, "fast"), Data: "fast"},
	}, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{"fast"}, rec.succeeded)
	assert.Contains(t, rec.failed, "slow")
}

func TestDownloadCancelledBeforeStart(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewHTTPDownloader(Config{Client: srv.Client()}, testutil.NewTestLogger(t))
	rec := newRecorder()
	err := d.Download(ctx, []Request{{URL: srv.URL + "/a", Destination: filepath.Join(t.TempDir(), "a"), Data: "a"}}, rec)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, atomic.LoadInt32(&hits))
	assert.Empty(t, rec.succeeded)
	assert.Empty(t, rec.failed)
}

func TestDefaultClientIsDedicated(t *testing.T) {
	d := NewHTTPDownloader(Config{Concurrency: 3}, testutil.NewTestLogger(t))

	require.NotSame(t, http.DefaultClient, d.client)
	tr, ok := d.client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.NotSame(t, http.DefaultTransport, tr)
	assert.Equal(t, 3, tr.MaxIdleConnsPerHost)
	assert.Positive(t, tr.TLSHandshakeTimeout)
	assert.Positive(t, tr.ResponseHeaderTimeout)
	assert.Equal(t, DefaultTimeout, d.timeout)
}

func TestFetchFileURL(t *testing.T) {
	src := filepath.Join(t.TempDir(), "repomd.xml")
	require.NoError(t, os.WriteFile(src, []byte("<repomd/>"), 0600))

	d := NewHTTPDownloader(Config{}, testutil.NewTestLogger(t))
	dest := filepath.Join(t.TempDir(), "out", "repomd.xml")
	require.NoError(t, d.Fetch(context.Background(), "file://"+src, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "<repomd/>", string(data))

	err = d.Fetch(context.Background(), "file:///nonexistent/repomd.xml", dest)
	assert.Error(t, err)
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "https://m.example.com/win/repodata/repomd.xml", JoinURL("https://m.example.com/win/", "/repodata/repomd.xml"))
	assert.Equal(t, "https://m.example.com/a.msi", JoinURL("https://m.example.com", "a.msi"))
}
