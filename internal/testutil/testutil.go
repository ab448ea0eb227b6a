// Package testutil provides common test utilities and helpers to reduce boilerplate in test files.
package testutil

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/trly/msirepo/internal/config"
	"github.com/trly/msirepo/internal/log"
)

// NewTestLogger creates a logger that writes to t.Logf for testing.
// This ensures test output is properly captured by the test framework.
func NewTestLogger(t testing.TB) log.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}

	handler := &testHandler{t: t, opts: opts}
	slogLogger := slog.New(handler)

	return log.NewSlogAdapter(slogLogger)
}

// ConfigOption allows customization of test config settings.
type ConfigOption func(*config.Settings)

// WithStorageDir sets a custom content store directory.
func WithStorageDir(dir string) ConfigOption {
	return func(cfg *config.Settings) {
		cfg.StorageDir = dir
	}
}

// WithPublishDir sets a custom publish directory.
func WithPublishDir(dir string) ConfigOption {
	return func(cfg *config.Settings) {
		cfg.PublishDir = dir
	}
}

// WithNumThreads sets the download concurrency.
func WithNumThreads(n int) ConfigOption {
	return func(cfg *config.Settings) {
		cfg.NumThreads = n
	}
}

// WithVerbose sets verbose logging.
func WithVerbose(verbose bool) ConfigOption {
	return func(cfg *config.Settings) {
		cfg.Verbose = verbose
	}
}

// NewMockConfig creates a config provider for testing with optional
// customizations. Every directory lives under a per-test temp dir.
func NewMockConfig(t testing.TB, opts ...ConfigOption) config.Provider {
	tmpDir := t.TempDir()

	cfg := config.Defaults()
	cfg.DBPath = filepath.Join(tmpDir, "msirepo.db")
	cfg.StorageDir = filepath.Join(tmpDir, "content")
	cfg.WorkingDir = filepath.Join(tmpDir, "work")
	cfg.PublishDir = filepath.Join(tmpDir, "published")
	cfg.StateFile = filepath.Join(tmpDir, "state.json")
	cfg.Verbose = true

	for _, opt := range opts {
		opt(cfg)
	}

	configProvider := config.NewDefaultConfigProvider()
	configProvider.SetConfig(cfg)
	return configProvider
}

// testHandler implements slog.Handler to write to testing.TB.
type testHandler struct {
	t     testing.TB
	opts  *slog.HandlerOptions
	attrs []slog.Attr
}

func (h *testHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (h *testHandler) Handle(_ context.Context, record slog.Record) error {
	args := make([]any, 0, len(h.attrs)+record.NumAttrs())
	for _, a := range h.attrs {
		args = append(args, a)
	}
	record.Attrs(func(a slog.Attr) bool {
		args = append(args, a)
		return true
	})
	h.t.Logf("[%s] %s %v", record.Level.String(), record.Message, args)
	return nil
}

func (h *testHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &testHandler{t: h.t, opts: h.opts, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
}

func (h *testHandler) WithGroup(_ string) slog.Handler {
	return &testHandler{t: h.t, opts: h.opts, attrs: h.attrs}
}
