package repodata

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/benbjohnson/clock"

	"github.com/trly/msirepo/internal/feed"
)

// RepomdLocation is the manifest location relative to the repository root.
const RepomdLocation = feed.RepomdPath

// RepomdWriter writes repomd.xml. Timestamps and the revision come from the
// clock, so a fixed clock yields byte-identical output.
type RepomdWriter struct {
	clock clock.Clock
}

// NewRepomdWriter creates a RepomdWriter. A nil clock uses the wall clock.
func NewRepomdWriter(clk clock.Clock) *RepomdWriter {
	if clk == nil {
		clk = clock.New()
	}
	return &RepomdWriter{clock: clk}
}

// Write creates {root}/repodata/repomd.xml referencing primary.
func (w *RepomdWriter) Write(root string, primary *FileInfo) error {
	ts := strconv.FormatInt(w.clock.Now().Unix(), 10)

	doc := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<repomd xmlns=%q xmlns:rpm=%q>
  <revision>%s</revision>
  <data type="%s">
    <checksum type="%s">%s</checksum>
    <location href="%s"/>
    <timestamp>%s</timestamp>
    <size>%d</size>
  </data>
</repomd>
`, feed.RepoNamespace, feed.RPMNamespace, ts, feed.PrimaryType,
		escape(primary.ChecksumType), escape(primary.Checksum), escape(primary.Location), ts, primary.Size)

	path := filepath.Join(root, RepomdLocation)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating metadata directory: %w", err)
	}

	f, err := os.Create(path) //nolint:gosec // Path is inside the staging directory
	if err != nil {
		return fmt.Errorf("creating repomd.xml: %w", err)
	}
	if _, err := f.WriteString(doc); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing repomd.xml: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("syncing repomd.xml: %w", err)
	}
	return f.Close()
}
