// Package repodata writes the metadata documents of a published repository:
// repodata/primary.xml listing every unit and repodata/repomd.xml
// referencing it.
package repodata

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/trly/msirepo/internal/checksum"
	"github.com/trly/msirepo/internal/feed"
	"github.com/trly/msirepo/internal/unit"
)

// Dir is the metadata directory inside a published repository.
const Dir = "repodata"

// PrimaryLocation is the primary file's location relative to the repository root.
const PrimaryLocation = Dir + "/primary.xml"

// ErrCountMismatch is returned when fewer or more packages were written than
// announced in the document header.
var ErrCountMismatch = errors.New("package count does not match header")

// FileInfo describes a written metadata file.
type FileInfo struct {
	Location     string
	Checksum     string
	ChecksumType string
	Size         int64
	Packages     int
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

// PrimaryWriter streams primary.xml while digesting it. Units are written
// as they are added; nothing is buffered beyond the output buffer.
type PrimaryWriter struct {
	file         *os.File
	buf          *bufio.Writer
	hash         hash.Hash
	counter      *countingWriter
	checksumType string
	announced    int
	written      int
	err          error
}

// NewPrimaryWriter creates {root}/repodata/primary.xml announcing packages
// entries. The digest uses checksumType.
func NewPrimaryWriter(root string, packages int, checksumType string) (*PrimaryWriter, error) {
	h, err := checksum.NewHash(checksumType)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(root, Dir), 0755); err != nil {
		return nil, fmt.Errorf("creating metadata directory: %w", err)
	}

	f, err := os.Create(filepath.Join(root, PrimaryLocation)) //nolint:gosec // Path is inside the staging directory
	if err != nil {
		return nil, fmt.Errorf("creating primary metadata: %w", err)
	}

	counter := &countingWriter{}
	w := &PrimaryWriter{
		file:         f,
		buf:          bufio.NewWriter(io.MultiWriter(f, h, counter)),
		hash:         h,
		counter:      counter,
		checksumType: checksum.Sanitize(checksumType),
		announced:    packages,
	}

	w.printf("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	w.printf("<metadata xmlns=%q xmlns:rpm=%q packages=\"%d\">\n", feed.CommonNamespace, feed.RPMNamespace, packages)
	if w.err != nil {
		_ = f.Close()
		return nil, w.err
	}
	return w, nil
}

func (w *PrimaryWriter) printf(format string, args ...any) {
	if w.err != nil {
		return
	}
	_, w.err = fmt.Fprintf(w.buf, format, args...)
}

func (w *PrimaryWriter) element(name, value string) {
	w.printf("    <%s>%s</%s>\n", name, escape(value), name)
}

// Add writes one package entry: the checksum, then name, version and the
// type's non-empty repodata fields in alphabetical order, then size and
// location.
func (w *PrimaryWriter) Add(u *unit.Unit) error {
	if w.err != nil {
		return w.err
	}

	w.printf("  <package type=\"%s\">\n", escape(string(u.Type)))
	w.printf("    <checksum pkgid=\"YES\" type=\"%s\">%s</checksum>\n", escape(u.ChecksumType), escape(u.Checksum))
	for _, f := range u.RepodataFields() {
		w.element(f, u.Field(f))
	}
	w.printf("    <size package=\"%d\"/>\n", u.Size)
	w.printf("    <location href=\"%s\"/>\n", escape(u.Filename))
	w.printf("  </package>\n")

	if w.err == nil {
		w.written++
	}
	return w.err
}

// Close finishes the document, syncs it to disk and returns its digest.
func (w *PrimaryWriter) Close() (*FileInfo, error) {
	w.printf("</metadata>\n")
	if w.err == nil {
		w.err = w.buf.Flush()
	}
	if w.err == nil {
		w.err = w.file.Sync()
	}
	if cerr := w.file.Close(); w.err == nil {
		w.err = cerr
	}
	if w.err != nil {
		return nil, fmt.Errorf("writing primary metadata: %w", w.err)
	}
	if w.written != w.announced {
		return nil, fmt.Errorf("%w: announced %d, wrote %d", ErrCountMismatch, w.announced, w.written)
	}

	return &FileInfo{
		Location:     PrimaryLocation,
		Checksum:     fmt.Sprintf("%x", w.hash.Sum(nil)),
		ChecksumType: w.checksumType,
		Size:         w.counter.n,
		Packages:     w.written,
	}, nil
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
