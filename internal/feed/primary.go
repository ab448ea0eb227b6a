package feed

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/trly/msirepo/internal/unit"
)

// fieldElement captures any child element of <package>.
type fieldElement struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Value   string     `xml:",chardata"`
}

func (f *fieldElement) attr(name string) (string, bool) {
	for _, a := range f.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

type packageElement struct {
	Type   string         `xml:"type,attr"`
	Fields []fieldElement `xml:",any"`
}

// toUnit maps the element onto a unit of its declared type. Only the fields
// the type reads from feeds are taken; everything else is ignored.
func (p *packageElement) toUnit() (*unit.Unit, error) {
	t, err := unit.ParseType(p.Type)
	if err != nil {
		return nil, err
	}
	d, _ := unit.Lookup(t)

	u := &unit.Unit{Type: t}
	for i := range p.Fields {
		f := &p.Fields[i]
		name := f.XMLName.Local

		switch name {
		case "size":
			v, _ := f.attr("package")
			u.Size = parseInt(v)
		case "location":
			u.RelativePath, _ = f.attr("href")
		case unit.FieldChecksum:
			u.Checksum = strings.TrimSpace(f.Value)
			if typ, ok := f.attr("type"); ok {
				u.ChecksumType = strings.ToLower(typ)
			}
		default:
			if slices.Contains(d.FeedFields, name) {
				u.SetField(name, strings.TrimSpace(f.Value))
			}
		}
	}

	u.DeriveFilename()
	return u, nil
}

// EachPackage streams the <package> elements of a primary document, calling
// fn with one unit per element. Only one element is held in memory at a time.
// An element of an unsupported type stops the parse with an
// *unit.UnsupportedTypeError; malformed XML yields a *ParseError. An error
// returned by fn stops the parse and is returned as is.
func EachPackage(r io.Reader, fn func(*unit.Unit) error) error {
	dec := xml.NewDecoder(r)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &ParseError{Document: "primary.xml", Err: err}
		}

		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "package" {
			continue
		}

		var pkg packageElement
		if err := dec.DecodeElement(&pkg, &se); err != nil {
			return &ParseError{Document: "primary.xml", Err: err}
		}

		u, err := pkg.toUnit()
		if err != nil {
			return err
		}

		if err := fn(u); err != nil {
			return err
		}
	}
}

// readCloser pairs a decompressing reader with the file beneath it.
type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (rc *readCloser) Close() error {
	var errs []error
	for _, c := range rc.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// OpenPrimary opens a downloaded primary file for one parsing pass. Files
// ending in .gz are decompressed on the fly.
func OpenPrimary(path string) (io.ReadCloser, error) {
	f, err := os.Open(path) //nolint:gosec // Path is inside the sync working directory
	if err != nil {
		return nil, err
	}

	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}

	zr, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, &ParseError{Document: path, Err: fmt.Errorf("opening gzip stream: %w", err)}
	}

	return &readCloser{Reader: zr, closers: []io.Closer{zr, f}}, nil
}
