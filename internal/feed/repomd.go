// Package feed parses the metadata published by an upstream mirror: the
// repomd.xml manifest and the primary index it references.
package feed

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Namespaces used by repomd and primary documents.
const (
	RepoNamespace   = "http://linux.duke.edu/metadata/repo"
	CommonNamespace = "http://linux.duke.edu/metadata/common"
	RPMNamespace    = "http://linux.duke.edu/metadata/rpm"
)

// RepomdPath is the manifest location relative to a mirror URL.
const RepomdPath = "repodata/repomd.xml"

// PrimaryType is the data type of the primary index in repomd.xml.
const PrimaryType = "primary"

// ErrMissingPrimary is returned when a manifest does not reference a primary index.
var ErrMissingPrimary = errors.New("repomd.xml does not reference primary metadata")

// ParseError wraps a malformed document.
type ParseError struct {
	Document string
	Err      error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s: %v", e.Document, e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err is a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// DataFile is one <data> entry of a manifest.
type DataFile struct {
	Type             string
	Location         string
	Checksum         string
	ChecksumType     string
	Size             int64
	Timestamp        int64
	OpenChecksum     string
	OpenChecksumType string
	OpenSize         int64
}

// Repomd is a parsed repomd.xml manifest.
type Repomd struct {
	Revision string
	Data     []DataFile
}

// Primary returns the primary index entry.
func (m *Repomd) Primary() (*DataFile, error) {
	for i := range m.Data {
		if m.Data[i].Type == PrimaryType {
			return &m.Data[i], nil
		}
	}
	return nil, ErrMissingPrimary
}

type checksumElement struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type locationElement struct {
	Href string `xml:"href,attr"`
}

type dataElement struct {
	Type         string          `xml:"type,attr"`
	Location     locationElement `xml:"location"`
	Checksum     checksumElement `xml:"checksum"`
	OpenChecksum checksumElement `xml:"open-checksum"`
	Size         string          `xml:"size"`
	OpenSize     string          `xml:"open-size"`
	Timestamp    string          `xml:"timestamp"`
}

type repomdElement struct {
	XMLName  xml.Name      `xml:"repomd"`
	Revision string        `xml:"revision"`
	Data     []dataElement `xml:"data"`
}

// ParseRepomd parses a repomd.xml manifest.
func ParseRepomd(r io.Reader) (*Repomd, error) {
	var doc repomdElement
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, &ParseError{Document: "repomd.xml", Err: err}
	}

	m := &Repomd{Revision: strings.TrimSpace(doc.Revision)}
	for _, d := range doc.Data {
		m.Data = append(m.Data, DataFile{
			Type:             d.Type,
			Location:         d.Location.Href,
			Checksum:         strings.TrimSpace(d.Checksum.Value),
			ChecksumType:     d.Checksum.Type,
			Size:             parseInt(d.Size),
			Timestamp:        parseInt(d.Timestamp),
			OpenChecksum:     strings.TrimSpace(d.OpenChecksum.Value),
			OpenChecksumType: d.OpenChecksum.Type,
			OpenSize:         parseInt(d.OpenSize),
		})
	}

	return m, nil
}

// parseInt returns 0 for values that do not parse. Timestamps may carry a
// fractional part, which is dropped.
func parseInt(s string) int64 {
	s = strings.TrimSpace(s)
	if whole, _, ok := strings.Cut(s, "."); ok {
		s = whole
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
