// Package fakeextractor provides a unit.Extractor that reads installer
// metadata from a plain-text description stored in the file itself.
//
// Each line of the file is one of:
//
//	tables Property,ModuleSignature
//	prop ProductName=widget
//	sig name<TAB>guid<TAB>version
//	invalid reason
//
// Any other line is ignored, so a file may also carry arbitrary payload.
package fakeextractor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/trly/msirepo/internal/unit"
)

// Extractor is a fake unit.Extractor. It is safe for concurrent use.
type Extractor struct {
	mu    sync.Mutex
	calls int
}

var _ unit.Extractor = (*Extractor)(nil)

// New creates a fake extractor.
func New() *Extractor {
	return &Extractor{}
}

// Calls returns how many extraction calls were made.
func (e *Extractor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// MSI renders the description of an MSI with the given name and version.
// Extra lines are appended verbatim.
func MSI(name, version string, extra ...string) string {
	lines := []string{
		"tables Property",
		"prop ProductName=" + name,
		"prop ProductVersion=" + version,
	}
	return strings.Join(append(lines, extra...), "\n") + "\n"
}

// MSIWithModules renders an MSI that consumes the given merge modules.
func MSIWithModules(name, version string, sigs ...unit.ModuleSignature) string {
	lines := []string{
		"tables Property,ModuleSignature",
		"prop ProductName=" + name,
		"prop ProductVersion=" + version,
	}
	for _, s := range sigs {
		lines = append(lines, fmt.Sprintf("sig %s\t%s\t%s", s.Name, s.GUID, s.Version))
	}
	return strings.Join(lines, "\n") + "\n"
}

// MSM renders the description of an MSM with one module signature.
func MSM(name, guid, version string) string {
	return fmt.Sprintf("tables ModuleSignature\nsig %s\t%s\t%s\n", name, guid, version)
}

type description struct {
	tables  []string
	props   map[string]string
	sigs    []unit.ModuleSignature
	invalid string
}

func (e *Extractor) read(path string) (*description, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	data, err := os.ReadFile(path) //nolint:gosec // test helper
	if err != nil {
		return nil, err
	}

	d := &description{props: make(map[string]string)}
	for _, line := range strings.Split(string(data), "\n") {
		kind, rest, _ := strings.Cut(line, " ")
		switch kind {
		case "tables":
			d.tables = strings.Split(rest, ",")
		case "prop":
			k, v, _ := strings.Cut(rest, "=")
			d.props[k] = v
		case "sig":
			f := strings.SplitN(rest, "\t", 3)
			if len(f) == 3 {
				d.sigs = append(d.sigs, unit.ModuleSignature{Name: f[0], GUID: f[1], Version: f[2]})
			}
		case "invalid":
			d.invalid = rest
		}
	}

	if d.invalid != "" {
		return nil, unit.NewInvalidPackageError(path, d.invalid, nil)
	}
	return d, nil
}

// Tables implements unit.Extractor.
func (e *Extractor) Tables(_ context.Context, path string) ([]string, error) {
	d, err := e.read(path)
	if err != nil {
		return nil, err
	}
	return d.tables, nil
}

// Properties implements unit.Extractor.
func (e *Extractor) Properties(_ context.Context, path string) (map[string]string, error) {
	d, err := e.read(path)
	if err != nil {
		return nil, err
	}
	return d.props, nil
}

// ModuleSignatures implements unit.Extractor.
func (e *Extractor) ModuleSignatures(_ context.Context, path string) ([]unit.ModuleSignature, error) {
	d, err := e.read(path)
	if err != nil {
		return nil, err
	}
	return d.sigs, nil
}
