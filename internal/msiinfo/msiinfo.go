// Package msiinfo reads installer metadata by running the msitools msiinfo
// command.
package msiinfo

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/trly/msirepo/internal/execx"
	"github.com/trly/msirepo/internal/log"
	"github.com/trly/msirepo/internal/unit"
)

// DefaultPath is where msitools installs msiinfo.
const DefaultPath = "/usr/bin/msiinfo"

// Extractor implements unit.Extractor on top of msiinfo.
type Extractor struct {
	runner execx.Runner
	path   string
	logger log.Logger
}

var _ unit.Extractor = (*Extractor)(nil)

// New creates an Extractor. An empty path selects DefaultPath.
func New(runner execx.Runner, path string, logger log.Logger) *Extractor {
	if path == "" {
		path = DefaultPath
	}
	return &Extractor{runner: runner, path: path, logger: logger}
}

// Path returns the msiinfo binary in use.
func (e *Extractor) Path() string {
	return e.path
}

// Version runs msiinfo --version.
func (e *Extractor) Version(ctx context.Context) (string, error) {
	stdout, _, err := e.runner.Output(ctx, e.path, "--version")
	if err != nil {
		return "", fmt.Errorf("running %s: %w", e.path, err)
	}
	return strings.TrimSpace(string(stdout)), nil
}

// Tables lists the tables present in the installer.
func (e *Extractor) Tables(ctx context.Context, file string) ([]string, error) {
	stdout, err := e.run(ctx, file, "tables", file)
	if err != nil {
		return nil, err
	}

	var tables []string
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if line != "" {
			tables = append(tables, line)
		}
	}
	return tables, nil
}

// Properties exports the Property table. Rows without a tab separator, such
// as the column header lines, are skipped.
func (e *Extractor) Properties(ctx context.Context, file string) (map[string]string, error) {
	stdout, err := e.run(ctx, file, "export", file, unit.TablePropertyName)
	if err != nil {
		return nil, err
	}
	return ParseProperties(stdout), nil
}

// ModuleSignatures exports the ModuleSignature table.
func (e *Extractor) ModuleSignatures(ctx context.Context, file string) ([]unit.ModuleSignature, error) {
	stdout, err := e.run(ctx, file, "export", file, unit.TableModuleSignatureName)
	if err != nil {
		return nil, err
	}
	return ParseModuleSignatures(stdout), nil
}

func (e *Extractor) run(ctx context.Context, file string, args ...string) (string, error) {
	e.logger.Debug("Running msiinfo", "args", args)

	stdout, stderr, err := e.runner.Output(ctx, e.path, args...)
	if err != nil {
		if execx.IsExitError(err) {
			return "", unit.NewInvalidPackageError(file, strings.TrimSpace(string(stderr)), err)
		}
		return "", fmt.Errorf("running %s %s: %w", e.path, args[0], err)
	}
	return string(stdout), nil
}

// ParseProperties parses exported Property table rows into a map.
func ParseProperties(out string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		key, value, found := strings.Cut(strings.TrimRight(line, " \t\r"), "\t")
		if !found {
			continue
		}
		props[key] = value
	}
	return props
}

// ParseModuleSignatures parses exported ModuleSignature rows. A ModuleID is
// always "name.GUID"; header rows do not have that shape and are skipped.
func ParseModuleSignatures(out string) []unit.ModuleSignature {
	var sigs []unit.ModuleSignature
	for _, line := range strings.Split(out, "\n") {
		fields := strings.SplitN(strings.TrimRight(line, " \t\r"), "\t", 3)
		if len(fields) != 3 {
			continue
		}

		idx := strings.LastIndex(fields[0], ".")
		if idx < 0 {
			continue
		}

		sigs = append(sigs, unit.ModuleSignature{
			Name:    fields[0][:idx],
			GUID:    fields[0][idx+1:],
			Version: fields[2],
		})
	}

	slices.SortStableFunc(sigs, func(a, b unit.ModuleSignature) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.Version, b.Version)
	})

	return sigs
}
