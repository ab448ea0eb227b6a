// Package validate checks that the host can run msirepo.
package validate

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"slices"

	"github.com/trly/msirepo/internal/log"
)

// VersionChecker reports the version of the installer metadata tool.
type VersionChecker interface {
	Path() string
	Version(ctx context.Context) (string, error)
}

var supportedPlatforms = []string{"linux", "darwin", "freebsd"}

// Validator provides system requirements validation with dependency injection.
type Validator struct {
	logger   log.Logger
	tool     VersionChecker
	osGetter func() string // For testing, defaults to runtime.GOOS
}

// NewValidator creates a new Validator checking tool.
func NewValidator(logger log.Logger, tool VersionChecker) *Validator {
	return &Validator{
		logger:   logger,
		tool:     tool,
		osGetter: func() string { return runtime.GOOS },
	}
}

// WithOSGetter sets a custom OS getter for testing.
func (v *Validator) WithOSGetter(osGetter func() string) *Validator {
	v.osGetter = osGetter
	return v
}

// SystemRequirements checks that the platform is supported and that msiinfo
// runs.
func (v *Validator) SystemRequirements(ctx context.Context) error {
	goos := v.osGetter()
	if !slices.Contains(supportedPlatforms, goos) {
		return fmt.Errorf("unsupported platform: %s (msirepo needs msitools and POSIX symlinks)", goos)
	}

	v.logger.Debug("Validating msiinfo availability", "path", v.tool.Path())

	version, err := v.tool.Version(ctx)
	if err != nil {
		return fmt.Errorf("msiinfo not found (install msitools): %w", err)
	}
	if version == "" {
		return fmt.Errorf("msiinfo at %s did not report a version", v.tool.Path())
	}

	v.logger.Debug("Found msiinfo", "version", version)
	return nil
}

// Directories checks that each directory exists or can be created, and is
// writable.
func (v *Validator) Directories(dirs ...string) error {
	for _, dir := range dirs {
		v.logger.Debug("Validating directory", "path", dir)

		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("directory %s is not usable: %w", dir, err)
		}
		f, err := os.CreateTemp(dir, ".msirepo-check-")
		if err != nil {
			return fmt.Errorf("directory %s is not writable: %w", dir, err)
		}
		_ = f.Close()
		_ = os.Remove(f.Name())
	}
	return nil
}
