package importer

import (
	"errors"
	"fmt"
)

var (
	// ErrNoValidMirror is reported when every configured mirror failed.
	ErrNoValidMirror = errors.New("no valid mirror")
	// ErrCancelled is reported when a sync observed cancellation.
	ErrCancelled = errors.New("sync cancelled")
)

// ConfigError is a configuration problem found before any I/O.
type ConfigError struct {
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return e.Message
}

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// MirrorError means a mirror could not serve usable metadata. The next
// mirror may be tried.
type MirrorError struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e *MirrorError) Error() string {
	return fmt.Sprintf("mirror %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *MirrorError) Unwrap() error {
	return e.Err
}

// IsMirrorError reports whether err is a MirrorError.
func IsMirrorError(err error) bool {
	var me *MirrorError
	return errors.As(err, &me)
}

// UnitError is a failure confined to one unit.
type UnitError struct {
	Unit string
	Err  error
}

// Error implements the error interface.
func (e *UnitError) Error() string {
	return fmt.Sprintf("%s: %v", e.Unit, e.Err)
}

// Unwrap returns the underlying error.
func (e *UnitError) Unwrap() error {
	return e.Err
}

// IsUnitError reports whether err is a UnitError.
func IsUnitError(err error) bool {
	var ue *UnitError
	return errors.As(err, &ue)
}

// FatalSyncError aborts a sync without trying further mirrors.
type FatalSyncError struct {
	Err error
}

// Error implements the error interface.
func (e *FatalSyncError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *FatalSyncError) Unwrap() error {
	return e.Err
}

// IsFatalSyncError reports whether err is a FatalSyncError.
func IsFatalSyncError(err error) bool {
	var fe *FatalSyncError
	return errors.As(err, &fe)
}
