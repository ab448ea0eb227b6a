package unit

import (
	"errors"
	"fmt"
)

// InvalidPackageError indicates that a file is not a well-formed installer of
// the expected type.
type InvalidPackageError struct {
	Path   string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *InvalidPackageError) Error() string {
	msg := e.Reason
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", e.Path, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("invalid package %s: %v", msg, e.Err)
	}
	return fmt.Sprintf("invalid package %s", msg)
}

// Unwrap returns the underlying error.
func (e *InvalidPackageError) Unwrap() error {
	return e.Err
}

// NewInvalidPackageError creates an InvalidPackageError.
func NewInvalidPackageError(path, reason string, err error) *InvalidPackageError {
	return &InvalidPackageError{Path: path, Reason: reason, Err: err}
}

// IsInvalidPackage reports whether err is an InvalidPackageError.
func IsInvalidPackage(err error) bool {
	var ipe *InvalidPackageError
	return errors.As(err, &ipe)
}

// UnsupportedTypeError indicates a unit type with no descriptor.
type UnsupportedTypeError struct {
	Type string
}

// Error implements the error interface.
func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported package type %s", e.Type)
}

// IsUnsupportedType reports whether err is an UnsupportedTypeError.
func IsUnsupportedType(err error) bool {
	var ute *UnsupportedTypeError
	return errors.As(err, &ute)
}
