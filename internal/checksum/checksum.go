// Package checksum computes and verifies content digests for installer units.
package checksum

import (
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/opencontainers/go-digest"
)

// DefaultType is the checksum type used when none is configured.
const DefaultType = "sha256"

// ErrMismatch is returned when content does not match the expected checksum.
var ErrMismatch = errors.New("checksum mismatch")

// InvalidTypeError is returned for checksum types that are not supported.
type InvalidTypeError struct {
	Type string
}

// Error implements the error interface.
func (e *InvalidTypeError) Error() string {
	return fmt.Sprintf("invalid checksum type: %q", e.Type)
}

// IsInvalidType reports whether err is an InvalidTypeError.
func IsInvalidType(err error) bool {
	var ite *InvalidTypeError
	return errors.As(err, &ite)
}

// MismatchError carries both sides of a failed verification.
type MismatchError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s checksum mismatch: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrMismatch) work.
func (e *MismatchError) Is(target error) bool {
	return target == ErrMismatch
}

// Sanitize normalizes a checksum type name.
func Sanitize(checksumType string) string {
	return strings.ToLower(strings.TrimSpace(checksumType))
}

// Algorithm resolves a checksum type to a digest algorithm.
func Algorithm(checksumType string) (digest.Algorithm, error) {
	alg := digest.Algorithm(Sanitize(checksumType))
	if !alg.Available() {
		return "", &InvalidTypeError{Type: checksumType}
	}
	return alg, nil
}

// Supported reports whether checksumType can be computed.
func Supported(checksumType string) bool {
	_, err := Algorithm(checksumType)
	return err == nil
}

// NewHash returns a running hash for checksumType.
func NewHash(checksumType string) (hash.Hash, error) {
	alg, err := Algorithm(checksumType)
	if err != nil {
		return nil, err
	}
	return alg.Hash(), nil
}

// Compute reads r to the end and returns the hex digest and the byte count.
func Compute(r io.Reader, checksumType string) (string, int64, error) {
	alg, err := Algorithm(checksumType)
	if err != nil {
		return "", 0, err
	}

	digester := alg.Digester()
	n, err := io.Copy(digester.Hash(), r)
	if err != nil {
		return "", n, fmt.Errorf("reading content: %w", err)
	}

	return digester.Digest().Encoded(), n, nil
}

// ComputeFile returns the hex digest and size of the file at path.
func ComputeFile(path, checksumType string) (string, int64, error) {
	f, err := os.Open(path) //nolint:gosec // Paths are produced by the content pipeline
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = f.Close() }()

	return Compute(f, checksumType)
}

// Verify checks that r hashes to expected.
func Verify(r io.Reader, checksumType, expected string) error {
	actual, _, err := Compute(r, checksumType)
	if err != nil {
		return err
	}

	if !strings.EqualFold(actual, strings.TrimSpace(expected)) {
		return &MismatchError{Type: Sanitize(checksumType), Expected: expected, Actual: actual}
	}

	return nil
}

// VerifyFile checks the file at path against expected.
func VerifyFile(path, checksumType, expected string) error {
	f, err := os.Open(path) //nolint:gosec // Paths are produced by the content pipeline
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return Verify(f, checksumType, expected)
}
