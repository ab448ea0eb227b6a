// Package contentstore keeps installer bytes in a content-addressed layout on
// the local filesystem. Each distinct unit is stored exactly once.
package contentstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/trly/msirepo/internal/checksum"
	"github.com/trly/msirepo/internal/keylock"
	"github.com/trly/msirepo/internal/log"
	"github.com/trly/msirepo/internal/unit"
)

// CorruptContentError is returned when bytes offered for import do not match
// the unit they claim to be.
type CorruptContentError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *CorruptContentError) Error() string {
	return fmt.Sprintf("refusing to store %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *CorruptContentError) Unwrap() error {
	return e.Err
}

// IsCorruptContent reports whether err is a CorruptContentError.
func IsCorruptContent(err error) bool {
	var cce *CorruptContentError
	return errors.As(err, &cce)
}

// FileStore is a content store rooted at a directory.
type FileStore struct {
	root   string
	locks  *keylock.Map
	logger log.Logger
}

// New creates a FileStore rooted at root.
func New(root string, logger log.Logger) *FileStore {
	return &FileStore{
		root:   root,
		locks:  keylock.New(),
		logger: logger,
	}
}

// Root returns the store's root directory.
func (s *FileStore) Root() string {
	return s.root
}

// PathFor returns the canonical path of a unit:
// {root}/units/{type}/{checksum[0:2]}/{checksum[2:]}/{name}/{version}/{filename}.
func (s *FileStore) PathFor(u *unit.Unit) string {
	sum := u.Key().Checksum
	head, tail := sum, "_"
	if len(sum) > 2 {
		head, tail = sum[:2], sum[2:]
	}

	filename := u.Filename
	if filename == "" {
		filename = unit.Filename(u.Name, u.Version, u.Type)
	}

	return filepath.Join(s.root, "units", string(u.Type), head, tail, u.Name, u.Version, filename)
}

// Exists reports whether the unit's canonical path holds a regular file.
func (s *FileStore) Exists(u *unit.Unit) bool {
	info, err := os.Stat(s.PathFor(u))
	return err == nil && info.Mode().IsRegular()
}

// Import copies src into the unit's canonical path. src must hash to the
// unit's checksum. Content already at the path that matches is left alone
// and Import reports false; content that does not match is replaced.
func (s *FileStore) Import(ctx context.Context, u *unit.Unit, src string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if err := checksum.VerifyFile(src, u.ChecksumType, u.Checksum); err != nil {
		return false, &CorruptContentError{Path: src, Err: err}
	}

	target := s.PathFor(u)

	unlock := s.locks.Lock(target)
	defer unlock()

	if _, err := os.Stat(target); err == nil {
		verr := checksum.VerifyFile(target, u.ChecksumType, u.Checksum)
		if verr == nil {
			s.logger.Debug("Content already stored, skipping", "path", target)
			return false, nil
		}
		if !errors.Is(verr, checksum.ErrMismatch) {
			return false, fmt.Errorf("verifying stored content %s: %w", target, verr)
		}

		s.logger.Warn("Stored content does not match its key, replacing", "path", target, "error", verr)
		if err := os.Remove(target); err != nil {
			return false, fmt.Errorf("removing mismatched content %s: %w", target, err)
		}
	}

	if err := atomicCopy(src, target); err != nil {
		return false, fmt.Errorf("storing %s: %w", u.Filename, err)
	}

	s.logger.Debug("Content stored", "path", target)
	return true, nil
}

// atomicCopy copies src to targetPath using temp file -> fsync -> rename.
func atomicCopy(src, targetPath string) error {
	parentDir := filepath.Dir(targetPath)
	if err := os.MkdirAll(parentDir, 0750); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	in, err := os.Open(src) //nolint:gosec // Source is a verified download
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer func() { _ = in.Close() }()

	// Temp file in the same directory so the rename stays atomic
	tempFile, err := os.CreateTemp(parentDir, ".content-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := tempFile.Name()

	defer func() {
		_ = os.Remove(tempPath)
	}()

	if _, err := io.Copy(tempFile, in); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("writing to temp file: %w", err)
	}

	if err := tempFile.Chmod(0644); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		return fmt.Errorf("renaming temp file to target: %w", err)
	}

	return nil
}
