package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/trly/msirepo/internal/checksum"
	"github.com/trly/msirepo/internal/report"
	"github.com/trly/msirepo/internal/unit"
)

// Upload describes a local installer file to add to a repository.
type Upload struct {
	RepoID   string
	Type     string
	Path     string
	Checksum string
	// ChecksumType defaults to the importer's checksum type.
	ChecksumType string
}

// Upload verifies, reads and stores a local installer file and associates
// it with the repository. A declared checksum must match the file; when
// none is declared it is computed.
func (i *Importer) Upload(ctx context.Context, up Upload) *report.Report {
	t, err := unit.ParseType(up.Type)
	if err != nil {
		return report.Failure(fmt.Errorf("Unsupported unit type %s", up.Type)) //nolint:staticcheck // user-facing message
	}

	if _, err := i.store.GetRepository(ctx, up.RepoID); err != nil {
		return report.Failure(fmt.Errorf("repository %s: %w", up.RepoID, err))
	}

	checksumType := checksum.Sanitize(up.ChecksumType)
	if checksumType == "" {
		checksumType = i.opts.ChecksumType
	}

	if up.Checksum != "" {
		err := checksum.VerifyFile(up.Path, checksumType, strings.ToLower(up.Checksum))
		switch {
		case errors.Is(err, checksum.ErrMismatch):
			i.logger.Error("File checksum mismatch", "path", up.Path, "error", err)
			return report.Failure(errors.New("Checksum mismatch")) //nolint:staticcheck // user-facing message
		case err != nil:
			i.logger.Error("Checksum verification failed", "path", up.Path, "error", err)
			return report.Failure(err)
		}
	}

	u, err := unit.FromFile(ctx, i.extractor, t, up.Path, checksumType)
	if err != nil {
		return report.Failure(err)
	}

	saved, err := i.commit(ctx, up.RepoID, u, up.Path)
	if err != nil {
		return report.Failure(err)
	}

	r := report.New(true)
	r.Summary["unit"] = saved
	return r
}
