package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/trly/msirepo/internal/checksum"
	"github.com/trly/msirepo/internal/log"
	"github.com/trly/msirepo/internal/report"
	"github.com/trly/msirepo/internal/transport"
	"github.com/trly/msirepo/internal/unit"
)

// downloadPath is the temporary location of a candidate inside the sync's
// private directory. The checksum keeps same-named candidates apart.
func downloadPath(tmpDir string, u *unit.Unit) string {
	return filepath.Join(tmpDir, string(u.Type), u.Key().Checksum+"-"+u.Filename)
}

func downloadURL(mirrorURL string, u *unit.Unit) string {
	rel := u.RelativePath
	if rel == "" {
		rel = u.Filename
	}
	return transport.JoinURL(mirrorURL, rel)
}

// ingest downloads and commits the candidates. Per-unit failures are
// recorded in progress; the returned error is ctx.Err() when cancellation
// stopped the run before every candidate started.
func (i *Importer) ingest(ctx context.Context, repoID, mirrorURL, tmpDir string, candidates []*unit.Unit, progress *report.Content) error {
	if len(candidates) == 0 {
		return ctx.Err()
	}

	reqs := make([]transport.Request, 0, len(candidates))
	for _, u := range candidates {
		reqs = append(reqs, transport.Request{
			URL:         downloadURL(mirrorURL, u),
			Destination: downloadPath(tmpDir, u),
			Data:        u,
		})
	}

	i.logger.Info("Downloading units", "repo", repoID, "count", len(reqs))

	l := &ingestListener{
		importer: i,
		repoID:   repoID,
		ctx:      context.WithoutCancel(ctx),
		progress: progress,
		logger:   i.logger.With("repo", repoID),
	}
	return i.downloader.Download(ctx, reqs, l)
}

// ingestListener turns download events into committed units.
type ingestListener struct {
	importer *Importer
	repoID   string
	// ctx outlives cancellation so a started unit can finish committing.
	ctx      context.Context
	progress *report.Content
	logger   log.Logger
}

var _ transport.Listener = (*ingestListener)(nil)

func (l *ingestListener) DownloadSucceeded(req transport.Request) {
	candidate := req.Data.(*unit.Unit)
	defer removeTemp(req.Destination)

	if err := l.store(candidate, req.Destination); err != nil {
		l.fail(candidate, err)
		return
	}
	l.progress.Success(candidate, candidate.Size)
}

func (l *ingestListener) DownloadFailed(req transport.Request, err error) {
	candidate := req.Data.(*unit.Unit)
	removeTemp(req.Destination)
	l.fail(candidate, fmt.Errorf("download failed: %w", err))
}

func (l *ingestListener) fail(candidate *unit.Unit, err error) {
	uerr := &UnitError{Unit: candidate.Filename, Err: err}
	l.logger.Warn("Unit not imported", "unit", candidate.String(), "error", err)
	l.progress.Failure(candidate, candidate.Size, uerr)
}

// store verifies a downloaded file, re-reads its metadata from the file
// itself and commits the result.
func (l *ingestListener) store(candidate *unit.Unit, path string) error {
	if err := checksum.VerifyFile(path, candidate.ChecksumType, candidate.Checksum); err != nil {
		return err
	}

	u, err := unit.FromFile(l.ctx, l.importer.extractor, candidate.Type, path, candidate.ChecksumType)
	if err != nil {
		return err
	}

	if u.Key() != candidate.Key() {
		l.logger.Warn("Feed metadata differs from package, using package metadata",
			"feed", candidate.Key().String(), "package", u.Key().String())
	}

	_, err = l.importer.commit(l.ctx, l.repoID, u, path)
	return err
}

func removeTemp(path string) {
	_ = os.Remove(path)
}
