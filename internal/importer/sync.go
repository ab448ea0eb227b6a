package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/trly/msirepo/internal/checksum"
	"github.com/trly/msirepo/internal/db"
	"github.com/trly/msirepo/internal/feed"
	"github.com/trly/msirepo/internal/log"
	"github.com/trly/msirepo/internal/report"
	"github.com/trly/msirepo/internal/state"
	"github.com/trly/msirepo/internal/transport"
	"github.com/trly/msirepo/internal/unit"
)

// Summary and progress keys of a sync report.
const (
	StepMetadata = "metadata"
	StepContent  = "content"
)

// SyncOptions adjusts a single sync run.
type SyncOptions struct {
	// Feeds overrides the repository's mirror list.
	Feeds []string
	// ForceFull processes content even when the upstream revision is
	// unchanged since the last sync.
	ForceFull bool
}

// Sync is one sync run of a repository. A Sync is used once.
type Sync struct {
	importer *Importer
	repo     *db.Repository
	opts     SyncOptions
	logger   log.Logger

	metadata *report.Stage
	content  *report.Content

	mu        sync.Mutex
	cancelled bool
	cancel    context.CancelFunc
}

// NewSync prepares a sync of repo.
func (i *Importer) NewSync(repo *db.Repository, opts SyncOptions) *Sync {
	logger := i.logger.With("repo", repo.ID)
	return &Sync{
		importer: i,
		repo:     repo,
		opts:     opts,
		logger:   logger,
		metadata: report.NewStage(),
		content:  report.NewContent(logger),
	}
}

// Cancel asks the run to stop. Stages already under way finish their
// current units; no new download starts.
func (s *Sync) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	if s.cancel != nil {
		s.cancel()
	}
}

// Progress returns the current progress documents.
func (s *Sync) Progress() map[string]any {
	return map[string]any{
		StepMetadata: s.metadata.Snapshot(),
		StepContent:  s.content.Snapshot(),
	}
}

// Run executes the sync and reports the outcome. Cancelling ctx has the
// same effect as Cancel.
func (s *Sync) Run(ctx context.Context) *report.Report {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	if s.cancelled {
		cancel()
	}
	s.mu.Unlock()

	feeds := s.opts.Feeds
	if len(feeds) == 0 {
		feeds = s.repo.Feeds
	}
	if len(feeds) == 0 {
		s.metadata.SetState(report.StateFailed)
		return s.failure(fmt.Errorf("%w: repository %s has no feed configured", ErrNoValidMirror, s.repo.ID))
	}

	for n, url := range feeds {
		if url == "" {
			return s.failure(&ConfigError{Message: fmt.Sprintf("feed %d of repository %s is empty", n+1, s.repo.ID)})
		}

		revision, err := s.runMirror(ctx, url)
		if err == nil {
			if err := s.saveRevision(revision); err != nil {
				s.logger.Warn("Failed to save revision marker", "error", err)
			}
			s.logger.Info("Sync complete", "mirror", url)
			return s.success()
		}

		switch {
		case ctx.Err() != nil:
			s.failStages()
			return s.failure(ErrCancelled)
		case IsMirrorError(err) && n < len(feeds)-1:
			s.logger.Warn("Mirror failed, trying next", "mirror", url, "error", err)
			continue
		case IsMirrorError(err):
			s.failStages()
			return s.failure(fmt.Errorf("%w: %w", ErrNoValidMirror, err))
		default:
			s.logger.Error("Sync failed", "mirror", url, "error", err)
			s.failStages()
			return s.failure(err)
		}
	}

	return s.failure(ErrNoValidMirror)
}

// runMirror syncs from one mirror inside a private temp directory that is
// always removed. It returns the upstream revision.
func (s *Sync) runMirror(ctx context.Context, url string) (string, error) {
	workDir := s.importer.opts.WorkingDir
	if err := os.MkdirAll(workDir, 0750); err != nil {
		return "", &FatalSyncError{Err: fmt.Errorf("creating working directory: %w", err)}
	}
	tmpDir, err := os.MkdirTemp(workDir, "sync-")
	if err != nil {
		return "", &FatalSyncError{Err: fmt.Errorf("creating temp directory: %w", err)}
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			s.logger.Warn("Failed to remove temp directory", "path", tmpDir, "error", err)
		}
	}()

	if ctx.Err() != nil {
		return "", ErrCancelled
	}

	s.metadata.SetState(report.StateInProgress)
	manifest, err := s.fetchManifest(ctx, url, tmpDir)
	if err != nil {
		s.metadata.SetState(report.StateFailed)
		return "", err
	}

	if !s.opts.ForceFull && manifest.Revision != "" && manifest.Revision == s.lastRevision() {
		s.logger.Info("Upstream revision unchanged, skipping content", "revision", manifest.Revision)
		s.metadata.SetState(report.StateFinished)
		s.content.SetState(report.StateSkipped)
		return manifest.Revision, nil
	}

	primaryPath, err := s.fetchPrimary(ctx, url, tmpDir, manifest)
	if err != nil {
		s.metadata.SetState(report.StateFailed)
		return "", err
	}
	s.metadata.SetState(report.StateFinished)

	if ctx.Err() != nil {
		return "", ErrCancelled
	}

	s.content.SetState(report.StateInProgress)
	if err := s.updateContent(ctx, url, primaryPath, tmpDir); err != nil {
		s.content.SetState(report.StateFailed)
		return "", err
	}
	s.content.SetState(report.StateFinished)

	return manifest.Revision, nil
}

// fetchManifest downloads and parses repomd.xml.
func (s *Sync) fetchManifest(ctx context.Context, url, tmpDir string) (*feed.Repomd, error) {
	repomdPath := filepath.Join(tmpDir, "repodata", "repomd.xml")

	if err := s.importer.downloader.Fetch(ctx, transport.JoinURL(url, feed.RepomdPath), repomdPath); err != nil {
		return nil, &MirrorError{URL: url, Err: err}
	}

	f, err := os.Open(repomdPath) //nolint:gosec // Path is inside the sync temp directory
	if err != nil {
		return nil, &FatalSyncError{Err: err}
	}
	defer func() { _ = f.Close() }()

	manifest, err := feed.ParseRepomd(f)
	if err != nil {
		return nil, &FatalSyncError{Err: err}
	}
	return manifest, nil
}

// fetchPrimary downloads the primary file the manifest references and
// checks it against the manifest's checksum.
func (s *Sync) fetchPrimary(ctx context.Context, url, tmpDir string, manifest *feed.Repomd) (string, error) {
	primary, err := manifest.Primary()
	if err != nil {
		return "", &MirrorError{URL: url, Err: err}
	}

	primaryPath := filepath.Join(tmpDir, "repodata", filepath.Base(primary.Location))
	if err := s.importer.downloader.Fetch(ctx, transport.JoinURL(url, primary.Location), primaryPath); err != nil {
		return "", &MirrorError{URL: url, Err: err}
	}

	if primary.Checksum != "" {
		if err := checksum.VerifyFile(primaryPath, primary.ChecksumType, primary.Checksum); err != nil {
			return "", &MirrorError{URL: url, Err: fmt.Errorf("primary metadata: %w", err)}
		}
	}

	return primaryPath, nil
}

// updateContent decides what to download, downloads it and saves fileless
// units.
func (s *Sync) updateContent(ctx context.Context, url, primaryPath, tmpDir string) error {
	i := s.importer

	rc, err := feed.OpenPrimary(primaryPath)
	if err != nil {
		if feed.IsParseError(err) {
			return &FatalSyncError{Err: err}
		}
		return &FatalSyncError{Err: fmt.Errorf("opening primary metadata: %w", err)}
	}
	candidates, err := ReadCandidates(rc, i.opts.ChecksumType)
	_ = rc.Close()
	switch {
	case unit.IsUnsupportedType(err):
		return &MirrorError{URL: url, Err: err}
	case err != nil:
		return &FatalSyncError{Err: err}
	}

	p, err := i.decide(ctx, s.repo.ID, candidates)
	if err != nil {
		return &FatalSyncError{Err: err}
	}
	s.content.SetInitialValues(p.counts, p.size)
	s.logger.Info("Sync plan", "candidates", candidates.Len(), "download", len(p.download),
		"reassociated", p.reassociated, "size", p.size)

	if err := i.ingest(ctx, s.repo.ID, url, tmpDir, p.download, s.content); err != nil {
		if errors.Is(err, context.Canceled) {
			return ErrCancelled
		}
		return &FatalSyncError{Err: err}
	}

	for _, u := range p.fileless {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		if _, err := i.commit(ctx, s.repo.ID, u, ""); err != nil {
			return &FatalSyncError{Err: err}
		}
		s.content.Success(u, 0)
	}

	return nil
}

func (s *Sync) lastRevision() string {
	if s.importer.opts.StateFile == "" {
		return ""
	}
	st, err := state.Load(s.importer.opts.StateFile)
	if err != nil {
		s.logger.Warn("Failed to read state file", "error", err)
		return ""
	}
	return st.Revision(s.repo.ID)
}

func (s *Sync) saveRevision(revision string) error {
	if s.importer.opts.StateFile == "" || revision == "" {
		return nil
	}
	now := s.importer.opts.Clock.Now()
	return state.Update(s.importer.opts.StateFile, func(st *state.State) {
		st.SetRevision(s.repo.ID, revision, now)
	})
}

// failStages marks every stage that has not settled as failed.
func (s *Sync) failStages() {
	if !s.metadata.State().Terminal() {
		s.metadata.SetState(report.StateFailed)
	}
	if st := s.content.State(); st == report.StateInProgress {
		s.content.SetState(report.StateFailed)
	}
}

func (s *Sync) summary() map[string]any {
	return map[string]any{
		StepMetadata: s.metadata.State(),
		StepContent:  s.content.State(),
	}
}

func (s *Sync) success() *report.Report {
	r := report.New(true)
	r.Summary = s.summary()
	r.Details.Progress = s.Progress()
	for _, d := range s.content.Snapshot().ErrorDetails {
		r.Details.Errors = append(r.Details.Errors, d.Error)
	}
	return r
}

func (s *Sync) failure(err error) *report.Report {
	r := s.success()
	r.Success = false
	r.AddError(err)
	return r
}
