package distributor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/trly/msirepo/internal/checksum"
	"github.com/trly/msirepo/internal/db"
	"github.com/trly/msirepo/internal/keylock"
	"github.com/trly/msirepo/internal/log"
	"github.com/trly/msirepo/internal/report"
	"github.com/trly/msirepo/internal/state"
)

// Summary keys of a publish report.
const (
	StepPublishModules = "publish_modules"
	KeyUnitsProcessed  = "units_processed"
	KeyGeneration      = "generation"
)

// Options configures a Publisher.
type Options struct {
	// WorkingDir holds staging directories.
	WorkingDir string
	// MasterDir holds the published generations, one directory per repository.
	MasterDir string
	// HTTPDir and HTTPSDir are the default protocol roots.
	HTTPDir  string
	HTTPSDir string
	// StateFile records the published generation when set.
	StateFile    string
	ChecksumType string
	Clock        clock.Clock
}

// Publisher builds a repository tree and swaps it into place. Publishes of
// the same repository are serialized; readers of the published path see
// either the previous tree or the new one.
type Publisher struct {
	store  db.UnitStore
	opts   Options
	locks  *keylock.Map
	logger log.Logger

	newGeneration func() string
}

// NewPublisher creates a Publisher.
func NewPublisher(store db.UnitStore, opts Options, logger log.Logger) *Publisher {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.ChecksumType == "" {
		opts.ChecksumType = checksum.DefaultType
	}
	return &Publisher{
		store:         store,
		opts:          opts,
		locks:         keylock.New(),
		logger:        logger,
		newGeneration: uuid.NewString,
	}
}

// Publish publishes every unit associated to repo.
func (p *Publisher) Publish(ctx context.Context, repo *db.Repository) *report.Report {
	unlock := p.locks.Lock(repo.ID)
	defer unlock()

	logger := p.logger.With("repo", repo.ID)
	logger.Info("Publishing repository")

	generation, n, err := p.publish(ctx, repo, logger)
	if err != nil {
		logger.Error("Publish failed", "error", err)
		r := report.Failure(err)
		r.Summary = map[string]any{StepPublishModules: report.StateFailed, KeyUnitsProcessed: n}
		return r
	}

	logger.Info("Published repository", "generation", generation, "units", n)
	r := report.New(true)
	r.Summary = map[string]any{
		StepPublishModules: report.StateFinished,
		KeyUnitsProcessed:  n,
		KeyGeneration:      generation,
	}
	return r
}

func (p *Publisher) publish(ctx context.Context, repo *db.Repository, logger log.Logger) (string, int, error) {
	if err := os.MkdirAll(p.opts.WorkingDir, 0750); err != nil {
		return "", 0, fmt.Errorf("creating working directory: %w", err)
	}
	staging, err := os.MkdirTemp(p.opts.WorkingDir, "publish-")
	if err != nil {
		return "", 0, fmt.Errorf("creating staging directory: %w", err)
	}
	// A no-op once staging has been moved into the master directory.
	defer func() { _ = os.RemoveAll(staging) }()

	if err := os.Chmod(staging, 0755); err != nil { //nolint:gosec // Published trees are world-readable
		return "", 0, fmt.Errorf("setting staging permissions: %w", err)
	}

	n, err := p.stage(ctx, repo.ID, staging)
	if err != nil {
		return "", 0, err
	}
	if err := ctx.Err(); err != nil {
		return "", n, err
	}

	repoMaster := filepath.Join(p.opts.MasterDir, repo.ID)
	if err := os.MkdirAll(repoMaster, 0755); err != nil { //nolint:gosec // Published trees are world-readable
		return "", n, fmt.Errorf("creating master directory: %w", err)
	}

	generation := p.newGeneration()
	genDir := filepath.Join(repoMaster, generation)
	if err := os.Rename(staging, genDir); err != nil {
		return "", n, fmt.Errorf("moving staged tree into place: %w", err)
	}

	for _, root := range p.publishRoots(repo) {
		target := root.target(repo)
		if !root.Enabled {
			if err := unlinkIfOwned(target, repoMaster); err != nil {
				return "", n, err
			}
			continue
		}
		if err := swapSymlink(genDir, target, generation); err != nil {
			return "", n, fmt.Errorf("publishing via %s: %w", root.Protocol, err)
		}
		logger.Debug("Linked published tree", "protocol", root.Protocol, "path", target)
	}

	if err := removeOtherGenerations(repoMaster, generation); err != nil {
		logger.Warn("Failed to remove old generations", "error", err)
	}

	if p.opts.StateFile != "" {
		now := p.opts.Clock.Now()
		if err := state.Update(p.opts.StateFile, func(st *state.State) {
			st.SetPublished(repo.ID, generation, now)
		}); err != nil {
			logger.Warn("Failed to record published generation", "error", err)
		}
	}

	return generation, n, nil
}

// swapSymlink points target at dir by renaming a fresh symlink over it, so
// the directory entry changes in a single step.
func swapSymlink(dir, target, generation string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil { //nolint:gosec // Published trees are world-readable
		return fmt.Errorf("creating publish directory: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+"."+generation)
	_ = os.Remove(tmp)
	if err := os.Symlink(dir, tmp); err != nil {
		return fmt.Errorf("creating symlink: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", target, err)
	}
	return nil
}

// unlinkIfOwned removes target when it is a symlink into repoMaster. A
// protocol that was switched off stops serving the repository this way.
func unlinkIfOwned(target, repoMaster string) error {
	dest, err := os.Readlink(target)
	if err != nil {
		return nil
	}
	if !strings.HasPrefix(dest, repoMaster+string(filepath.Separator)) {
		return nil
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("unlinking %s: %w", target, err)
	}
	return nil
}

func removeOtherGenerations(repoMaster, keep string) error {
	entries, err := os.ReadDir(repoMaster)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if e.Name() == keep {
			continue
		}
		errs = append(errs, os.RemoveAll(filepath.Join(repoMaster, e.Name())))
	}
	return errors.Join(errs...)
}

// Remove deletes everything published for repo: its generations and its
// entry under every protocol root. Missing entries are not an error.
func (p *Publisher) Remove(repo *db.Repository) error {
	unlock := p.locks.Lock(repo.ID)
	defer unlock()

	if err := os.RemoveAll(filepath.Join(p.opts.MasterDir, repo.ID)); err != nil {
		return fmt.Errorf("removing published generations: %w", err)
	}

	for _, root := range p.publishRoots(repo) {
		target := strings.TrimRight(root.target(repo), string(filepath.Separator))
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", target, err)
		}
	}

	if p.opts.StateFile != "" {
		if err := state.Update(p.opts.StateFile, func(st *state.State) { st.ClearPublished(repo.ID) }); err != nil {
			p.logger.Warn("Failed to update state file", "repo", repo.ID, "error", err)
		}
	}

	p.logger.Info("Removed published repository", "repo", repo.ID)
	return nil
}
