// Package importer brings installer units into repositories: syncing from
// upstream mirrors, uploading local files, and copying between repositories.
package importer

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/trly/msirepo/internal/checksum"
	"github.com/trly/msirepo/internal/contentstore"
	"github.com/trly/msirepo/internal/db"
	"github.com/trly/msirepo/internal/log"
	"github.com/trly/msirepo/internal/transport"
	"github.com/trly/msirepo/internal/unit"
)

// Downloader fetches files for the importer.
type Downloader interface {
	// Download fetches reqs concurrently, reporting each outcome to l.
	Download(ctx context.Context, reqs []transport.Request, l transport.Listener) error
	// Fetch downloads a single file.
	Fetch(ctx context.Context, url, dest string) error
}

// Options configures an Importer.
type Options struct {
	// WorkingDir holds the private temp directory of each sync.
	WorkingDir string
	// StateFile records the upstream revision of each synced repository.
	StateFile string
	// ChecksumType is used when a feed or caller does not name one.
	ChecksumType string
	// Clock stamps state markers. Defaults to the wall clock.
	Clock clock.Clock
}

// Importer adds units to repositories.
type Importer struct {
	store      db.Store
	content    *contentstore.FileStore
	extractor  unit.Extractor
	downloader Downloader
	opts       Options
	logger     log.Logger
}

// New creates an Importer.
func New(store db.Store, content *contentstore.FileStore, extractor unit.Extractor, downloader Downloader, opts Options, logger log.Logger) *Importer {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	opts.ChecksumType = checksum.Sanitize(opts.ChecksumType)
	if opts.ChecksumType == "" {
		opts.ChecksumType = checksum.DefaultType
	}
	return &Importer{
		store:      store,
		content:    content,
		extractor:  extractor,
		downloader: downloader,
		opts:       opts,
		logger:     logger,
	}
}

// commit stores a verified unit: its document first, then its bytes, then
// the association, so that nothing half-imported is visible to readers.
func (i *Importer) commit(ctx context.Context, repoID string, u *unit.Unit, path string) (*unit.Unit, error) {
	u.StoragePath = i.content.PathFor(u)

	saved, created, err := i.store.Save(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("saving %s: %w", u, err)
	}

	if u.HasFile() {
		if _, err := i.content.Import(ctx, saved, path); err != nil {
			if created {
				i.discard(ctx, saved)
			}
			return nil, err
		}
	}

	if err := i.store.Associate(ctx, repoID, saved); err != nil {
		return nil, fmt.Errorf("associating %s with %s: %w", saved, repoID, err)
	}

	i.logger.Info("Added unit", "repo", repoID, "unit", saved.String(), "created", created)
	return saved, nil
}

// discard deletes a document whose content never made it into the store.
func (i *Importer) discard(ctx context.Context, u *unit.Unit) {
	if err := i.store.Delete(context.WithoutCancel(ctx), u); err != nil {
		i.logger.Warn("Could not remove unit without content", "unit", u.String(), "error", err)
	}
}
