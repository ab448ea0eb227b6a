package distributor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/trly/msirepo/internal/db"
	"github.com/trly/msirepo/internal/repodata"
	"github.com/trly/msirepo/internal/unit"
)

// stage fills dir with one symlink per associated unit plus the repodata
// documents. Units are streamed from the store, MSI first, and written to
// primary.xml as they arrive. The count and the stream come from one read
// of the store so that concurrent associations cannot skew the header. It
// returns the number of units published.
func (p *Publisher) stage(ctx context.Context, repoID, dir string) (int, error) {
	var info *repodata.FileInfo
	err := p.store.ReadAssociated(ctx, func(r db.AssociatedReader) error {
		var err error
		info, err = p.writePrimary(ctx, r, repoID, dir)
		return err
	})
	if err != nil {
		return 0, err
	}

	if err := repodata.NewRepomdWriter(p.opts.Clock).Write(dir, info); err != nil {
		return 0, err
	}

	p.logger.Debug("Staged repository", "repo", repoID, "units", info.Packages, "primary_checksum", info.Checksum)
	return info.Packages, nil
}

func (p *Publisher) writePrimary(ctx context.Context, r db.AssociatedReader, repoID, dir string) (*repodata.FileInfo, error) {
	total := 0
	for _, t := range unit.Types() {
		n, err := r.CountAssociated(ctx, repoID, t)
		if err != nil {
			return nil, fmt.Errorf("counting %s units: %w", t, err)
		}
		total += n
	}

	primary, err := repodata.NewPrimaryWriter(dir, total, p.opts.ChecksumType)
	if err != nil {
		return nil, err
	}

	for _, t := range unit.Types() {
		err := r.EachAssociated(ctx, repoID, t, func(u *unit.Unit) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := linkUnit(dir, u); err != nil {
				return err
			}
			return primary.Add(u)
		})
		if err != nil {
			_, _ = primary.Close()
			return nil, fmt.Errorf("publishing %s units: %w", t, err)
		}
	}

	return primary.Close()
}

// linkUnit creates {dir}/{filename} pointing at the unit's stored content.
func linkUnit(dir string, u *unit.Unit) error {
	if u.StoragePath == "" {
		return fmt.Errorf("unit %s has no stored content", u)
	}
	if err := os.Symlink(u.StoragePath, filepath.Join(dir, u.Filename)); err != nil {
		return fmt.Errorf("linking %s: %w", u.Filename, err)
	}
	return nil
}

// publishRoots returns the http and https roots of repo. Per-repository
// overrides win over the configured defaults.
func (p *Publisher) publishRoots(repo *db.Repository) []protocolRoot {
	httpDir := repo.Distributor.HTTPPublishDir
	if httpDir == "" {
		httpDir = p.opts.HTTPDir
	}
	httpsDir := repo.Distributor.HTTPSPublishDir
	if httpsDir == "" {
		httpsDir = p.opts.HTTPSDir
	}
	return []protocolRoot{
		{Protocol: KeyHTTP, Dir: httpDir, Enabled: repo.Distributor.HTTP},
		{Protocol: KeyHTTPS, Dir: httpsDir, Enabled: repo.Distributor.HTTPS},
	}
}

type protocolRoot struct {
	Protocol string
	Dir      string
	Enabled  bool
}

// target is the published entry of repo under this root.
func (r protocolRoot) target(repo *db.Repository) string {
	return filepath.Join(r.Dir, filepath.Clean(repo.RelativePath()))
}
