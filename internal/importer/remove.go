package importer

import (
	"context"
	"fmt"

	"github.com/trly/msirepo/internal/report"
	"github.com/trly/msirepo/internal/unit"
)

// RemoveOptions selects what Remove unassociates.
type RemoveOptions struct {
	// Types limits the removal to these unit types. Empty means all types.
	Types []unit.Type
	// Match limits the removal to units whose name contains it.
	Match string
}

// Remove unassociates the selected units from a repository. Stored units and
// their content are kept, since other repositories may still hold them.
func (i *Importer) Remove(ctx context.Context, repoID string, opts RemoveOptions) *report.Report {
	if _, err := i.store.GetRepository(ctx, repoID); err != nil {
		return report.Failure(fmt.Errorf("repository %s: %w", repoID, err))
	}

	types := opts.Types
	if len(types) == 0 {
		types = unit.Types()
	}

	r := report.New(true)
	removed := 0
	for _, t := range types {
		units, err := i.store.Search(ctx, repoID, t, opts.Match)
		if err != nil {
			return report.Failure(err)
		}
		for _, u := range units {
			if err := i.store.Unassociate(ctx, repoID, u); err != nil {
				return report.Failure(fmt.Errorf("unassociating %s from %s: %w", u, repoID, err))
			}
			i.logger.Debug("Removed unit", "repo", repoID, "unit", u.String())
		}
		r.Summary[string(t)] = len(units)
		removed += len(units)
	}

	i.logger.Info("Removed units", "repo", repoID, "count", removed)
	r.Summary["units_removed"] = removed
	return r
}
