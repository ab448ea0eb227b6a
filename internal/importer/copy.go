package importer

import (
	"context"
	"fmt"

	"github.com/trly/msirepo/internal/dependency"
	"github.com/trly/msirepo/internal/report"
	"github.com/trly/msirepo/internal/unit"
)

// CopyOptions selects what Copy associates.
type CopyOptions struct {
	// Types limits the copy to these unit types. Empty means all types.
	Types []unit.Type
	// Match limits the copy to units whose name contains it.
	Match string
	// Recursive also copies the merge modules each selected installer
	// embeds, when the source repository holds them.
	Recursive bool
}

// Copy associates units of the source repository with the destination
// repository. No content is duplicated.
func (i *Importer) Copy(ctx context.Context, srcID, dstID string, opts CopyOptions) *report.Report {
	for _, id := range []string{srcID, dstID} {
		if _, err := i.store.GetRepository(ctx, id); err != nil {
			return report.Failure(fmt.Errorf("repository %s: %w", id, err))
		}
	}

	types := opts.Types
	if len(types) == 0 {
		types = unit.Types()
	}

	var selected []*unit.Unit
	for _, t := range types {
		units, err := i.store.Search(ctx, srcID, t, opts.Match)
		if err != nil {
			return report.Failure(err)
		}
		selected = append(selected, units...)
	}

	if opts.Recursive {
		var err error
		if selected, err = i.withModules(ctx, srcID, selected); err != nil {
			return report.Failure(err)
		}
	}

	i.logger.Info("Copying units", "from", srcID, "to", dstID, "count", len(selected))

	counts := make(map[string]int)
	for _, u := range selected {
		if err := i.store.Associate(ctx, dstID, u); err != nil {
			return report.Failure(fmt.Errorf("associating %s with %s: %w", u, dstID, err))
		}
		counts[string(u.Type)]++
	}

	r := report.New(true)
	r.Summary["units_copied"] = len(selected)
	for _, t := range unit.Types() {
		r.Summary[string(t)] = counts[string(t)]
	}
	return r
}

// withModules extends selected with the source repository's merge modules
// they embed, modules first.
func (i *Importer) withModules(ctx context.Context, srcID string, selected []*unit.Unit) ([]*unit.Unit, error) {
	modules, err := i.store.Search(ctx, srcID, unit.TypeMSM, "")
	if err != nil {
		return nil, err
	}

	mg, err := dependency.BuildModuleGraph(append(append([]*unit.Unit{}, selected...), modules...))
	if err != nil {
		return nil, err
	}

	closure, err := mg.Closure(selected)
	if err != nil {
		return nil, err
	}

	ordered := make([]*unit.Unit, 0, len(closure))
	for _, t := range []unit.Type{unit.TypeMSM, unit.TypeMSI} {
		for _, u := range closure {
			if u.Type == t {
				ordered = append(ordered, u)
			}
		}
	}
	return ordered, nil
}
