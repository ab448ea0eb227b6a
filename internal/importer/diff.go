package importer

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/trly/msirepo/internal/checksum"
	"github.com/trly/msirepo/internal/db"
	"github.com/trly/msirepo/internal/feed"
	"github.com/trly/msirepo/internal/unit"
)

// Candidates groups feed units by type and natural key. A key seen twice
// keeps the unit listed last.
type Candidates map[unit.Type]map[unit.Key]*unit.Unit

// Add records u, replacing any earlier unit with the same key.
func (c Candidates) Add(u *unit.Unit) {
	if c[u.Type] == nil {
		c[u.Type] = make(map[unit.Key]*unit.Unit)
	}
	c[u.Type][u.Key()] = u
}

// Len returns the number of distinct candidates.
func (c Candidates) Len() int {
	n := 0
	for _, units := range c {
		n += len(units)
	}
	return n
}

// Sorted returns the candidates of type t ordered by key.
func (c Candidates) Sorted(t unit.Type) []*unit.Unit {
	return sortByKey(slices.Collect(maps.Values(c[t])))
}

// ReadCandidates streams a primary document into Candidates. Units whose
// feed entry names no checksum type take defaultChecksumType.
func ReadCandidates(r io.Reader, defaultChecksumType string) (Candidates, error) {
	c := make(Candidates)
	err := feed.EachPackage(r, func(u *unit.Unit) error {
		if u.ChecksumType == "" {
			u.ChecksumType = defaultChecksumType
		}
		u.ChecksumType = checksum.Sanitize(u.ChecksumType)
		c.Add(u)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Diff splits the candidates of one type into those missing from the store
// and those already stored. Every candidate lands in exactly one of the two
// results; existing holds the stored units rather than the feed's copies.
func Diff(ctx context.Context, store db.UnitStore, t unit.Type, candidates []*unit.Unit) (missing, existing []*unit.Unit, err error) {
	if len(candidates) == 0 {
		return nil, nil, nil
	}

	keys := make([]unit.Key, 0, len(candidates))
	for _, u := range candidates {
		keys = append(keys, u.Key())
	}

	stored, err := store.FindByNaturalKeys(ctx, t, keys)
	if err != nil {
		return nil, nil, fmt.Errorf("looking up existing %s units: %w", t, err)
	}

	byKey := make(map[unit.Key]*unit.Unit, len(stored))
	for _, u := range stored {
		byKey[u.Key()] = u
	}

	for _, u := range candidates {
		if s, ok := byKey[u.Key()]; ok {
			existing = append(existing, s)
			continue
		}
		missing = append(missing, u)
	}

	return missing, existing, nil
}

// plan is the work a sync decided on.
type plan struct {
	download     []*unit.Unit
	fileless     []*unit.Unit
	reassociated int
	counts       map[unit.Type]int
	size         int64
}

// decide diffs every type against the store, associates units that are
// already stored and returns what remains to be fetched. A stored unit whose
// content is gone is fetched again rather than associated.
func (i *Importer) decide(ctx context.Context, repoID string, c Candidates) (*plan, error) {
	p := &plan{counts: make(map[unit.Type]int)}

	for _, t := range unit.Types() {
		missing, existing, err := Diff(ctx, i.store, t, c.Sorted(t))
		if err != nil {
			return nil, err
		}

		d, _ := unit.Lookup(t)
		for _, u := range existing {
			if d.HasFile && !i.content.Exists(u) {
				i.logger.Warn("Stored unit has no content, fetching again", "unit", u.String())
				missing = append(missing, c[t][u.Key()])
				continue
			}
			if err := i.store.Associate(ctx, repoID, u); err != nil {
				return nil, fmt.Errorf("associating %s with %s: %w", u, repoID, err)
			}
			p.reassociated++
		}

		for _, u := range missing {
			p.counts[t]++
			if !d.HasFile {
				p.fileless = append(p.fileless, u)
				continue
			}
			p.download = append(p.download, u)
			p.size += u.Size
		}
	}

	return p, nil
}

func sortByKey(units []*unit.Unit) []*unit.Unit {
	slices.SortFunc(units, func(a, b *unit.Unit) int {
		ka, kb := a.Key(), b.Key()
		return cmp.Or(
			cmp.Compare(ka.Name, kb.Name),
			cmp.Compare(ka.Version, kb.Version),
			cmp.Compare(ka.ChecksumType, kb.ChecksumType),
			cmp.Compare(ka.Checksum, kb.Checksum),
		)
	})
	return units
}
