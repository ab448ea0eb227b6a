// Package memstore provides an in-memory db.Store for tests and dry runs.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/trly/msirepo/internal/db"
	"github.com/trly/msirepo/internal/unit"
)

type unitKey struct {
	typ unit.Type
	key unit.Key
}

// Store is an in-memory db.Store. It is safe for concurrent use.
type Store struct {
	mu           sync.RWMutex
	units        map[unitKey]*unit.Unit
	repositories map[string]*db.Repository
	associations map[string]map[unitKey]struct{}
	saves        int
}

var _ db.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		units:        make(map[unitKey]*unit.Unit),
		repositories: make(map[string]*db.Repository),
		associations: make(map[string]map[unitKey]struct{}),
	}
}

func keyOf(u *unit.Unit) unitKey {
	return unitKey{typ: u.Type, key: u.Key()}
}

func clone(u *unit.Unit) *unit.Unit {
	c := *u
	c.ModuleSignatures = slices.Clone(u.ModuleSignatures)
	return &c
}

// Units returns every stored unit, regardless of association.
func (s *Store) Units() []*unit.Unit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*unit.Unit, 0, len(s.units))
	for _, u := range s.units {
		out = append(out, clone(u))
	}
	sortUnits(out)
	return out
}

// Inserts reports how many Save calls created a new unit.
func (s *Store) Inserts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// FindByNaturalKeys implements db.UnitStore.
func (s *Store) FindByNaturalKeys(_ context.Context, t unit.Type, keys []unit.Key) ([]*unit.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found []*unit.Unit
	seen := make(map[unitKey]bool)
	for _, k := range keys {
		uk := unitKey{typ: t, key: (&unit.Unit{Name: k.Name, Version: k.Version, Checksum: k.Checksum, ChecksumType: k.ChecksumType}).Key()}
		if u, ok := s.units[uk]; ok && !seen[uk] {
			seen[uk] = true
			found = append(found, clone(u))
		}
	}
	return found, nil
}

// FindByKey implements db.UnitStore.
func (s *Store) FindByKey(ctx context.Context, t unit.Type, key unit.Key) (*unit.Unit, error) {
	found, _ := s.FindByNaturalKeys(ctx, t, []unit.Key{key})
	if len(found) == 0 {
		return nil, fmt.Errorf("%s unit %s: %w", t, key, db.ErrNotFound)
	}
	return found[0], nil
}

// Save implements db.UnitStore.
func (s *Store) Save(_ context.Context, u *unit.Unit) (*unit.Unit, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(u)
	if existing, ok := s.units[k]; ok {
		return clone(existing), false, nil
	}

	stored := clone(u)
	stored.Checksum = k.key.Checksum
	stored.ChecksumType = k.key.ChecksumType
	s.units[k] = stored
	s.saves++
	return clone(stored), true, nil
}

// Delete implements db.UnitStore.
func (s *Store) Delete(_ context.Context, u *unit.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(u)
	if _, ok := s.units[k]; !ok {
		return fmt.Errorf("%s: %w", u, db.ErrNotFound)
	}
	for _, held := range s.associations {
		if _, ok := held[k]; ok {
			return fmt.Errorf("%s: %w", u, db.ErrInUse)
		}
	}
	delete(s.units, k)
	return nil
}

// Associate implements db.UnitStore.
func (s *Store) Associate(_ context.Context, repoID string, u *unit.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(u)
	if _, ok := s.units[k]; !ok {
		return fmt.Errorf("%s: %w", u, db.ErrNotFound)
	}
	if _, ok := s.repositories[repoID]; !ok {
		return fmt.Errorf("repository %s: %w", repoID, db.ErrNotFound)
	}

	if s.associations[repoID] == nil {
		s.associations[repoID] = make(map[unitKey]struct{})
	}
	s.associations[repoID][k] = struct{}{}
	return nil
}

// Unassociate implements db.UnitStore.
func (s *Store) Unassociate(_ context.Context, repoID string, u *unit.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(u)
	if _, ok := s.associations[repoID][k]; !ok {
		return fmt.Errorf("%s in repository %s: %w", u, repoID, db.ErrNotFound)
	}
	delete(s.associations[repoID], k)
	return nil
}

func sortUnits(units []*unit.Unit) {
	slices.SortFunc(units, func(a, b *unit.Unit) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		if c := strings.Compare(a.Version, b.Version); c != 0 {
			return c
		}
		return strings.Compare(a.Checksum, b.Checksum)
	})
}

func (s *Store) associated(repoID string, t unit.Type, match func(*unit.Unit) bool) []*unit.Unit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*unit.Unit
	for k := range s.associations[repoID] {
		if k.typ != t {
			continue
		}
		if u := s.units[k]; match == nil || match(u) {
			out = append(out, clone(u))
		}
	}
	sortUnits(out)
	return out
}

// EachAssociated implements db.UnitStore.
func (s *Store) EachAssociated(ctx context.Context, repoID string, t unit.Type, fn func(*unit.Unit) error) error {
	for _, u := range s.associated(repoID, t, nil) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
	}
	return nil
}

// CountAssociated implements db.UnitStore.
func (s *Store) CountAssociated(_ context.Context, repoID string, t unit.Type) (int, error) {
	return len(s.associated(repoID, t, nil)), nil
}

// ReadAssociated implements db.UnitStore. fn reads a copy of the
// associations taken when ReadAssociated is called.
func (s *Store) ReadAssociated(_ context.Context, fn func(db.AssociatedReader) error) error {
	s.mu.RLock()
	snap := New()
	for k, u := range s.units {
		snap.units[k] = clone(u)
	}
	for id, held := range s.associations {
		snap.associations[id] = maps.Clone(held)
	}
	s.mu.RUnlock()

	return fn(snap)
}

// Search implements db.UnitStore.
func (s *Store) Search(_ context.Context, repoID string, t unit.Type, pattern string) ([]*unit.Unit, error) {
	return s.associated(repoID, t, func(u *unit.Unit) bool {
		return strings.Contains(u.Name, pattern)
	}), nil
}

// CreateRepository implements db.RepositoryRegistry.
func (s *Store) CreateRepository(_ context.Context, repo *db.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.repositories[repo.ID]; ok {
		return fmt.Errorf("repository %s: %w", repo.ID, db.ErrAlreadyExists)
	}
	c := *repo
	c.Feeds = slices.Clone(repo.Feeds)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.repositories[repo.ID] = &c
	return nil
}

// UpdateRepository implements db.RepositoryRegistry.
func (s *Store) UpdateRepository(_ context.Context, repo *db.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.repositories[repo.ID]
	if !ok {
		return fmt.Errorf("repository %s: %w", repo.ID, db.ErrNotFound)
	}
	c := *repo
	c.Feeds = slices.Clone(repo.Feeds)
	c.CreatedAt = existing.CreatedAt
	s.repositories[repo.ID] = &c
	return nil
}

// GetRepository implements db.RepositoryRegistry.
func (s *Store) GetRepository(_ context.Context, id string) (*db.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	repo, ok := s.repositories[id]
	if !ok {
		return nil, fmt.Errorf("repository %s: %w", id, db.ErrNotFound)
	}
	c := *repo
	c.Feeds = slices.Clone(repo.Feeds)
	return &c, nil
}

// ListRepositories implements db.RepositoryRegistry.
func (s *Store) ListRepositories(_ context.Context) ([]db.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]db.Repository, 0, len(s.repositories))
	for _, repo := range s.repositories {
		out = append(out, *repo)
	}
	slices.SortFunc(out, func(a, b db.Repository) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// DeleteRepository implements db.RepositoryRegistry.
func (s *Store) DeleteRepository(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.repositories[id]; !ok {
		return fmt.Errorf("repository %s: %w", id, db.ErrNotFound)
	}
	delete(s.repositories, id)
	delete(s.associations, id)
	return nil
}

// FindRepositoriesByRelativePath implements db.RepositoryRegistry.
func (s *Store) FindRepositoriesByRelativePath(ctx context.Context, path, excludeID string) ([]db.Repository, error) {
	all, _ := s.ListRepositories(ctx)

	var out []db.Repository
	for _, repo := range all {
		if repo.ID != excludeID && db.PathsOverlap(repo.RelativePath(), path) {
			out = append(out, repo)
		}
	}
	return out, nil
}
