package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/trly/msirepo/internal/unit"
)

var (
	// ErrNotFound is returned when a repository or unit does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when creating a repository whose id is taken.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInUse is returned when deleting a unit a repository still holds.
	ErrInUse = errors.New("in use")
)

// DistributorConfig controls how a repository is published.
type DistributorConfig struct {
	RelativeURL     string `json:"relative_url,omitempty" yaml:"relative_url,omitempty"`
	HTTP            bool   `json:"http" yaml:"http"`
	HTTPS           bool   `json:"https" yaml:"https"`
	HTTPPublishDir  string `json:"http_publish_dir,omitempty" yaml:"http_publish_dir,omitempty"`
	HTTPSPublishDir string `json:"https_publish_dir,omitempty" yaml:"https_publish_dir,omitempty"`
}

// Repository is a record in the repository registry.
type Repository struct {
	ID          string            `json:"id" yaml:"id"`
	DisplayName string            `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Feeds       []string          `json:"feeds,omitempty" yaml:"feeds,omitempty"`
	Distributor DistributorConfig `json:"distributor" yaml:"distributor"`
	CreatedAt   time.Time         `json:"created_at" yaml:"created_at"`
}

// RelativePath returns the path the repository is published under: its
// relative URL, or its id when none is configured, without a leading slash.
func (r *Repository) RelativePath() string {
	return RelativePath(r.ID, r.Distributor.RelativeURL)
}

// RelativePath computes a publish path from a repository id and an optional
// relative URL.
func RelativePath(repoID, relativeURL string) string {
	p := relativeURL
	if p == "" {
		p = repoID
	}
	return strings.TrimLeft(p, "/")
}

// PathsOverlap reports whether two publish paths would share a directory
// entry: they are equal, or one lies under the other.
func PathsOverlap(a, b string) bool {
	a, b = strings.Trim(a, "/"), strings.Trim(b, "/")
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// AssociatedReader reads the units associated with repositories.
type AssociatedReader interface {
	// EachAssociated streams the repository's units of type t ordered by
	// name, version and checksum. fn must not call back into the store.
	EachAssociated(ctx context.Context, repoID string, t unit.Type, fn func(*unit.Unit) error) error
	// CountAssociated counts the repository's units of type t.
	CountAssociated(ctx context.Context, repoID string, t unit.Type) (int, error)
}

// UnitStore persists units and their repository associations.
type UnitStore interface {
	// FindByNaturalKeys returns the stored units of type t whose keys are in keys.
	FindByNaturalKeys(ctx context.Context, t unit.Type, keys []unit.Key) ([]*unit.Unit, error)
	// FindByKey returns one stored unit, or ErrNotFound.
	FindByKey(ctx context.Context, t unit.Type, key unit.Key) (*unit.Unit, error)
	// Save stores u unless a unit with the same natural key exists. It returns
	// the stored unit and whether it was created.
	Save(ctx context.Context, u *unit.Unit) (*unit.Unit, bool, error)
	// Delete removes a stored unit that no repository holds. It fails with
	// ErrInUse while an association remains.
	Delete(ctx context.Context, u *unit.Unit) error
	// Associate links a stored unit to a repository. Repeating it is a no-op.
	Associate(ctx context.Context, repoID string, u *unit.Unit) error
	// Unassociate removes a unit from a repository.
	Unassociate(ctx context.Context, repoID string, u *unit.Unit) error
	AssociatedReader
	// ReadAssociated runs fn against a consistent view of the associations.
	// Changes made while fn runs are not visible to it.
	ReadAssociated(ctx context.Context, fn func(AssociatedReader) error) error
	// Search returns the repository's units of type t whose name contains
	// the pattern. An empty pattern matches every unit.
	Search(ctx context.Context, repoID string, t unit.Type, pattern string) ([]*unit.Unit, error)
}

// RepositoryRegistry persists repository records.
type RepositoryRegistry interface {
	CreateRepository(ctx context.Context, repo *Repository) error
	UpdateRepository(ctx context.Context, repo *Repository) error
	GetRepository(ctx context.Context, id string) (*Repository, error)
	ListRepositories(ctx context.Context) ([]Repository, error)
	DeleteRepository(ctx context.Context, id string) error
	// FindRepositoriesByRelativePath returns the repositories, other than
	// excludeID, published under path.
	FindRepositoriesByRelativePath(ctx context.Context, path, excludeID string) ([]Repository, error)
}

// Store is the full persistence surface.
type Store interface {
	UnitStore
	RepositoryRegistry
}
