// Package state persists per-repository sync and publish markers: the
// upstream revision last synced and the generation last published.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RepoState tracks the markers for a single repository.
type RepoState struct {
	Revision         string    `json:"revision,omitempty"`
	PreviousRevision string    `json:"previous_revision,omitempty"`
	SyncedAt         time.Time `json:"synced_at,omitzero"`
	Generation       string    `json:"generation,omitempty"`
	PublishedAt      time.Time `json:"published_at,omitzero"`
}

// State holds the markers for all repositories.
type State struct {
	Repositories map[string]RepoState `json:"repositories"`
}

// New returns an empty state.
func New() *State {
	return &State{Repositories: make(map[string]RepoState)}
}

// Load reads the state file from disk. Returns an empty state if the file does not exist.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path comes from configuration
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	s := &State{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}

	if s.Repositories == nil {
		s.Repositories = make(map[string]RepoState)
	}

	return s, nil
}

// Save writes the state to disk, creating parent directories as needed.
// The file is replaced atomically.
func (s *State) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write state file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	return nil
}

// SetRevision records a completed sync of the named repository,
// shifting the current revision to previous.
func (s *State) SetRevision(repoID, revision string, at time.Time) {
	rs := s.Repositories[repoID]
	if rs.Revision != revision {
		rs.PreviousRevision = rs.Revision
		rs.Revision = revision
	}
	rs.SyncedAt = at
	s.Repositories[repoID] = rs
}

// Revision returns the last synced revision for the named repository.
func (s *State) Revision(repoID string) string {
	return s.Repositories[repoID].Revision
}

// SetPublished records the generation published for the named repository.
func (s *State) SetPublished(repoID, generation string, at time.Time) {
	rs := s.Repositories[repoID]
	rs.Generation = generation
	rs.PublishedAt = at
	s.Repositories[repoID] = rs
}

// Generation returns the generation last published for the named repository.
func (s *State) Generation(repoID string) string {
	return s.Repositories[repoID].Generation
}

// ClearPublished forgets the published generation of the named repository.
func (s *State) ClearPublished(repoID string) {
	rs, ok := s.Repositories[repoID]
	if !ok {
		return
	}
	rs.Generation = ""
	rs.PublishedAt = time.Time{}
	s.Repositories[repoID] = rs
}

// Remove forgets the named repository.
func (s *State) Remove(repoID string) {
	delete(s.Repositories, repoID)
}

// Update loads the state file, applies fn and saves the result.
func Update(path string, fn func(*State)) error {
	s, err := Load(path)
	if err != nil {
		return err
	}
	fn(s)
	return s.Save(path)
}
