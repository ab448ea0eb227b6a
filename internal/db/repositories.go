package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/trly/msirepo/internal/config"
)

const repositoryColumns = "id, display_name, feeds, relative_url, serve_http, serve_https, http_publish_dir, https_publish_dir, created_at"

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func scanRepository(row rowScanner) (*Repository, error) {
	var repo Repository
	var feeds string
	var relativeURL, httpDir, httpsDir sql.NullString

	if err := row.Scan(&repo.ID, &repo.DisplayName, &feeds, &relativeURL,
		&repo.Distributor.HTTP, &repo.Distributor.HTTPS, &httpDir, &httpsDir, &repo.CreatedAt); err != nil {
		return nil, err
	}

	if feeds != "" {
		if err := json.Unmarshal([]byte(feeds), &repo.Feeds); err != nil {
			return nil, fmt.Errorf("decoding feeds of %s: %w", repo.ID, err)
		}
	}
	repo.Distributor.RelativeURL = relativeURL.String
	repo.Distributor.HTTPPublishDir = httpDir.String
	repo.Distributor.HTTPSPublishDir = httpsDir.String

	return &repo, nil
}

func repositoryArgs(repo *Repository) ([]any, error) {
	feeds := repo.Feeds
	if feeds == nil {
		feeds = []string{}
	}
	encoded, err := json.Marshal(feeds)
	if err != nil {
		return nil, fmt.Errorf("encoding feeds: %w", err)
	}

	d := repo.Distributor
	return []any{
		repo.DisplayName, string(encoded), nullString(d.RelativeURL), d.HTTP, d.HTTPS,
		nullString(d.HTTPPublishDir), nullString(d.HTTPSPublishDir),
	}, nil
}

func isConstraintViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

// CreateRepository inserts a new repository.
func (s *SQLStore) CreateRepository(ctx context.Context, repo *Repository) error {
	args, err := repositoryArgs(repo)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO repositories (id, display_name, feeds, relative_url, serve_http, serve_https, http_publish_dir, https_publish_dir)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		append([]any{repo.ID}, args...)...)
	if isConstraintViolation(err) {
		return fmt.Errorf("repository %s: %w", repo.ID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("creating repository %s: %w", repo.ID, err)
	}
	return nil
}

// UpdateRepository replaces an existing repository's settings.
func (s *SQLStore) UpdateRepository(ctx context.Context, repo *Repository) error {
	args, err := repositoryArgs(repo)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE repositories SET display_name = ?, feeds = ?, relative_url = ?, serve_http = ?, serve_https = ?,
			http_publish_dir = ?, https_publish_dir = ? WHERE id = ?`,
		append(args, repo.ID)...)
	if err != nil {
		return fmt.Errorf("updating repository %s: %w", repo.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("repository %s: %w", repo.ID, ErrNotFound)
	}
	return nil
}

// GetRepository retrieves a repository by id.
func (s *SQLStore) GetRepository(ctx context.Context, id string) (*Repository, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+repositoryColumns+" FROM repositories WHERE id = ?", id)
	repo, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repository %s: %w", id, ErrNotFound)
	}
	return repo, err
}

// ListRepositories retrieves all repositories ordered by id.
func (s *SQLStore) ListRepositories(ctx context.Context) ([]Repository, error) {
	return s.queryRepositories(ctx, "SELECT "+repositoryColumns+" FROM repositories ORDER BY id")
}

// DeleteRepository removes a repository and its associations. Units stay in
// the store.
func (s *SQLStore) DeleteRepository(ctx context.Context, id string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM repository_units WHERE repo_id = ?", id); err != nil {
		return fmt.Errorf("removing associations of %s: %w", id, err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM repositories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting repository %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		err = fmt.Errorf("repository %s: %w", id, ErrNotFound)
		return err
	}

	return tx.Commit()
}

// FindRepositoriesByRelativePath returns repositories other than excludeID
// whose publish path is path, lies under it, or contains it.
func (s *SQLStore) FindRepositoriesByRelativePath(ctx context.Context, path, excludeID string) ([]Repository, error) {
	path = strings.Trim(path, "/")
	return s.queryRepositories(ctx,
		"SELECT "+repositoryColumns+` FROM (
			SELECT *, trim(COALESCE(NULLIF(relative_url, ''), id), '/') AS path FROM repositories
		) WHERE id <> ? AND (
			path = ?
			OR substr(?, 1, length(path) + 1) = path || '/'
			OR substr(path, 1, length(?) + 1) = ? || '/'
		) ORDER BY id`,
		excludeID, path, path, path, path)
}

func (s *SQLStore) queryRepositories(ctx context.Context, query string, args ...any) ([]Repository, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var repositories []Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repositories = append(repositories, *repo)
	}
	return repositories, rows.Err()
}

// SyncFromConfig creates or updates the repositories declared in the
// configuration file. Repositories created through the CLI are left alone.
func (s *SQLStore) SyncFromConfig(ctx context.Context, repos []config.Repository) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, rc := range repos {
		repo := FromConfig(rc)
		var args []any
		args, err = repositoryArgs(&repo)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO repositories (id, display_name, feeds, relative_url, serve_http, serve_https, http_publish_dir, https_publish_dir)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET display_name = excluded.display_name, feeds = excluded.feeds,
				relative_url = excluded.relative_url, serve_http = excluded.serve_http, serve_https = excluded.serve_https,
				http_publish_dir = excluded.http_publish_dir, https_publish_dir = excluded.https_publish_dir`,
			append([]any{repo.ID}, args...)...)
		if err != nil {
			return fmt.Errorf("syncing repository %s: %w", repo.ID, err)
		}
	}

	return tx.Commit()
}

// FromConfig converts a configuration file repository into a registry record.
func FromConfig(rc config.Repository) Repository {
	return Repository{
		ID:          rc.ID,
		DisplayName: rc.DisplayName,
		Feeds:       rc.Feeds,
		Distributor: DistributorConfig{
			RelativeURL:     rc.RelativeURL,
			HTTP:            rc.HTTP,
			HTTPS:           rc.HTTPS,
			HTTPPublishDir:  rc.HTTPPublishDir,
			HTTPSPublishDir: rc.HTTPSPublishDir,
		},
	}
}
