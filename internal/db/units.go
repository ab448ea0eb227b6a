package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/trly/msirepo/internal/unit"
)

// SQLStore implements Store on a sqlite database.
type SQLStore struct {
	db *sql.DB
}

var _ Store = (*SQLStore)(nil)

// NewStore creates a SQL-based store.
func NewStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// keysPerQuery bounds the number of natural keys looked up per statement;
// four parameters per key stays below sqlite's default variable limit.
const keysPerQuery = 200

const unitColumns = "u.type, u.name, u.version, u.checksum, u.checksum_type, u.filename, u.size, " +
	"u.storage_path, u.manufacturer, u.product_code, u.upgrade_code, u.guid, u.module_signatures"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (*unit.Unit, error) {
	var u unit.Unit
	var typ, sigs string
	if err := row.Scan(&typ, &u.Name, &u.Version, &u.Checksum, &u.ChecksumType, &u.Filename, &u.Size,
		&u.StoragePath, &u.Manufacturer, &u.ProductCode, &u.UpgradeCode, &u.GUID, &sigs); err != nil {
		return nil, err
	}
	u.Type = unit.Type(typ)

	if sigs != "" {
		if err := json.Unmarshal([]byte(sigs), &u.ModuleSignatures); err != nil {
			return nil, fmt.Errorf("decoding module signatures of %s: %w", u.Filename, err)
		}
		if len(u.ModuleSignatures) == 0 {
			u.ModuleSignatures = nil
		}
	}
	return &u, nil
}

// FindByNaturalKeys retrieves the stored units matching any of keys.
func (s *SQLStore) FindByNaturalKeys(ctx context.Context, t unit.Type, keys []unit.Key) ([]*unit.Unit, error) {
	var found []*unit.Unit

	for start := 0; start < len(keys); start += keysPerQuery {
		end := min(start+keysPerQuery, len(keys))
		batch := keys[start:end]

		clauses := make([]string, 0, len(batch))
		args := make([]any, 0, 1+4*len(batch))
		args = append(args, string(t))
		for _, k := range batch {
			clauses = append(clauses, "(u.name = ? AND u.version = ? AND u.checksum = ? AND u.checksum_type = ?)")
			args = append(args, k.Name, k.Version, strings.ToLower(k.Checksum), strings.ToLower(k.ChecksumType))
		}

		query := "SELECT " + unitColumns + " FROM units u WHERE u.type = ? AND (" + strings.Join(clauses, " OR ") + ")"
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("querying units by key: %w", err)
		}

		for rows.Next() {
			u, err := scanUnit(rows)
			if err != nil {
				_ = rows.Close()
				return nil, err
			}
			found = append(found, u)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
	}

	return found, nil
}

// FindByKey retrieves one unit by natural key.
func (s *SQLStore) FindByKey(ctx context.Context, t unit.Type, key unit.Key) (*unit.Unit, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+unitColumns+" FROM units u WHERE u.type = ? AND u.name = ? AND u.version = ? AND u.checksum = ? AND u.checksum_type = ?",
		string(t), key.Name, key.Version, strings.ToLower(key.Checksum), strings.ToLower(key.ChecksumType))

	u, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s unit %s: %w", t, key, ErrNotFound)
	}
	return u, err
}

// Save inserts u unless its natural key is already stored.
func (s *SQLStore) Save(ctx context.Context, u *unit.Unit) (*unit.Unit, bool, error) {
	sigs := u.ModuleSignatures
	if sigs == nil {
		sigs = []unit.ModuleSignature{}
	}
	encoded, err := json.Marshal(sigs)
	if err != nil {
		return nil, false, fmt.Errorf("encoding module signatures: %w", err)
	}

	key := u.Key()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO units (type, name, version, checksum, checksum_type, filename, size, storage_path,
			manufacturer, product_code, upgrade_code, guid, module_signatures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (type, name, version, checksum, checksum_type) DO NOTHING`,
		string(u.Type), key.Name, key.Version, key.Checksum, key.ChecksumType, u.Filename, u.Size, u.StoragePath,
		u.Manufacturer, u.ProductCode, u.UpgradeCode, u.GUID, string(encoded),
	)
	if err != nil {
		return nil, false, fmt.Errorf("saving %s: %w", u, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	if n == 0 {
		existing, err := s.FindByKey(ctx, u.Type, key)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	stored := *u
	stored.Checksum = key.Checksum
	stored.ChecksumType = key.ChecksumType
	return &stored, true, nil
}

func (s *SQLStore) unitID(ctx context.Context, u *unit.Unit) (int64, error) {
	key := u.Key()
	var id int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM units WHERE type = ? AND name = ? AND version = ? AND checksum = ? AND checksum_type = ?",
		string(u.Type), key.Name, key.Version, key.Checksum, key.ChecksumType).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s: %w", u, ErrNotFound)
	}
	return id, err
}

// Delete removes u unless a repository still holds it.
func (s *SQLStore) Delete(ctx context.Context, u *unit.Unit) error {
	id, err := s.unitID(ctx, u)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM units WHERE id = ? AND NOT EXISTS (SELECT 1 FROM repository_units WHERE unit_id = ?)", id, id)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", u, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", u, ErrInUse)
	}
	return nil
}

// Associate links u to the repository.
func (s *SQLStore) Associate(ctx context.Context, repoID string, u *unit.Unit) error {
	id, err := s.unitID(ctx, u)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO repository_units (repo_id, unit_id) VALUES (?, ?)", repoID, id); err != nil {
		return fmt.Errorf("associating %s with %s: %w", u, repoID, err)
	}
	return nil
}

// Unassociate removes u from the repository.
func (s *SQLStore) Unassociate(ctx context.Context, repoID string, u *unit.Unit) error {
	id, err := s.unitID(ctx, u)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM repository_units WHERE repo_id = ? AND unit_id = ?", repoID, id)
	if err != nil {
		return fmt.Errorf("unassociating %s from %s: %w", u, repoID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s in repository %s: %w", u, repoID, ErrNotFound)
	}
	return nil
}

const associatedQuery = "SELECT " + unitColumns +
	" FROM units u JOIN repository_units ru ON ru.unit_id = u.id WHERE ru.repo_id = ? AND u.type = ?"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// associatedReader reads associations through q.
type associatedReader struct {
	q querier
}

func (r associatedReader) EachAssociated(ctx context.Context, repoID string, t unit.Type, fn func(*unit.Unit) error) error {
	rows, err := r.q.QueryContext(ctx, associatedQuery+" ORDER BY u.name, u.version, u.checksum", repoID, string(t))
	if err != nil {
		return fmt.Errorf("querying %s units of %s: %w", t, repoID, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r associatedReader) CountAssociated(ctx context.Context, repoID string, t unit.Type) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM repository_units ru JOIN units u ON u.id = ru.unit_id WHERE ru.repo_id = ? AND u.type = ?",
		repoID, string(t)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s units of %s: %w", t, repoID, err)
	}
	return n, nil
}

// EachAssociated streams the repository's units of type t.
func (s *SQLStore) EachAssociated(ctx context.Context, repoID string, t unit.Type, fn func(*unit.Unit) error) error {
	return associatedReader{q: s.db}.EachAssociated(ctx, repoID, t, fn)
}

// CountAssociated counts the repository's units of type t.
func (s *SQLStore) CountAssociated(ctx context.Context, repoID string, t unit.Type) (int, error) {
	return associatedReader{q: s.db}.CountAssociated(ctx, repoID, t)
}

// ReadAssociated runs fn inside a read transaction. With the WAL journal
// every query fn makes sees the same snapshot.
func (s *SQLStore) ReadAssociated(ctx context.Context, fn func(AssociatedReader) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting read transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(associatedReader{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// Search returns associated units whose name contains pattern.
func (s *SQLStore) Search(ctx context.Context, repoID string, t unit.Type, pattern string) ([]*unit.Unit, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(pattern)

	rows, err := s.db.QueryContext(ctx,
		associatedQuery+` AND u.name LIKE ? ESCAPE '\' ORDER BY u.name, u.version, u.checksum`,
		repoID, string(t), "%"+escaped+"%")
	if err != nil {
		return nil, fmt.Errorf("searching %s units of %s: %w", t, repoID, err)
	}
	defer func() { _ = rows.Close() }()

	var units []*unit.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}
