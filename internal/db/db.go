// Package db provides database functionality for msirepo: the unit store and
// the repository registry, backed by sqlite.
package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/trly/msirepo/internal/log"

	// Register migrate's sqlite3 driver.
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"

	// Register sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// GetConnectionString returns the migrate connection string for dbPath.
func GetConnectionString(dbPath string) string {
	return "sqlite3://" + dbPath
}

// Connect opens the database at dbPath, creating its directory if needed.
func Connect(dbPath string, logger log.Logger) (*sql.DB, error) {
	dbPath = strings.TrimPrefix(dbPath, "sqlite3://")

	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	logger.Debug("Connected to database", "path", dbPath)

	return db, nil
}

// Up runs database migrations to latest version.
func Up(dbPath string, logger log.Logger) error {
	m, err := getMigrationInstance(dbPath, logger)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Debug("No new database migrations to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	logger.Info("Database migrations applied successfully")
	return nil
}

// Open connects to dbPath and migrates it to the latest schema.
func Open(dbPath string, logger log.Logger) (*sql.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	if err := Up(dbPath, logger); err != nil {
		return nil, err
	}

	return Connect(dbPath, logger)
}

func getMigrationInstance(dbPath string, logger log.Logger) (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, GetConnectionString(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	m.Log = &migrationLogger{logger: logger}

	return m, nil
}

type migrationLogger struct {
	logger log.Logger
}

func (l *migrationLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug("Migration: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *migrationLogger) Verbose() bool {
	return true
}
