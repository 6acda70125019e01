package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (tables, columns, rows)
// 1 - Added meta table recording the FHE preset the cells were encrypted under
const currentSchemaVersion = 1

// Store holds encrypted tables in SQLite.
// Uses SQLite with WAL mode so readers never block on a loading writer.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens the store at path, creating the file and its schema on first
// use. The connection runs in WAL mode with foreign keys on, and the pool
// is pinned to a single connection because SQLite admits one writer.
// Opening an existing store is a no-op apart from pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to store %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, step := range []struct {
		name string
		fn   func(*sql.DB) error
	}{
		{"pragmas", applyPragmas},
		{"schema", applySchema},
	} {
		if err := step.fn(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("store %s: %s: %w", path, step.name, err)
		}
	}

	slog.Debug("store opened", "path", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Preset returns the FHE preset recorded by the first load, or "" when
// nothing has been loaded yet.
func (s *Store) Preset(ctx context.Context) (string, error) {
	var preset string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'fhe.preset'`).Scan(&preset)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read preset: %w", err)
	}
	return preset, nil
}

// SetPreset records the FHE preset of the stored ciphertexts. Once set,
// a different preset is rejected: cells under two parameter sets cannot
// be evaluated together.
func (s *Store) SetPreset(ctx context.Context, preset string) error {
	current, err := s.Preset(ctx)
	if err != nil {
		return err
	}
	if current != "" && current != preset {
		return fmt.Errorf("store holds %q ciphertexts, cannot add %q ones", current, preset)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('fhe.preset', ?)
		ON CONFLICT(key) DO NOTHING
	`, preset); err != nil {
		return fmt.Errorf("write preset: %w", err)
	}
	return nil
}

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

func applyPragmas(db *sql.DB) error {
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates missing tables, then migrates to currentSchemaVersion.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return err
	}
	return runMigrations(db)
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the meta table. Databases created before v1 hold
// ciphertexts of an unrecorded preset; the first load afterwards records it.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
