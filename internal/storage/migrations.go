package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
}

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS roots (
    path TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    model_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'ready',
    files_count INTEGER NOT NULL DEFAULT 0,
    chunks_count INTEGER NOT NULL DEFAULT 0,
    embedded_count INTEGER NOT NULL DEFAULT 0,
    last_ingest_at TIMESTAMP,
    last_error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Content-hash ledger
CREATE TABLE IF NOT EXISTS files (
    root TEXT NOT NULL,
    rel_path TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    language TEXT NOT NULL DEFAULT '',
    support_status TEXT NOT NULL,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (root, rel_path),
    FOREIGN KEY (root) REFERENCES roots(path) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_files_status ON files(root, support_status);

CREATE TABLE IF NOT EXISTS symbols (
    id TEXT PRIMARY KEY,
    root TEXT NOT NULL,
    rel_path TEXT NOT NULL,
    language TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL,
    kind TEXT NOT NULL,
    package_name TEXT NOT NULL DEFAULT '',
    signature TEXT NOT NULL DEFAULT '',
    doc_comment TEXT NOT NULL DEFAULT '',
    scope TEXT NOT NULL DEFAULT '',
    container TEXT NOT NULL DEFAULT '',
    start_line INTEGER,
    start_col INTEGER,
    end_line INTEGER,
    end_col INTEGER,
    tags TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (root) REFERENCES roots(path) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_symbols_path ON symbols(root, rel_path);
CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
CREATE INDEX IF NOT EXISTS idx_symbols_kind ON symbols(kind);

CREATE TABLE IF NOT EXISTS edges (
    id TEXT PRIMARY KEY,
    root TEXT NOT NULL,
    rel_path TEXT NOT NULL,
    source_id TEXT NOT NULL,
    target_name TEXT NOT NULL,
    edge_type TEXT NOT NULL,
    line INTEGER,
    FOREIGN KEY (root) REFERENCES roots(path) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_edges_path ON edges(root, rel_path);
CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_name, edge_type);

CREATE TABLE IF NOT EXISTS refs (
    id TEXT PRIMARY KEY,
    root TEXT NOT NULL,
    rel_path TEXT NOT NULL,
    name TEXT NOT NULL,
    kind TEXT NOT NULL DEFAULT '',
    line INTEGER,
    col INTEGER,
    FOREIGN KEY (root) REFERENCES roots(path) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_refs_path ON refs(root, rel_path);
CREATE INDEX IF NOT EXISTS idx_refs_name ON refs(name);

CREATE TABLE IF NOT EXISTS module_imports (
    id TEXT PRIMARY KEY,
    root TEXT NOT NULL,
    rel_path TEXT NOT NULL,
    import_path TEXT NOT NULL,
    alias TEXT NOT NULL DEFAULT '',
    line INTEGER,
    FOREIGN KEY (root) REFERENCES roots(path) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_imports_path ON module_imports(root, rel_path);

CREATE TABLE IF NOT EXISTS coverage (
    root TEXT PRIMARY KEY,
    supported_count INTEGER NOT NULL DEFAULT 0,
    skipped_count INTEGER NOT NULL DEFAULT 0,
    failed_count INTEGER NOT NULL DEFAULT 0,
    last_indexed_at TIMESTAMP,
    FOREIGN KEY (root) REFERENCES roots(path) ON DELETE CASCADE
);
`

const migrationV1Down = `
DROP TABLE IF EXISTS coverage;
DROP TABLE IF EXISTS module_imports;
DROP TABLE IF EXISTS refs;
DROP TABLE IF EXISTS edges;
DROP TABLE IF EXISTS symbols;
DROP TABLE IF EXISTS files;
DROP TABLE IF EXISTS roots;
DROP TABLE IF EXISTS schema_version;
`

// Roots gained a vector namespace so the model lock can be released when the
// last root sharing a namespace is removed.
const migrationV11Up = `
ALTER TABLE roots ADD COLUMN namespace TEXT NOT NULL DEFAULT 'default';
CREATE INDEX IF NOT EXISTS idx_roots_namespace ON roots(namespace);
`

const migrationV11Down = `
DROP INDEX IF EXISTS idx_roots_namespace;
ALTER TABLE roots DROP COLUMN namespace;
`

// currentVersion returns the highest applied schema version, or 0.0.0 when the
// schema_version table does not exist yet.
func currentVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	current := semver.MustParse("0.0.0")
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", raw, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, rows.Err()
}

// ApplyMigrations runs all pending migrations, each in its own transaction
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}
		if !current.LessThan(migrationVersion) {
			continue
		}

		if err := execInTx(ctx, db, migration.Up,
			"INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		current = migrationVersion
	}

	return nil
}

// SchemaVersion reports the applied schema version.
func SchemaVersion(ctx context.Context, db *sql.DB) (string, error) {
	v, err := currentVersion(ctx, db)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return fmt.Errorf("no migrations to rollback")
	}

	var migration *Migration
	for i := range AllMigrations {
		if semver.MustParse(AllMigrations[i].Version).Equal(current) {
			migration = &AllMigrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	// The 1.0.0 down script drops schema_version itself.
	if migration.Version == AllMigrations[0].Version {
		_, err = db.ExecContext(ctx, migration.Down)
		if err != nil {
			return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
		}
		return nil
	}

	if err := execInTx(ctx, db, migration.Down,
		"DELETE FROM schema_version WHERE version = ?", migration.Version); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}
	return nil
}

// execInTx runs a schema script and a bookkeeping statement atomically.
func execInTx(ctx context.Context, db *sql.DB, script, record string, version string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, record, version); err != nil {
		return err
	}
	return tx.Commit()
}
