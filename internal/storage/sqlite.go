package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/gocontext-ingest/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrClosed is returned by Ping after Close
	ErrClosed = errors.New("storage closed")
)

// maxInParams bounds the number of placeholders in a single IN clause.
const maxInParams = 500

// SQLiteStorage implements Store using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer; this also keeps :memory: databases on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance and applies migrations
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Ping verifies the database answers queries.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		if strings.Contains(err.Error(), "database is closed") {
			return ErrClosed
		}
		return err
	}
	return nil
}

// BeginTx starts a new write batch
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// Root operations

func (t *sqliteTx) UpsertRoot(ctx context.Context, root *Root) error {
	query := `
		INSERT INTO roots (path, name, description, model_id, namespace, status,
		                   files_count, chunks_count, embedded_count, last_ingest_at, last_error,
		                   created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			model_id = excluded.model_id,
			namespace = excluded.namespace,
			status = excluded.status,
			files_count = excluded.files_count,
			chunks_count = excluded.chunks_count,
			embedded_count = excluded.embedded_count,
			last_ingest_at = excluded.last_ingest_at,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
		RETURNING created_at
	`
	now := time.Now()
	var lastIngest sql.NullTime
	if !root.LastIngestAt.IsZero() {
		lastIngest = sql.NullTime{Time: root.LastIngestAt, Valid: true}
	}
	if root.Namespace == "" {
		root.Namespace = "default"
	}
	err := t.tx.QueryRowContext(ctx, query,
		root.Path, root.Name, root.Description, root.ModelID, root.Namespace, root.Status,
		root.Files, root.Chunks, root.Embedded, lastIngest, root.LastError, now, now,
	).Scan(&root.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert root: %w", err)
	}
	root.UpdatedAt = now
	return nil
}

func (t *sqliteTx) DeleteRoot(ctx context.Context, path string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM roots WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("failed to delete root: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const rootColumns = `path, name, description, model_id, namespace, status, files_count, chunks_count,
		       embedded_count, last_ingest_at, last_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRoot(row rowScanner) (*Root, error) {
	var root Root
	var lastIngest sql.NullTime
	err := row.Scan(
		&root.Path, &root.Name, &root.Description, &root.ModelID, &root.Namespace, &root.Status,
		&root.Files, &root.Chunks, &root.Embedded, &lastIngest, &root.LastError,
		&root.CreatedAt, &root.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastIngest.Valid {
		root.LastIngestAt = lastIngest.Time
	}
	return &root, nil
}

func (s *SQLiteStorage) GetRoot(ctx context.Context, path string) (*Root, error) {
	query := `SELECT ` + rootColumns + ` FROM roots WHERE path = ?`
	root, err := scanRoot(s.db.QueryRowContext(ctx, query, path))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return root, nil
}

func (s *SQLiteStorage) ListRoots(ctx context.Context) ([]*Root, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+rootColumns+` FROM roots ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	roots := make([]*Root, 0)
	for rows.Next() {
		root, err := scanRoot(rows)
		if err != nil {
			return nil, err
		}
		roots = append(roots, root)
	}
	return roots, rows.Err()
}

func (s *SQLiteStorage) CountRootsInNamespace(ctx context.Context, namespace string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM roots WHERE namespace = ?`, namespace).Scan(&n)
	return n, err
}

// Ledger operations

func (s *SQLiteStorage) LoadLedger(ctx context.Context, root string) (map[string]FileRecord, error) {
	query := `
		SELECT root, rel_path, content_hash, language, support_status, size_bytes, updated_at
		FROM files
		WHERE root = ?
	`
	rows, err := s.db.QueryContext(ctx, query, root)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	ledger := make(map[string]FileRecord)
	for rows.Next() {
		var rec FileRecord
		var lang, status string
		if err := rows.Scan(&rec.Root, &rec.RelPath, &rec.ContentHash, &lang, &status,
			&rec.SizeBytes, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Language = types.Language(lang)
		rec.Status = types.SupportStatus(status)
		ledger[rec.RelPath] = rec
	}
	return ledger, rows.Err()
}

func (s *SQLiteStorage) LedgerCoverage(ctx context.Context, root string) (*Coverage, error) {
	query := `SELECT support_status, COUNT(*) FROM files WHERE root = ? GROUP BY support_status`
	rows, err := s.db.QueryContext(ctx, query, root)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cov := &Coverage{Root: root}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch types.SupportStatus(status) {
		case types.StatusSupported:
			cov.Supported = n
		case types.StatusSkipped:
			cov.Skipped = n
		case types.StatusFailed:
			cov.Failed = n
		}
	}
	return cov, rows.Err()
}

func (t *sqliteTx) UpsertFileRecords(ctx context.Context, records []FileRecord) error {
	if len(records) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO files (root, rel_path, content_hash, language, support_status, size_bytes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(root, rel_path) DO UPDATE SET
			content_hash = excluded.content_hash,
			language = excluded.language,
			support_status = excluded.support_status,
			size_bytes = excluded.size_bytes,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now()
	for _, rec := range records {
		if !rec.Status.Valid() {
			return fmt.Errorf("file %s: invalid support status %q", rec.RelPath, rec.Status)
		}
		if _, err := stmt.ExecContext(ctx, rec.Root, rec.RelPath, rec.ContentHash,
			string(rec.Language), string(rec.Status), rec.SizeBytes, now); err != nil {
			return fmt.Errorf("failed to upsert file record %s: %w", rec.RelPath, err)
		}
	}
	return nil
}

func (t *sqliteTx) DeleteFileRecords(ctx context.Context, root string, relPaths []string) error {
	_, err := deleteByPaths(ctx, t.tx, "files", root, relPaths)
	return err
}

// Coverage

func (t *sqliteTx) UpsertCoverage(ctx context.Context, cov *Coverage) error {
	query := `
		INSERT INTO coverage (root, supported_count, skipped_count, failed_count, last_indexed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(root) DO UPDATE SET
			supported_count = excluded.supported_count,
			skipped_count = excluded.skipped_count,
			failed_count = excluded.failed_count,
			last_indexed_at = excluded.last_indexed_at
	`
	if cov.LastIndexedAt.IsZero() {
		cov.LastIndexedAt = time.Now()
	}
	_, err := t.tx.ExecContext(ctx, query, cov.Root, cov.Supported, cov.Skipped, cov.Failed, cov.LastIndexedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert coverage: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetCoverage(ctx context.Context, root string) (*Coverage, error) {
	query := `
		SELECT root, supported_count, skipped_count, failed_count, last_indexed_at
		FROM coverage WHERE root = ?
	`
	var cov Coverage
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, query, root).Scan(&cov.Root, &cov.Supported, &cov.Skipped, &cov.Failed, &last)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if last.Valid {
		cov.LastIndexedAt = last.Time
	}
	return &cov, nil
}

// Structural records

// structureTables lists every table cleared by DeleteStructure.
var structureTables = []string{"symbols", "edges", "refs", "module_imports"}

func (t *sqliteTx) DeleteStructure(ctx context.Context, root string, relPaths []string) (int64, error) {
	var total int64
	for _, table := range structureTables {
		n, err := deleteByPaths(ctx, t.tx, table, root, relPaths)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// deleteByPaths removes rows of table whose rel_path is in relPaths, in batches that
// stay under SQLite's parameter limit.
func deleteByPaths(ctx context.Context, q querier, table, root string, relPaths []string) (int64, error) {
	var total int64
	for start := 0; start < len(relPaths); start += maxInParams {
		end := start + maxInParams
		if end > len(relPaths) {
			end = len(relPaths)
		}
		batch := relPaths[start:end]

		args := make([]interface{}, 0, len(batch)+1)
		args = append(args, root)
		for _, p := range batch {
			args = append(args, p)
		}
		query := fmt.Sprintf(`DELETE FROM %s WHERE root = ? AND rel_path IN (%s)`, table, placeholders(len(batch)))
		res, err := q.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("failed to delete from %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (t *sqliteTx) InsertSymbols(ctx context.Context, root string, symbols []types.Symbol) error {
	if len(symbols) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO symbols (
			id, root, rel_path, language, name, kind, package_name, signature, doc_comment,
			scope, container, start_line, start_col, end_line, end_col, tags
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			signature = excluded.signature,
			doc_comment = excluded.doc_comment,
			end_line = excluded.end_line,
			end_col = excluded.end_col,
			tags = excluded.tags
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for i := range symbols {
		sym := &symbols[i]
		if sym.ID == "" {
			return fmt.Errorf("symbol %s in %s has no id", sym.Name, sym.RelPath)
		}
		_, err := stmt.ExecContext(ctx,
			sym.ID, root, sym.RelPath, string(sym.Language), sym.Name, string(sym.Kind), sym.Package,
			sym.Signature, sym.DocComment, string(sym.Scope), sym.Container,
			sym.Start.Line, sym.Start.Column, sym.End.Line, sym.End.Column, strings.Join(sym.Tags, ","),
		)
		if err != nil {
			return fmt.Errorf("failed to insert symbol %s: %w", sym.Name, err)
		}
	}
	return nil
}

func (t *sqliteTx) InsertEdges(ctx context.Context, root string, edges []types.Edge) error {
	if len(edges) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO edges (id, root, rel_path, source_id, target_name, edge_type, line)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range edges {
		if e.Type == "" {
			return fmt.Errorf("edge %s -> %s in %s has no type", e.SourceID, e.TargetName, e.RelPath)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, root, e.RelPath, e.SourceID, e.TargetName, string(e.Type), e.Line); err != nil {
			return fmt.Errorf("failed to insert edge: %w", err)
		}
	}
	return nil
}

func (t *sqliteTx) InsertReferences(ctx context.Context, root string, refs []types.Reference) error {
	if len(refs) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO refs (id, root, rel_path, name, kind, line, col)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range refs {
		if _, err := stmt.ExecContext(ctx, r.ID, root, r.RelPath, r.Name, r.Kind, r.Line, r.Column); err != nil {
			return fmt.Errorf("failed to insert reference: %w", err)
		}
	}
	return nil
}

func (t *sqliteTx) InsertImports(ctx context.Context, root string, imports []types.ModuleImport) error {
	if len(imports) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO module_imports (id, root, rel_path, import_path, alias, line)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, imp := range imports {
		if _, err := stmt.ExecContext(ctx, imp.ID, root, imp.RelPath, imp.Path, imp.Alias, imp.Line); err != nil {
			return fmt.Errorf("failed to insert import: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) CountStructure(ctx context.Context, root string) (*StructureCounts, error) {
	var counts StructureCounts
	targets := []struct {
		table string
		dst   *int
	}{
		{"symbols", &counts.Symbols},
		{"edges", &counts.Edges},
		{"refs", &counts.References},
		{"module_imports", &counts.Imports},
	}
	for _, tgt := range targets {
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE root = ?`, tgt.table)
		if err := s.db.QueryRowContext(ctx, query, root).Scan(tgt.dst); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", tgt.table, err)
		}
	}
	return &counts, nil
}

func (s *SQLiteStorage) ListSymbols(ctx context.Context, root, relPath string) ([]types.Symbol, error) {
	query := `
		SELECT id, rel_path, language, name, kind, package_name, signature, doc_comment,
		       scope, container, start_line, start_col, end_line, end_col, tags
		FROM symbols
		WHERE root = ? AND rel_path = ?
		ORDER BY start_line, name
	`
	rows, err := s.db.QueryContext(ctx, query, root, relPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	symbols := make([]types.Symbol, 0)
	for rows.Next() {
		var sym types.Symbol
		var lang, kind, scope, tags string
		err := rows.Scan(&sym.ID, &sym.RelPath, &lang, &sym.Name, &kind, &sym.Package,
			&sym.Signature, &sym.DocComment, &scope, &sym.Container,
			&sym.Start.Line, &sym.Start.Column, &sym.End.Line, &sym.End.Column, &tags)
		if err != nil {
			return nil, err
		}
		sym.Language = types.Language(lang)
		sym.Kind = types.SymbolKind(kind)
		sym.Scope = types.SymbolScope(scope)
		if tags != "" {
			sym.Tags = strings.Split(tags, ",")
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

func (s *SQLiteStorage) ListEdges(ctx context.Context, root, relPath string) ([]types.Edge, error) {
	query := `
		SELECT id, rel_path, source_id, target_name, edge_type, line
		FROM edges
		WHERE root = ? AND rel_path = ?
		ORDER BY line, edge_type, target_name
	`
	rows, err := s.db.QueryContext(ctx, query, root, relPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	edges := make([]types.Edge, 0)
	for rows.Next() {
		var e types.Edge
		var edgeType string
		if err := rows.Scan(&e.ID, &e.RelPath, &e.SourceID, &e.TargetName, &edgeType, &e.Line); err != nil {
			return nil, err
		}
		e.Type = types.EdgeType(edgeType)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
