package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/gocontext-ingest/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func seedRoot(t *testing.T, s *SQLiteStorage, path, namespace string) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertRoot(ctx, &Root{Path: path, Name: "test", ModelID: "local-384", Namespace: namespace, Status: RootReady}))
	require.NoError(t, tx.Commit())
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.db)
	assert.NoError(t, storage.Ping(context.Background()))
}

func TestPing_AfterClose(t *testing.T) {
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, storage.Close())

	assert.Error(t, storage.Ping(context.Background()))
}

func TestUpsertRoot(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	root := &Root{Path: "/repo", Name: "repo", Description: "demo", ModelID: "m1", Status: RootReady, Files: 3}
	require.NoError(t, tx.UpsertRoot(ctx, root))
	require.NoError(t, tx.Commit())
	assert.Equal(t, "default", root.Namespace)

	got, err := storage.GetRoot(ctx, "/repo")
	require.NoError(t, err)
	assert.Equal(t, "repo", got.Name)
	assert.Equal(t, "demo", got.Description)
	assert.Equal(t, 3, got.Files)
	assert.True(t, got.LastIngestAt.IsZero())

	// Update keeps created_at
	created := got.CreatedAt
	tx, err = storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertRoot(ctx, &Root{Path: "/repo", Name: "renamed", ModelID: "m1", Status: RootReady, LastIngestAt: time.Now()}))
	require.NoError(t, tx.Commit())

	got, err = storage.GetRoot(ctx, "/repo")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.False(t, got.LastIngestAt.IsZero())
	assert.True(t, created.Equal(got.CreatedAt))
}

func TestGetRoot_NotFound(t *testing.T) {
	storage := setupTestDB(t)

	_, err := storage.GetRoot(context.Background(), "/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRootsAndNamespaceCount(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	seedRoot(t, storage, "/b", "team")
	seedRoot(t, storage, "/a", "team")
	seedRoot(t, storage, "/c", "other")

	roots, err := storage.ListRoots(ctx)
	require.NoError(t, err)
	require.Len(t, roots, 3)
	assert.Equal(t, "/a", roots[0].Path)

	n, err := storage.CountRootsInNamespace(ctx, "team")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = storage.CountRootsInNamespace(ctx, "empty")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLedgerRoundTrip(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedRoot(t, storage, "/repo", "default")

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertFileRecords(ctx, []FileRecord{
		{Root: "/repo", RelPath: "a.go", ContentHash: "h1", Language: types.LangGo, Status: types.StatusSupported, SizeBytes: 10},
		{Root: "/repo", RelPath: "README.md", ContentHash: "h2", Status: types.StatusSkipped, SizeBytes: 5},
		{Root: "/repo", RelPath: "bad.go", ContentHash: "h3", Language: types.LangGo, Status: types.StatusFailed},
	}))
	require.NoError(t, tx.Commit())

	ledger, err := storage.LoadLedger(ctx, "/repo")
	require.NoError(t, err)
	require.Len(t, ledger, 3)
	assert.Equal(t, "h1", ledger["a.go"].ContentHash)
	assert.Equal(t, types.StatusSkipped, ledger["README.md"].Status)

	cov, err := storage.LedgerCoverage(ctx, "/repo")
	require.NoError(t, err)
	assert.Equal(t, 1, cov.Supported)
	assert.Equal(t, 1, cov.Skipped)
	assert.Equal(t, 1, cov.Failed)
	assert.Equal(t, 3, cov.Total())

	// Hash change overwrites the row
	tx, err = storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertFileRecords(ctx, []FileRecord{
		{Root: "/repo", RelPath: "a.go", ContentHash: "h1b", Language: types.LangGo, Status: types.StatusSupported},
	}))
	require.NoError(t, tx.DeleteFileRecords(ctx, "/repo", []string{"bad.go"}))
	require.NoError(t, tx.Commit())

	ledger, err = storage.LoadLedger(ctx, "/repo")
	require.NoError(t, err)
	assert.Len(t, ledger, 2)
	assert.Equal(t, "h1b", ledger["a.go"].ContentHash)
	assert.NotContains(t, ledger, "bad.go")
}

func TestUpsertFileRecords_InvalidStatus(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedRoot(t, storage, "/repo", "default")

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	err = tx.UpsertFileRecords(ctx, []FileRecord{{Root: "/repo", RelPath: "a.go", ContentHash: "h", Status: "weird"}})
	assert.Error(t, err)
}

func sampleStructure(relPath string) ([]types.Symbol, []types.Edge, []types.Reference, []types.ModuleImport) {
	sym := types.Symbol{
		RelPath: relPath, Language: types.LangGo, Name: "Server", Kind: types.KindStruct, Package: "api",
		Scope: types.ScopeExported, Start: types.Position{Line: 3, Column: 6}, End: types.Position{Line: 9, Column: 1},
		Tags: []string{"service"},
	}
	sym.AssignID("/repo", "hash-"+relPath)

	edge := types.Edge{RelPath: relPath, SourceID: sym.ID, TargetName: "Handler", Type: types.EdgeImplements, Line: 3}
	edge.AssignID("/repo", "hash-"+relPath)
	custom := types.Edge{RelPath: relPath, SourceID: sym.ID, TargetName: "pkg.Thing", Type: "DECORATES", Line: 4}
	custom.AssignID("/repo", "hash-"+relPath)

	ref := types.Reference{RelPath: relPath, Name: "fmt.Println", Kind: "call", Line: 5, Column: 2}
	ref.AssignID("/repo", "hash-"+relPath)

	imp := types.ModuleImport{RelPath: relPath, Path: "fmt", Line: 1}
	imp.AssignID("/repo", "hash-"+relPath)

	return []types.Symbol{sym}, []types.Edge{edge, custom}, []types.Reference{ref}, []types.ModuleImport{imp}
}

func insertStructure(t *testing.T, s *SQLiteStorage, relPaths ...string) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	for _, p := range relPaths {
		syms, edges, refs, imps := sampleStructure(p)
		require.NoError(t, tx.InsertSymbols(ctx, "/repo", syms))
		require.NoError(t, tx.InsertEdges(ctx, "/repo", edges))
		require.NoError(t, tx.InsertReferences(ctx, "/repo", refs))
		require.NoError(t, tx.InsertImports(ctx, "/repo", imps))
	}
	require.NoError(t, tx.Commit())
}

func TestStructureInsertAndList(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedRoot(t, storage, "/repo", "default")
	insertStructure(t, storage, "api/server.go")

	symbols, err := storage.ListSymbols(ctx, "/repo", "api/server.go")
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, "Server", symbols[0].Name)
	assert.Equal(t, types.KindStruct, symbols[0].Kind)
	assert.Equal(t, []string{"service"}, symbols[0].Tags)
	assert.Equal(t, 9, symbols[0].End.Line)

	edges, err := storage.ListEdges(ctx, "/repo", "api/server.go")
	require.NoError(t, err)
	require.Len(t, edges, 2)
	// Unknown edge kinds are stored verbatim
	assert.Equal(t, types.EdgeImplements, edges[0].Type)
	assert.Equal(t, types.EdgeType("DECORATES"), edges[1].Type)

	counts, err := storage.CountStructure(ctx, "/repo")
	require.NoError(t, err)
	assert.Equal(t, StructureCounts{Symbols: 1, Edges: 2, References: 1, Imports: 1}, *counts)
}

func TestInsertStructure_Idempotent(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedRoot(t, storage, "/repo", "default")

	insertStructure(t, storage, "a.go")
	insertStructure(t, storage, "a.go")

	counts, err := storage.CountStructure(ctx, "/repo")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Symbols)
	assert.Equal(t, 2, counts.Edges)
}

func TestDeleteStructure(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedRoot(t, storage, "/repo", "default")
	insertStructure(t, storage, "a.go", "b.go", "c.go")

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	n, err := tx.DeleteStructure(ctx, "/repo", []string{"a.go", "c.go", "missing.go"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.Equal(t, int64(10), n) // 2 files x (1 symbol + 2 edges + 1 ref + 1 import)

	counts, err := storage.CountStructure(ctx, "/repo")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Symbols)

	symbols, err := storage.ListSymbols(ctx, "/repo", "b.go")
	require.NoError(t, err)
	assert.Len(t, symbols, 1)
}

func TestDeleteStructure_LargeBatch(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedRoot(t, storage, "/repo", "default")

	paths := make([]string, 0, maxInParams+20)
	for i := 0; i < maxInParams+20; i++ {
		paths = append(paths, fmt.Sprintf("pkg/f%04d.go", i))
	}
	insertStructure(t, storage, paths...)

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.DeleteStructure(ctx, "/repo", paths)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	counts, err := storage.CountStructure(ctx, "/repo")
	require.NoError(t, err)
	assert.Zero(t, counts.Symbols)
	assert.Zero(t, counts.Imports)
}

func TestCoverage(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedRoot(t, storage, "/repo", "default")

	_, err := storage.GetCoverage(ctx, "/repo")
	assert.ErrorIs(t, err, ErrNotFound)

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertCoverage(ctx, &Coverage{Root: "/repo", Supported: 4, Skipped: 2, Failed: 1}))
	require.NoError(t, tx.Commit())

	tx, err = storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertCoverage(ctx, &Coverage{Root: "/repo", Supported: 1}))
	require.NoError(t, tx.Commit())

	cov, err := storage.GetCoverage(ctx, "/repo")
	require.NoError(t, err)
	assert.Equal(t, 1, cov.Supported)
	assert.Zero(t, cov.Skipped)
	assert.False(t, cov.LastIndexedAt.IsZero())
}

func TestRollbackDiscardsWrites(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedRoot(t, storage, "/repo", "default")

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	syms, _, _, _ := sampleStructure("a.go")
	require.NoError(t, tx.InsertSymbols(ctx, "/repo", syms))
	require.NoError(t, tx.UpsertFileRecords(ctx, []FileRecord{{Root: "/repo", RelPath: "a.go", ContentHash: "h", Status: types.StatusSupported}}))
	require.NoError(t, tx.Rollback())

	counts, err := storage.CountStructure(ctx, "/repo")
	require.NoError(t, err)
	assert.Zero(t, counts.Symbols)

	ledger, err := storage.LoadLedger(ctx, "/repo")
	require.NoError(t, err)
	assert.Empty(t, ledger)
}

func TestDeleteRoot_Cascades(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedRoot(t, storage, "/repo", "default")
	insertStructure(t, storage, "a.go")

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertFileRecords(ctx, []FileRecord{{Root: "/repo", RelPath: "a.go", ContentHash: "h", Status: types.StatusSupported}}))
	require.NoError(t, tx.UpsertCoverage(ctx, &Coverage{Root: "/repo", Supported: 1}))
	require.NoError(t, tx.Commit())

	tx, err = storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.DeleteRoot(ctx, "/repo"))
	require.NoError(t, tx.Commit())

	counts, err := storage.CountStructure(ctx, "/repo")
	require.NoError(t, err)
	assert.Zero(t, counts.Symbols)
	assert.Zero(t, counts.Edges)

	ledger, err := storage.LoadLedger(ctx, "/repo")
	require.NoError(t, err)
	assert.Empty(t, ledger)

	_, err = storage.GetCoverage(ctx, "/repo")
	assert.ErrorIs(t, err, ErrNotFound)

	tx, err = storage.BeginTx(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, tx.DeleteRoot(ctx, "/repo"), ErrNotFound)
	_ = tx.Rollback()
}
