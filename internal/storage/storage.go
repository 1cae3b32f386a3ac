package storage

import (
	"context"
	"time"

	"github.com/dshills/gocontext-ingest/pkg/types"
)

// Store is the document store: root records, the content-hash ledger, coverage
// summaries and the structural graph.
type Store interface {
	// Ping is the connectivity probe used before a commit phase.
	Ping(ctx context.Context) error

	// Root operations
	GetRoot(ctx context.Context, path string) (*Root, error)
	ListRoots(ctx context.Context) ([]*Root, error)
	CountRootsInNamespace(ctx context.Context, namespace string) (int, error)

	// Ledger operations
	LoadLedger(ctx context.Context, root string) (map[string]FileRecord, error)
	LedgerCoverage(ctx context.Context, root string) (*Coverage, error)

	// Coverage and structure
	GetCoverage(ctx context.Context, root string) (*Coverage, error)
	CountStructure(ctx context.Context, root string) (*StructureCounts, error)
	ListSymbols(ctx context.Context, root, relPath string) ([]types.Symbol, error)
	ListEdges(ctx context.Context, root, relPath string) ([]types.Edge, error)

	BeginTx(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is a write batch. Nothing written through a Tx is visible until Commit.
type Tx interface {
	UpsertRoot(ctx context.Context, root *Root) error
	DeleteRoot(ctx context.Context, path string) error

	// DeleteStructure removes symbols, edges, references and imports whose
	// rel_path is in relPaths. It returns the number of rows removed.
	DeleteStructure(ctx context.Context, root string, relPaths []string) (int64, error)
	InsertSymbols(ctx context.Context, root string, symbols []types.Symbol) error
	InsertEdges(ctx context.Context, root string, edges []types.Edge) error
	InsertReferences(ctx context.Context, root string, refs []types.Reference) error
	InsertImports(ctx context.Context, root string, imports []types.ModuleImport) error

	UpsertFileRecords(ctx context.Context, records []FileRecord) error
	DeleteFileRecords(ctx context.Context, root string, relPaths []string) error
	UpsertCoverage(ctx context.Context, cov *Coverage) error

	Commit() error
	Rollback() error
}

// Root status values
const (
	RootReady = "ready"
	RootError = "error"
)

// Root is an ingested directory tree, identified by its absolute path.
type Root struct {
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	ModelID      string    `json:"modelId"`
	Namespace    string    `json:"namespace"`
	Status       string    `json:"status"`
	Files        int       `json:"files"`
	Chunks       int       `json:"chunks"`
	Embedded     int       `json:"embedded"`
	LastIngestAt time.Time `json:"lastIngestAt"`
	LastError    string    `json:"lastError,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// FileRecord is one ledger row.
type FileRecord struct {
	Root        string
	RelPath     string
	ContentHash string
	Language    types.Language
	Status      types.SupportStatus
	SizeBytes   int64
	UpdatedAt   time.Time
}

// Coverage summarizes supported, skipped and failed files for a root.
type Coverage struct {
	Root          string
	Supported     int
	Skipped       int
	Failed        int
	LastIndexedAt time.Time
}

// Total returns the number of files the summary covers.
func (c *Coverage) Total() int {
	return c.Supported + c.Skipped + c.Failed
}

// StructureCounts reports how many structural rows a root has.
type StructureCounts struct {
	Symbols    int
	Edges      int
	References int
	Imports    int
}
