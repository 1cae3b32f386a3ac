package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/gocontext-ingest/internal/storage"
	"github.com/dshills/gocontext-ingest/pkg/types"
)

// CommitPlan is everything one structural commit writes.
type CommitPlan struct {
	Root     *storage.Root
	Affected []string     // added, changed and removed
	Results  []FileResult // added and changed
	Removed  []string
	Coverage storage.Coverage
}

// PersistenceWriter commits a run's structural records in one transaction.
type PersistenceWriter struct {
	Docs  storage.Store
	Clock func() time.Time
}

// Commit probes the store and writes plan. An unreachable store yields an error
// wrapping ErrStoreUnavailable and nothing is written.
//
// Within the transaction the root row goes first because every structural table
// references it, structure for the affected set is deleted before any insert, and
// the ledger is written last.
func (w *PersistenceWriter) Commit(ctx context.Context, plan CommitPlan) (err error) {
	if err := w.Docs.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	tx, err := w.Docs.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	root := plan.Root.Path
	if err := tx.UpsertRoot(ctx, plan.Root); err != nil {
		return err
	}
	if len(plan.Affected) > 0 {
		if _, err := tx.DeleteStructure(ctx, root, plan.Affected); err != nil {
			return fmt.Errorf("failed to delete structure: %w", err)
		}
	}

	var (
		symbols []types.Symbol
		edges   []types.Edge
		refs    []types.Reference
		imports []types.ModuleImport
	)
	for _, res := range plan.Results {
		if res.Status != types.StatusSupported || res.Parsed == nil {
			continue
		}
		rel := res.File.RelPath
		for _, s := range res.Parsed.Symbols {
			s.RelPath = rel
			symbols = append(symbols, s)
		}
		for _, e := range res.Parsed.Edges {
			e.RelPath = rel
			edges = append(edges, e)
		}
		for _, r := range res.Parsed.References {
			r.RelPath = rel
			refs = append(refs, r)
		}
		for _, m := range res.Parsed.Imports {
			m.RelPath = rel
			imports = append(imports, m)
		}
	}
	if err := tx.InsertSymbols(ctx, root, symbols); err != nil {
		return err
	}
	if err := tx.InsertEdges(ctx, root, edges); err != nil {
		return err
	}
	if err := tx.InsertReferences(ctx, root, refs); err != nil {
		return err
	}
	if err := tx.InsertImports(ctx, root, imports); err != nil {
		return err
	}

	cov := plan.Coverage
	cov.Root = root
	if err := tx.UpsertCoverage(ctx, &cov); err != nil {
		return err
	}

	now := w.now()
	records := make([]storage.FileRecord, 0, len(plan.Results))
	for _, res := range plan.Results {
		records = append(records, storage.FileRecord{
			Root:        root,
			RelPath:     res.File.RelPath,
			ContentHash: res.File.Hash,
			Language:    res.File.Language,
			Status:      res.Status,
			SizeBytes:   res.File.Size,
			UpdatedAt:   now,
		})
	}
	if err := tx.UpsertFileRecords(ctx, records); err != nil {
		return err
	}
	if len(plan.Removed) > 0 {
		if err := tx.DeleteFileRecords(ctx, root, plan.Removed); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SaveRoot writes the root row on its own, after the vector phase has settled
// its counts.
func (w *PersistenceWriter) SaveRoot(ctx context.Context, root *storage.Root) (err error) {
	tx, err := w.Docs.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err := tx.UpsertRoot(ctx, root); err != nil {
		return err
	}
	return tx.Commit()
}

func (w *PersistenceWriter) now() time.Time {
	if w.Clock != nil {
		return w.Clock()
	}
	return time.Now()
}

// DeleteRoot removes a root row. Structure, ledger and coverage go with it.
func (w *PersistenceWriter) DeleteRoot(ctx context.Context, root string) (err error) {
	tx, err := w.Docs.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err := tx.DeleteRoot(ctx, root); err != nil {
		return err
	}
	return tx.Commit()
}
