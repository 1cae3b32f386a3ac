// Package storage provides the SQLite document store for ingested roots.
//
// The store manages:
//   - Root records (name, model, vector namespace, last run counts)
//   - The content-hash ledger, one row per scanned file
//   - Coverage summaries (supported, skipped, failed)
//   - Structural records: symbols, edges, references and module imports
//
// # Database Schema
//
// Tables:
//   - roots: one row per ingested directory tree
//   - files: the ledger (root, rel_path, content_hash, support_status)
//   - symbols, edges, refs, module_imports: structural graph keyed by rel_path
//   - coverage: the summary written by the last run
//
// Every table references roots with ON DELETE CASCADE, so deleting a root removes
// everything recorded for it.
//
// # Write Batches
//
// All writes go through a Tx. An ingest run replaces the records of affected
// files in one batch and writes the ledger last:
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = tx.Rollback() }()
//
//	_ = tx.UpsertRoot(ctx, root)
//	_, _ = tx.DeleteStructure(ctx, root.Path, affected)
//	_ = tx.InsertSymbols(ctx, root.Path, symbols)
//	_ = tx.UpsertCoverage(ctx, cov)
//	_ = tx.UpsertFileRecords(ctx, records)
//
//	return tx.Commit()
//
// # Build Tags
//
// CGO Build (sqlite_vec tag) uses github.com/mattn/go-sqlite3:
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec"
//
// Pure Go Build (default) uses modernc.org/sqlite:
//
//	CGO_ENABLED=0 go build -tags "purego"
package storage
