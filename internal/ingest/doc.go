// Package ingest turns a directory tree into structural records in the document
// store and embedding chunks in the vector store, and keeps both current as the
// tree changes.
//
// A run moves through queued, scanning and embedding before ending completed,
// skipped, cancelled or error. The scanner hashes every eligible file, Diff
// compares the hashes with the ledger written by the previous run, and only
// added and changed files are parsed and embedded. Structural records for the
// whole affected set are deleted and rewritten in one transaction whose last
// step is the ledger, so a file is never recorded as indexed without its
// records.
//
// Only one run, or root removal, holds the engine's lock at a time. Cancellation
// is cooperative and observed between files; a cancelled or dry run writes
// nothing. An unreachable document store skips the structural commit with a
// warning while the vector phase still runs.
//
// Usage:
//
//	eng, err := ingest.New(ingest.Deps{
//	    Docs:      docs,
//	    Vectors:   vectors,
//	    Parsers:   parser.NewDefaultRegistry(),
//	    Embedders: resolver.Resolve,
//	    Chunker:   strategy,
//	    Logger:    logger,
//	}, ingest.Options{Workers: 4})
//	runID, err := eng.StartIngest(ctx, ingest.Params{
//	    RootPath: "/src/project",
//	    Name:     "project",
//	    Model:    "local-hash-384",
//	})
//	st, err := eng.Wait(ctx, runID)
package ingest
