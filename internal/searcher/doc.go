// Package searcher answers semantic queries against an ingested root.
//
// A query is embedded with the model the root was ingested with, matched
// against the root's vector collection and each hit is annotated with the
// innermost symbol that encloses its line range.
//
// # Basic Usage
//
//	s := searcher.New(docs, vectors, resolver.Resolve, logger)
//
//	resp, err := s.Search(ctx, searcher.Request{
//	    RootPath: "/path/to/project",
//	    Query:    "where are retries configured",
//	    Limit:    10,
//	})
//
//	for _, hit := range resp.Results {
//	    fmt.Printf("%s:%d-%d %s (%.2f)\n",
//	        hit.RelPath, hit.StartLine, hit.EndLine, hit.Symbol, hit.Score)
//	}
//
// # Caching
//
// Responses are kept in an LRU cache keyed by root, model, query and the
// root's last ingest time, so a completed re-ingest naturally invalidates
// earlier answers.
package searcher
