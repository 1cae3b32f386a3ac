// Package chunker divides file content into chunks for embedding.
//
// Chunking is pluggable through the Strategy interface. Two strategies ship with the
// package:
//
//   - SymbolAware: one chunk per outermost symbol span from a parse result, with the
//     text between symbols windowed separately. Oversized symbols are split into
//     line windows that keep the symbol name.
//   - LineWindow: runs of whole lines under a token budget, with a few lines of
//     overlap between consecutive windows. Used for any text file.
//
// # Basic Usage
//
//	s, err := chunker.New(chunker.StrategySymbol, 0, emb.CountTokens)
//	if err != nil {
//	    return err
//	}
//	chunks := s.Chunk("internal/foo/foo.go", content, &parseResult)
//
// # Chunk Sizing
//
// The budget defaults to DefaultMaxTokens. Token counts come from the supplied
// TokenCounter, normally the embedder's CountTokens; without one the chars/4
// heuristic from pkg/types is used.
//
// Line numbers are 1-based and inclusive. Chunk.Index is the position of the chunk
// within its file and, together with the file hash, determines the chunk id.
package chunker
