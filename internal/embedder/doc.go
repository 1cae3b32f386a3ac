// Package embedder generates vector embeddings for chunks.
//
// The Embedder interface is the embedding capability the ingestion engine consumes:
// Embed, CountTokens and ContextLength, plus the model id that a vector namespace is
// locked to.
//
// # Providers
//
//   - local: deterministic feature-hashed vectors (LocalModel, 384 dimensions). Needs
//     no network access and is the default.
//   - openai: the OpenAI embeddings API through openai-go. Rate-limit and server
//     errors are retried with exponential backoff; an optional request rate limit
//     spreads calls out during large ingests.
//
// # Model Resolution
//
// Runs name a model, not a provider. A Resolver maps model ids to embedders and keeps
// one instance per model:
//
//	r := embedder.NewResolver(cfg.Embedder, logger)
//	emb, err := r.Resolve("text-embedding-3-small")
//	if err != nil {
//	    return err
//	}
//	vec, err := emb.Embed(ctx, chunk.Content)
//
// Model ids starting with "local" go to the local provider and ids starting with
// "text-embedding-" go to OpenAI. Anything else uses the configured provider.
//
// # Caching
//
// With embedder.cache_size > 0 every embedder is wrapped in a CachedEmbedder, an LRU
// keyed by model and SHA-256 of the text, so unchanged chunks are not re-sent to the
// provider during re-embedding.
package embedder
