package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/dshills/gocontext-ingest/internal/chunker"
	"github.com/dshills/gocontext-ingest/internal/embedder"
	"github.com/dshills/gocontext-ingest/internal/vectorstore"
	"github.com/dshills/gocontext-ingest/pkg/types"
)

// EmbedJob describes the vector phase of one run.
type EmbedJob struct {
	Root      string
	Namespace string
	Embedder  embedder.Embedder
	Affected  []string
	Files     []ScannedFile
	Parsed    map[string]*types.ParseResult // by relative path, for symbol-aware chunking
	// Rebuild drops the whole collection instead of deleting the affected paths.
	Rebuild bool
}

// EmbedStats reports what the vector phase wrote.
type EmbedStats struct {
	Files    int
	Chunks   int
	Embedded int
}

// EmbedProgress is called after each file with the running totals.
type EmbedProgress func(done, total int, relPath string, stats EmbedStats)

// EmbeddingWriter chunks file content, embeds each chunk and upserts the vectors.
type EmbeddingWriter struct {
	Vectors vectorstore.Store
	Chunker chunker.Strategy
	Logger  *zap.Logger
	Metrics *Metrics
}

// CheckModelLock returns a ValidationError when namespace is pinned to a model
// other than model. It only reads.
func CheckModelLock(ctx context.Context, vs vectorstore.Store, namespace, model string) error {
	locked, err := vectorstore.LockedModel(ctx, vs, namespace)
	if err != nil {
		return fmt.Errorf("failed to read model lock: %w", err)
	}
	if locked != "" && locked != model {
		return &ValidationError{
			Field:  "model",
			Reason: fmt.Sprintf("namespace %s is locked to model %s, got %s", namespace, locked, model),
		}
	}
	return nil
}

// EnsureModelLock pins namespace to model when it is unpinned and rejects a
// mismatch. It runs before the first write of a run.
func (w *EmbeddingWriter) EnsureModelLock(ctx context.Context, namespace, model string) error {
	locked, err := vectorstore.LockedModel(ctx, w.Vectors, namespace)
	if err != nil {
		return fmt.Errorf("failed to read model lock: %w", err)
	}
	switch locked {
	case model:
		return nil
	case "":
		return vectorstore.LockModel(ctx, w.Vectors, namespace, model)
	}
	return &ValidationError{
		Field:  "model",
		Reason: fmt.Sprintf("namespace %s is locked to model %s, got %s", namespace, locked, model),
	}
}

// Write clears stale vectors and embeds every file in job.Files.
func (w *EmbeddingWriter) Write(ctx context.Context, job EmbedJob, progress EmbedProgress) (EmbedStats, error) {
	var stats EmbedStats
	logger := w.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	collection := vectorstore.CollectionName(job.Namespace, job.Root)
	model := job.Embedder.Model()

	if job.Rebuild {
		if err := w.Vectors.DeleteCollection(ctx, collection); err != nil {
			return stats, fmt.Errorf("failed to drop collection: %w", err)
		}
	} else if len(job.Affected) > 0 {
		if err := w.Vectors.DeleteByPaths(ctx, collection, job.Affected); err != nil {
			return stats, fmt.Errorf("failed to delete stale vectors: %w", err)
		}
	}

	for i, f := range job.Files {
		content, err := os.ReadFile(filepath.Join(job.Root, filepath.FromSlash(f.RelPath)))
		if err != nil {
			return stats, fmt.Errorf("failed to read %s: %w", f.RelPath, err)
		}
		if types.HashBytes(content) != f.Hash {
			logger.Warn("file changed during ingest, vectors left for next run",
				zap.String("root", job.Root),
				zap.String("rel_path", f.RelPath))
			continue
		}

		chunks := w.Chunker.Chunk(f.RelPath, content, job.Parsed[f.RelPath])
		records := make([]vectorstore.Record, 0, len(chunks))
		for j := range chunks {
			c := &chunks[j]
			if c.Validate() != nil {
				continue
			}
			vec, err := job.Embedder.Embed(ctx, c.Content)
			if err != nil {
				return stats, fmt.Errorf("failed to embed %s chunk %d: %w", f.RelPath, c.Index, err)
			}
			records = append(records, vectorstore.Record{
				ID:      c.ID(job.Root, f.Hash),
				Vector:  vec,
				Content: c.Content,
				Metadata: map[string]string{
					vectorstore.MetaRoot:       job.Root,
					vectorstore.MetaRelPath:    f.RelPath,
					vectorstore.MetaModel:      model,
					vectorstore.MetaStartLine:  strconv.Itoa(c.StartLine),
					vectorstore.MetaEndLine:    strconv.Itoa(c.EndLine),
					vectorstore.MetaChunkIndex: strconv.Itoa(c.Index),
				},
			})
		}
		stats.Chunks += len(chunks)

		if err := w.Vectors.Add(ctx, collection, records); err != nil {
			return stats, fmt.Errorf("failed to store vectors for %s: %w", f.RelPath, err)
		}
		stats.Files++
		stats.Embedded += len(records)
		w.Metrics.RecordChunks(len(records))

		if progress != nil {
			progress(i+1, len(job.Files), f.RelPath, stats)
		}
	}
	return stats, nil
}
