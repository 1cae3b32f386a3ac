package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// metaDocID is the single document id inside a namespace metadata collection.
const metaDocID = "namespace"

// ChromemStore implements Store on an embedded chromem-go database.
type ChromemStore struct {
	db     *chromem.DB
	logger *zap.Logger
}

// NewChromemStore opens a persistent chromem database at path. An empty path
// creates an in-memory database.
func NewChromemStore(path string, compress bool, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		return NewChromemStoreWithDB(chromem.NewDB(), logger), nil
	}

	expanded, err := expandPath(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return nil, fmt.Errorf("creating vector directory: %w", err)
	}

	db, err := chromem.NewPersistentDB(expanded, compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem database: %w", err)
	}
	logger.Info("chromem store opened", zap.String("path", expanded), zap.Bool("compress", compress))
	return NewChromemStoreWithDB(db, logger), nil
}

// NewChromemStoreWithDB wraps an existing chromem database.
func NewChromemStoreWithDB(db *chromem.DB, logger *zap.Logger) *ChromemStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromemStore{db: db, logger: logger}
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	return filepath.Clean(path), nil
}

// embeddingFunc is handed to chromem so it never falls back to its default
// OpenAI embedder. Every record carries its own vector.
func embeddingFunc(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("vectors must be supplied by the caller")
}

func (s *ChromemStore) collection(name string) *chromem.Collection {
	return s.db.GetCollection(name, embeddingFunc)
}

func (s *ChromemStore) Add(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	col, err := s.db.GetOrCreateCollection(collection, nil, embeddingFunc)
	if err != nil {
		return fmt.Errorf("getting/creating collection %s: %w", collection, err)
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		if len(r.Vector) == 0 {
			return fmt.Errorf("record %s: %w", r.ID, ErrEmptyVector)
		}
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Content,
			Metadata:  r.Metadata,
			Embedding: r.Vector,
		}
	}

	// Concurrency of 1 since embeddings are already computed
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}

	s.logger.Debug("added documents to chromem",
		zap.String("collection", collection),
		zap.Int("count", len(docs)),
	)
	return nil
}

func (s *ChromemStore) Get(ctx context.Context, collection, id string) (*Record, error) {
	col := s.collection(collection)
	if col == nil {
		return nil, ErrCollectionNotFound
	}
	doc, err := col.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return &Record{ID: doc.ID, Vector: doc.Embedding, Content: doc.Content, Metadata: doc.Metadata}, nil
}

func (s *ChromemStore) DeleteByPaths(ctx context.Context, collection string, relPaths []string) error {
	if len(relPaths) == 0 {
		return nil
	}
	col := s.collection(collection)
	if col == nil {
		return nil
	}
	for _, p := range relPaths {
		if err := col.Delete(ctx, map[string]string{MetaRelPath: p}, nil); err != nil {
			return fmt.Errorf("deleting vectors for %s: %w", p, err)
		}
	}
	return nil
}

func (s *ChromemStore) Count(_ context.Context, collection string) (int, error) {
	col := s.collection(collection)
	if col == nil {
		return 0, nil
	}
	return col.Count(), nil
}

func (s *ChromemStore) DeleteCollection(_ context.Context, collection string) error {
	if s.collection(collection) == nil {
		return nil
	}
	if err := s.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("deleting collection %s: %w", collection, err)
	}
	s.logger.Info("deleted chromem collection", zap.String("collection", collection))
	return nil
}

func (s *ChromemStore) Query(ctx context.Context, collection string, vector []float32, k int) ([]Hit, error) {
	col := s.collection(collection)
	if col == nil {
		return nil, ErrCollectionNotFound
	}
	// chromem rejects nResults greater than the document count
	if n := col.Count(); k > n {
		k = n
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{ID: r.ID, Score: r.Similarity, Content: r.Content, Metadata: r.Metadata})
	}
	return hits, nil
}

func (s *ChromemStore) NamespaceMeta(ctx context.Context, namespace string) (map[string]string, error) {
	col := s.collection(MetaCollectionName(namespace))
	if col == nil || col.Count() == 0 {
		return map[string]string{}, nil
	}
	doc, err := col.GetByID(ctx, metaDocID)
	if err != nil {
		return map[string]string{}, nil
	}
	meta := make(map[string]string, len(doc.Metadata))
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	return meta, nil
}

func (s *ChromemStore) SetNamespaceMeta(ctx context.Context, namespace string, meta map[string]string) error {
	name := MetaCollectionName(namespace)
	if len(meta) == 0 {
		return s.DeleteCollection(ctx, name)
	}
	col, err := s.db.GetOrCreateCollection(name, nil, embeddingFunc)
	if err != nil {
		return fmt.Errorf("getting/creating collection %s: %w", name, err)
	}
	doc := chromem.Document{
		ID:        metaDocID,
		Content:   namespace,
		Metadata:  meta,
		Embedding: []float32{1},
	}
	return col.AddDocument(ctx, doc)
}

// Close is a no-op; chromem persists on every write.
func (s *ChromemStore) Close() error {
	return nil
}
