package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
)

// QdrantConfig configures the qdrant backend.
type QdrantConfig struct {
	Host string
	Port int
	// HealthTimeout bounds the startup health probe, retries included.
	HealthTimeout time.Duration
}

// QdrantStore implements Store on a remote qdrant server over gRPC.
type QdrantStore struct {
	client *qdrant.Client
	logger *zap.Logger

	mu    sync.Mutex
	known map[string]bool // collections known to exist
}

// metaNamespace seeds the point id of namespace metadata.
var metaNamespace = uuid.MustParse("b3a1f6de-52c4-4c36-8f4e-2f0d6f1f9a77")

// NewQdrantStore connects to qdrant and waits for it to answer a health check.
func NewQdrantStore(cfg QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = 30 * time.Second
	}

	client, err := qdrant.NewClient(&qdrant.Config{Host: cfg.Host, Port: cfg.Port})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	s := &QdrantStore{client: client, logger: logger, known: make(map[string]bool)}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = cfg.HealthTimeout

	attempt := 0
	op := func() error {
		attempt++
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := client.HealthCheck(ctx); err != nil {
			logger.Debug("qdrant health check failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return nil
	}
	if err := backoff.Retry(op, b); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("health check failed: %w", err)
	}

	logger.Info("qdrant store connected", zap.String("host", cfg.Host), zap.Int("port", cfg.Port))
	return s, nil
}

func (s *QdrantStore) exists(ctx context.Context, collection string) (bool, error) {
	s.mu.Lock()
	if s.known[collection] {
		s.mu.Unlock()
		return true, nil
	}
	s.mu.Unlock()

	ok, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return false, fmt.Errorf("checking collection %s: %w", collection, err)
	}
	if ok {
		s.mu.Lock()
		s.known[collection] = true
		s.mu.Unlock()
	}
	return ok, nil
}

// ensureCollection creates collection with the given vector size if it is missing.
func (s *QdrantStore) ensureCollection(ctx context.Context, collection string, size int) error {
	ok, err := s.exists(ctx, collection)
	if err != nil || ok {
		return err
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(size),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", collection, err)
	}
	s.mu.Lock()
	s.known[collection] = true
	s.mu.Unlock()
	s.logger.Info("created qdrant collection", zap.String("collection", collection), zap.Int("vector_size", size))
	return nil
}

func payloadFor(content string, metadata map[string]string) map[string]*qdrant.Value {
	m := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		m[k] = v
	}
	m["content"] = content
	return qdrant.NewValueMap(m)
}

func splitPayload(payload map[string]*qdrant.Value) (string, map[string]string) {
	meta := make(map[string]string, len(payload))
	var content string
	for k, v := range payload {
		if k == "content" {
			content = v.GetStringValue()
			continue
		}
		meta[k] = v.GetStringValue()
	}
	return content, meta
}

func (s *QdrantStore) Add(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if len(records[0].Vector) == 0 {
		return fmt.Errorf("record %s: %w", records[0].ID, ErrEmptyVector)
	}
	if err := s.ensureCollection(ctx, collection, len(records[0].Vector)); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		if len(r.Vector) == 0 {
			return fmt.Errorf("record %s: %w", r.ID, ErrEmptyVector)
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(r.ID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: payloadFor(r.Content, r.Metadata),
		}
	}

	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	}); err != nil {
		return fmt.Errorf("upserting points: %w", err)
	}
	return nil
}

func (s *QdrantStore) Get(ctx context.Context, collection, id string) (*Record, error) {
	ok, err := s.exists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCollectionNotFound
	}

	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting point %s: %w", id, err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}

	p := points[0]
	content, meta := splitPayload(p.GetPayload())
	vec := p.GetVectors().GetVector()
	data := vec.GetDense().GetData()
	if len(data) == 0 {
		data = vec.GetData() //nolint:staticcheck // servers before 1.13 fill the legacy field
	}
	return &Record{ID: p.GetId().GetUuid(), Vector: data, Content: content, Metadata: meta}, nil
}

func (s *QdrantStore) DeleteByPaths(ctx context.Context, collection string, relPaths []string) error {
	if len(relPaths) == 0 {
		return nil
	}
	ok, err := s.exists(ctx, collection)
	if err != nil || !ok {
		return err
	}
	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchKeywords(MetaRelPath, relPaths...)},
		}),
	})
	if err != nil {
		return fmt.Errorf("deleting points by path: %w", err)
	}
	return nil
}

func (s *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	ok, err := s.exists(ctx, collection)
	if err != nil || !ok {
		return 0, err
	}
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("counting points: %w", err)
	}
	return int(n), nil
}

func (s *QdrantStore) DeleteCollection(ctx context.Context, collection string) error {
	ok, err := s.exists(ctx, collection)
	if err != nil || !ok {
		return err
	}
	if err := s.client.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("deleting collection %s: %w", collection, err)
	}
	s.mu.Lock()
	delete(s.known, collection)
	s.mu.Unlock()
	return nil
}

func (s *QdrantStore) Query(ctx context.Context, collection string, vector []float32, k int) ([]Hit, error) {
	ok, err := s.exists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCollectionNotFound
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		content, meta := splitPayload(p.GetPayload())
		hits = append(hits, Hit{ID: p.GetId().GetUuid(), Score: p.GetScore(), Content: content, Metadata: meta})
	}
	return hits, nil
}

func metaPointID(namespace string) string {
	return uuid.NewSHA1(metaNamespace, []byte(namespace)).String()
}

func (s *QdrantStore) NamespaceMeta(ctx context.Context, namespace string) (map[string]string, error) {
	rec, err := s.Get(ctx, MetaCollectionName(namespace), metaPointID(namespace))
	if err != nil {
		if isNotFound(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	return rec.Metadata, nil
}

func (s *QdrantStore) SetNamespaceMeta(ctx context.Context, namespace string, meta map[string]string) error {
	name := MetaCollectionName(namespace)
	if len(meta) == 0 {
		return s.DeleteCollection(ctx, name)
	}
	// Replace the whole point so removed keys disappear
	return s.Add(ctx, name, []Record{{
		ID:       metaPointID(namespace),
		Vector:   []float32{1},
		Content:  namespace,
		Metadata: meta,
	}})
}

func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
