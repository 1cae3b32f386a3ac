// Package vectorstore stores embedding chunks per root and keeps per-namespace
// metadata such as the locked embedding model.
package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Metadata keys written on every record.
const (
	MetaRoot       = "root"
	MetaRelPath    = "relPath"
	MetaModel      = "model"
	MetaStartLine  = "startLine"
	MetaEndLine    = "endLine"
	MetaChunkIndex = "chunkIndex"
)

// LockedModelKey is the namespace metadata key holding the model a namespace is pinned to.
const LockedModelKey = "lockedModelId"

// metaSuffix names the collection that holds namespace metadata.
const metaSuffix = "__meta"

var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrRecordNotFound is returned by Get for an unknown id.
	ErrRecordNotFound = errors.New("record not found")
	// ErrEmptyVector is returned when a record carries no vector.
	ErrEmptyVector = errors.New("record has no vector")
)

// Record is one embedding chunk.
type Record struct {
	ID       string
	Vector   []float32
	Content  string
	Metadata map[string]string
}

// Hit is a similarity search result.
type Hit struct {
	ID       string
	Score    float32
	Content  string
	Metadata map[string]string
}

// Store is the vector store port.
type Store interface {
	// Add upserts records. A record whose id already exists replaces it.
	Add(ctx context.Context, collection string, records []Record) error
	Get(ctx context.Context, collection, id string) (*Record, error)
	// DeleteByPaths removes every record whose relPath metadata is in relPaths.
	DeleteByPaths(ctx context.Context, collection string, relPaths []string) error
	// Count returns 0 for a collection that does not exist.
	Count(ctx context.Context, collection string) (int, error)
	// DeleteCollection is a no-op for a collection that does not exist.
	DeleteCollection(ctx context.Context, collection string) error
	Query(ctx context.Context, collection string, vector []float32, k int) ([]Hit, error)

	// NamespaceMeta returns an empty map when nothing was stored.
	NamespaceMeta(ctx context.Context, namespace string) (map[string]string, error)
	// SetNamespaceMeta replaces the namespace metadata. An empty map clears it.
	SetNamespaceMeta(ctx context.Context, namespace string, meta map[string]string) error

	Close() error
}

// CollectionName returns the collection holding a root's chunks inside namespace.
func CollectionName(namespace, root string) string {
	sum := sha256.Sum256([]byte(root))
	return namespace + "_" + hex.EncodeToString(sum[:])[:16]
}

// MetaCollectionName returns the collection holding namespace metadata.
func MetaCollectionName(namespace string) string {
	return namespace + metaSuffix
}

// LockedModel returns the model a namespace is pinned to, or "" when unlocked.
func LockedModel(ctx context.Context, s Store, namespace string) (string, error) {
	meta, err := s.NamespaceMeta(ctx, namespace)
	if err != nil {
		return "", err
	}
	return meta[LockedModelKey], nil
}

// LockModel pins namespace to model, keeping any other metadata.
func LockModel(ctx context.Context, s Store, namespace, model string) error {
	meta, err := s.NamespaceMeta(ctx, namespace)
	if err != nil {
		return err
	}
	next := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		next[k] = v
	}
	next[LockedModelKey] = model
	return s.SetNamespaceMeta(ctx, namespace, next)
}

// UnlockModel clears the model lock. It reports whether a lock was present.
func UnlockModel(ctx context.Context, s Store, namespace string) (bool, error) {
	meta, err := s.NamespaceMeta(ctx, namespace)
	if err != nil {
		return false, err
	}
	if _, ok := meta[LockedModelKey]; !ok {
		return false, nil
	}
	next := make(map[string]string, len(meta))
	for k, v := range meta {
		if k != LockedModelKey {
			next[k] = v
		}
	}
	return true, s.SetNamespaceMeta(ctx, namespace, next)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrCollectionNotFound) || errors.Is(err, ErrRecordNotFound)
}
