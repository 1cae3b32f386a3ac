package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors
var (
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
)

// Embedder is the embedding capability consumed by the ingestion engine.
type Embedder interface {
	// Embed returns the vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// CountTokens estimates the token cost of text for this model.
	CountTokens(text string) int

	// ContextLength is the maximum number of tokens the model accepts per call.
	ContextLength() int

	// Dimension returns the vector length, or 0 when the model does not declare one.
	Dimension() int

	// Model returns the model id that vectors are locked to.
	Model() string

	// Provider returns the provider name
	Provider() string

	// Close releases any resources held by the embedder
	Close() error
}

const defaultCacheSize = 10000

// Cache provides in-memory LRU caching of vectors keyed by content hash
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = defaultCacheSize
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		// Should never happen with positive size, but fallback to default
		cache, _ = lru.New[string, []float32](defaultCacheSize)
	}
	return &Cache{cache: cache}
}

// Get returns a copy of the cached vector so callers cannot mutate the entry.
func (c *Cache) Get(key string) ([]float32, bool) {
	vec, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	return copyVector(vec), true
}

// Set stores a copy of vec.
func (c *Cache) Set(key string, vec []float32) {
	c.cache.Add(key, copyVector(vec))
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

// CachedEmbedder decorates an Embedder with an LRU cache keyed by model and
// text hash.
type CachedEmbedder struct {
	Embedder
	cache  *Cache
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCachedEmbedder wraps inner with a cache holding up to size vectors.
func NewCachedEmbedder(inner Embedder, size int) *CachedEmbedder {
	return &CachedEmbedder{Embedder: inner, cache: NewCache(size)}
}

// Embed returns a cached vector when one exists for the same model and text.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	key := c.Model() + ":" + ComputeHash(text)
	if vec, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return vec, nil
	}
	c.misses.Add(1)

	vec, err := c.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, vec)
	return vec, nil
}

// Stats reports cache hits and misses since creation.
func (c *CachedEmbedder) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// ComputeHash computes SHA-256 hash of text for caching
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}

func copyVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
