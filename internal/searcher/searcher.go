package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/dshills/gocontext-ingest/internal/embedder"
	"github.com/dshills/gocontext-ingest/internal/storage"
	"github.com/dshills/gocontext-ingest/internal/vectorstore"
	"github.com/dshills/gocontext-ingest/pkg/types"
)

const (
	// DefaultLimit is used when a request does not set one
	DefaultLimit = 10
	// MaxLimit caps the number of results per request
	MaxLimit = 100

	defaultCacheSize = 1000
	defaultCacheTTL  = 5 * time.Minute
)

var (
	// ErrEmptyQuery is returned for a blank query
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrRootNotIndexed is returned when the root has never been ingested
	ErrRootNotIndexed = errors.New("root not indexed")
)

// EmbedderFunc resolves the embedder for a model id.
type EmbedderFunc func(model string) (embedder.Embedder, error)

// Request contains parameters for a search operation
type Request struct {
	RootPath string
	Query    string
	Limit    int
	UseCache bool
}

// Result is one matching chunk.
type Result struct {
	RelPath   string  `json:"relPath"`
	StartLine int     `json:"startLine"`
	EndLine   int     `json:"endLine"`
	Score     float32 `json:"score"`
	Symbol    string  `json:"symbol,omitempty"`
	Kind      string  `json:"kind,omitempty"`
	Content   string  `json:"content"`
}

// Response contains search results and metadata
type Response struct {
	Root     string        `json:"root"`
	Model    string        `json:"model"`
	Results  []Result      `json:"results"`
	Duration time.Duration `json:"duration"`
	CacheHit bool          `json:"cacheHit"`
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *Response
	expiresAt time.Time
}

// Searcher runs semantic queries over ingested roots.
type Searcher struct {
	docs      storage.Store
	vectors   vectorstore.Store
	embedders EmbedderFunc
	logger    *zap.Logger

	cache    *lru.Cache[[32]byte, *cacheEntry]
	cacheMu  sync.RWMutex
	cacheTTL time.Duration
}

// New creates a Searcher.
func New(docs storage.Store, vectors vectorstore.Store, embedders EmbedderFunc, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[[32]byte, *cacheEntry](defaultCacheSize)
	if err != nil {
		// This should never happen with valid size parameter
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	return &Searcher{
		docs:      docs,
		vectors:   vectors,
		embedders: embedders,
		logger:    logger,
		cache:     cache,
		cacheTTL:  defaultCacheTTL,
	}
}

func validateRequest(req *Request) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return ErrEmptyQuery
	}
	if req.RootPath == "" {
		return errors.New("root path is required")
	}
	req.RootPath = filepath.Clean(req.RootPath)
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}
	return nil
}

// Search embeds the query with the root's locked model and returns the closest chunks.
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	if err := validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	root, err := s.docs.GetRoot(ctx, req.RootPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRootNotIndexed, req.RootPath)
		}
		return nil, fmt.Errorf("failed to load root: %w", err)
	}

	key := cacheKey(root, req)
	if req.UseCache {
		if cached := s.checkCache(key); cached != nil {
			resp := *cached
			resp.CacheHit = true
			resp.Duration = time.Since(start)
			return &resp, nil
		}
	}

	emb, err := s.embedders(root.ModelID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve embedder %q: %w", root.ModelID, err)
	}
	vector, err := emb.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	hits, err := s.vectors.Query(ctx, vectorstore.CollectionName(root.Namespace, root.Path), vector, req.Limit)
	if errors.Is(err, vectorstore.ErrCollectionNotFound) {
		hits, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, toResult(h))
	}
	s.annotate(ctx, root.Path, results)

	resp := &Response{
		Root:    root.Path,
		Model:   root.ModelID,
		Results: results,
	}
	if req.UseCache && len(results) > 0 {
		s.storeInCache(key, resp)
	}
	out := *resp
	out.Duration = time.Since(start)
	return &out, nil
}

func toResult(h vectorstore.Hit) Result {
	startLine, _ := strconv.Atoi(h.Metadata[vectorstore.MetaStartLine])
	endLine, _ := strconv.Atoi(h.Metadata[vectorstore.MetaEndLine])
	return Result{
		RelPath:   h.Metadata[vectorstore.MetaRelPath],
		StartLine: startLine,
		EndLine:   endLine,
		Score:     h.Score,
		Content:   h.Content,
	}
}

// annotate names the innermost symbol enclosing each result. Lookup failures
// leave results unannotated.
func (s *Searcher) annotate(ctx context.Context, root string, results []Result) {
	byFile := make(map[string][]types.Symbol)
	for i := range results {
		rel := results[i].RelPath
		symbols, ok := byFile[rel]
		if !ok {
			var err error
			symbols, err = s.docs.ListSymbols(ctx, root, rel)
			if err != nil {
				s.logger.Debug("symbol lookup failed", zap.String("rel_path", rel), zap.Error(err))
			}
			byFile[rel] = symbols
		}
		if sym := enclosing(symbols, results[i].StartLine, results[i].EndLine); sym != nil {
			results[i].Symbol = sym.QualifiedName()
			results[i].Kind = string(sym.Kind)
		}
	}
}

// enclosing returns the narrowest symbol whose span covers [start, end].
func enclosing(symbols []types.Symbol, start, end int) *types.Symbol {
	var best *types.Symbol
	for i := range symbols {
		sym := &symbols[i]
		if sym.Start.Line > start || sym.End.Line < end {
			continue
		}
		if best == nil || sym.End.Line-sym.Start.Line < best.End.Line-best.Start.Line {
			best = sym
		}
	}
	return best
}

func cacheKey(root *storage.Root, req Request) [32]byte {
	raw := fmt.Sprintf("%s|%s|%d|%d|%s", root.Path, root.ModelID, root.LastIngestAt.UnixNano(), req.Limit, req.Query)
	return sha256.Sum256([]byte(raw))
}

func (s *Searcher) checkCache(key [32]byte) *Response {
	s.cacheMu.RLock()
	entry, ok := s.cache.Get(key)
	s.cacheMu.RUnlock()
	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		s.cacheMu.Lock()
		s.cache.Remove(key)
		s.cacheMu.Unlock()
		return nil
	}
	return entry.response
}

func (s *Searcher) storeInCache(key [32]byte, resp *Response) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache.Add(key, &cacheEntry{response: resp, expiresAt: time.Now().Add(s.cacheTTL)})
}

// InvalidateCache drops every cached response.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache.Purge()
}
