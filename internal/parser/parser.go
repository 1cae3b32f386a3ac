package parser

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/gocontext-ingest/pkg/types"
)

// Parser is a parse capability for one language. Parse never returns an error;
// failures are reported through a failed ParseResult.
type Parser interface {
	Parse(ctx context.Context, req types.ParseRequest) types.ParseResult
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(ctx context.Context, req types.ParseRequest) types.ParseResult

// Parse calls f.
func (f ParserFunc) Parse(ctx context.Context, req types.ParseRequest) types.ParseResult {
	return f(ctx, req)
}

// Registry maps extensions to languages and languages to parsers.
type Registry struct {
	mu      sync.RWMutex
	parsers map[types.Language]Parser
	exts    map[string]types.Language
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		parsers: make(map[types.Language]Parser),
		exts:    make(map[string]types.Language),
	}
}

// NewDefaultRegistry registers Go and, when built with cgo, the tree-sitter languages.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(types.LangGo, NewGoParser(), ".go")
	registerTreeSitter(r)
	return r
}

// Register installs p for lang and maps each extension to lang. Extensions are
// matched case-insensitively and may be given with or without the leading dot.
func (r *Registry) Register(lang types.Language, p Parser, exts ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[lang] = p
	for _, ext := range exts {
		r.exts[normalizeExt(ext)] = lang
	}
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Classify returns the language registered for relPath's extension.
func (r *Registry) Classify(relPath string) (types.Language, bool) {
	ext := strings.ToLower(path.Ext(relPath))
	if ext == "" {
		return types.LangNone, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.exts[ext]
	if !ok {
		return types.LangNone, false
	}
	_, ok = r.parsers[lang]
	return lang, ok
}

// Languages lists registered languages in sorted order.
func (r *Registry) Languages() []types.Language {
	r.mu.RLock()
	defer r.mu.RUnlock()
	langs := make([]types.Language, 0, len(r.parsers))
	for l := range r.parsers {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i] < langs[j] })
	return langs
}

// Parse dispatches req to the parser registered for req.Language.
func (r *Registry) Parse(ctx context.Context, req types.ParseRequest) types.ParseResult {
	r.mu.RLock()
	p, ok := r.parsers[req.Language]
	r.mu.RUnlock()
	if !ok {
		return types.Failed(fmt.Errorf("no parser registered for language %q", req.Language))
	}
	if err := ctx.Err(); err != nil {
		return types.Failed(err)
	}
	return p.Parse(ctx, req)
}

// readVerified reads the requested file and checks it against req.ContentHash.
func readVerified(req types.ParseRequest) ([]byte, error) {
	full := filepath.Join(req.Root, filepath.FromSlash(req.RelPath))
	content, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if req.ContentHash != "" {
		if got := types.HashBytes(content); got != req.ContentHash {
			return nil, fmt.Errorf("%w: %s changed since scan", types.ErrHashMismatch, req.RelPath)
		}
	}
	return content, nil
}
