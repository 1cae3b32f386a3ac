package embedder

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/gocontext-ingest/internal/config"
)

// ProviderForModel maps a model id to the provider that serves it. Unknown
// models go to fallback.
func ProviderForModel(model, fallback string) string {
	switch {
	case strings.HasPrefix(model, "local"):
		return ProviderLocal
	case strings.HasPrefix(model, "text-embedding-"):
		return ProviderOpenAI
	}
	return strings.ToLower(fallback)
}

// DefaultModel returns the configured model, or the provider's default.
func DefaultModel(cfg config.EmbedderConfig) string {
	if cfg.Model != "" {
		return cfg.Model
	}
	if strings.EqualFold(cfg.Provider, ProviderOpenAI) {
		return DefaultOpenAIModel
	}
	return LocalModel
}

// New creates an embedder for model with explicit configuration. An empty
// model selects DefaultModel(cfg).
func New(cfg config.EmbedderConfig, model string) (Embedder, error) {
	if model == "" {
		model = DefaultModel(cfg)
	}

	var emb Embedder
	switch provider := ProviderForModel(model, cfg.Provider); provider {
	case ProviderLocal:
		if model != LocalModel {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, model)
		}
		emb = NewLocalProvider()
	case ProviderOpenAI:
		p, err := NewOpenAIProvider(OpenAIConfig{
			APIKey:            cfg.APIKey.Value(),
			Model:             model,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
		if err != nil {
			return nil, err
		}
		emb = p
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, provider)
	}

	if cfg.CacheSize > 0 {
		emb = NewCachedEmbedder(emb, cfg.CacheSize)
	}
	return emb, nil
}

// Resolver hands out one embedder per model id, creating them on first use.
type Resolver struct {
	cfg    config.EmbedderConfig
	logger *zap.Logger

	mu      sync.Mutex
	byModel map[string]Embedder
}

// NewResolver creates a resolver over cfg.
func NewResolver(cfg config.EmbedderConfig, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{cfg: cfg, logger: logger, byModel: make(map[string]Embedder)}
}

// Resolve returns the embedder for model.
func (r *Resolver) Resolve(model string) (Embedder, error) {
	if model == "" {
		model = DefaultModel(r.cfg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if emb, ok := r.byModel[model]; ok {
		return emb, nil
	}
	emb, err := New(r.cfg, model)
	if err != nil {
		return nil, err
	}
	r.logger.Info("embedder created",
		zap.String("provider", emb.Provider()),
		zap.String("model", emb.Model()))
	r.byModel[model] = emb
	return emb, nil
}

// DefaultModel returns the model used when a caller does not name one.
func (r *Resolver) DefaultModel() string {
	return DefaultModel(r.cfg)
}

// Close closes every embedder created so far.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for model, emb := range r.byModel {
		if err := emb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", model, err))
		}
	}
	r.byModel = make(map[string]Embedder)
	return errors.Join(errs...)
}
