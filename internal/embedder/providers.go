package embedder

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"

	"github.com/dshills/gocontext-ingest/pkg/types"
)

// Provider configuration
const (
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultOpenAIModel = openai.EmbeddingModelTextEmbedding3Small
	LocalModel         = "local-hash-384"

	// Dimensions
	OpenAIDimension = 1536
	LocalDimension  = 384

	// Context lengths in tokens
	OpenAIContextLength = 8191
	LocalContextLength  = 512
)

var openAIDimensions = map[string]int{
	openai.EmbeddingModelTextEmbedding3Small: 1536,
	openai.EmbeddingModelTextEmbedding3Large: 3072,
	openai.EmbeddingModelTextEmbeddingAda002: 1536,
}

// OpenAIConfig configures OpenAIProvider.
type OpenAIConfig struct {
	APIKey            string
	Model             string
	BaseURL           string // optional, for proxies and tests
	RequestsPerSecond float64
	Retry             RetryConfig
}

// OpenAIProvider implements Embedder using the OpenAI embeddings API
type OpenAIProvider struct {
	client  openai.Client
	model   string
	limiter *rate.Limiter
	retry   RetryConfig
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai api key not set", ErrNoProviderEnabled)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries are handled by retryWithBackoff
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	p := &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		retry:  cfg.Retry,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return p, nil
}

// Embed calls the embeddings endpoint, retrying rate-limit and server errors.
func (o *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	vec, err := retryWithBackoff(ctx, o.retry, func() ([]float32, error) {
		return o.callAPI(ctx, text)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}
	return vec, nil
}

func (o *OpenAIProvider) callAPI(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: []string{text},
		},
		Model: o.model,
	})
	if err != nil {
		if isRetryable(err) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}
	if len(resp.Data) == 0 {
		return nil, backoff.Permanent(errors.New("no embeddings returned"))
	}
	return toFloat32(resp.Data[0].Embedding), nil
}

// isRetryable reports whether err is a rate limit, a server error or a
// transport failure.
func isRetryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}

func (o *OpenAIProvider) CountTokens(text string) int {
	return types.EstimateTokens(text)
}

func (o *OpenAIProvider) ContextLength() int {
	return OpenAIContextLength
}

func (o *OpenAIProvider) Dimension() int {
	return openAIDimensions[o.model]
}

func (o *OpenAIProvider) Provider() string {
	return ProviderOpenAI
}

func (o *OpenAIProvider) Model() string {
	return o.model
}

func (o *OpenAIProvider) Close() error {
	return nil
}

// LocalProvider produces deterministic feature-hashed vectors without any
// network access. Texts that share identifiers land near each other, which is
// enough for offline use and tests.
type LocalProvider struct{}

// NewLocalProvider creates a new local embedder
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{}
}

func (l *LocalProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vector := make([]float32, LocalDimension)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		sign := float32(1)
		if sum>>63 == 1 {
			sign = -1
		}
		vector[sum%LocalDimension] += sign
	}

	if isZero(vector) {
		// No tokens, or every token cancelled out
		textHash := sha256.Sum256([]byte(text))
		for i := range textHash {
			vector[i] = float32(textHash[i])/255.0 + 0.01
		}
	}
	return NormalizeVector(vector), nil
}

// tokenize lowercases text and splits it into identifier-like words.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func (l *LocalProvider) CountTokens(text string) int {
	return types.EstimateTokens(text)
}

func (l *LocalProvider) ContextLength() int {
	return LocalContextLength
}

func (l *LocalProvider) Dimension() int {
	return LocalDimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return LocalModel
}

func (l *LocalProvider) Close() error {
	return nil
}
