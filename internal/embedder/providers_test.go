package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider()

	t.Run("deterministic unit vectors", func(t *testing.T) {
		a, err := p.Embed(ctx, "func ParseFile(path string) error")
		require.NoError(t, err)
		b, err := p.Embed(ctx, "func ParseFile(path string) error")
		require.NoError(t, err)

		assert.Len(t, a, LocalDimension)
		assert.Equal(t, a, b)
		assert.InDelta(t, 1.0, cosine(a, a), 1e-5)
	})

	t.Run("shared identifiers are closer", func(t *testing.T) {
		a, _ := p.Embed(ctx, "func parseConfig(path string) error")
		b, _ := p.Embed(ctx, "parseConfig reads path")
		c, _ := p.Embed(ctx, "banana orange kiwi")
		assert.Greater(t, cosine(a, b), cosine(a, c))
	})

	t.Run("punctuation only still yields a vector", func(t *testing.T) {
		v, err := p.Embed(ctx, "{}();")
		require.NoError(t, err)
		assert.False(t, isZero(v))
	})

	t.Run("empty text", func(t *testing.T) {
		_, err := p.Embed(ctx, "")
		assert.ErrorIs(t, err, ErrEmptyText)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := p.Embed(cctx, "x")
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("metadata", func(t *testing.T) {
		assert.Equal(t, LocalModel, p.Model())
		assert.Equal(t, ProviderLocal, p.Provider())
		assert.Equal(t, LocalContextLength, p.ContextLength())
		assert.Equal(t, 3, p.CountTokens("abcdefghijkl"))
		assert.NoError(t, p.Close())
	})
}

// embeddingServer serves the OpenAI embeddings endpoint. status decides the
// response code for the n-th call (1-based).
func embeddingServer(t *testing.T, status func(n int32) int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		if code := status(n); code != http.StatusOK {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"test","code":"test"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  body.Model,
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": []float64{0.25, 0.5, 0.75}},
			},
			"usage": map[string]any{"prompt_tokens": 3, "total_tokens": 3},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxRetries: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestOpenAIProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("requires api key", func(t *testing.T) {
		_, err := NewOpenAIProvider(OpenAIConfig{})
		assert.ErrorIs(t, err, ErrNoProviderEnabled)
	})

	t.Run("embeds", func(t *testing.T) {
		srv, calls := embeddingServer(t, func(int32) int { return http.StatusOK })
		p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1/"})
		require.NoError(t, err)

		vec, err := p.Embed(ctx, "hello world")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.25, 0.5, 0.75}, vec)
		assert.Equal(t, int32(1), calls.Load())

		assert.Equal(t, DefaultOpenAIModel, p.Model())
		assert.Equal(t, OpenAIDimension, p.Dimension())
		assert.Equal(t, OpenAIContextLength, p.ContextLength())
		assert.Equal(t, ProviderOpenAI, p.Provider())
	})

	t.Run("retries rate limits", func(t *testing.T) {
		srv, calls := embeddingServer(t, func(n int32) int {
			if n <= 2 {
				return http.StatusTooManyRequests
			}
			return http.StatusOK
		})
		p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1/", Retry: fastRetry(3)})
		require.NoError(t, err)

		_, err = p.Embed(ctx, "hello")
		require.NoError(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		srv, calls := embeddingServer(t, func(int32) int { return http.StatusInternalServerError })
		p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1/", Retry: fastRetry(2)})
		require.NoError(t, err)

		_, err = p.Embed(ctx, "hello")
		assert.ErrorIs(t, err, ErrProviderFailed)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		srv, calls := embeddingServer(t, func(int32) int { return http.StatusBadRequest })
		p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1/", Retry: fastRetry(3)})
		require.NoError(t, err)

		_, err = p.Embed(ctx, "hello")
		assert.ErrorIs(t, err, ErrProviderFailed)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("rate limited provider still embeds", func(t *testing.T) {
		srv, calls := embeddingServer(t, func(int32) int { return http.StatusOK })
		p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1/", RequestsPerSecond: 100})
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			_, err := p.Embed(ctx, "hello")
			require.NoError(t, err)
		}
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("cancelled context", func(t *testing.T) {
		srv, _ := embeddingServer(t, func(int32) int { return http.StatusOK })
		p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1/"})
		require.NoError(t, err)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err = p.Embed(cctx, "hello")
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("empty text", func(t *testing.T) {
		p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key"})
		require.NoError(t, err)
		_, err = p.Embed(ctx, "")
		assert.ErrorIs(t, err, ErrEmptyText)
	})
}

func TestRetryWithBackoff(t *testing.T) {
	ctx := context.Background()

	t.Run("returns first success", func(t *testing.T) {
		attempts := 0
		got, err := retryWithBackoff(ctx, fastRetry(5), func() (string, error) {
			attempts++
			if attempts < 3 {
				return "", assert.AnError
			}
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", got)
		assert.Equal(t, 3, attempts)
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		attempts := 0
		_, err := retryWithBackoff(cctx, fastRetry(5), func() (int, error) {
			attempts++
			cancel()
			return 0, assert.AnError
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	})
}
