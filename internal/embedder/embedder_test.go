package embedder

import (
	"context"
	"errors"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder records how often the provider is actually called
type countingEmbedder struct {
	LocalProvider
	model string
	calls int
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.LocalProvider.Embed(ctx, text)
}

func (c *countingEmbedder) Model() string {
	if c.model != "" {
		return c.model
	}
	return LocalModel
}

func TestComputeHash(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		same bool
	}{
		{"identical text", "func main() {}", "func main() {}", true},
		{"different text", "func main() {}", "func main() { }", false},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ha, hb := ComputeHash(tt.a), ComputeHash(tt.b)
			assert.Len(t, ha, 64)
			assert.Equal(t, tt.same, ha == hb)
		})
	}
}

func TestCache(t *testing.T) {
	t.Run("get returns a copy", func(t *testing.T) {
		c := NewCache(10)
		c.Set("k", []float32{1, 2, 3})

		got, ok := c.Get("k")
		require.True(t, ok)
		got[0] = 99

		again, _ := c.Get("k")
		assert.Equal(t, float32(1), again[0])
	})

	t.Run("set stores a copy", func(t *testing.T) {
		c := NewCache(10)
		vec := []float32{1, 2}
		c.Set("k", vec)
		vec[0] = 42

		got, _ := c.Get("k")
		assert.Equal(t, float32(1), got[0])
	})

	t.Run("evicts least recently used", func(t *testing.T) {
		c := NewCache(2)
		c.Set("a", []float32{1})
		c.Set("b", []float32{2})
		_, _ = c.Get("a")
		c.Set("c", []float32{3})

		assert.Equal(t, 2, c.Size())
		_, ok := c.Get("b")
		assert.False(t, ok)
		_, ok = c.Get("a")
		assert.True(t, ok)
	})

	t.Run("non-positive size uses default", func(t *testing.T) {
		c := NewCache(0)
		for i := 0; i < 100; i++ {
			c.Set(strconv.Itoa(i), []float32{float32(i)})
		}
		assert.Equal(t, 100, c.Size())
		c.Clear()
		assert.Equal(t, 0, c.Size())
	})
}

func TestCachedEmbedder(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 100)

	first, err := cached.Embed(ctx, "func Add(a, b int) int")
	require.NoError(t, err)
	second, err := cached.Embed(ctx, "func Add(a, b int) int")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)

	_, err = cached.Embed(ctx, "something else")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)

	hits, misses := cached.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(2), misses)

	// Interface methods pass through
	assert.Equal(t, LocalDimension, cached.Dimension())
	assert.Equal(t, ProviderLocal, cached.Provider())
}

func TestCachedEmbedder_KeyIncludesModel(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{model: "local-a"}
	a := NewCachedEmbedder(inner, 10)
	a.cache.Set("local-b:"+ComputeHash("x"), []float32{7})

	vec, err := a.Embed(ctx, "x")
	require.NoError(t, err)
	assert.Len(t, vec, LocalDimension)
	assert.Equal(t, 1, inner.calls)
	hits, _ := a.Stats()
	assert.Zero(t, hits, "entries for another model must not be served")
}

func TestCachedEmbedder_ErrorsAreNotCached(t *testing.T) {
	boom := errors.New("boom")
	inner := &countingEmbedder{err: boom}
	cached := NewCachedEmbedder(inner, 10)

	_, err := cached.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
	_, err = cached.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, inner.calls)

	_, err = cached.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestNormalizeVector(t *testing.T) {
	tests := []struct {
		name  string
		input []float32
		want  []float32
	}{
		{"3-4-5 triangle", []float32{3, 4}, []float32{0.6, 0.8}},
		{"already unit", []float32{1, 0, 0}, []float32{1, 0, 0}},
		{"zero vector unchanged", []float32{0, 0}, []float32{0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeVector(tt.input)
			require.Len(t, got, len(tt.want))
			for i := range got {
				assert.InDelta(t, tt.want[i], got[i], 1e-6)
			}
		})
	}
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i] * b[i])
		na += float64(a[i] * a[i])
		nb += float64(b[i] * b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
