package vectorstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/gocontext-ingest/internal/config"
)

func newTestStore(t *testing.T) *ChromemStore {
	t.Helper()
	return NewChromemStoreWithDB(chromem.NewDB(), nil)
}

func rec(id, relPath string, vec ...float32) Record {
	return Record{
		ID:       id,
		Vector:   vec,
		Content:  "content of " + id,
		Metadata: map[string]string{MetaRelPath: relPath, MetaRoot: "/repo", MetaModel: "m1"},
	}
}

func TestCollectionName(t *testing.T) {
	a := CollectionName("default", "/repo/a")
	b := CollectionName("default", "/repo/b")

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, CollectionName("default", "/repo/a"))
	assert.Len(t, a, len("default_")+16)
	assert.Equal(t, "team__meta", MetaCollectionName("team"))
}

func TestChromem_AddGetCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.Count(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.Add(ctx, "c1", []Record{
		rec("11111111-1111-1111-1111-111111111111", "a.go", 1, 0, 0),
		rec("22222222-2222-2222-2222-222222222222", "b.go", 0, 1, 0),
	}))

	n, err = s.Count(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.Get(ctx, "c1", "11111111-1111-1111-1111-111111111111")
	require.NoError(t, err)
	assert.Equal(t, "a.go", got.Metadata[MetaRelPath])
	assert.Equal(t, "content of 11111111-1111-1111-1111-111111111111", got.Content)

	_, err = s.Get(ctx, "c1", "33333333-3333-3333-3333-333333333333")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	_, err = s.Get(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestChromem_AddReplacesSameID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := "11111111-1111-1111-1111-111111111111"
	require.NoError(t, s.Add(ctx, "c1", []Record{rec(id, "a.go", 1, 0)}))
	updated := rec(id, "a.go", 0, 1)
	updated.Content = "new"
	require.NoError(t, s.Add(ctx, "c1", []Record{updated}))

	n, err := s.Count(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, "c1", id)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Content)
}

func TestChromem_AddRejectsEmptyVector(t *testing.T) {
	s := newTestStore(t)
	err := s.Add(context.Background(), "c1", []Record{{ID: "x", Content: "c"}})
	assert.ErrorIs(t, err, ErrEmptyVector)
}

func TestChromem_DeleteByPaths(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "c1", []Record{
		rec("11111111-1111-1111-1111-111111111111", "a.go", 1, 0),
		rec("22222222-2222-2222-2222-222222222222", "a.go", 0, 1),
		rec("33333333-3333-3333-3333-333333333333", "b.go", 1, 1),
	}))

	require.NoError(t, s.DeleteByPaths(ctx, "c1", []string{"a.go", "gone.go"}))
	n, err := s.Count(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Missing collection is not an error
	assert.NoError(t, s.DeleteByPaths(ctx, "missing", []string{"a.go"}))
}

func TestChromem_Query(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "c1", []Record{
		rec("11111111-1111-1111-1111-111111111111", "a.go", 1, 0),
		rec("22222222-2222-2222-2222-222222222222", "b.go", 0, 1),
	}))

	hits, err := s.Query(ctx, "c1", []float32{0.9, 0.1}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a.go", hits[0].Metadata[MetaRelPath])
	assert.Greater(t, hits[0].Score, hits[1].Score)

	_, err = s.Query(ctx, "missing", []float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestChromem_DeleteCollection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "c1", []Record{rec("11111111-1111-1111-1111-111111111111", "a.go", 1)}))
	require.NoError(t, s.DeleteCollection(ctx, "c1"))
	require.NoError(t, s.DeleteCollection(ctx, "c1"))

	n, err := s.Count(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestModelLock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	model, err := LockedModel(ctx, s, "default")
	require.NoError(t, err)
	assert.Empty(t, model)

	require.NoError(t, LockModel(ctx, s, "default", "local-hash-384"))
	model, err = LockedModel(ctx, s, "default")
	require.NoError(t, err)
	assert.Equal(t, "local-hash-384", model)

	// Other namespaces are independent
	model, err = LockedModel(ctx, s, "other")
	require.NoError(t, err)
	assert.Empty(t, model)

	unlocked, err := UnlockModel(ctx, s, "default")
	require.NoError(t, err)
	assert.True(t, unlocked)

	unlocked, err = UnlockModel(ctx, s, "default")
	require.NoError(t, err)
	assert.False(t, unlocked)

	model, err = LockedModel(ctx, s, "default")
	require.NoError(t, err)
	assert.Empty(t, model)
}

func TestNamespaceMeta_KeepsOtherKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetNamespaceMeta(ctx, "ns", map[string]string{"owner": "team-a"}))
	require.NoError(t, LockModel(ctx, s, "ns", "m1"))

	meta, err := s.NamespaceMeta(ctx, "ns")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"owner": "team-a", LockedModelKey: "m1"}, meta)

	_, err = UnlockModel(ctx, s, "ns")
	require.NoError(t, err)
	meta, err = s.NamespaceMeta(ctx, "ns")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"owner": "team-a"}, meta)
}

func TestNewChromemStore_Persistent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vectors")
	ctx := context.Background()

	s, err := New(config.VectorStoreConfig{Provider: "chromem", Path: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, LockModel(ctx, s, "default", "m1"))
	require.NoError(t, s.Close())

	reopened, err := NewChromemStore(dir, false, nil)
	require.NoError(t, err)
	model, err := LockedModel(ctx, reopened, "default")
	require.NoError(t, err)
	assert.Equal(t, "m1", model)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(config.VectorStoreConfig{Provider: "pinecone"}, nil)
	assert.Error(t, err)
}
