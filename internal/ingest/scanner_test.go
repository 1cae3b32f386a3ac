package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/gocontext-ingest/internal/storage"
	"github.com/dshills/gocontext-ingest/pkg/types"
)

func classifyGo(relPath string) (types.Language, bool) {
	if strings.HasSuffix(relPath, ".go") {
		return types.LangGo, true
	}
	return types.LangNone, false
}

func TestScanner_Scan(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.go":                   goSource("Main"),
		"internal/util/util.go":     goSource("Util"),
		"README.md":                 "readme\n",
		".git/config":               "[core]\n",
		".hidden/x.go":              goSource("X"),
		"node_modules/lib/index.js": "module.exports = {}\n",
		"vendor/dep/dep.go":         goSource("Dep"),
		"big.txt":                   strings.Repeat("a", 2048),
	})
	require.NoError(t, os.WriteFile(filepath.Join(root, "image.bin"), []byte{0x89, 'P', 'N', 'G', 0x00, 0x01}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "latin1.txt"), []byte{0xff, 0xfe, 'a'}, 0o644))
	require.NoError(t, os.Symlink(filepath.Join(root, "main.go"), filepath.Join(root, "link.go")))

	s := &Scanner{
		SkipDirs:    []string{"node_modules", "vendor"},
		MaxFileSize: 1024,
		Classify:    classifyGo,
	}
	files, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	var paths []string
	for _, f := range files {
		paths = append(paths, f.RelPath)
	}
	assert.Equal(t, []string{"README.md", "internal/util/util.go", "main.go"}, paths)

	byPath := make(map[string]ScannedFile)
	for _, f := range files {
		byPath[f.RelPath] = f
	}
	assert.True(t, byPath["main.go"].Supported)
	assert.Equal(t, types.LangGo, byPath["main.go"].Language)
	assert.Equal(t, types.HashBytes([]byte(goSource("Main"))), byPath["main.go"].Hash)
	assert.False(t, byPath["README.md"].Supported)
	assert.Equal(t, int64(len("readme\n")), byPath["README.md"].Size)
}

func TestScanner_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.go": goSource("A")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Scanner{}).Scan(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDiff(t *testing.T) {
	file := func(rel, hash string) ScannedFile { return ScannedFile{RelPath: rel, Hash: hash} }
	ledger := map[string]storage.FileRecord{
		"same.go":    {RelPath: "same.go", ContentHash: "h1"},
		"changed.go": {RelPath: "changed.go", ContentHash: "old"},
		"removed.go": {RelPath: "removed.go", ContentHash: "h3"},
	}
	current := []ScannedFile{
		file("added.go", "h4"),
		file("changed.go", "new"),
		file("same.go", "h1"),
	}

	t.Run("delta", func(t *testing.T) {
		cs := Diff(current, ledger, false)
		assert.Equal(t, []ScannedFile{file("added.go", "h4")}, cs.Added)
		assert.Equal(t, []ScannedFile{file("changed.go", "new")}, cs.Changed)
		assert.Equal(t, []ScannedFile{file("same.go", "h1")}, cs.Unchanged)
		assert.Equal(t, []string{"removed.go"}, cs.Removed)
		assert.Equal(t, []string{"added.go", "changed.go", "removed.go"}, cs.Affected())
		assert.Len(t, cs.ToProcess(), 2)
		assert.False(t, cs.Empty())
	})

	t.Run("first ingest", func(t *testing.T) {
		cs := Diff(current, nil, false)
		assert.Len(t, cs.Added, 3)
		assert.Empty(t, cs.Changed)
		assert.Empty(t, cs.Removed)
	})

	t.Run("full", func(t *testing.T) {
		cs := Diff(current, ledger, true)
		assert.Len(t, cs.Changed, 2)
		assert.Empty(t, cs.Unchanged)
		assert.Equal(t, []string{"removed.go"}, cs.Removed)
	})

	t.Run("no differences", func(t *testing.T) {
		cs := Diff([]ScannedFile{file("same.go", "h1")}, map[string]storage.FileRecord{
			"same.go": {ContentHash: "h1"},
		}, false)
		assert.True(t, cs.Empty())
		assert.Empty(t, cs.Affected())
	})
}
