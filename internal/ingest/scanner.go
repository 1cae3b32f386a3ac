package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dshills/gocontext-ingest/pkg/types"
)

// DefaultMaxFileSize is the largest file the scanner accepts.
const DefaultMaxFileSize = 1024 * 1024

// ScannedFile is one eligible file under a root.
type ScannedFile struct {
	RelPath   string // slash separated
	Hash      string
	Language  types.Language
	Supported bool // a parser is registered for Language
	Size      int64
}

// Scanner walks a root and hashes every ingestible text file.
type Scanner struct {
	SkipDirs    []string
	MaxFileSize int64
	// Classify maps a relative path to its language. Files it rejects are still
	// scanned, as unsupported content.
	Classify func(relPath string) (types.Language, bool)
}

// Scan returns the files under root sorted by relative path. Hidden and skipped
// directories, symlinks, oversized files and binary files are left out.
func (s *Scanner) Scan(ctx context.Context, root string) ([]ScannedFile, error) {
	skip := make(map[string]bool, len(s.SkipDirs))
	for _, d := range s.SkipDirs {
		skip[d] = true
	}
	maxSize := s.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	var files []ScannedFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		name := d.Name()
		if d.IsDir() {
			if path != root && (skip[name] || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxSize {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}
		if isBinary(content) {
			return nil
		}

		f := ScannedFile{RelPath: rel, Hash: types.HashBytes(content), Size: info.Size()}
		if s.Classify != nil {
			f.Language, f.Supported = s.Classify(rel)
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// isBinary treats content with a NUL byte or invalid UTF-8 as binary.
func isBinary(content []byte) bool {
	return bytes.IndexByte(content, 0) >= 0 || !utf8.Valid(content)
}
