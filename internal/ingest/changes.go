package ingest

import (
	"sort"

	"github.com/dshills/gocontext-ingest/internal/storage"
)

// ChangeSet partitions a scan against the ledger.
type ChangeSet struct {
	Added     []ScannedFile
	Changed   []ScannedFile
	Unchanged []ScannedFile
	Removed   []string
}

// Diff compares current against ledger. Hash equality is the only criterion for
// unchanged. With full set, every file the ledger knows is treated as changed.
func Diff(current []ScannedFile, ledger map[string]storage.FileRecord, full bool) ChangeSet {
	var cs ChangeSet
	seen := make(map[string]bool, len(current))
	for _, f := range current {
		seen[f.RelPath] = true
		rec, ok := ledger[f.RelPath]
		switch {
		case !ok:
			cs.Added = append(cs.Added, f)
		case full || rec.ContentHash != f.Hash:
			cs.Changed = append(cs.Changed, f)
		default:
			cs.Unchanged = append(cs.Unchanged, f)
		}
	}
	for rel := range ledger {
		if !seen[rel] {
			cs.Removed = append(cs.Removed, rel)
		}
	}
	sort.Strings(cs.Removed)
	return cs
}

// ToProcess returns added and changed files, the ones that get parsed and embedded.
func (cs ChangeSet) ToProcess() []ScannedFile {
	out := make([]ScannedFile, 0, len(cs.Added)+len(cs.Changed))
	out = append(out, cs.Added...)
	out = append(out, cs.Changed...)
	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })
	return out
}

// Affected returns the relative paths of added, changed and removed files.
func (cs ChangeSet) Affected() []string {
	out := make([]string, 0, len(cs.Added)+len(cs.Changed)+len(cs.Removed))
	for _, f := range cs.Added {
		out = append(out, f.RelPath)
	}
	for _, f := range cs.Changed {
		out = append(out, f.RelPath)
	}
	out = append(out, cs.Removed...)
	sort.Strings(out)
	return out
}

// Empty reports whether nothing changed.
func (cs ChangeSet) Empty() bool {
	return len(cs.Added) == 0 && len(cs.Changed) == 0 && len(cs.Removed) == 0
}
