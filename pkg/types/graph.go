package types

import "strconv"

// EdgeType names a structural relation. The set is open: parsers may emit kinds that
// are not listed here and stores must keep them verbatim.
type EdgeType string

const (
	EdgeExtends        EdgeType = "EXTENDS"
	EdgeImplements     EdgeType = "IMPLEMENTS"
	EdgeReferencesType EdgeType = "REFERENCES_TYPE"
	EdgeCalls          EdgeType = "CALLS"
	EdgeMemberOf       EdgeType = "MEMBER_OF"
	EdgeEmbeds         EdgeType = "EMBEDS"
	EdgeImports        EdgeType = "IMPORTS"
)

// Edge links a source symbol to a target by name. Targets are resolved lazily by
// consumers because they may live in files that were not part of the run.
type Edge struct {
	ID         string
	RelPath    string
	SourceID   string
	TargetName string
	Type       EdgeType
	Line       int
}

// AssignID fills in the deterministic id for the edge.
func (e *Edge) AssignID(root, fileHash string) {
	e.ID = StableID(root, e.RelPath, fileHash, e.SourceID, string(e.Type), e.TargetName, strconv.Itoa(e.Line))
}

// Reference is a use of a name inside a file.
type Reference struct {
	ID      string
	RelPath string
	Name    string
	Kind    string // "call", "type", "selector"
	Line    int
	Column  int
}

// AssignID fills in the deterministic id for the reference.
func (r *Reference) AssignID(root, fileHash string) {
	r.ID = StableID(root, r.RelPath, fileHash, r.Kind, r.Name, strconv.Itoa(r.Line), strconv.Itoa(r.Column))
}

// ModuleImport is an import statement.
type ModuleImport struct {
	ID      string
	RelPath string
	Path    string // import path or module specifier
	Alias   string
	Line    int
}

// AssignID fills in the deterministic id for the import.
func (m *ModuleImport) AssignID(root, fileHash string) {
	m.ID = StableID(root, m.RelPath, fileHash, m.Path, m.Alias, strconv.Itoa(m.Line))
}
