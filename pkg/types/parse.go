package types

// ParseRequest identifies one file for a parse capability.
type ParseRequest struct {
	Root        string // absolute root path
	RelPath     string // slash separated, relative to Root
	ContentHash string // expected hash of the file bytes
	Language    Language
}

// ParseStatus is the outcome of a single parse.
type ParseStatus string

const (
	ParseOK     ParseStatus = "ok"
	ParseFailed ParseStatus = "failed"
)

// ParseResult is what a parse capability returns for one file. When Status is
// ParseFailed only Error is meaningful.
type ParseResult struct {
	Status ParseStatus

	PackageName string
	Symbols     []Symbol
	Edges       []Edge
	References  []Reference
	Imports     []ModuleImport

	Error string
}

// Failed builds a failed result.
func Failed(err error) ParseResult {
	msg := "parse failed"
	if err != nil {
		msg = err.Error()
	}
	return ParseResult{Status: ParseFailed, Error: msg}
}

// OK reports whether the parse succeeded.
func (pr *ParseResult) OK() bool {
	return pr.Status == ParseOK
}

// AssignIDs fills in deterministic ids for every record in the result.
func (pr *ParseResult) AssignIDs(root, fileHash string) {
	for i := range pr.Symbols {
		pr.Symbols[i].AssignID(root, fileHash)
	}
	for i := range pr.Edges {
		pr.Edges[i].AssignID(root, fileHash)
	}
	for i := range pr.References {
		pr.References[i].AssignID(root, fileHash)
	}
	for i := range pr.Imports {
		pr.Imports[i].AssignID(root, fileHash)
	}
}
