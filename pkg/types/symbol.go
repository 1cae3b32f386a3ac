package types

import (
	"errors"
	"go/token"
	"strconv"
)

// SymbolKind represents the type of declaration a symbol was extracted from
type SymbolKind string

const (
	KindFunction  SymbolKind = "function"
	KindMethod    SymbolKind = "method"
	KindStruct    SymbolKind = "struct"
	KindInterface SymbolKind = "interface"
	KindClass     SymbolKind = "class"
	KindType      SymbolKind = "type"
	KindConst     SymbolKind = "const"
	KindVar       SymbolKind = "var"
	KindField     SymbolKind = "field"
)

// SymbolScope represents the visibility scope of a symbol
type SymbolScope string

const (
	ScopeExported   SymbolScope = "exported"
	ScopeUnexported SymbolScope = "unexported"
)

// Position represents a location in source code
type Position struct {
	Line   int
	Column int
}

// Symbol is a declaration extracted from a source file.
type Symbol struct {
	ID       string
	RelPath  string
	Language Language

	Name    string
	Kind    SymbolKind
	Package string

	Signature  string
	DocComment string

	Scope     SymbolScope
	Container string // enclosing type for methods and fields

	Start Position
	End   Position

	// Tags carries naming-convention classifications such as "repository" or "entity".
	Tags []string
}

// AssignID fills in the deterministic id for the symbol.
func (s *Symbol) AssignID(root, fileHash string) {
	s.ID = StableID(root, s.RelPath, fileHash, string(s.Kind), s.Container, s.Name, strconv.Itoa(s.Start.Line))
}

// QualifiedName returns Container.Name for members and Name otherwise.
func (s *Symbol) QualifiedName() string {
	if s.Container != "" {
		return s.Container + "." + s.Name
	}
	return s.Name
}

// IsExported returns true if the symbol is visible outside its package or module
func (s *Symbol) IsExported() bool {
	if s.Language == LangGo {
		return token.IsExported(s.Name)
	}
	return s.Scope == ScopeExported
}

// HasTag reports whether tag was attached to the symbol.
func (s *Symbol) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Validate performs basic validation of the symbol
func (s *Symbol) Validate() error {
	if s.Name == "" {
		return errors.New("symbol name is required")
	}
	if s.Kind == "" {
		return errors.New("symbol kind is required")
	}
	if s.RelPath == "" {
		return errors.New("symbol path is required")
	}
	if s.Kind == KindMethod && s.Container == "" {
		return errors.New("methods must have a container type")
	}
	if s.Start.Line <= 0 || s.End.Line <= 0 {
		return errors.New("invalid position: line numbers must be positive")
	}
	if s.Start.Line > s.End.Line {
		return errors.New("invalid position: start line must be before or equal to end line")
	}
	return nil
}
