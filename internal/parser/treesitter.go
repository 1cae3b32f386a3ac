//go:build cgo

package parser

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/dshills/gocontext-ingest/pkg/types"
)

// registerTreeSitter installs the tree-sitter backed languages.
func registerTreeSitter(r *Registry) {
	r.Register(types.LangPython, NewTreeSitterParser(types.LangPython), ".py")
	r.Register(types.LangJavaScript, NewTreeSitterParser(types.LangJavaScript), ".js", ".jsx", ".mjs", ".cjs")
	r.Register(types.LangTypeScript, NewTreeSitterParser(types.LangTypeScript), ".ts", ".tsx", ".mts", ".cts")
}

// TreeSitterParser parses Python, JavaScript and TypeScript.
type TreeSitterParser struct {
	lang types.Language
}

// NewTreeSitterParser creates a parser for lang.
func NewTreeSitterParser(lang types.Language) *TreeSitterParser {
	return &TreeSitterParser{lang: lang}
}

func (p *TreeSitterParser) grammar(relPath string) (*sitter.Language, error) {
	switch p.lang {
	case types.LangPython:
		return python.GetLanguage(), nil
	case types.LangJavaScript:
		return javascript.GetLanguage(), nil
	case types.LangTypeScript:
		if strings.HasSuffix(strings.ToLower(relPath), ".tsx") {
			return tsx.GetLanguage(), nil
		}
		return typescript.GetLanguage(), nil
	}
	return nil, fmt.Errorf("unsupported language: %s", p.lang)
}

// Parse reads, verifies and parses one file. sitter.Parser is not safe for
// concurrent use, so each call gets its own.
func (p *TreeSitterParser) Parse(ctx context.Context, req types.ParseRequest) types.ParseResult {
	content, err := readVerified(req)
	if err != nil {
		return types.Failed(err)
	}
	grammar, err := p.grammar(req.RelPath)
	if err != nil {
		return types.Failed(err)
	}

	sp := sitter.NewParser()
	defer sp.Close()
	sp.SetLanguage(grammar)

	tree, err := sp.ParseCtx(ctx, nil, content)
	if err != nil {
		return types.Failed(fmt.Errorf("parse error: %w", err))
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return types.Failed(fmt.Errorf("parse error: empty tree"))
	}

	w := &tsWalker{
		lang:    p.lang,
		src:     content,
		root:    req.Root,
		relPath: req.RelPath,
		hash:    req.ContentHash,
	}
	w.walk(root, "", "")

	return types.ParseResult{
		Status:     types.ParseOK,
		Symbols:    w.symbols,
		Edges:      w.edges,
		References: w.refs,
		Imports:    w.imports,
	}
}

type tsWalker struct {
	lang    types.Language
	src     []byte
	root    string
	relPath string
	hash    string

	symbols []types.Symbol
	edges   []types.Edge
	refs    []types.Reference
	imports []types.ModuleImport
}

func line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

func (w *tsWalker) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(w.src)
}

func (w *tsWalker) addSymbol(n *sitter.Node, name string, kind types.SymbolKind, container string, exported bool) string {
	scope := types.ScopeUnexported
	if exported {
		scope = types.ScopeExported
	}
	sym := types.Symbol{
		RelPath:   w.relPath,
		Language:  w.lang,
		Name:      name,
		Kind:      kind,
		Scope:     scope,
		Container: container,
		Signature: w.signature(n),
		Start:     types.Position{Line: line(n), Column: int(n.StartPoint().Column) + 1},
		End:       types.Position{Line: int(n.EndPoint().Row) + 1, Column: int(n.EndPoint().Column) + 1},
	}
	sym.Tags = classifyTags(&sym)
	sym.AssignID(w.root, w.hash)
	w.symbols = append(w.symbols, sym)
	return sym.ID
}

// signature is the first line of the declaration without its body.
func (w *tsWalker) signature(n *sitter.Node) string {
	s := w.text(n)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "{")
	return strings.TrimSpace(s)
}

func (w *tsWalker) addEdge(sourceID, target string, typ types.EdgeType, n *sitter.Node) {
	if sourceID == "" || target == "" {
		return
	}
	e := types.Edge{RelPath: w.relPath, SourceID: sourceID, TargetName: target, Type: typ, Line: line(n)}
	e.AssignID(w.root, w.hash)
	w.edges = append(w.edges, e)
}

func (w *tsWalker) addRef(name, kind string, n *sitter.Node) {
	r := types.Reference{RelPath: w.relPath, Name: name, Kind: kind, Line: line(n), Column: int(n.StartPoint().Column) + 1}
	r.AssignID(w.root, w.hash)
	w.refs = append(w.refs, r)
}

func (w *tsWalker) addImport(path, alias string, n *sitter.Node) {
	if path == "" {
		return
	}
	m := types.ModuleImport{RelPath: w.relPath, Path: path, Alias: alias, Line: line(n)}
	m.AssignID(w.root, w.hash)
	w.imports = append(w.imports, m)
}

// walk visits n. class is the enclosing class name; owner is the id of the
// enclosing symbol that calls are attributed to.
func (w *tsWalker) walk(n *sitter.Node, class, owner string) {
	if n == nil {
		return
	}
	if w.lang == types.LangPython {
		class, owner = w.visitPython(n, class, owner)
	} else {
		class, owner = w.visitJS(n, class, owner)
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		w.walk(n.NamedChild(i), class, owner)
	}
}

func (w *tsWalker) visitPython(n *sitter.Node, class, owner string) (string, string) {
	switch n.Type() {
	case "class_definition":
		name := w.text(n.ChildByFieldName("name"))
		if name == "" {
			return class, owner
		}
		id := w.addSymbol(n, name, types.KindClass, class, !strings.HasPrefix(name, "_"))
		if supers := n.ChildByFieldName("superclasses"); supers != nil {
			for i := 0; i < int(supers.NamedChildCount()); i++ {
				base := supers.NamedChild(i)
				switch base.Type() {
				case "identifier", "attribute":
					w.addEdge(id, w.text(base), types.EdgeExtends, base)
				}
			}
		}
		if class != "" {
			w.addEdge(id, class, types.EdgeMemberOf, n)
		}
		return name, id

	case "function_definition":
		name := w.text(n.ChildByFieldName("name"))
		if name == "" {
			return class, owner
		}
		kind := types.KindFunction
		if class != "" {
			kind = types.KindMethod
		}
		id := w.addSymbol(n, name, kind, class, !strings.HasPrefix(name, "_"))
		if class != "" {
			w.addEdge(id, class, types.EdgeMemberOf, n)
		}
		// Nested functions are not methods of the enclosing class
		return "", id

	case "import_statement":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			switch c.Type() {
			case "dotted_name":
				w.addImport(w.text(c), "", c)
			case "aliased_import":
				w.addImport(w.text(c.ChildByFieldName("name")), w.text(c.ChildByFieldName("alias")), c)
			}
		}

	case "import_from_statement":
		w.addImport(w.text(n.ChildByFieldName("module_name")), "", n)

	case "call":
		name := w.text(n.ChildByFieldName("function"))
		if name != "" && !strings.ContainsAny(name, "\n(") {
			w.addRef(name, "call", n)
			w.addEdge(owner, name, types.EdgeCalls, n)
		}
	}
	return class, owner
}

func (w *tsWalker) visitJS(n *sitter.Node, class, owner string) (string, string) {
	exported := n.Parent() != nil && n.Parent().Type() == "export_statement"

	switch n.Type() {
	case "class_declaration", "abstract_class_declaration", "class":
		name := w.text(n.ChildByFieldName("name"))
		if name == "" {
			return class, owner
		}
		id := w.addSymbol(n, name, types.KindClass, "", exported)
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if c := n.NamedChild(i); c.Type() == "class_heritage" {
				w.heritage(id, c)
			}
		}
		return name, id

	case "interface_declaration":
		name := w.text(n.ChildByFieldName("name"))
		if name == "" {
			return class, owner
		}
		id := w.addSymbol(n, name, types.KindInterface, "", exported)
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if c := n.NamedChild(i); c.Type() == "extends_type_clause" {
				w.typeTargets(id, c, types.EdgeExtends)
			}
		}
		return class, id

	case "type_alias_declaration":
		if name := w.text(n.ChildByFieldName("name")); name != "" {
			w.addSymbol(n, name, types.KindType, "", exported)
		}

	case "function_declaration", "generator_function_declaration":
		name := w.text(n.ChildByFieldName("name"))
		if name == "" {
			return class, owner
		}
		return "", w.addSymbol(n, name, types.KindFunction, "", exported)

	case "method_definition":
		name := w.text(n.ChildByFieldName("name"))
		if name == "" {
			return class, owner
		}
		id := w.addSymbol(n, name, types.KindMethod, class, !strings.HasPrefix(name, "#"))
		if class != "" {
			w.addEdge(id, class, types.EdgeMemberOf, n)
		}
		return "", id

	case "variable_declarator":
		value := n.ChildByFieldName("value")
		if value == nil {
			return class, owner
		}
		switch value.Type() {
		case "arrow_function", "function", "function_expression":
			name := w.text(n.ChildByFieldName("name"))
			if name == "" {
				return class, owner
			}
			decl := n.Parent()
			exp := decl != nil && decl.Parent() != nil && decl.Parent().Type() == "export_statement"
			return "", w.addSymbol(n, name, types.KindFunction, "", exp)
		}

	case "import_statement":
		src := strings.Trim(w.text(n.ChildByFieldName("source")), "\"'`")
		w.addImport(src, "", n)

	case "call_expression":
		fn := n.ChildByFieldName("function")
		if fn == nil {
			return class, owner
		}
		if fn.Type() == "import" {
			// dynamic import("x")
			if args := n.ChildByFieldName("arguments"); args != nil && args.NamedChildCount() > 0 {
				w.addImport(strings.Trim(w.text(args.NamedChild(0)), "\"'`"), "", n)
			}
			return class, owner
		}
		name := w.text(fn)
		if name == "require" {
			if args := n.ChildByFieldName("arguments"); args != nil && args.NamedChildCount() > 0 {
				w.addImport(strings.Trim(w.text(args.NamedChild(0)), "\"'`"), "", n)
			}
			return class, owner
		}
		if name != "" && !strings.ContainsAny(name, "\n(") {
			w.addRef(name, "call", n)
			w.addEdge(owner, name, types.EdgeCalls, n)
		}
	}
	return class, owner
}

// heritage handles "extends X implements Y" for JavaScript and TypeScript.
func (w *tsWalker) heritage(classID string, n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "extends_clause":
			w.typeTargets(classID, c, types.EdgeExtends)
		case "implements_clause":
			w.typeTargets(classID, c, types.EdgeImplements)
		case "identifier", "member_expression":
			// JavaScript grammar puts the expression directly under class_heritage
			w.addEdge(classID, w.text(c), types.EdgeExtends, c)
		}
	}
}

func (w *tsWalker) typeTargets(sourceID string, clause *sitter.Node, typ types.EdgeType) {
	for i := 0; i < int(clause.NamedChildCount()); i++ {
		c := clause.NamedChild(i)
		switch c.Type() {
		case "identifier", "type_identifier", "member_expression", "nested_type_identifier":
			w.addEdge(sourceID, w.text(c), typ, c)
		case "generic_type":
			w.addEdge(sourceID, w.text(c.ChildByFieldName("name")), typ, c)
		}
	}
}
