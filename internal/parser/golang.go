package parser

import (
	"context"
	"fmt"
	"go/ast"
	goparser "go/parser"
	"go/token"
	"sort"
	"strings"

	"github.com/dshills/gocontext-ingest/pkg/types"
)

// GoParser handles AST-based parsing of Go source files
type GoParser struct{}

// NewGoParser creates a new GoParser instance
func NewGoParser() *GoParser {
	return &GoParser{}
}

// Parse reads, verifies and parses one Go file
func (p *GoParser) Parse(ctx context.Context, req types.ParseRequest) types.ParseResult {
	content, err := readVerified(req)
	if err != nil {
		return types.Failed(err)
	}
	if err := ctx.Err(); err != nil {
		return types.Failed(err)
	}
	return parseGoSource(req, content)
}

func parseGoSource(req types.ParseRequest, content []byte) types.ParseResult {
	fset := token.NewFileSet()
	file, err := goparser.ParseFile(fset, req.RelPath, content, goparser.ParseComments)
	if err != nil {
		return types.Failed(fmt.Errorf("syntax error: %w", err))
	}

	e := &symbolExtractor{
		fset:        fset,
		root:        req.Root,
		relPath:     req.RelPath,
		fileHash:    req.ContentHash,
		packageName: file.Name.Name,
		symbols:     make([]types.Symbol, 0),
		byName:      make(map[string]string),
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			e.extractFunction(d)
		case *ast.GenDecl:
			e.extractGenDecl(d)
		}
	}
	e.inferImplements()

	return types.ParseResult{
		Status:      types.ParseOK,
		PackageName: file.Name.Name,
		Symbols:     e.symbols,
		Edges:       e.edges,
		References:  e.refs,
		Imports:     e.extractImports(file),
	}
}

// symbolExtractor walks top-level declarations and collects records
type symbolExtractor struct {
	fset        *token.FileSet
	root        string
	relPath     string
	fileHash    string
	packageName string

	symbols []types.Symbol
	edges   []types.Edge
	refs    []types.Reference

	byName     map[string]string   // type name -> symbol id
	interfaces map[string][]string // interface name -> method names
	methods    map[string][]string // receiver type -> method names
}

// extractImports extracts import statements from the AST
func (e *symbolExtractor) extractImports(file *ast.File) []types.ModuleImport {
	imports := make([]types.ModuleImport, 0, len(file.Imports))

	for _, imp := range file.Imports {
		mi := types.ModuleImport{
			RelPath: e.relPath,
			Path:    strings.Trim(imp.Path.Value, `"`),
			Line:    e.fset.Position(imp.Pos()).Line,
		}
		if imp.Name != nil {
			mi.Alias = imp.Name.Name
		}
		mi.AssignID(e.root, e.fileHash)
		imports = append(imports, mi)
	}

	return imports
}

// addSymbol finalizes and records sym, returning its id
func (e *symbolExtractor) addSymbol(sym types.Symbol) string {
	sym.RelPath = e.relPath
	sym.Language = types.LangGo
	sym.Package = e.packageName
	sym.Scope = determineScope(sym.Name)
	sym.Tags = classifyTags(&sym)
	sym.AssignID(e.root, e.fileHash)
	e.symbols = append(e.symbols, sym)
	return sym.ID
}

func (e *symbolExtractor) addEdge(sourceID, target string, typ types.EdgeType, pos token.Pos) {
	if target == "" {
		return
	}
	edge := types.Edge{
		RelPath:    e.relPath,
		SourceID:   sourceID,
		TargetName: target,
		Type:       typ,
		Line:       e.fset.Position(pos).Line,
	}
	edge.AssignID(e.root, e.fileHash)
	e.edges = append(e.edges, edge)
}

func (e *symbolExtractor) addRef(name, kind string, pos token.Pos) {
	p := e.fset.Position(pos)
	ref := types.Reference{RelPath: e.relPath, Name: name, Kind: kind, Line: p.Line, Column: p.Column}
	ref.AssignID(e.root, e.fileHash)
	e.refs = append(e.refs, ref)
}

// extractFunction extracts function and method declarations
func (e *symbolExtractor) extractFunction(funcDecl *ast.FuncDecl) {
	sym := types.Symbol{
		Name:       funcDecl.Name.Name,
		DocComment: extractDocComment(funcDecl.Doc),
		Start:      e.position(funcDecl.Pos()),
		End:        e.position(funcDecl.End()),
		Signature:  e.extractFunctionSignature(funcDecl),
	}

	// Determine if this is a method or function
	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		sym.Kind = types.KindMethod
		sym.Container = extractReceiverType(funcDecl.Recv.List[0].Type)
	} else {
		sym.Kind = types.KindFunction
	}

	id := e.addSymbol(sym)

	if sym.Kind == types.KindMethod && sym.Container != "" {
		e.addEdge(id, sym.Container, types.EdgeMemberOf, funcDecl.Pos())
		if e.methods == nil {
			e.methods = make(map[string][]string)
		}
		e.methods[sym.Container] = append(e.methods[sym.Container], sym.Name)
	}

	e.addTypeRefs(id, funcDecl.Type.Params)
	e.addTypeRefs(id, funcDecl.Type.Results)

	if funcDecl.Body != nil {
		e.extractCalls(id, funcDecl.Body)
	}
}

// extractCalls records a CALLS edge and a call reference for every call in body
func (e *symbolExtractor) extractCalls(sourceID string, body *ast.BlockStmt) {
	seen := make(map[string]bool)
	ast.Inspect(body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		name := callName(call.Fun)
		if name == "" {
			return true
		}
		e.addRef(name, "call", call.Pos())
		if !seen[name] {
			seen[name] = true
			e.addEdge(sourceID, name, types.EdgeCalls, call.Pos())
		}
		return true
	})
}

func callName(fun ast.Expr) string {
	switch f := fun.(type) {
	case *ast.Ident:
		if isBuiltin(f.Name) {
			return ""
		}
		return f.Name
	case *ast.SelectorExpr:
		if x := callName(f.X); x != "" {
			return x + "." + f.Sel.Name
		}
		return f.Sel.Name
	case *ast.IndexExpr:
		return callName(f.X)
	case *ast.ParenExpr:
		return callName(f.X)
	}
	return ""
}

// addTypeRefs records REFERENCES_TYPE edges for named types in a field list
func (e *symbolExtractor) addTypeRefs(sourceID string, fields *ast.FieldList) {
	if fields == nil {
		return
	}
	for _, field := range fields.List {
		for _, name := range namedTypes(field.Type) {
			e.addEdge(sourceID, name, types.EdgeReferencesType, field.Pos())
			e.addRef(name, "type", field.Type.Pos())
		}
	}
}

// namedTypes returns the non-builtin type names an expression mentions
func namedTypes(expr ast.Expr) []string {
	var out []string
	var walk func(ast.Expr)
	walk = func(x ast.Expr) {
		switch t := x.(type) {
		case *ast.Ident:
			if !isBuiltin(t.Name) {
				out = append(out, t.Name)
			}
		case *ast.SelectorExpr:
			if pkg, ok := t.X.(*ast.Ident); ok {
				out = append(out, pkg.Name+"."+t.Sel.Name)
			}
		case *ast.StarExpr:
			walk(t.X)
		case *ast.ArrayType:
			walk(t.Elt)
		case *ast.MapType:
			walk(t.Key)
			walk(t.Value)
		case *ast.ChanType:
			walk(t.Value)
		case *ast.Ellipsis:
			walk(t.Elt)
		case *ast.IndexExpr:
			walk(t.X)
			walk(t.Index)
		}
	}
	walk(expr)
	return out
}

var builtins = map[string]bool{
	"bool": true, "byte": true, "complex64": true, "complex128": true, "error": true,
	"float32": true, "float64": true, "int": true, "int8": true, "int16": true, "int32": true,
	"int64": true, "rune": true, "string": true, "uint": true, "uint8": true, "uint16": true,
	"uint32": true, "uint64": true, "uintptr": true, "any": true, "comparable": true,
	"append": true, "cap": true, "clear": true, "close": true, "complex": true, "copy": true,
	"delete": true, "imag": true, "len": true, "make": true, "max": true, "min": true,
	"new": true, "panic": true, "print": true, "println": true, "real": true, "recover": true,
}

func isBuiltin(name string) bool {
	return builtins[name]
}

// extractGenDecl extracts type, const, and var declarations
func (e *symbolExtractor) extractGenDecl(genDecl *ast.GenDecl) {
	for _, spec := range genDecl.Specs {
		switch s := spec.(type) {
		case *ast.TypeSpec:
			doc := genDecl.Doc
			if s.Doc != nil {
				doc = s.Doc
			}
			e.extractTypeSpec(s, doc)
		case *ast.ValueSpec:
			e.extractValueSpec(s, genDecl.Doc, genDecl.Tok)
		}
	}
}

// extractTypeSpec extracts struct, interface, and type alias declarations
func (e *symbolExtractor) extractTypeSpec(typeSpec *ast.TypeSpec, doc *ast.CommentGroup) {
	name := typeSpec.Name.Name
	sym := types.Symbol{
		Name:       name,
		DocComment: extractDocComment(doc),
		Start:      e.position(typeSpec.Pos()),
		End:        e.position(typeSpec.End()),
	}

	// Determine the specific type
	switch t := typeSpec.Type.(type) {
	case *ast.StructType:
		sym.Kind = types.KindStruct
		sym.Signature = extractStructSignature(name, t)
	case *ast.InterfaceType:
		sym.Kind = types.KindInterface
		sym.Signature = extractInterfaceSignature(name, t)
	default:
		sym.Kind = types.KindType
		sym.Signature = fmt.Sprintf("type %s %s", name, exprToString(typeSpec.Type))
	}

	id := e.addSymbol(sym)
	e.byName[name] = id

	switch t := typeSpec.Type.(type) {
	case *ast.StructType:
		e.extractStructFields(name, id, t)
	case *ast.InterfaceType:
		e.extractInterfaceMembers(name, id, t)
	default:
		for _, ref := range namedTypes(typeSpec.Type) {
			e.addEdge(id, ref, types.EdgeReferencesType, typeSpec.Pos())
		}
	}
}

// extractStructFields extracts field symbols, EMBEDS edges and field type references
func (e *symbolExtractor) extractStructFields(structName, structID string, structType *ast.StructType) {
	if structType.Fields == nil {
		return
	}

	for _, field := range structType.Fields.List {
		if len(field.Names) == 0 {
			// Embedded field
			if embedded := extractReceiverType(field.Type); embedded != "" {
				e.addEdge(structID, qualifiedEmbedded(field.Type, embedded), types.EdgeEmbeds, field.Pos())
			}
			continue
		}

		for _, name := range field.Names {
			fieldID := e.addSymbol(types.Symbol{
				Name:      name.Name,
				Kind:      types.KindField,
				Container: structName,
				Start:     e.position(field.Pos()),
				End:       e.position(field.End()),
				Signature: fmt.Sprintf("%s %s", name.Name, exprToString(field.Type)),
			})
			e.addEdge(fieldID, structName, types.EdgeMemberOf, field.Pos())
		}
		for _, ref := range namedTypes(field.Type) {
			e.addEdge(structID, ref, types.EdgeReferencesType, field.Pos())
		}
	}
}

func qualifiedEmbedded(expr ast.Expr, name string) string {
	if star, ok := expr.(*ast.StarExpr); ok {
		expr = star.X
	}
	if sel, ok := expr.(*ast.SelectorExpr); ok {
		if pkg, ok := sel.X.(*ast.Ident); ok {
			return pkg.Name + "." + sel.Sel.Name
		}
	}
	return name
}

// extractInterfaceMembers records method names and embedded interfaces
func (e *symbolExtractor) extractInterfaceMembers(name, id string, it *ast.InterfaceType) {
	if e.interfaces == nil {
		e.interfaces = make(map[string][]string)
	}
	methods := make([]string, 0)
	if it.Methods != nil {
		for _, m := range it.Methods.List {
			if len(m.Names) == 0 {
				for _, embedded := range namedTypes(m.Type) {
					e.addEdge(id, embedded, types.EdgeEmbeds, m.Pos())
				}
				continue
			}
			for _, n := range m.Names {
				methods = append(methods, n.Name)
			}
		}
	}
	e.interfaces[name] = methods
}

// inferImplements adds IMPLEMENTS edges for types whose methods in this file
// cover every method of an interface declared in this file.
func (e *symbolExtractor) inferImplements() {
	ifaceNames := make([]string, 0, len(e.interfaces))
	for n := range e.interfaces {
		ifaceNames = append(ifaceNames, n)
	}
	sort.Strings(ifaceNames)

	typeNames := make([]string, 0, len(e.methods))
	for n := range e.methods {
		typeNames = append(typeNames, n)
	}
	sort.Strings(typeNames)

	for _, typeName := range typeNames {
		typeID, ok := e.byName[typeName]
		if !ok {
			continue
		}
		have := make(map[string]bool, len(e.methods[typeName]))
		for _, m := range e.methods[typeName] {
			have[m] = true
		}
		for _, iface := range ifaceNames {
			want := e.interfaces[iface]
			if len(want) == 0 || iface == typeName {
				continue
			}
			covered := true
			for _, m := range want {
				if !have[m] {
					covered = false
					break
				}
			}
			if covered {
				edge := types.Edge{
					RelPath:    e.relPath,
					SourceID:   typeID,
					TargetName: iface,
					Type:       types.EdgeImplements,
					Line:       e.symbolLine(typeID),
				}
				edge.AssignID(e.root, e.fileHash)
				e.edges = append(e.edges, edge)
			}
		}
	}
}

func (e *symbolExtractor) symbolLine(id string) int {
	for i := range e.symbols {
		if e.symbols[i].ID == id {
			return e.symbols[i].Start.Line
		}
	}
	return 0
}

// extractValueSpec extracts const and var declarations
func (e *symbolExtractor) extractValueSpec(valueSpec *ast.ValueSpec, doc *ast.CommentGroup, tok token.Token) {
	kind := types.KindVar
	if tok == token.CONST {
		kind = types.KindConst
	}
	if valueSpec.Doc != nil {
		doc = valueSpec.Doc
	}

	for _, name := range valueSpec.Names {
		if name.Name == "_" {
			continue
		}
		sym := types.Symbol{
			Name:       name.Name,
			Kind:       kind,
			DocComment: extractDocComment(doc),
			Start:      e.position(valueSpec.Pos()),
			End:        e.position(valueSpec.End()),
		}

		// Build signature
		switch {
		case valueSpec.Type != nil:
			sym.Signature = fmt.Sprintf("%s %s", name.Name, exprToString(valueSpec.Type))
		case len(valueSpec.Values) > 0:
			sym.Signature = fmt.Sprintf("%s = ...", name.Name)
		default:
			sym.Signature = name.Name
		}

		id := e.addSymbol(sym)
		if valueSpec.Type != nil {
			for _, ref := range namedTypes(valueSpec.Type) {
				e.addEdge(id, ref, types.EdgeReferencesType, valueSpec.Pos())
			}
		}
	}
}

// extractReceiverType extracts the receiver type name from a method
func extractReceiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return extractReceiverType(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.SelectorExpr:
		return t.Sel.Name
	case *ast.IndexExpr:
		return extractReceiverType(t.X)
	case *ast.IndexListExpr:
		return extractReceiverType(t.X)
	}
	return ""
}

// extractFunctionSignature builds a function signature string
func (e *symbolExtractor) extractFunctionSignature(funcDecl *ast.FuncDecl) string {
	var sig strings.Builder

	sig.WriteString("func ")

	// Add receiver for methods
	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		sig.WriteString("(")
		sig.WriteString(exprToString(funcDecl.Recv.List[0].Type))
		sig.WriteString(") ")
	}

	sig.WriteString(funcDecl.Name.Name)

	sig.WriteString("(")
	if funcDecl.Type.Params != nil {
		sig.WriteString(fieldListToString(funcDecl.Type.Params))
	}
	sig.WriteString(")")

	if funcDecl.Type.Results != nil {
		results := fieldListToString(funcDecl.Type.Results)
		if results != "" {
			if funcDecl.Type.Results.NumFields() > 1 || len(funcDecl.Type.Results.List[0].Names) > 0 {
				sig.WriteString(" (")
				sig.WriteString(results)
				sig.WriteString(")")
			} else {
				sig.WriteString(" ")
				sig.WriteString(results)
			}
		}
	}

	return sig.String()
}

func extractStructSignature(name string, structType *ast.StructType) string {
	fieldCount := 0
	if structType.Fields != nil {
		fieldCount = structType.Fields.NumFields()
	}
	return fmt.Sprintf("type %s struct { ... } // %d fields", name, fieldCount)
}

func extractInterfaceSignature(name string, interfaceType *ast.InterfaceType) string {
	methodCount := 0
	if interfaceType.Methods != nil {
		methodCount = interfaceType.Methods.NumFields()
	}
	return fmt.Sprintf("type %s interface { ... } // %d methods", name, methodCount)
}

// fieldListToString converts a field list to a string representation
func fieldListToString(fieldList *ast.FieldList) string {
	if fieldList == nil || len(fieldList.List) == 0 {
		return ""
	}

	var parts []string
	for _, field := range fieldList.List {
		typeStr := exprToString(field.Type)
		if len(field.Names) > 0 {
			for _, name := range field.Names {
				parts = append(parts, fmt.Sprintf("%s %s", name.Name, typeStr))
			}
		} else {
			parts = append(parts, typeStr)
		}
	}

	return strings.Join(parts, ", ")
}

// exprToString converts an expression to a string representation
func exprToString(expr ast.Expr) string {
	if expr == nil {
		return ""
	}

	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + exprToString(t.X)
	case *ast.ArrayType:
		if t.Len != nil {
			return "[" + exprToString(t.Len) + "]" + exprToString(t.Elt)
		}
		return "[]" + exprToString(t.Elt)
	case *ast.BasicLit:
		return t.Value
	case *ast.MapType:
		return fmt.Sprintf("map[%s]%s", exprToString(t.Key), exprToString(t.Value))
	case *ast.ChanType:
		return "chan " + exprToString(t.Value)
	case *ast.FuncType:
		return "func(...)"
	case *ast.InterfaceType:
		return "interface{}"
	case *ast.StructType:
		return "struct{...}"
	case *ast.SelectorExpr:
		return exprToString(t.X) + "." + t.Sel.Name
	case *ast.Ellipsis:
		return "..." + exprToString(t.Elt)
	case *ast.IndexExpr:
		return exprToString(t.X) + "[" + exprToString(t.Index) + "]"
	default:
		return "..."
	}
}

func extractDocComment(doc *ast.CommentGroup) string {
	if doc == nil {
		return ""
	}
	return strings.TrimSpace(doc.Text())
}

func determineScope(name string) types.SymbolScope {
	if token.IsExported(name) {
		return types.ScopeExported
	}
	return types.ScopeUnexported
}

func (e *symbolExtractor) position(pos token.Pos) types.Position {
	position := e.fset.Position(pos)
	return types.Position{
		Line:   position.Line,
		Column: position.Column,
	}
}
