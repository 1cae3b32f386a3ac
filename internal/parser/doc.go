// Package parser turns source files into structural records: symbols, edges,
// references and module imports.
//
// Parsers are registered per language in a Registry that also maps file
// extensions to languages. A file whose extension has no registered language is
// not an error; Classify simply reports false and the caller treats the file as
// skipped.
//
// # Basic Usage
//
//	reg := parser.NewDefaultRegistry()
//	lang, ok := reg.Classify("internal/api/server.go")
//	if !ok {
//	    // unsupported, count as skipped
//	}
//
//	res := reg.Parse(ctx, types.ParseRequest{
//	    Root:        "/src/project",
//	    RelPath:     "internal/api/server.go",
//	    ContentHash: hash,
//	    Language:    lang,
//	})
//	if !res.OK() {
//	    fmt.Println("parse failed:", res.Error)
//	}
//
// # Go
//
// Go files are parsed with go/parser. Symbol extraction covers functions,
// methods, structs, interfaces, type declarations, constants, variables and
// struct fields. Edges cover MEMBER_OF (methods and fields), EMBEDS,
// REFERENCES_TYPE, CALLS and a same-file IMPLEMENTS heuristic. A syntax error
// fails the whole file.
//
// Types are tagged by naming convention (repository, service, entity,
// aggregate_root, value_object, command, query, handler).
//
// # Python, JavaScript, TypeScript
//
// Built with cgo, these languages are parsed with tree-sitter. Without cgo the
// registry leaves their extensions unregistered and such files are skipped.
//
// # Content Hash
//
// Every parser re-reads the file and checks that its bytes still hash to the
// requested ContentHash. A file edited between scan and parse fails rather than
// producing records that disagree with the ledger.
package parser
