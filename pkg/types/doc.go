// Package types provides the shared records produced by parsing and consumed by the
// ingestion engine and its stores.
//
// # Structural Records
//
// A parse of one file yields four record kinds, all keyed by deterministic ids derived
// from the root, the relative path and the file's content hash:
//
//   - Symbol: a declaration (function, method, class, struct, interface, ...)
//   - Edge: a typed relation from a symbol to a named target (EXTENDS, IMPLEMENTS, ...)
//   - Reference: a use of a name at a source location
//   - ModuleImport: an import statement
//
// Edge types are an open set. The constants below are the ones the bundled parsers emit;
// stores accept any non-empty value.
//
// # Identity
//
// Record ids are stable across runs as long as the file content is unchanged:
//
//	id := types.StableID(root, relPath, fileHash, string(sym.Kind), sym.Name, "12")
//
// Content hashes are hex encoded SHA-256 digests of the raw file bytes:
//
//	hash := types.HashBytes(content)
package types
