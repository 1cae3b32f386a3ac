//go:build !cgo

package parser

// registerTreeSitter registers nothing without cgo; Python, JavaScript and
// TypeScript files fall through to the skipped path.
func registerTreeSitter(*Registry) {}
