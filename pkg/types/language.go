package types

// Language identifies a parse capability. The set is open; registries map file
// extensions to languages at runtime.
type Language string

const (
	LangGo         Language = "go"
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	// LangNone marks files with no registered parser.
	LangNone Language = ""
)

// SupportStatus records how the last run treated a file.
type SupportStatus string

const (
	StatusSupported SupportStatus = "supported"
	StatusSkipped   SupportStatus = "skipped"
	StatusFailed    SupportStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s SupportStatus) Valid() bool {
	switch s {
	case StatusSupported, StatusSkipped, StatusFailed:
		return true
	}
	return false
}
