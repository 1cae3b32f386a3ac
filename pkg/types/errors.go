package types

import "errors"

// Domain errors for record validation
var (
	ErrHashMismatch = errors.New("content hash mismatch")
	ErrEmptyContent = errors.New("content cannot be empty")
	ErrInvalidLines = errors.New("invalid line range")
)
