package types

import (
	"strconv"

	"github.com/google/uuid"
)

// ChunkType represents what a chunk was cut from
type ChunkType string

const (
	ChunkSymbol ChunkType = "symbol"
	ChunkWindow ChunkType = "window"
	ChunkFile   ChunkType = "file"
)

// chunkNamespace seeds deterministic chunk ids.
var chunkNamespace = uuid.MustParse("6f1c7f0e-4b5a-4f0e-9a59-7e1f3c2b9d10")

// Chunk is a span of file content sized for a single embedding call.
type Chunk struct {
	RelPath   string
	Index     int
	Content   string
	StartLine int
	EndLine   int
	Tokens    int
	ChunkType ChunkType
	Symbol    string // qualified symbol name for symbol chunks
}

// ID returns a UUID derived from the root, the file hash and the chunk position, so
// re-embedding identical content produces identical ids.
func (c *Chunk) ID(root, fileHash string) string {
	return uuid.NewSHA1(chunkNamespace, []byte(StableID(root, c.RelPath, fileHash, strconv.Itoa(c.Index)))).String()
}

// Validate checks if the chunk content is valid
func (c *Chunk) Validate() error {
	if c.Content == "" {
		return ErrEmptyContent
	}
	if c.StartLine <= 0 || c.EndLine < c.StartLine {
		return ErrInvalidLines
	}
	return nil
}

// EstimateTokens approximates token usage as characters / 4.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		return 1
	}
	return n
}
