package chunker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/gocontext-ingest/pkg/types"
)

const (
	// DefaultMaxTokens is the target maximum token count per chunk
	DefaultMaxTokens = 1000

	// DefaultOverlap is the number of lines repeated between consecutive windows
	DefaultOverlap = 3
)

// Strategy names accepted by New
const (
	StrategySymbol = "symbol"
	StrategyLines  = "lines"
)

// TokenCounter reports the token cost of a piece of text.
type TokenCounter func(text string) int

// Strategy splits one file's content into chunks. parsed may be nil for files
// that were not parsed.
type Strategy interface {
	Chunk(relPath string, content []byte, parsed *types.ParseResult) []types.Chunk
}

// New returns the named strategy.
func New(name string, maxTokens int, count TokenCounter) (Strategy, error) {
	switch name {
	case StrategySymbol, "":
		return &SymbolAware{MaxTokens: maxTokens, Count: count}, nil
	case StrategyLines:
		return &LineWindow{MaxTokens: maxTokens, Overlap: DefaultOverlap, Count: count}, nil
	}
	return nil, fmt.Errorf("unknown chunk strategy: %s", name)
}

// LineWindow cuts content into runs of whole lines that fit a token budget.
type LineWindow struct {
	MaxTokens int
	Overlap   int
	Count     TokenCounter
}

// Chunk implements Strategy. The parse result is ignored.
func (w *LineWindow) Chunk(relPath string, content []byte, _ *types.ParseResult) []types.Chunk {
	return w.window(relPath, splitLines(content), 1, types.ChunkWindow, "", nil)
}

func (w *LineWindow) budget() int {
	if w.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return w.MaxTokens
}

// window appends chunks for lines, numbered from firstLine, to out. A line
// larger than the budget becomes a chunk on its own.
func (w *LineWindow) window(relPath string, lines []string, firstLine int, kind types.ChunkType, symbol string, out []types.Chunk) []types.Chunk {
	count := counterOrDefault(w.Count)
	budget := w.budget()

	var b strings.Builder
	start := 0
	for start < len(lines) {
		b.Reset()
		end := start
		for end < len(lines) {
			if end > start {
				b.WriteByte('\n')
			}
			b.WriteString(lines[end])
			if end > start && count(b.String()) > budget {
				break
			}
			end++
		}

		text := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(text) != "" {
			out = append(out, types.Chunk{
				RelPath:   relPath,
				Index:     len(out),
				Content:   text,
				StartLine: firstLine + start,
				EndLine:   firstLine + end - 1,
				Tokens:    count(text),
				ChunkType: kind,
				Symbol:    symbol,
			})
		}
		if end >= len(lines) {
			break
		}

		next := end - w.Overlap
		if next <= start {
			next = start + 1
		}
		if w.Overlap <= 0 {
			next = end
		}
		start = next
	}
	return out
}

// SymbolAware creates one chunk per top-level symbol span and windows the text
// between symbols. Oversized symbols are split into windows that keep the
// symbol name.
type SymbolAware struct {
	MaxTokens int
	Count     TokenCounter
}

// Chunk implements Strategy. Without a successful parse it behaves like LineWindow.
func (s *SymbolAware) Chunk(relPath string, content []byte, parsed *types.ParseResult) []types.Chunk {
	lines := splitLines(content)
	lw := &LineWindow{MaxTokens: s.MaxTokens, Overlap: DefaultOverlap, Count: s.Count}

	var spans []span
	if parsed != nil && parsed.OK() {
		spans = symbolSpans(parsed.Symbols, lines)
	}
	if len(spans) == 0 {
		return lw.window(relPath, lines, 1, types.ChunkFile, "", nil)
	}

	count := counterOrDefault(s.Count)
	var out []types.Chunk
	cursor := 1
	for _, sp := range spans {
		if sp.start > cursor {
			out = lw.window(relPath, lines[cursor-1:sp.start-1], cursor, types.ChunkFile, "", out)
		}

		text := strings.Join(lines[sp.start-1:sp.end], "\n")
		if tokens := count(text); tokens <= lw.budget() {
			out = append(out, types.Chunk{
				RelPath:   relPath,
				Index:     len(out),
				Content:   text,
				StartLine: sp.start,
				EndLine:   sp.end,
				Tokens:    tokens,
				ChunkType: types.ChunkSymbol,
				Symbol:    sp.name,
			})
		} else {
			out = lw.window(relPath, lines[sp.start-1:sp.end], sp.start, types.ChunkSymbol, sp.name, out)
		}
		cursor = sp.end + 1
	}
	if cursor <= len(lines) {
		out = lw.window(relPath, lines[cursor-1:], cursor, types.ChunkFile, "", out)
	}
	return out
}

type span struct {
	start, end int // 1-based, inclusive
	name       string
}

// symbolSpans returns non-overlapping spans for the outermost symbols in line
// order. Fields are skipped; they are part of their parent type's span. Each
// span is widened upward over the comment block directly above it.
func symbolSpans(symbols []types.Symbol, lines []string) []span {
	candidates := make([]span, 0, len(symbols))
	for i := range symbols {
		sym := &symbols[i]
		if sym.Kind == types.KindField {
			continue
		}
		if sym.Start.Line <= 0 || sym.End.Line < sym.Start.Line || sym.Start.Line > len(lines) {
			continue
		}
		end := sym.End.Line
		if end > len(lines) {
			end = len(lines)
		}
		candidates = append(candidates, span{start: sym.Start.Line, end: end, name: sym.QualifiedName()})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].start != candidates[j].start {
			return candidates[i].start < candidates[j].start
		}
		return candidates[i].end > candidates[j].end
	})

	spans := make([]span, 0, len(candidates))
	lastEnd := 0
	for _, c := range candidates {
		if c.start <= lastEnd {
			continue
		}
		for c.start-1 > lastEnd && isCommentLine(lines[c.start-2]) {
			c.start--
		}
		spans = append(spans, c)
		lastEnd = c.end
	}
	return spans
}

func isCommentLine(line string) bool {
	t := strings.TrimSpace(line)
	for _, prefix := range []string{"//", "#", "/*", "*", "@"} {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return false
}

// splitLines splits content on newlines, dropping the empty element produced
// by a trailing newline.
func splitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	s := strings.ReplaceAll(string(content), "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

func counterOrDefault(c TokenCounter) TokenCounter {
	if c == nil {
		return types.EstimateTokens
	}
	return c
}
