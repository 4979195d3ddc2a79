// Package chunking splits resource text into overlapping segments for embedding.
package chunking

import (
	"strings"
	"unicode/utf8"

	"personaai/pkg/domain"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50

	// lookback bounds how far before the window end a separator is searched for.
	lookback = 100
)

// DefaultSeparators are tried in priority order when looking for a break point.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " "}

// Chunker splits text into ordered, overlapping chunks.
type Chunker struct {
	chunkSize  int
	overlap    int
	separators []string
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the maximum chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets how many characters consecutive chunks share.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithSeparators replaces the break point separators, highest priority first.
func WithSeparators(separators ...string) Option {
	return func(c *Chunker) {
		seps := make([]string, 0, len(separators))
		for _, s := range separators {
			if s != "" {
				seps = append(seps, s)
			}
		}
		if len(seps) > 0 {
			c.separators = seps
		}
	}
}

// New builds a Chunker with defaults overridden by opts.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize:  DefaultChunkSize,
		overlap:    DefaultChunkOverlap,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChunkText splits text using a Chunker configured with opts.
func ChunkText(text string, opts ...Option) []domain.TextChunk {
	return New(opts...).Chunk(text)
}

// Chunk splits text into chunks. Whitespace-only input yields no chunks.
// Text that fits in one chunk is returned as is.
func (c *Chunker) Chunk(text string) []domain.TextChunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	total := len(runes)
	if total <= c.chunkSize {
		return []domain.TextChunk{{
			Index:   0,
			Content: text,
			Meta: domain.ChunkMeta{
				StartChar:      0,
				EndChar:        total,
				Length:         total,
				OriginalLength: total,
			},
		}}
	}

	chunks := make([]domain.TextChunk, 0, total/c.chunkSize+1)
	start := 0
	for start < total {
		end := start + c.chunkSize
		if end > total {
			end = total
		}
		if end < total {
			if bp := c.breakPoint(runes, start, end); bp > start {
				end = bp
			}
		}
		content := strings.TrimSpace(string(runes[start:end]))
		if content != "" {
			chunks = append(chunks, domain.TextChunk{
				Index:   len(chunks),
				Content: content,
				Meta: domain.ChunkMeta{
					StartChar: start,
					EndChar:   end,
					Length:    utf8.RuneCountInString(content),
				},
			})
		}
		if end >= total {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// breakPoint returns the rune offset just after the highest priority separator
// found in the last lookback runes of the window, or -1.
func (c *Chunker) breakPoint(runes []rune, start, end int) int {
	from := end - lookback
	if from < start {
		from = start
	}
	window := string(runes[from:end])
	for _, sep := range c.separators {
		idx := strings.LastIndex(window, sep)
		if idx < 0 {
			continue
		}
		bp := from + utf8.RuneCountInString(window[:idx]) + utf8.RuneCountInString(sep)
		if bp > start {
			return bp
		}
	}
	return -1
}
