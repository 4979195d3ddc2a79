package chunking

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleText(sentences int) string {
	var sb strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&sb, "Sentence number %d talks about topic %d in some detail. ", i, i%7)
		if i%5 == 4 {
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}

func TestChunkTextEmpty(t *testing.T) {
	assert.Empty(t, ChunkText(""))
	assert.Empty(t, ChunkText("  \n\t "))
}

func TestChunkTextShortInputIsSingleChunk(t *testing.T) {
	input := "  a short note with surrounding space "
	chunks := ChunkText(input)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, input, chunks[0].Content)
	assert.Equal(t, len([]rune(input)), chunks[0].Meta.OriginalLength)
}

func TestChunkTextHardCutWithoutSeparators(t *testing.T) {
	input := strings.Repeat("a", 1200)
	chunks := ChunkText(input, WithChunkSize(500), WithOverlap(50))
	require.Len(t, chunks, 3)
	assert.Equal(t, 0, chunks[0].Meta.StartChar)
	assert.Equal(t, 500, chunks[0].Meta.EndChar)
	assert.Equal(t, 450, chunks[1].Meta.StartChar)
	assert.Equal(t, 900, chunks[2].Meta.StartChar)
	assert.Equal(t, 1200, chunks[2].Meta.EndChar)
	assert.Len(t, chunks[2].Content, 300)
}

func TestChunkTextPrefersParagraphBreak(t *testing.T) {
	input := strings.Repeat("A", 450) + "\n\n" + strings.Repeat("B", 300)
	chunks := ChunkText(input, WithChunkSize(500), WithOverlap(50))
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, strings.Repeat("A", 450), chunks[0].Content)
	assert.Equal(t, 452, chunks[0].Meta.EndChar)
	assert.True(t, strings.HasSuffix(chunks[len(chunks)-1].Content, "B"))
}

func TestChunkTextSeparatorPriority(t *testing.T) {
	input := strings.Repeat("x", 420) + "\n" + strings.Repeat("y", 40) + " " + strings.Repeat("z", 100)
	chunks := ChunkText(input, WithChunkSize(500), WithOverlap(0))
	require.NotEmpty(t, chunks)
	assert.Equal(t, strings.Repeat("x", 420), chunks[0].Content)
}

func TestChunkTextCoversInputInOrder(t *testing.T) {
	input := sampleText(80)
	runes := []rune(input)
	chunks := ChunkText(input)
	require.Greater(t, len(chunks), 1)

	assert.Equal(t, 0, chunks[0].Meta.StartChar)
	assert.Equal(t, len(runes), chunks[len(chunks)-1].Meta.EndChar)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.LessOrEqual(t, chunk.Meta.EndChar-chunk.Meta.StartChar, DefaultChunkSize)
		assert.Equal(t, strings.TrimSpace(string(runes[chunk.Meta.StartChar:chunk.Meta.EndChar])), chunk.Content)
		if i > 0 {
			prev := chunks[i-1]
			assert.Greater(t, chunk.Meta.StartChar, prev.Meta.StartChar, "chunk %d must advance", i)
			assert.LessOrEqual(t, chunk.Meta.StartChar, prev.Meta.EndChar, "gap before chunk %d", i)
		}
	}
}

func TestChunkTextDegenerateOverlapTerminates(t *testing.T) {
	input := strings.Repeat("word ", 200)
	chunks := ChunkText(input, WithChunkSize(50), WithOverlap(80))
	require.NotEmpty(t, chunks)
	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i].Meta.StartChar, chunks[i-1].Meta.StartChar)
	}
}

func TestChunkTextCountsRunes(t *testing.T) {
	input := strings.Repeat("été ", 300)
	chunks := ChunkText(input, WithChunkSize(100), WithOverlap(10))
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk.Content)), 100)
		assert.NotContains(t, chunk.Content, "\uFFFD")
	}
}

func TestChunkTextDropsWhitespaceOnlyWindows(t *testing.T) {
	input := strings.Repeat("a", 60) + strings.Repeat(" ", 120) + strings.Repeat("b", 60)
	chunks := ChunkText(input, WithChunkSize(50), WithOverlap(0), WithSeparators("\n"))
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.NotEmpty(t, chunk.Content)
	}
}
