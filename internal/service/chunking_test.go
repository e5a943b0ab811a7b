package service

import (
	"strings"
	"testing"

	"github.com/sievedata/sieve/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkText_FixedBoundaries(t *testing.T) {
	// 1200 characters, size 500, overlap 50 → exactly three chunks at
	// [0,500), [450,950), [900,1200).
	text := strings.Repeat("abcdefghij", 120)
	require.Len(t, text, 1200)

	chunks, err := ChunkText(text, ChunkConfig{Strategy: ChunkStrategyFixed, Size: 500, Overlap: 50})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, text[0:500], chunks[0])
	assert.Equal(t, text[450:950], chunks[1])
	assert.Equal(t, text[900:1200], chunks[2])
}

func TestChunkText_FixedRoundTrip(t *testing.T) {
	text := strings.Repeat("0123456789", 137) // 1370 chars, not stride-aligned
	cfg := ChunkConfig{Strategy: ChunkStrategyFixed, Size: 400, Overlap: 80}

	chunks, err := ChunkText(text, cfg)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	var sb strings.Builder
	sb.WriteString(chunks[0])
	for _, c := range chunks[1:] {
		sb.WriteString(string([]rune(c)[cfg.Overlap:]))
	}
	assert.Equal(t, text, sb.String())
}

func TestChunkText_ShortTextSingleChunk(t *testing.T) {
	chunks, err := ChunkText("short document", ChunkConfig{Strategy: ChunkStrategyFixed, Size: 500, Overlap: 50})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "short document", chunks[0])
}

func TestChunkText_EmptyText(t *testing.T) {
	chunks, err := ChunkText("   \n\t ", DefaultChunkConfig())
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkConfig_RejectsOverlapNotSmallerThanSize(t *testing.T) {
	_, err := ChunkText("some text", ChunkConfig{Strategy: ChunkStrategyFixed, Size: 100, Overlap: 100})
	assert.ErrorIs(t, err, domain.ErrInvalidChunkConfig)

	_, err = ChunkText("some text", ChunkConfig{Strategy: ChunkStrategyFixed, Size: 100, Overlap: 150})
	assert.ErrorIs(t, err, domain.ErrInvalidChunkConfig)
}

func TestChunkConfig_RejectsBadValues(t *testing.T) {
	_, err := ChunkText("x", ChunkConfig{Size: 0})
	assert.Error(t, err)

	_, err = ChunkText("x", ChunkConfig{Size: 100, Overlap: -1})
	assert.Error(t, err)

	_, err = ChunkText("x", ChunkConfig{Size: 100, Overlap: 10, Strategy: "semantic"})
	assert.Error(t, err)
}

func TestChunkText_ParagraphBoundaries(t *testing.T) {
	paras := []string{
		strings.Repeat("alpha ", 20),  // ~120 chars
		strings.Repeat("bravo ", 20),  // ~120 chars
		strings.Repeat("charlie ", 20), // ~160 chars
	}
	for i := range paras {
		paras[i] = strings.TrimSpace(paras[i])
	}
	text := strings.Join(paras, "\n\n")

	chunks, err := ChunkText(text, ChunkConfig{Strategy: ChunkStrategyParagraph, Size: 150, Overlap: 0})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	for i, c := range chunks {
		assert.Equal(t, paras[i], c)
	}
}

func TestChunkText_ParagraphPacksSmallUnits(t *testing.T) {
	text := "one.\n\ntwo.\n\nthree.\n\nfour."

	chunks, err := ChunkText(text, ChunkConfig{Strategy: ChunkStrategyParagraph, Size: 12, Overlap: 0})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "one. two.", chunks[0])
	assert.Equal(t, "three. four.", chunks[1])
}

func TestChunkText_ParagraphRoundTripNormalized(t *testing.T) {
	text := "first paragraph here.\n\nsecond paragraph follows.\n\nthird closes it out."
	cfg := ChunkConfig{Strategy: ChunkStrategyParagraph, Size: 30, Overlap: 5}

	chunks, err := ChunkText(text, cfg)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	var sb strings.Builder
	sb.WriteString(chunks[0])
	for _, c := range chunks[1:] {
		runes := []rune(c)
		trim := cfg.Overlap
		if trim > len(runes) {
			trim = len(runes)
		}
		sb.WriteString(string(runes[trim:]))
	}

	normalize := func(s string) string { return strings.Join(strings.Fields(s), " ") }
	assert.Equal(t, normalize(text), normalize(sb.String()))
}

func TestChunkText_SentenceBoundaries(t *testing.T) {
	text := "The first sentence. A second one follows! Does a third exist? Yes."

	chunks, err := ChunkText(text, ChunkConfig{Strategy: ChunkStrategySentence, Size: 25, Overlap: 0})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "The first sentence.", chunks[0])
	assert.Equal(t, "A second one follows!", chunks[1])
	assert.Equal(t, "Does a third exist? Yes.", chunks[2])
}

func TestChunkText_SentenceDoesNotSplitDecimals(t *testing.T) {
	text := "Version 2.5 shipped today. It fixes the loader."

	chunks, err := ChunkText(text, ChunkConfig{Strategy: ChunkStrategySentence, Size: 30, Overlap: 0})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Version 2.5 shipped today.", chunks[0])
	assert.Equal(t, "It fixes the loader.", chunks[1])
}

func TestChunkText_OversizedUnitEmittedWhole(t *testing.T) {
	long := strings.Repeat("word ", 50)
	text := strings.TrimSpace(long) + "\n\nshort tail."

	chunks, err := ChunkText(text, ChunkConfig{Strategy: ChunkStrategyParagraph, Size: 100, Overlap: 0})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.TrimSpace(long), chunks[0])
}

func TestDefaultChunkConfig(t *testing.T) {
	cfg := DefaultChunkConfig()
	assert.Equal(t, ChunkStrategyFixed, cfg.Strategy)
	assert.Equal(t, 1200, cfg.Size)
	assert.Equal(t, 200, cfg.Overlap)
	assert.NoError(t, cfg.Validate())
}
