package chunker

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidSizes(t *testing.T) {
	tests := []struct {
		name             string
		maxSize, overlap int
	}{
		{"overlap equals size", 100, 100},
		{"overlap exceeds size", 100, 150},
		{"zero size", 0, 0},
		{"negative overlap", 100, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.maxSize, tt.overlap)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestNewKeepsSizes(t *testing.T) {
	s, err := New(800, 60)
	require.NoError(t, err)
	assert.Equal(t, 800, s.MaxSize())
	assert.Equal(t, 60, s.Overlap())
}

func TestSplitEmpty(t *testing.T) {
	s, err := New(800, 60)
	require.NoError(t, err)

	assert.Empty(t, s.Split(""))
	assert.Empty(t, s.Split(" \n\n\t "))
}

func TestSplitShortTextIsOneChunk(t *testing.T) {
	s, err := New(800, 60)
	require.NoError(t, err)

	text := strings.Repeat("Memo line text. ", 32)[:500]
	chunks := s.Split(text)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 500, chunks[0].End)
}

func TestSplitTwoThousandRunesIsThreeChunks(t *testing.T) {
	s, err := New(800, 60)
	require.NoError(t, err)

	text := strings.Repeat("Policy clause text. ", 100)
	require.Len(t, []rune(text), 2000)

	chunks := s.Split(text)
	require.Len(t, chunks, 3)

	assert.Equal(t, [2]int{0, 800}, [2]int{chunks[0].Start, chunks[0].End})
	assert.Equal(t, [2]int{740, 1540}, [2]int{chunks[1].Start, chunks[1].End})
	assert.Equal(t, [2]int{1480, 2000}, [2]int{chunks[2].Start, chunks[2].End})

	assert.Equal(t, text, Reconstruct(chunks, 60))
}

func TestSplitPrefersParagraphs(t *testing.T) {
	s, err := New(800, 60)
	require.NoError(t, err)

	first := strings.Repeat("x", 300) + "\n\n"
	rest := strings.Repeat("word ", 200)
	text := first + rest

	chunks := s.Split(text)
	require.Greater(t, len(chunks), 1)

	assert.Equal(t, first, chunks[0].Text)
	assert.Equal(t, 302-60, chunks[1].Start)
}

func TestSplitPrefersLinesOverSentences(t *testing.T) {
	s, err := New(100, 10)
	require.NoError(t, err)

	text := strings.Repeat("y", 50) + "\n" + strings.Repeat("Short one. ", 20)
	chunks := s.Split(text)

	require.Greater(t, len(chunks), 1)
	assert.Equal(t, 51, chunks[0].End)
}

func TestSplitHardCutWithoutBoundaries(t *testing.T) {
	s, err := New(800, 60)
	require.NoError(t, err)

	text := strings.Repeat("x", 2000)
	chunks := s.Split(text)

	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.Len(), 800)
	}
	assert.Equal(t, text, Reconstruct(chunks, 60))
}

func TestSplitCountsRunes(t *testing.T) {
	s, err := New(50, 5)
	require.NoError(t, err)

	text := strings.Repeat("Работник обязан соблюдать правила. ", 20)
	chunks := s.Split(text)

	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c.Text)), 50)
	}
	assert.Equal(t, text, Reconstruct(chunks, 5))
}

func TestSplitCoverageProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	pieces := []string{"word", "Слово", " ", " ", "\n", "\n\n", ". ", "! ", "… ", "?", "long-token-without-breaks"}

	for i := 0; i < 200; i++ {
		var b strings.Builder
		n := rng.Intn(400)
		for j := 0; j < n; j++ {
			b.WriteString(pieces[rng.Intn(len(pieces))])
		}
		text := b.String()

		maxSize := 5 + rng.Intn(200)
		overlap := rng.Intn(maxSize)

		s, err := New(maxSize, overlap)
		require.NoError(t, err)

		chunks := s.Split(text)
		if strings.TrimSpace(text) == "" {
			assert.Empty(t, chunks)
			continue
		}

		require.NotEmpty(t, chunks)
		assert.Equal(t, 0, chunks[0].Start)
		assert.Equal(t, len([]rune(text)), chunks[len(chunks)-1].End)

		for k, c := range chunks {
			assert.Equal(t, k, c.Index)
			assert.LessOrEqual(t, c.Len(), maxSize)
			assert.Equal(t, c.Len(), len([]rune(c.Text)))

			if k > 0 {
				prev := chunks[k-1]
				assert.Equal(t, prev.End-overlap, c.Start)

				prevRunes := []rune(prev.Text)
				assert.Equal(t, string(prevRunes[len(prevRunes)-overlap:]), string([]rune(c.Text)[:overlap]))
			}
		}

		assert.Equal(t, text, Reconstruct(chunks, overlap))
	}
}
