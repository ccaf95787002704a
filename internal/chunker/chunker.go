// Package chunker splits text into overlapping chunks that prefer natural
// boundaries.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidConfig is returned by New for sizes that cannot make progress
var ErrInvalidConfig = errors.New("invalid chunker config")

// Chunk is one slice of the input. Start and End are rune offsets.
type Chunk struct {
	Index int
	Text  string
	Start int
	End   int
}

// Len returns the chunk length in runes
func (c Chunk) Len() int {
	return c.End - c.Start
}

// boundary reports whether a unit of some granularity ends right before
// runes[e]
type boundary func(runes []rune, e int) bool

// levels are tried from coarsest to finest
var levels = []boundary{
	paragraphEnd,
	lineEnd,
	sentenceEnd,
	spaceEnd,
}

func paragraphEnd(runes []rune, e int) bool {
	return e >= 2 && runes[e-1] == '\n' && runes[e-2] == '\n'
}

func lineEnd(runes []rune, e int) bool {
	return runes[e-1] == '\n'
}

func sentenceEnd(runes []rune, e int) bool {
	if e < 2 || !unicode.IsSpace(runes[e-1]) {
		return false
	}
	switch runes[e-2] {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

func spaceEnd(runes []rune, e int) bool {
	return unicode.IsSpace(runes[e-1])
}

// Splitter cuts text into chunks of at most maxSize runes, adjacent chunks
// sharing exactly overlap runes
type Splitter struct {
	maxSize int
	overlap int
}

// New creates a splitter
func New(maxSize, overlap int) (*Splitter, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: max size %d must be positive", ErrInvalidConfig, maxSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap %d must not be negative", ErrInvalidConfig, overlap)
	}
	if overlap >= maxSize {
		return nil, fmt.Errorf("%w: overlap %d must be smaller than max size %d", ErrInvalidConfig, overlap, maxSize)
	}

	return &Splitter{
		maxSize: maxSize,
		overlap: overlap,
	}, nil
}

// MaxSize is the longest chunk in runes
func (s *Splitter) MaxSize() int { return s.maxSize }

// Overlap is the number of runes a chunk repeats from its predecessor
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns the chunks of text in order. Text without any non-space
// rune yields no chunks.
func (s *Splitter) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)

	var chunks []Chunk
	start := 0

	for {
		if start+s.maxSize >= n {
			chunks = append(chunks, Chunk{
				Index: len(chunks),
				Text:  string(runes[start:]),
				Start: start,
				End:   n,
			})
			return chunks
		}

		end := s.cut(runes, start)

		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})

		start = end - s.overlap
	}
}

// cut returns the end of the chunk starting at start: the last boundary in
// (start+overlap, start+maxSize] at the coarsest level that has one
func (s *Splitter) cut(runes []rune, start int) int {
	limit := start + s.maxSize
	floor := start + s.overlap

	for _, atBoundary := range levels {
		for e := limit; e > floor; e-- {
			if atBoundary(runes, e) {
				return e
			}
		}
	}

	return limit
}

// Reconstruct concatenates chunk texts, dropping the overlap each chunk
// shares with its predecessor
func Reconstruct(chunks []Chunk, overlap int) string {
	var b strings.Builder

	for i, c := range chunks {
		if i == 0 {
			b.WriteString(c.Text)
			continue
		}

		runes := []rune(c.Text)
		b.WriteString(string(runes[min(overlap, len(runes)):]))
	}

	return b.String()
}
