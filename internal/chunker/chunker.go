package chunker

import (
	"fmt"
	"iter"
	"strings"

	"docuchat/internal/apperr"
)

const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// Chunk is one window of the source text. Start and End are rune offsets,
// End exclusive.
type Chunk struct {
	Index int
	Start int
	End   int
	Text  string
}

// WordCount counts whitespace separated words in the chunk.
func (c Chunk) WordCount() int {
	return len(strings.Fields(c.Text))
}

// Chunker splits text into fixed-size overlapping rune windows.
type Chunker struct {
	size    int
	overlap int
}

func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", apperr.ErrConfiguration, size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: chunk overlap must not be negative, got %d", apperr.ErrConfiguration, overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", apperr.ErrConfiguration, overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Chunks returns a lazy sequence over text. Ranging over it again recomputes
// the same chunks.
func (c *Chunker) Chunks(text string) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		runes := []rune(text)
		n := len(runes)
		if n == 0 {
			return
		}
		step := c.size - c.overlap
		for i, start := 0, 0; ; i, start = i+1, start+step {
			end := min(start+c.size, n)
			if !yield(Chunk{Index: i, Start: start, End: end, Text: string(runes[start:end])}) {
				return
			}
			if end == n {
				return
			}
		}
	}
}

// Split collects Chunks into a slice.
func (c *Chunker) Split(text string) []Chunk {
	var out []Chunk
	for ch := range c.Chunks(text) {
		out = append(out, ch)
	}
	return out
}

// Count returns how many chunks Chunks yields for a text of n runes.
func (c *Chunker) Count(n int) int {
	if n <= 0 {
		return 0
	}
	if n <= c.size {
		return 1
	}
	step := c.size - c.overlap
	return 1 + (n-c.size+step-1)/step
}
