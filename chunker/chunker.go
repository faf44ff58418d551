// Package chunker splits plain text into overlapping, bounded-length chunks.
//
// Sizes are measured in runes. A chunk boundary prefers, in order, a paragraph
// break, a line break, the end of a sentence and a space; a hard cut is used
// when none of them falls inside the window. Consecutive chunks share exactly
// overlap runes, so dropping the first overlap runes of every chunk but the
// first and concatenating the rest reconstructs the input.
package chunker

import (
	"strings"
	"unicode"
)

const (
	// DefaultChunkSize is the default maximum chunk length in runes.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the default number of runes shared by consecutive chunks.
	DefaultChunkOverlap = 200
)

type Option func(*Chunker)

// WithChunkSize sets the maximum chunk length.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		c.chunkSize = size
	}
}

// WithOverlap sets the number of runes shared by consecutive chunks.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		c.overlap = overlap
	}
}

type Chunker struct {
	chunkSize int
	overlap   int
}

func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.chunkSize, c.overlap = normalize(c.chunkSize, c.overlap)
	return c
}

func (c *Chunker) ChunkSize() int {
	return c.chunkSize
}

func (c *Chunker) Overlap() int {
	return c.overlap
}

// Split splits text with the chunker's settings.
func (c *Chunker) Split(text string) []string {
	return Split(text, c.chunkSize, c.overlap)
}

func normalize(size, overlap int) (int, int) {
	if size <= 0 {
		size = DefaultChunkSize
	}

	if overlap < 0 {
		overlap = 0
	}

	if overlap >= size {
		overlap = size / 4
	}

	return size, overlap
}

type matcher func(runes []rune, cut int) bool

// separators in order of preference; each reports whether a chunk may end at cut.
var separators = []matcher{
	// paragraph
	func(runes []rune, cut int) bool {
		return cut >= 2 && runes[cut-1] == '\n' && runes[cut-2] == '\n'
	},
	// line
	func(runes []rune, cut int) bool {
		return runes[cut-1] == '\n'
	},
	// sentence
	func(runes []rune, cut int) bool {
		return cut >= 2 && unicode.IsSpace(runes[cut-1]) && strings.ContainsRune(".!?", runes[cut-2])
	},
	// word
	func(runes []rune, cut int) bool {
		return unicode.IsSpace(runes[cut-1])
	},
}

// Split splits text into chunks of at most size runes that share overlap runes.
// Empty text yields no chunks; text no longer than size yields one chunk.
func Split(text string, size, overlap int) []string {
	if text == "" {
		return nil
	}

	size, overlap = normalize(size, overlap)

	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	// keep chunks long enough to guarantee progress past the overlap
	minChunk := max(overlap+1, size/2)

	var chunks []string

	start := 0
	for {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		cut := boundary(runes, start+minChunk, end)
		chunks = append(chunks, string(runes[start:cut]))

		start = cut - overlap
	}

	return chunks
}

func boundary(runes []rune, lo, hi int) int {
	for _, match := range separators {
		for cut := hi; cut >= lo; cut-- {
			if match(runes, cut) {
				return cut
			}
		}
	}

	return hi
}
