package vector

import (
	"context"
	"errors"
)

var (
	// ErrCorruptIndex is returned when a persisted index exists but cannot be
	// parsed. It must be surfaced to the operator, never repaired silently.
	ErrCorruptIndex = errors.New("corrupt index")

	// ErrIndexAddFailure is returned when embedding or appending a batch of
	// chunks fails; none of the batch is visible to readers.
	ErrIndexAddFailure = errors.New("index add failure")

	// ErrEmbeddingModelMismatch is returned when an index built with one
	// embedding model is opened with another. A full reindex is required.
	ErrEmbeddingModelMismatch = errors.New("embedding model mismatch")

	ErrIndexClosed = errors.New("index closed")
)

type Config struct {
	Path        string `yaml:"path"`
	Collection  string `yaml:"collection"`
	Compress    bool   `yaml:"compress"`
	Concurrency int    `yaml:"concurrency"`
}

// Chunk is a bounded-length segment of a document's text.
type Chunk struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// Index is a persistent store of embedded chunks supporting similarity search.
type Index interface {

	// Add embeds and appends chunks, persisting them before returning.
	// The batch is committed atomically with respect to other callers.
	Add(ctx context.Context, chunks []Chunk) error

	// Search returns up to k chunks closest to the query, closest first.
	// Exact ties rank earlier-inserted chunks first.
	Search(ctx context.Context, query string, k int) ([]Chunk, error)

	// Count returns the number of stored chunks.
	Count() int

	Close() error
}
