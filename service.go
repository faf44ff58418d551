package rags

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/intelliswarm-ai/intelliswarm-rags/chunker"
	"github.com/intelliswarm-ai/intelliswarm-rags/extract"
	"github.com/intelliswarm-ai/intelliswarm-rags/generation"
	"github.com/intelliswarm-ai/intelliswarm-rags/vector"
)

// Service defines the document question-answering core.
type Service interface {

	// Close releases the vector index.
	Close() error

	// Ingest stores the raw document, then extracts, chunks and indexes it.
	// The document stays stored when a later stage fails; the returned
	// result is non-nil whenever it was stored.
	Ingest(ctx context.Context, filename string, data []byte) (*IngestResult, error)

	// Retrieve returns the top-k chunks relevant to the question, closest first.
	Retrieve(ctx context.Context, question string, k ...int) ([]Chunk, error)

	// Ask retrieves context for the question and streams a generated answer.
	// The image, when present, is attached as auxiliary input.
	Ask(ctx context.Context, question string, image []byte) (Stream, error)
}

type ServiceMiddleware func(Service) Service

type DocumentStore interface {
	Save(filename string, data []byte) (string, error)
}

func NewService(cfg Config, documents DocumentStore, index vector.Index, generator generation.Generator) Service {
	log := zap.L().With(
		zap.String("service", "rags"),
	)

	cfg.ApplyDefaults()

	return &service{
		cfg:       cfg,
		documents: documents,
		index:     index,
		generator: generator,
		chunker: chunker.New(
			chunker.WithChunkSize(cfg.Chunking.Size),
			chunker.WithOverlap(cfg.Chunking.Overlap),
		),
		log: log,
	}
}

type service struct {
	cfg       Config
	documents DocumentStore
	index     vector.Index
	generator generation.Generator
	chunker   *chunker.Chunker
	log       *zap.Logger
}

func (svc *service) Close() error {
	return svc.index.Close()
}

func (svc *service) Ingest(ctx context.Context, filename string, data []byte) (*IngestResult, error) {
	name, err := svc.documents.Save(filename, data)
	if err != nil {
		return nil, err
	}

	result := &IngestResult{
		Filename:  name,
		MediaType: extract.MediaTypeOf(name),
		Stored:    true,
	}

	text, err := extract.Extract(data, result.MediaType)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupportedFormat) {
			return result, nil
		}

		result.Reason = err.Error()
		return result, err
	}

	pieces := svc.chunker.Split(text)

	chunks := make([]Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = Chunk{
			Text:   piece,
			Source: name,
		}
	}

	if err := svc.index.Add(ctx, chunks); err != nil {
		result.Reason = err.Error()
		return result, err
	}

	result.ChunksAdded = len(chunks)
	return result, nil
}

func (svc *service) Retrieve(ctx context.Context, question string, k ...int) ([]Chunk, error) {
	n := svc.cfg.Retrieval.TopK
	if len(k) > 0 && k[0] > 0 {
		n = k[0]
	}

	return svc.index.Search(ctx, question, n)
}

func (svc *service) Ask(ctx context.Context, question string, image []byte) (Stream, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	// an empty index yields no context and the answer proceeds without it
	chunks, err := svc.Retrieve(ctx, question)
	if err != nil {
		return nil, err
	}

	req := generation.Request{
		Prompt: BuildPrompt(svc.cfg.Generation.Prompt, chunks, question),
	}

	if len(image) > 0 {
		req.Images = [][]byte{image}
	}

	return svc.generator.Generate(ctx, req)
}
