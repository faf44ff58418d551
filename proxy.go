package rags

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/intelliswarm-ai/intelliswarm-rags/extract"
)

// ProxyMiddleware serves the Service from remote endpoints.
func ProxyMiddleware(endpoints *EndpointSet) ServiceMiddleware {
	return func(next Service) Service {
		return &proxyMiddleware{
			endpoints: endpoints,
		}
	}
}

type proxyMiddleware struct {
	endpoints *EndpointSet
}

func (mw *proxyMiddleware) Close() error {
	return nil
}

func (mw *proxyMiddleware) Ingest(ctx context.Context, filename string, data []byte) (*IngestResult, error) {
	req := IngestRequest{
		Filename: filename,
		Data:     data,
	}

	resp, err := mw.endpoints.Ingest(ctx, req)
	if err != nil {
		return nil, err
	}

	r, ok := resp.(IngestResponse)
	if !ok {
		return nil, errors.New("invalid response type")
	}

	result := &IngestResult{
		Filename:    r.Filename,
		MediaType:   extract.MediaTypeOf(r.Filename),
		Stored:      r.Stored,
		ChunksAdded: r.ChunksAdded,
	}

	if r.Error != "" {
		result.Reason = r.Error
		return result, RemoteError(r.Error)
	}

	return result, nil
}

func (mw *proxyMiddleware) Retrieve(ctx context.Context, question string, k ...int) ([]Chunk, error) {
	n := 0
	if len(k) > 0 {
		n = k[0]
	}

	req := RetrieveRequest{
		Question: question,
		K:        n,
	}

	resp, err := mw.endpoints.Retrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	chunks, ok := resp.([]Chunk)
	if !ok {
		return nil, errors.New("invalid response type")
	}

	return chunks, nil
}

func (mw *proxyMiddleware) Ask(ctx context.Context, question string, image []byte) (Stream, error) {
	req := AskRequest{
		Question: question,
		Image:    image,
	}

	resp, err := mw.endpoints.Ask(ctx, req)
	if err != nil {
		return nil, err
	}

	stream, ok := resp.(Stream)
	if !ok {
		return nil, errors.New("invalid response type")
	}

	return stream, nil
}

var knownErrors = []error{
	ErrDecode,
	ErrUnsupportedFormat,
	ErrCorruptIndex,
	ErrIndexAddFailure,
	ErrEmbeddingModelMismatch,
	ErrIndexClosed,
	ErrEmbeddingUnavailable,
	ErrGenerationUnavailable,
	ErrStreamInterrupted,
	ErrInvalidFilename,
	ErrEmptyQuestion,
}

// RemoteError rebuilds an error received as text. A description starting
// with a known error keeps that error in the chain and the same text.
func RemoteError(description string) error {
	for _, known := range knownErrors {
		if rest, ok := strings.CutPrefix(description, known.Error()); ok {
			return fmt.Errorf("%w%s", known, rest)
		}
	}

	return errors.New(description)
}
