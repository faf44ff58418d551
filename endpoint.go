package rags

import (
	"context"
	"errors"

	"github.com/go-kit/kit/endpoint"
)

type EndpointSet struct {
	Ingest   endpoint.Endpoint
	Retrieve endpoint.Endpoint
	Ask      endpoint.Endpoint
}

func MakeEndpoints(svc Service) EndpointSet {
	return EndpointSet{
		Ingest:   IngestEndpoint(svc),
		Retrieve: RetrieveEndpoint(svc),
		Ask:      AskEndpoint(svc),
	}
}

type IngestRequest struct {
	Filename string `json:"filename"`
	Data     []byte `json:"data"`
}

type IngestResponse struct {
	Status      string `json:"status"`
	Filename    string `json:"filename"`
	MediaType   string `json:"media_type"`
	Stored      bool   `json:"stored"`
	ChunksAdded int    `json:"chunks_added"`
	Error       string `json:"error,omitempty"`
}

// IngestEndpoint fails only when the document could not be stored; later
// failures are reported in the response.
func IngestEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(IngestRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		result, err := svc.Ingest(ctx, req.Filename, req.Data)
		if result == nil {
			if err == nil {
				err = errors.New("empty ingest result")
			}

			return nil, err
		}

		resp := IngestResponse{
			Status:      result.Status(),
			Filename:    result.Filename,
			MediaType:   result.MediaType.String(),
			Stored:      result.Stored,
			ChunksAdded: result.ChunksAdded,
		}

		if err != nil {
			resp.Error = err.Error()
		}

		return resp, nil
	}
}

type RetrieveRequest struct {
	Question string `json:"question" form:"question"`
	K        int    `json:"k,omitempty" form:"k"`
}

func RetrieveEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(RetrieveRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		return svc.Retrieve(ctx, req.Question, req.K)
	}
}

type AskRequest struct {
	Question string `json:"question"`
	Image    []byte `json:"image,omitempty"`
}

// AskEndpoint responds with a Stream the caller must drain and close.
func AskEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(AskRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		return svc.Ask(ctx, req.Question, req.Image)
	}
}
