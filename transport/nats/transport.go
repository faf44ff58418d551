package nats

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/go-kit/kit/endpoint"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"

	rags "github.com/intelliswarm-ai/intelliswarm-rags"
)

// Headers of the final message of an ask reply.
const (
	StatusHeader = "Status"
	ErrorHeader  = "Error"

	StatusComplete = "complete"
	StatusFailed   = "failed"
)

func statusCode(err error) string {
	switch {
	case errors.Is(err, rags.ErrEmptyQuestion),
		errors.Is(err, rags.ErrInvalidFilename):
		return "400"

	case errors.Is(err, rags.ErrEmbeddingUnavailable),
		errors.Is(err, rags.ErrGenerationUnavailable):
		return "503"

	default:
		return "417"
	}
}

func IngestHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		var req rags.IngestRequest
		if err := json.Unmarshal(r.Data(), &req); err != nil {
			r.Error("400", err.Error(), nil)
			return
		}

		ctx := context.Background()
		resp, err := endpoint(ctx, req)
		if err != nil {
			r.Error(statusCode(err), err.Error(), nil)
			return
		}

		r.RespondJSON(&resp)
	}
}

func RetrieveHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		var req rags.RetrieveRequest
		if err := json.Unmarshal(r.Data(), &req); err != nil {
			r.Error("400", err.Error(), nil)
			return
		}

		ctx := context.Background()
		resp, err := endpoint(ctx, req)
		if err != nil {
			r.Error(statusCode(err), err.Error(), nil)
			return
		}

		r.RespondJSON(&resp)
	}
}

// AskHandler replies with one message per fragment and a final empty message
// carrying the Status header. Answers are streamed off the subscription
// goroutine so concurrent questions do not queue behind each other. A message
// on the cancel subject of the reply inbox stops the answer.
func AskHandler(nc *nats.Conn, endpoint endpoint.Endpoint) micro.HandlerFunc {
	return askHandler(endpoint, watchCancel(nc))
}

// watchFunc calls cancel once the asker gives up on the answer sent to reply.
type watchFunc func(reply string, cancel context.CancelFunc) (stop func(), err error)

func watchCancel(nc *nats.Conn) watchFunc {
	return func(reply string, cancel context.CancelFunc) (func(), error) {
		sub, err := nc.Subscribe(CancelSubject(reply), func(*nats.Msg) {
			cancel()
		})

		if err != nil {
			return nil, err
		}

		// the asker may cancel as soon as the first fragment arrives
		if err := nc.Flush(); err != nil {
			sub.Unsubscribe()
			return nil, err
		}

		return func() {
			sub.Unsubscribe()
		}, nil
	}
}

func askHandler(endpoint endpoint.Endpoint, watch watchFunc) micro.HandlerFunc {
	return func(r micro.Request) {
		var req rags.AskRequest
		if err := json.Unmarshal(r.Data(), &req); err != nil {
			r.Error("400", err.Error(), nil)
			return
		}

		go func(r micro.Request) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			stop, err := watch(r.Reply(), cancel)
			if err != nil {
				r.Error("500", err.Error(), nil)
				return
			}
			defer stop()

			resp, err := endpoint(ctx, req)
			if err != nil {
				r.Error(statusCode(err), err.Error(), nil)
				return
			}

			stream, ok := resp.(rags.Stream)
			if !ok {
				r.Error("500", "invalid response type", nil)
				return
			}
			defer stream.Close()

			for {
				fragment, err := stream.Recv()
				if errors.Is(err, io.EOF) {
					break
				}

				// nobody is listening any more
				if ctx.Err() != nil {
					return
				}

				if err != nil {
					r.Respond(nil, micro.WithHeaders(micro.Headers{
						StatusHeader: []string{StatusFailed},
						ErrorHeader:  []string{err.Error()},
					}))
					return
				}

				if err := r.Respond([]byte(fragment)); err != nil {
					return
				}
			}

			r.Respond(nil, micro.WithHeaders(micro.Headers{
				StatusHeader: []string{StatusComplete},
			}))
		}(r)
	}
}
