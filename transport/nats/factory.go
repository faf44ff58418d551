package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/kit/endpoint"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"

	rags "github.com/intelliswarm-ai/intelliswarm-rags"
)

// RequestTimeout bounds requests whose context carries no deadline.
var RequestTimeout = 2 * time.Minute

func MakeEndpoints(nc *nats.Conn, topic string) *rags.EndpointSet {
	return &rags.EndpointSet{
		Ingest:   IngestEndpoint(nc, Subject(topic, IngestSubject)),
		Retrieve: RetrieveEndpoint(nc, Subject(topic, RetrieveSubject)),
		Ask:      AskEndpoint(nc, Subject(topic, AskSubject)),
	}
}

func call(ctx context.Context, nc *nats.Conn, subject string, data []byte) (*nats.Msg, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, RequestTimeout)
		defer cancel()
	}

	msg, err := nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, err
	}

	if err := Error(msg); err != nil {
		return nil, err
	}

	return msg, nil
}

func IngestEndpoint(nc *nats.Conn, subject string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(rags.IngestRequest)
		if !ok {
			return nil, errors.New("invalid request")
		}

		data, err := json.Marshal(&req)
		if err != nil {
			return nil, err
		}

		msg, err := call(ctx, nc, subject, data)
		if err != nil {
			return nil, err
		}

		var resp rags.IngestResponse
		if err := json.Unmarshal(msg.Data, &resp); err != nil {
			return nil, err
		}

		return resp, nil
	}
}

func RetrieveEndpoint(nc *nats.Conn, subject string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(rags.RetrieveRequest)
		if !ok {
			return nil, errors.New("invalid request")
		}

		data, err := json.Marshal(&req)
		if err != nil {
			return nil, err
		}

		msg, err := call(ctx, nc, subject, data)
		if err != nil {
			return nil, err
		}

		var chunks []rags.Chunk
		if err := json.Unmarshal(msg.Data, &chunks); err != nil {
			return nil, err
		}

		return chunks, nil
	}
}

// AskEndpoint subscribes to a private inbox before publishing the question
// and waits for the first reply, so failures before any fragment surface as
// errors here rather than from the stream.
func AskEndpoint(nc *nats.Conn, subject string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(rags.AskRequest)
		if !ok {
			return nil, errors.New("invalid request")
		}

		data, err := json.Marshal(&req)
		if err != nil {
			return nil, err
		}

		inbox := nc.NewRespInbox()

		sub, err := nc.SubscribeSync(inbox)
		if err != nil {
			return nil, err
		}

		if err := nc.PublishRequest(subject, inbox, data); err != nil {
			sub.Unsubscribe()
			return nil, err
		}

		abort := func() {
			nc.Publish(CancelSubject(inbox), nil)
		}

		stream := newAskStream(ctx, sub, abort)
		if err := stream.prefetch(); err != nil {
			abort()
			sub.Unsubscribe()
			return nil, err
		}

		return stream, nil
	}
}

// Error decodes a service error reply, keeping known errors in the chain.
func Error(msg *nats.Msg) error {
	if msg == nil {
		return errors.New("nil message")
	}

	code := msg.Header.Get(micro.ErrorCodeHeader)
	if code == "" {
		return nil
	}

	description := msg.Header.Get(micro.ErrorHeader)
	if description == "" {
		description = "unknown error"
	}

	return fmt.Errorf("%s:%w", code, rags.RemoteError(description))
}
