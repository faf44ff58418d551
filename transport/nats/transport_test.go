package nats

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"github.com/stretchr/testify/assert"

	rags "github.com/intelliswarm-ai/intelliswarm-rags"
	"github.com/intelliswarm-ai/intelliswarm-rags/generation"
)

func TestError(t *testing.T) {
	assert := assert.New(t)

	err := Error(nil)
	assert.Error(err)

	msg := nats.NewMsg("rags.ask")
	msg.Data = []byte("fragment")
	assert.NoError(Error(msg))

	msg.Header.Set(micro.ErrorCodeHeader, "417")
	err = Error(msg)
	assert.EqualError(err, "417:unknown error")

	msg.Header.Set(micro.ErrorCodeHeader, "503")
	msg.Header.Set(micro.ErrorHeader, rags.ErrGenerationUnavailable.Error()+": connection refused")
	err = Error(msg)
	assert.ErrorIs(err, rags.ErrGenerationUnavailable)

	msg.Header.Set(micro.ErrorCodeHeader, "400")
	msg.Header.Set(micro.ErrorHeader, rags.ErrEmptyQuestion.Error())
	err = Error(msg)
	assert.ErrorIs(err, rags.ErrEmptyQuestion)
}

func TestStatusCode(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("400", statusCode(rags.ErrEmptyQuestion))
	assert.Equal("400", statusCode(rags.ErrInvalidFilename))
	assert.Equal("503", statusCode(rags.ErrEmbeddingUnavailable))
	assert.Equal("503", statusCode(rags.ErrGenerationUnavailable))
	assert.Equal("417", statusCode(errors.New("boom")))
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "edges.1.rags.ask", Subject("edges.1.rags", AskSubject))
}

type reply struct {
	data   []byte
	header nats.Header
}

type fakeRequest struct {
	data    []byte
	replies chan reply
}

func (r *fakeRequest) Respond(data []byte, opts ...micro.RespondOpt) error {
	msg := nats.NewMsg("")
	msg.Data = data
	for _, opt := range opts {
		opt(msg)
	}

	r.replies <- reply{msg.Data, msg.Header}
	return nil
}

func (r *fakeRequest) RespondJSON(v any, opts ...micro.RespondOpt) error {
	bs, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return r.Respond(bs, opts...)
}

func (r *fakeRequest) Error(code, description string, data []byte, opts ...micro.RespondOpt) error {
	return r.Respond(data, append(opts, micro.WithHeaders(micro.Headers{
		micro.ErrorCodeHeader: []string{code},
		micro.ErrorHeader:     []string{description},
	}))...)
}

func (r *fakeRequest) Data() []byte           { return r.data }
func (r *fakeRequest) Headers() micro.Headers { return nil }
func (r *fakeRequest) Subject() string        { return "rags.ask" }
func (r *fakeRequest) Reply() string          { return "_INBOX.test" }

// endlessStream yields fragments until its context is cancelled.
type endlessStream struct {
	ctx    context.Context
	closed chan struct{}
}

func (s *endlessStream) Recv() (string, error) {
	select {
	case <-s.ctx.Done():
		return "", s.ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return "more", nil
	}
}

func (s *endlessStream) State() generation.State { return generation.StateStreaming }

func (s *endlessStream) Close() error {
	close(s.closed)
	return nil
}

func TestAskHandlerStopsWhenCancelled(t *testing.T) {
	assert := assert.New(t)

	closed := make(chan struct{})
	ask := func(ctx context.Context, request any) (any, error) {
		return &endlessStream{ctx, closed}, nil
	}

	var (
		watched string
		cancels = make(chan context.CancelFunc, 1)
		stopped = make(chan struct{})
	)

	watch := func(reply string, cancel context.CancelFunc) (func(), error) {
		watched = reply
		cancels <- cancel
		return func() { close(stopped) }, nil
	}

	r := &fakeRequest{
		data:    []byte(`{"question":"what is PCA?"}`),
		replies: make(chan reply, 64),
	}

	askHandler(ask, watch)(r)

	first := <-r.replies
	assert.Equal("more", string(first.data))

	// the asker publishes on the cancel subject
	(<-cancels)()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		assert.Fail("stream not closed after cancel")
		return
	}

	<-stopped
	assert.Equal("_INBOX.test", watched)

	for len(r.replies) > 0 {
		msg := <-r.replies
		assert.Empty(msg.header.Get(StatusHeader))
	}
}

func TestAskHandlerCompletes(t *testing.T) {
	assert := assert.New(t)

	ask := func(ctx context.Context, request any) (any, error) {
		req := request.(rags.AskRequest)
		if req.Question == "" {
			return nil, rags.ErrEmptyQuestion
		}

		return &listStream{fragments: []string{"The", " answer"}}, nil
	}

	watch := func(reply string, cancel context.CancelFunc) (func(), error) {
		return func() {}, nil
	}

	r := &fakeRequest{
		data:    []byte(`{"question":"what?"}`),
		replies: make(chan reply, 8),
	}

	askHandler(ask, watch)(r)

	assert.Equal("The", string((<-r.replies).data))
	assert.Equal(" answer", string((<-r.replies).data))

	last := <-r.replies
	assert.Equal(StatusComplete, last.header.Get(StatusHeader))

	r = &fakeRequest{
		data:    []byte(`{"question":""}`),
		replies: make(chan reply, 8),
	}

	askHandler(ask, watch)(r)

	failed := <-r.replies
	assert.Equal("400", failed.header.Get(micro.ErrorCodeHeader))
}

type listStream struct {
	fragments []string
}

func (s *listStream) Recv() (string, error) {
	if len(s.fragments) == 0 {
		return "", io.EOF
	}

	f := s.fragments[0]
	s.fragments = s.fragments[1:]
	return f, nil
}

func (s *listStream) State() generation.State { return generation.StateStreaming }
func (s *listStream) Close() error            { return nil }
