package nats

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/intelliswarm-ai/intelliswarm-rags/generation"
)

// askStream reads answer fragments from a reply inbox.
type askStream struct {
	mu sync.Mutex

	ctx context.Context
	sub *nats.Subscription

	// abort tells the service to stop answering
	abort     func()
	abortOnce sync.Once

	state  atomic.Int32
	closed atomic.Bool

	pending *nats.Msg
	count   int
	err     error
}

func newAskStream(ctx context.Context, sub *nats.Subscription, abort func()) *askStream {
	return &askStream{
		ctx:   ctx,
		sub:   sub,
		abort: abort,
	}
}

func (s *askStream) stopRemote() {
	s.abortOnce.Do(s.abort)
}

func (s *askStream) next() (*nats.Msg, error) {
	ctx := s.ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, RequestTimeout)
		defer cancel()
	}

	return s.sub.NextMsgWithContext(ctx)
}

func (s *askStream) prefetch() error {
	msg, err := s.next()
	if err != nil {
		return fmt.Errorf("%w: %w", generation.ErrGenerationUnavailable, err)
	}

	if err := Error(msg); err != nil {
		return err
	}

	s.pending = msg
	return nil
}

func (s *askStream) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		switch s.State() {
		case generation.StateComplete:
			return "", io.EOF
		case generation.StateFailed:
			return "", s.err
		}

		msg := s.pending
		s.pending = nil

		if msg == nil {
			var err error
			msg, err = s.next()
			if err != nil {
				s.fail(err)
				continue
			}
		}

		if err := Error(msg); err != nil {
			s.fail(err)
			continue
		}

		switch msg.Header.Get(StatusHeader) {
		case StatusComplete:
			s.sub.Unsubscribe()
			s.state.Store(int32(generation.StateComplete))
			continue

		case StatusFailed:
			s.fail(errors.New(msg.Header.Get(ErrorHeader)))
			continue
		}

		if len(msg.Data) == 0 {
			continue
		}

		s.count++
		s.state.CompareAndSwap(int32(generation.StatePending), int32(generation.StateStreaming))
		return string(msg.Data), nil
	}
}

func (s *askStream) fail(err error) {
	s.sub.Unsubscribe()
	s.stopRemote()

	switch {
	case s.closed.Load():
		s.err = generation.ErrStreamClosed

	case s.count == 0:
		s.err = fmt.Errorf("%w: %w", generation.ErrGenerationUnavailable, err)

	default:
		s.err = fmt.Errorf("%w after %d fragments: %w", generation.ErrStreamInterrupted, s.count, err)
	}

	s.state.Store(int32(generation.StateFailed))
}

func (s *askStream) State() generation.State {
	return generation.State(s.state.Load())
}

func (s *askStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	if s.State() != generation.StateComplete {
		s.stopRemote()
	}

	err := s.sub.Unsubscribe()
	if errors.Is(err, nats.ErrBadSubscription) {
		return nil
	}

	return err
}
