package generation

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// decodeFunc turns one backend message into a fragment. An empty fragment is
// skipped; done ends the stream.
type decodeFunc func(line []byte) (fragment string, done bool)

// lineStream reads one structured message per line from the backend.
type lineStream struct {
	mu sync.Mutex

	body   io.ReadCloser
	cancel context.CancelFunc
	reader *bufio.Reader
	decode decodeFunc

	state  atomic.Int32
	closed atomic.Bool

	// idle bounds the silence before each message; zero waits forever
	idle     time.Duration
	timer    *time.Timer
	timedOut atomic.Bool

	count   int
	pending error
	err     error
}

func newLineStream(body io.ReadCloser, decode decodeFunc, idle time.Duration, cancel context.CancelFunc) *lineStream {
	s := &lineStream{
		body:   body,
		cancel: cancel,
		reader: bufio.NewReader(body),
		decode: decode,
		idle:   idle,
	}

	if idle > 0 {
		s.timer = time.AfterFunc(idle, s.expire)
		s.timer.Stop()
	}

	return s
}

// expire unblocks a pending read on a silent backend.
func (s *lineStream) expire() {
	s.timedOut.Store(true)
	s.cancel()
}

func (s *lineStream) readLine() ([]byte, error) {
	if s.timer == nil {
		return s.reader.ReadBytes('\n')
	}

	s.timer.Reset(s.idle)
	line, err := s.reader.ReadBytes('\n')
	s.timer.Stop()

	return line, err
}

func (s *lineStream) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		switch s.State() {
		case StateComplete:
			return "", io.EOF
		case StateFailed:
			return "", s.err
		}

		if s.pending != nil {
			s.finish(s.pending)
			continue
		}

		line, err := s.readLine()
		if err != nil {
			s.pending = err
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		fragment, done := s.decode(line)
		if done {
			s.pending = io.EOF
		}

		if fragment == "" {
			continue
		}

		s.count++
		s.state.CompareAndSwap(int32(StatePending), int32(StateStreaming))
		return fragment, nil
	}
}

func (s *lineStream) finish(err error) {
	if s.timer != nil {
		s.timer.Stop()
	}

	s.body.Close()
	s.cancel()

	if s.timedOut.Load() && !s.closed.Load() {
		err = fmt.Errorf("no data from backend for %s", s.idle)
	}

	switch {
	case errors.Is(err, io.EOF) && !s.closed.Load():
		s.state.Store(int32(StateComplete))
		return

	case s.closed.Load():
		s.err = ErrStreamClosed

	case s.count == 0:
		s.err = fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)

	default:
		s.err = fmt.Errorf("%w after %d fragments: %w", ErrStreamInterrupted, s.count, err)
	}

	s.state.Store(int32(StateFailed))
}

func (s *lineStream) State() State {
	return State(s.state.Load())
}

func (s *lineStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.cancel()
	return s.body.Close()
}
