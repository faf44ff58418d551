// Package generation streams answers from a text-generation backend.
//
// A Stream is lazy and non-restartable: fragments are read from the backend
// only as the consumer asks for them, and a new answer needs a new request.
//
//	Pending -> Streaming -> Complete
//	Pending -> Failed       (backend unreachable or failing before any fragment)
//	Streaming -> Failed     (channel broken mid-answer, fragments already read stand)
package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrGenerationUnavailable is returned when the backend cannot be reached,
	// times out, or fails before producing any data.
	ErrGenerationUnavailable = errors.New("generation service unavailable")

	// ErrStreamInterrupted is returned when the channel breaks mid-answer.
	ErrStreamInterrupted = errors.New("generation stream interrupted")

	ErrStreamClosed = errors.New("generation stream closed")

	ErrUnsupportedProvider = errors.New("unsupported generation provider")
)

type State int32

const (
	StatePending State = iota
	StateStreaming
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateStreaming:
		return "streaming"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stream is an ordered, lazily produced sequence of answer fragments.
type Stream interface {

	// Recv returns the next fragment, or io.EOF once the backend has closed
	// the channel. After a failure every call returns the same error.
	Recv() (string, error)

	State() State

	// Close releases the backend channel. Closing before completion cancels
	// the answer.
	Close() error
}

type Request struct {
	Prompt string
	System string

	// Images are attached as auxiliary multimodal input.
	Images [][]byte
}

type Generator interface {
	Generate(ctx context.Context, req Request) (Stream, error)
	Model() string
}

type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
)

type Config struct {
	Provider    Provider
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64

	// Timeout bounds the wait for the response headers and for each message
	// after them; the stream as a whole may last longer.
	Timeout time.Duration
}

func New(cfg Config) (Generator, error) {
	switch cfg.Provider {
	case ProviderOllama, "":
		return NewOllamaGenerator(cfg), nil

	case ProviderOpenAI:
		return NewOpenAIGenerator(cfg), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	return &http.Client{
		Transport: transport,
	}
}
