package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmbeddingUnavailable is returned when the embedding backend cannot be
	// reached, times out or answers with an unusable response.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	ErrUnsupportedProvider = errors.New("unsupported embedding provider")
)

type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
	ProviderHash   Provider = "hash"
)

type Config struct {
	Provider   Provider
	Model      string
	BaseURL    string
	APIKey     string
	Dimensions int
	Timeout    time.Duration
}

// Embedder maps text to a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Model identifies the embedding model; vectors from different models are
	// not comparable.
	Model() string
}

// New creates the embedder configured by cfg.Provider.
func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case ProviderOllama, "":
		return NewOllamaEmbedder(cfg), nil

	case ProviderOpenAI:
		return NewOpenAIEmbedder(cfg), nil

	case ProviderHash:
		return NewHashEmbedder(cfg.Dimensions), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}
}
