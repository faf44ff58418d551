package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"
)

const (
	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultOllamaModel   = "all-minilm"
)

// OllamaEmbedder calls the Ollama embeddings API through chromem-go.
type OllamaEmbedder struct {
	model   string
	timeout time.Duration
	embed   chromem.EmbeddingFunc
}

func NewOllamaEmbedder(cfg Config) *OllamaEmbedder {
	model := cfg.Model
	if model == "" {
		model = DefaultOllamaModel
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}

	baseURL = strings.TrimSuffix(baseURL, "/")
	if !strings.HasSuffix(baseURL, "/api") {
		baseURL += "/api"
	}

	return &OllamaEmbedder{
		model:   model,
		timeout: cfg.Timeout,
		embed:   chromem.NewEmbeddingFuncOllama(model, baseURL),
	}
}

func (e *OllamaEmbedder) Model() string {
	return e.model
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	vec, err := e.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEmbeddingUnavailable, err.Error())
	}

	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrEmbeddingUnavailable)
	}

	return vec, nil
}
