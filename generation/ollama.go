package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultOllamaModel   = "mistral"
)

// OllamaGenerator streams from Ollama's /api/generate, which answers with one
// JSON object per line.
type OllamaGenerator struct {
	cfg    Config
	client *http.Client
}

func NewOllamaGenerator(cfg Config) *OllamaGenerator {
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaBaseURL
	}

	cfg.BaseURL = strings.TrimSuffix(strings.TrimSuffix(cfg.BaseURL, "/"), "/api")

	return &OllamaGenerator{
		cfg:    cfg,
		client: newHTTPClient(cfg.Timeout),
	}
}

func (g *OllamaGenerator) Model() string {
	return g.cfg.Model
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Images  []string       `json:"images,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response *string `json:"response"`
	Done     bool    `json:"done"`
}

func (g *OllamaGenerator) Generate(ctx context.Context, r Request) (Stream, error) {
	body := ollamaRequest{
		Model:  g.cfg.Model,
		Prompt: r.Prompt,
		System: r.System,
		Stream: true,
	}

	for _, image := range r.Images {
		body.Images = append(body.Images, base64.StdEncoding.EncodeToString(image))
	}

	if g.cfg.Temperature != 0 {
		body.Options = map[string]any{
			"temperature": g.cfg.Temperature,
		}
	}

	bs, err := json.Marshal(&body)
	if err != nil {
		return nil, err
	}

	// the stream owns cancel; it aborts a read on a silent backend
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/api/generate", bytes.NewReader(bs))
	if err != nil {
		cancel()
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := g.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %s", ErrGenerationUnavailable, err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer resp.Body.Close()

		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status %s: %s", ErrGenerationUnavailable, resp.Status, msg)
	}

	return newLineStream(resp.Body, decodeOllama, g.cfg.Timeout, cancel), nil
}

func decodeOllama(line []byte) (string, bool) {
	var msg ollamaResponse
	if err := json.Unmarshal(line, &msg); err != nil {
		return "", false
	}

	if msg.Response == nil {
		return "", msg.Done
	}

	return *msg.Response, msg.Done
}
