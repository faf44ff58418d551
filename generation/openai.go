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

const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIGenerator streams server-sent events from an OpenAI-compatible
// /chat/completions endpoint.
type OpenAIGenerator struct {
	cfg    Config
	client *http.Client
}

func NewOpenAIGenerator(cfg Config) *OpenAIGenerator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}

	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &OpenAIGenerator{
		cfg:    cfg,
		client: newHTTPClient(cfg.Timeout),
	}
}

func (g *OpenAIGenerator) Model() string {
	return g.cfg.Model
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (g *OpenAIGenerator) Generate(ctx context.Context, r Request) (Stream, error) {
	body := chatRequest{
		Model:  g.cfg.Model,
		Stream: true,
	}

	if g.cfg.Temperature != 0 {
		t := g.cfg.Temperature
		body.Temperature = &t
	}

	if r.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: r.System})
	}

	if len(r.Images) == 0 {
		body.Messages = append(body.Messages, chatMessage{Role: "user", Content: r.Prompt})
	} else {
		parts := []contentPart{{Type: "text", Text: r.Prompt}}
		for _, image := range r.Images {
			uri := "data:" + http.DetectContentType(image) + ";base64," + base64.StdEncoding.EncodeToString(image)
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{uri}})
		}

		body.Messages = append(body.Messages, chatMessage{Role: "user", Content: parts})
	}

	bs, err := json.Marshal(&body)
	if err != nil {
		return nil, err
	}

	// the stream owns cancel; it aborts a read on a silent backend
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/chat/completions", bytes.NewReader(bs))
	if err != nil {
		cancel()
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

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

	return newLineStream(resp.Body, decodeSSE, g.cfg.Timeout, cancel), nil
}

func decodeSSE(line []byte) (string, bool) {
	data, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return "", false
	}

	data = bytes.TrimSpace(data)
	if string(data) == "[DONE]" {
		return "", true
	}

	var chunk chatResponse
	if err := json.Unmarshal(data, &chunk); err != nil {
		return "", false
	}

	if len(chunk.Choices) == 0 {
		return "", false
	}

	return chunk.Choices[0].Delta.Content, false
}
