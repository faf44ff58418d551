package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func norm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func TestHashEmbedder(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	e := NewHashEmbedder(0)
	assert.Equal("hash-384", e.Model())

	a, err := e.Embed(ctx, "Principal Component Analysis reduces dimensionality")
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	b, _ := e.Embed(ctx, "Principal Component Analysis reduces dimensionality")
	c, _ := e.Embed(ctx, "The mitochondria is the powerhouse of the cell")
	q, _ := e.Embed(ctx, "What does principal component analysis do?")

	assert.Len(a, DefaultHashDimensions)
	assert.Equal(a, b)
	assert.InDelta(1.0, norm(a), 1e-5)
	assert.Greater(dot(q, a), dot(q, c))
}

func TestHashEmbedderEmptyText(t *testing.T) {
	assert := assert.New(t)

	vec, err := NewHashEmbedder(16).Embed(context.Background(), "  ?! ")
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.InDelta(1.0, norm(vec), 1e-5)
}

func TestNewUnsupportedProvider(t *testing.T) {
	assert := assert.New(t)

	_, err := New(Config{Provider: "word2vec"})
	assert.ErrorIs(err, ErrUnsupportedProvider)

	e, err := New(Config{Provider: ProviderHash, Dimensions: 32})
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Equal("hash-32", e.Model())
}

func TestOpenAIEmbedder(t *testing.T) {
	assert := assert.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("/v1/embeddings", r.URL.Path)
		assert.Equal("Bearer secret", r.Header.Get("Authorization"))

		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		assert.Equal("text-embedding-3-small", req.Model)
		assert.Equal([]string{"hello"}, req.Input)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"embedding":[0.6,0.8]}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(Config{
		Model:   "text-embedding-3-small",
		BaseURL: srv.URL + "/v1/",
		APIKey:  "secret",
	})

	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Equal([]float32{0.6, 0.8}, vec)
}

func TestOpenAIEmbedderUnavailable(t *testing.T) {
	assert := assert.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(Config{Model: "m", BaseURL: srv.URL})

	_, err := e.Embed(context.Background(), "hello")
	assert.ErrorIs(err, ErrEmbeddingUnavailable)

	srv.Close()

	_, err = e.Embed(context.Background(), "hello")
	assert.ErrorIs(err, ErrEmbeddingUnavailable)
}

func TestOllamaEmbedderUnavailable(t *testing.T) {
	assert := assert.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(Config{BaseURL: srv.URL})
	assert.Equal(DefaultOllamaModel, e.Model())

	_, err := e.Embed(context.Background(), "hello")
	assert.ErrorIs(err, ErrEmbeddingUnavailable)
}
