package rags

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/intelliswarm-ai/intelliswarm-rags/embedding"
	"github.com/intelliswarm-ai/intelliswarm-rags/generation"
	"github.com/intelliswarm-ai/intelliswarm-rags/persistence/chromem"
	"github.com/intelliswarm-ai/intelliswarm-rags/persistence/disk"
	"github.com/intelliswarm-ai/intelliswarm-rags/vector"
)

type sliceStream struct {
	fragments []string
	state     generation.State
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.fragments) == 0 {
		s.state = generation.StateComplete
		return "", io.EOF
	}

	fragment := s.fragments[0]
	s.fragments = s.fragments[1:]
	s.state = generation.StateStreaming
	return fragment, nil
}

func (s *sliceStream) State() generation.State {
	return s.state
}

func (s *sliceStream) Close() error {
	return nil
}

type fakeGenerator struct {
	mu       sync.Mutex
	requests []generation.Request
	answer   []string
}

func (g *fakeGenerator) Model() string {
	return "fake"
}

func (g *fakeGenerator) Generate(ctx context.Context, req generation.Request) (generation.Stream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.requests = append(g.requests, req)

	fragments := make([]string, len(g.answer))
	copy(fragments, g.answer)

	return &sliceStream{fragments: fragments}, nil
}

type unavailableEmbedder struct{}

func (unavailableEmbedder) Model() string {
	return "hash-64"
}

func (unavailableEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("%w: dial tcp 127.0.0.1:11434: connection refused", embedding.ErrEmbeddingUnavailable)
}

func drain(stream Stream) (string, error) {
	defer stream.Close()

	var sb strings.Builder
	for {
		fragment, err := stream.Recv()
		if err == io.EOF {
			return sb.String(), nil
		}

		if err != nil {
			return sb.String(), err
		}

		sb.WriteString(fragment)
	}
}

type ragsTestSuite struct {
	suite.Suite
	ctx       context.Context
	cfg       Config
	index     *chromem.Index
	generator *fakeGenerator
	svc       Service
}

func (suite *ragsTestSuite) SetupTest() {
	dir := suite.T().TempDir()

	cfg := DefaultConfig()
	cfg.Documents.Path = filepath.Join(dir, "data")
	cfg.Vector.Path = filepath.Join(dir, "vectorstore")
	cfg.Chunking.Size = 200
	cfg.Chunking.Overlap = 40
	cfg.Retrieval.TopK = 5

	documents, err := disk.NewDocumentStore(cfg.Documents.Path)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	index, err := chromem.OpenOrCreate(cfg.Vector, embedding.NewHashEmbedder(64))
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.ctx = context.Background()
	suite.cfg = cfg
	suite.index = index
	suite.generator = &fakeGenerator{answer: []string{"The", " answer", " is", " 4."}}
	suite.svc = NewService(cfg, documents, index, suite.generator)
}

func (suite *ragsTestSuite) TearDownTest() {
	suite.svc.Close()
}

func (suite *ragsTestSuite) ingestCorpus() {
	corpus := map[string]string{
		"pca.txt":      "Principal Component Analysis reduces dimensionality. PCA projects data onto orthogonal components that capture the most variance.",
		"gd.txt":       "Gradient descent iteratively updates parameters in the direction that lowers the loss.",
		"kmeans.txt":   "K-means clustering assigns every point to the nearest centroid and recomputes centroids until convergence.",
		"svm.txt":      "Support vector machines find the maximum margin hyperplane separating two classes.",
		"trees.txt":    "Decision trees split the feature space with axis aligned thresholds chosen by impurity.",
		"dropout.txt":  "Dropout randomly disables neurons during training to reduce overfitting in deep networks.",
		"boosting.txt": "Boosting combines many weak learners sequentially, each correcting the errors of the previous ones.",
	}

	for name, text := range corpus {
		if _, err := suite.svc.Ingest(suite.ctx, name, []byte(text)); err != nil {
			suite.Fail(err.Error())
		}
	}
}

func (suite *ragsTestSuite) TestIngestText() {
	var sb strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&sb, "Sentence number %d explains retrieval augmented generation. ", i)
	}

	result, err := suite.svc.Ingest(suite.ctx, "rag.txt", []byte(sb.String()))
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.True(result.Stored)
	suite.Greater(result.ChunksAdded, 1)
	suite.Equal(fmt.Sprintf("Processed %d chunks from rag.txt", result.ChunksAdded), result.Status())
	suite.Equal(result.ChunksAdded, suite.index.Count())
	suite.FileExists(filepath.Join(suite.cfg.Documents.Path, "rag.txt"))
}

func (suite *ragsTestSuite) TestIngestEmptyText() {
	result, err := suite.svc.Ingest(suite.ctx, "empty.txt", nil)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.Equal(0, result.ChunksAdded)
	suite.Equal("Processed 0 chunks from empty.txt", result.Status())
	suite.Equal(0, suite.index.Count())
}

func (suite *ragsTestSuite) TestIngestUnsupportedFormat() {
	suite.ingestCorpus()
	before := suite.index.Count()

	result, err := suite.svc.Ingest(suite.ctx, "notes.xyz", []byte{0xde, 0xad, 0xbe, 0xef})
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.True(result.Stored)
	suite.Equal(0, result.ChunksAdded)
	suite.Equal("File notes.xyz saved but not processed (unsupported format)", result.Status())
	suite.Equal(before, suite.index.Count())
	suite.FileExists(filepath.Join(suite.cfg.Documents.Path, "notes.xyz"))

	chunks, err := suite.svc.Retrieve(suite.ctx, "notes", 100)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	for _, c := range chunks {
		suite.NotEqual("notes.xyz", c.Source)
	}
}

func (suite *ragsTestSuite) TestIngestDecodeErrorKeepsDocument() {
	result, err := suite.svc.Ingest(suite.ctx, "broken.txt", []byte{0xff, 0xfe, 'a'})
	suite.ErrorIs(err, ErrDecode)

	if !suite.NotNil(result) {
		return
	}

	suite.True(result.Stored)
	suite.Contains(result.Status(), "File broken.txt saved but not processed: ")
	suite.FileExists(filepath.Join(suite.cfg.Documents.Path, "broken.txt"))
	suite.Equal(0, suite.index.Count())
}

func (suite *ragsTestSuite) TestIngestInvalidFilename() {
	result, err := suite.svc.Ingest(suite.ctx, "..", []byte("x"))
	suite.ErrorIs(err, ErrInvalidFilename)
	suite.Nil(result)
}

func (suite *ragsTestSuite) TestIngestOverwrite() {
	suite.svc.Ingest(suite.ctx, "doc.txt", []byte("first version"))
	suite.svc.Ingest(suite.ctx, "doc.txt", []byte("second version"))

	bs, err := os.ReadFile(filepath.Join(suite.cfg.Documents.Path, "doc.txt"))
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.Equal("second version", string(bs))

	// the index keeps both; it is never deduplicated
	suite.Equal(2, suite.index.Count())
}

func (suite *ragsTestSuite) TestRetrievalRelevance() {
	suite.ingestCorpus()
	suite.Greater(suite.index.Count(), 5)

	chunks, err := suite.svc.Retrieve(suite.ctx, "What is PCA?")
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.Len(chunks, 5)

	var found bool
	for _, c := range chunks {
		if strings.Contains(c.Text, "Principal Component Analysis") {
			found = true
		}
	}

	suite.True(found)
}

func (suite *ragsTestSuite) TestRetrieveEmptyIndex() {
	chunks, err := suite.svc.Retrieve(suite.ctx, "anything")
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.Empty(chunks)
}

func (suite *ragsTestSuite) TestAsk() {
	suite.ingestCorpus()

	image := []byte{0x89, 'P', 'N', 'G'}

	stream, err := suite.svc.Ask(suite.ctx, "  What is PCA?  ", image)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	answer, err := drain(stream)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.Equal("The answer is 4.", answer)

	if !suite.Len(suite.generator.requests, 1) {
		return
	}

	req := suite.generator.requests[0]
	suite.Contains(req.Prompt, "Principal Component Analysis reduces dimensionality.")
	suite.Contains(req.Prompt, "Question: What is PCA?\nHelpful Answer:")
	suite.Equal([][]byte{image}, req.Images)
}

func (suite *ragsTestSuite) TestAskEmptyIndex() {
	stream, err := suite.svc.Ask(suite.ctx, "hi", nil)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	answer, err := drain(stream)
	suite.NoError(err)
	suite.Equal("The answer is 4.", answer)

	req := suite.generator.requests[0]
	suite.Equal(BuildPrompt(DefaultPrompt, nil, "hi"), req.Prompt)
	suite.Empty(req.Images)
}

func (suite *ragsTestSuite) TestAskEmptyQuestion() {
	_, err := suite.svc.Ask(suite.ctx, "   ", nil)
	suite.ErrorIs(err, ErrEmptyQuestion)
	suite.Empty(suite.generator.requests)
}

func (suite *ragsTestSuite) TestConcurrentIngest() {
	document := func(topic string) []byte {
		var sb strings.Builder
		for i := 0; i < 15; i++ {
			fmt.Fprintf(&sb, "The %s topic passage %d. ", topic, i)
		}
		return []byte(sb.String())
	}

	var wg sync.WaitGroup
	results := make([]*IngestResult, 2)
	errs := make([]error, 2)

	for i, name := range []string{"alpha.txt", "beta.txt"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = suite.svc.Ingest(suite.ctx, name, document(strings.TrimSuffix(name, ".txt")))
		}()
	}

	wg.Wait()

	suite.NoError(errs[0])
	suite.NoError(errs[1])

	total := results[0].ChunksAdded + results[1].ChunksAdded
	suite.Equal(total, suite.index.Count())

	chunks, err := suite.svc.Retrieve(suite.ctx, "topic passage", total)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	sources := make(map[string]int)
	for _, c := range chunks {
		sources[c.Source]++
	}

	suite.Equal(results[0].ChunksAdded, sources["alpha.txt"])
	suite.Equal(results[1].ChunksAdded, sources["beta.txt"])
}

func (suite *ragsTestSuite) TestEndpointsThroughProxy() {
	proxy := ProxyMiddleware(func() *EndpointSet {
		endpoints := MakeEndpoints(suite.svc)
		return &endpoints
	}())(nil)

	result, err := proxy.Ingest(suite.ctx, "pca.txt", []byte("Principal Component Analysis reduces dimensionality."))
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.Equal("Processed 1 chunks from pca.txt", result.Status())

	result, err = proxy.Ingest(suite.ctx, "bad.txt", []byte{0xff})
	suite.ErrorIs(err, ErrDecode)
	if suite.NotNil(result) {
		suite.True(result.Stored)
		suite.Contains(result.Status(), "saved but not processed")
	}

	chunks, err := proxy.Retrieve(suite.ctx, "PCA", 1)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.Len(chunks, 1)

	stream, err := proxy.Ask(suite.ctx, "What is PCA?", nil)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	answer, _ := drain(stream)
	suite.Equal("The answer is 4.", answer)
}

func (suite *ragsTestSuite) TestMiddlewares() {
	core, logs := observer.New(zap.InfoLevel)

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	svc := LoggingMiddleware(zap.New(core))(suite.svc)
	svc = InstrumentingMiddleware(metrics)(svc)

	if _, err := svc.Ingest(suite.ctx, "pca.txt", []byte("PCA reduces dimensionality.")); err != nil {
		suite.Fail(err.Error())
		return
	}

	svc.Ingest(suite.ctx, "bad.txt", []byte{0xff})

	stream, err := svc.Ask(suite.ctx, "What is PCA?", nil)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	drain(stream)

	suite.Equal(1, logs.FilterMessage("Processed 1 chunks from pca.txt").Len())
	suite.Equal(1, logs.FilterMessage("answer streamed").Len())
	suite.Equal(1, logs.FilterField(zap.Int("fragments", 4)).Len())

	suite.Equal(float64(1), testutil.ToFloat64(metrics.Requests.WithLabelValues("ingest", "success")))
	suite.Equal(float64(1), testutil.ToFloat64(metrics.Requests.WithLabelValues("ingest", "error")))
	suite.Equal(float64(1), testutil.ToFloat64(metrics.Requests.WithLabelValues("ask", "success")))
	suite.Equal(float64(1), testutil.ToFloat64(metrics.ChunksIndexed))
}

func TestRagsTestSuite(t *testing.T) {
	suite.Run(t, new(ragsTestSuite))
}

func TestEmbeddingUnavailable(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	dir := t.TempDir()

	index, err := chromem.OpenOrCreate(vector.Config{Path: filepath.Join(dir, "vectorstore")}, unavailableEmbedder{})
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	documents, err := disk.NewDocumentStore(filepath.Join(dir, "data"))
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	generator := &fakeGenerator{}

	svc := NewService(DefaultConfig(), documents, index, generator)
	defer svc.Close()

	_, err = svc.Ask(ctx, "What is PCA?", nil)
	assert.ErrorIs(err, ErrEmbeddingUnavailable)
	assert.Empty(generator.requests)

	result, err := svc.Ingest(ctx, "a.txt", []byte("hello"))
	assert.ErrorIs(err, ErrIndexAddFailure)
	assert.ErrorIs(err, ErrEmbeddingUnavailable)

	if assert.NotNil(result) {
		assert.True(result.Stored)
		assert.Equal(0, result.ChunksAdded)
	}
}
