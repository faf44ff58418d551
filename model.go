package rags

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/intelliswarm-ai/intelliswarm-rags/chunker"
	"github.com/intelliswarm-ai/intelliswarm-rags/embedding"
	"github.com/intelliswarm-ai/intelliswarm-rags/extract"
	"github.com/intelliswarm-ai/intelliswarm-rags/generation"
	"github.com/intelliswarm-ai/intelliswarm-rags/persistence/disk"
	"github.com/intelliswarm-ai/intelliswarm-rags/vector"
)

var (
	ErrDecode                 = extract.ErrDecode
	ErrUnsupportedFormat      = extract.ErrUnsupportedFormat
	ErrCorruptIndex           = vector.ErrCorruptIndex
	ErrIndexAddFailure        = vector.ErrIndexAddFailure
	ErrEmbeddingModelMismatch = vector.ErrEmbeddingModelMismatch
	ErrIndexClosed            = vector.ErrIndexClosed
	ErrEmbeddingUnavailable   = embedding.ErrEmbeddingUnavailable
	ErrGenerationUnavailable  = generation.ErrGenerationUnavailable
	ErrStreamInterrupted      = generation.ErrStreamInterrupted
	ErrInvalidFilename        = disk.ErrInvalidFilename

	ErrEmptyQuestion = errors.New("question is empty")
)

type (
	Chunk     = vector.Chunk
	MediaType = extract.MediaType
	Stream    = generation.Stream
)

type Config struct {
	Documents  DocumentsConfig  `yaml:"documents"`
	Vector     vector.Config    `yaml:"vector"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
}

type DocumentsConfig struct {
	Path string `yaml:"path"`
}

type EmbeddingConfig struct {
	Provider   embedding.Provider `yaml:"provider"`
	Model      string             `yaml:"model"`
	BaseURL    string             `yaml:"baseURL"`
	APIKey     string             `yaml:"apiKey"`
	Dimensions int                `yaml:"dimensions"`
	Timeout    Duration           `yaml:"timeout"`
}

func (cfg EmbeddingConfig) Options() embedding.Config {
	return embedding.Config{
		Provider:   cfg.Provider,
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Dimensions: cfg.Dimensions,
		Timeout:    cfg.Timeout.Duration(),
	}
}

type GenerationConfig struct {
	Provider    generation.Provider `yaml:"provider"`
	Model       string              `yaml:"model"`
	BaseURL     string              `yaml:"baseURL"`
	APIKey      string              `yaml:"apiKey"`
	Temperature float64             `yaml:"temperature"`
	Timeout     Duration            `yaml:"timeout"`

	// Prompt is the answer template; {context} and {question} are replaced.
	Prompt string `yaml:"prompt"`
}

func (cfg GenerationConfig) Options() generation.Config {
	return generation.Config{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout.Duration(),
	}
}

type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

type RetrievalConfig struct {
	TopK int `yaml:"topK"`
}

const (
	DefaultDocumentsPath = "data"
	DefaultIndexPath     = "vectorstore"
	DefaultTopK          = 4
	DefaultTimeout       = 2 * time.Minute
)

func DefaultConfig() Config {
	return Config{
		Documents: DocumentsConfig{
			Path: DefaultDocumentsPath,
		},
		Vector: vector.Config{
			Path:        DefaultIndexPath,
			Collection:  "documents",
			Concurrency: 4,
		},
		Embedding: EmbeddingConfig{
			Provider: embedding.ProviderOllama,
			Model:    embedding.DefaultOllamaModel,
			BaseURL:  embedding.DefaultOllamaBaseURL,
			Timeout:  Duration(DefaultTimeout),
		},
		Generation: GenerationConfig{
			Provider: generation.ProviderOllama,
			Model:    generation.DefaultOllamaModel,
			BaseURL:  generation.DefaultOllamaBaseURL,
			Timeout:  Duration(DefaultTimeout),
			Prompt:   DefaultPrompt,
		},
		Chunking: ChunkingConfig{
			Size:    chunker.DefaultChunkSize,
			Overlap: chunker.DefaultChunkOverlap,
		},
		Retrieval: RetrievalConfig{
			TopK: DefaultTopK,
		},
	}
}

// LoadConfig reads <path>/config.yaml over the defaults. A missing file is
// not an error. Relative storage paths are resolved against path.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(filepath.Join(path, "config.yaml"))
	switch {
	case err == nil:
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}

	case !errors.Is(err, os.ErrNotExist):
		return cfg, err
	}

	cfg.ApplyDefaults()

	cfg.Documents.Path = resolve(path, cfg.Documents.Path)
	cfg.Vector.Path = resolve(path, cfg.Vector.Path)

	return cfg, nil
}

// ApplyDefaults fills unset fields.
func (cfg *Config) ApplyDefaults() {
	def := DefaultConfig()

	if cfg.Documents.Path == "" {
		cfg.Documents.Path = def.Documents.Path
	}

	if cfg.Vector.Path == "" {
		cfg.Vector.Path = def.Vector.Path
	}

	if cfg.Vector.Collection == "" {
		cfg.Vector.Collection = def.Vector.Collection
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = def.Embedding.Provider
	}

	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = def.Generation.Provider
	}

	if cfg.Generation.Prompt == "" {
		cfg.Generation.Prompt = def.Generation.Prompt
	}

	if cfg.Chunking.Size <= 0 {
		cfg.Chunking.Size = def.Chunking.Size
	}

	if cfg.Chunking.Overlap < 0 {
		cfg.Chunking.Overlap = def.Chunking.Overlap
	}

	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = def.Retrieval.TopK
	}
}

// ApplyEnv overrides model selection and credentials from the environment.
func (cfg *Config) ApplyEnv() {
	if model := os.Getenv("RAGS_EMBEDDING_MODEL"); model != "" {
		cfg.Embedding.Model = model
	}

	if model := os.Getenv("RAGS_GENERATION_MODEL"); model != "" {
		cfg.Generation.Model = model
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = key
		}

		if cfg.Generation.APIKey == "" {
			cfg.Generation.APIKey = key
		}
	}
}

func resolve(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(base, path)
}

type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	str := d.Duration().String()
	return json.Marshal(str)
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	duration, err := time.ParseDuration(str)
	if err != nil {
		return err
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration().String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err != nil {
		return err
	}

	duration, err := time.ParseDuration(str)
	if err != nil {
		return err
	}

	*d = Duration(duration)
	return nil
}

// IngestResult summarizes one ingestion. A stored document may still carry a
// Reason explaining why it was not indexed.
type IngestResult struct {
	Filename    string    `json:"filename"`
	MediaType   MediaType `json:"-"`
	Stored      bool      `json:"stored"`
	ChunksAdded int       `json:"chunks_added"`
	Reason      string    `json:"reason,omitempty"`
}

// Status is the human-readable outcome reported to uploaders.
func (r *IngestResult) Status() string {
	switch {
	case r.Reason != "":
		return fmt.Sprintf("File %s saved but not processed: %s", r.Filename, r.Reason)

	case r.MediaType == extract.MediaTypeUnsupported:
		return fmt.Sprintf("File %s saved but not processed (unsupported format)", r.Filename)

	default:
		return fmt.Sprintf("Processed %d chunks from %s", r.ChunksAdded, r.Filename)
	}
}
