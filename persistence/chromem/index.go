package chromem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/intelliswarm-ai/intelliswarm-rags/embedding"
	"github.com/intelliswarm-ai/intelliswarm-rags/vector"
)

const (
	DefaultCollection  = "documents"
	DefaultConcurrency = 4

	metadataSource = "source"
	metadataSeq    = "seq"
)

// Index is a vector.Index persisted by chromem-go. Each document is written
// to its own file as it is added, and a manifest records the embedding model
// and the next insertion sequence.
type Index struct {
	mu sync.RWMutex

	db         *chromem.DB
	collection *chromem.Collection
	embedder   embedding.Embedder
	manifest   *manifest

	path        string
	compress    bool
	concurrency int
	closed      bool

	log *zap.Logger
}

var _ vector.Index = (*Index)(nil)

// OpenOrCreate loads the index at cfg.Path, or creates and persists an empty
// one when nothing is there yet.
func OpenOrCreate(cfg vector.Config, embedder embedding.Embedder) (*Index, error) {
	if cfg.Path == "" {
		return nil, errors.New("index path is required")
	}

	log := zap.L().With(
		zap.String("component", "vector_index"),
		zap.String("path", cfg.Path),
	)

	info, err := os.Stat(cfg.Path)
	switch {
	case err == nil && !info.IsDir():
		return nil, fmt.Errorf("%w: %s is not a directory", vector.ErrCorruptIndex, cfg.Path)

	case err != nil && !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	m, found, err := readManifest(cfg.Path)
	if err != nil {
		return nil, err
	}

	if !found && info != nil {
		entries, err := os.ReadDir(cfg.Path)
		if err != nil {
			return nil, err
		}

		if len(entries) > 0 {
			return nil, fmt.Errorf("%w: missing manifest in non-empty directory", vector.ErrCorruptIndex)
		}
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, err
	}

	if found {
		if m.EmbeddingModel != embedder.Model() {
			return nil, fmt.Errorf("%w: index uses %q, configured %q",
				vector.ErrEmbeddingModelMismatch, m.EmbeddingModel, embedder.Model())
		}
	} else {
		name := cfg.Collection
		if name == "" {
			name = DefaultCollection
		}

		m = &manifest{
			Version:        manifestVersion,
			Collection:     name,
			EmbeddingModel: embedder.Model(),
		}

		if err := writeManifest(cfg.Path, m); err != nil {
			return nil, err
		}
	}

	// documents of a batch that never committed are dropped before chromem
	// loads them
	if found && m.CommittedSeq < m.NextSeq {
		if err := pruneUncommitted(cfg.Path, m, cfg.Compress); err != nil {
			return nil, err
		}

		log.Warn("uncommitted documents discarded",
			zap.Int64("from", m.CommittedSeq),
			zap.Int64("to", m.NextSeq),
		)

		m.CommittedSeq = m.NextSeq
		if err := writeManifest(cfg.Path, m); err != nil {
			return nil, err
		}
	}

	db, err := chromem.NewPersistentDB(cfg.Path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", vector.ErrCorruptIndex, err.Error())
	}

	embed := chromem.EmbeddingFunc(embedder.Embed)

	if found && m.NextSeq > 0 && db.GetCollection(m.Collection, embed) == nil {
		return nil, fmt.Errorf("%w: collection %q missing", vector.ErrCorruptIndex, m.Collection)
	}

	collection, err := db.GetOrCreateCollection(m.Collection, nil, embed)
	if err != nil {
		return nil, err
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	log.Info("index opened",
		zap.String("collection", m.Collection),
		zap.String("embedding_model", m.EmbeddingModel),
		zap.Int("count", collection.Count()),
		zap.Bool("created", !found),
	)

	return &Index{
		db:          db,
		collection:  collection,
		embedder:    embedder,
		manifest:    m,
		path:        cfg.Path,
		compress:    cfg.Compress,
		concurrency: concurrency,
		log:         log,
	}, nil
}

func (idx *Index) Add(ctx context.Context, chunks []vector.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	// embed outside the lock; searches keep running meanwhile
	embeddings := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.concurrency)

	for i, chunk := range chunks {
		g.Go(func() error {
			vec, err := idx.embedder.Embed(gctx, chunk.Text)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", i, err)
			}

			embeddings[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %w", vector.ErrIndexAddFailure, err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return vector.ErrIndexClosed
	}

	// reserve the sequence range before writing documents, so a crash can
	// leave a gap but never reuse an ID
	first := idx.manifest.NextSeq
	reserved := *idx.manifest
	reserved.NextSeq = first + int64(len(chunks))

	if err := writeManifest(idx.path, &reserved); err != nil {
		return fmt.Errorf("%w: %w", vector.ErrIndexAddFailure, err)
	}

	idx.manifest = &reserved

	ids := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		seq := first + int64(i)

		doc := chromem.Document{
			ID: documentID(seq),
			Metadata: map[string]string{
				metadataSource: chunk.Source,
				metadataSeq:    strconv.FormatInt(seq, 10),
			},
			Embedding: embeddings[i],
			Content:   chunk.Text,
		}

		// chromem keeps the document in memory even when writing it fails
		ids = append(ids, doc.ID)

		if err := idx.collection.AddDocument(ctx, doc); err != nil {
			idx.rollback(ids)
			return fmt.Errorf("%w: %w", vector.ErrIndexAddFailure, err)
		}
	}

	if err := idx.sync(ids); err != nil {
		idx.rollback(ids)
		return fmt.Errorf("%w: %w", vector.ErrIndexAddFailure, err)
	}

	committed := reserved
	committed.CommittedSeq = committed.NextSeq

	if err := writeManifest(idx.path, &committed); err != nil {
		idx.rollback(ids)
		return fmt.Errorf("%w: %w", vector.ErrIndexAddFailure, err)
	}

	idx.manifest = &committed
	return nil
}

// sync flushes the written documents and their directory to disk.
func (idx *Index) sync(ids []string) error {
	for _, id := range ids {
		f, err := os.Open(idx.documentPath(id))
		if err != nil {
			return err
		}

		err = f.Sync()
		f.Close()
		if err != nil {
			return err
		}
	}

	return syncDir(collectionPath(idx.path, idx.manifest.Collection))
}

func (idx *Index) rollback(ids []string) {
	for _, id := range ids {
		err := idx.collection.Delete(context.Background(), nil, nil, id)
		if err != nil {
			idx.log.Error(err.Error(),
				zap.String("action", "rollback"),
				zap.String("id", id),
			)
		}
	}
}

func (idx *Index) documentPath(id string) string {
	return documentPath(idx.path, idx.manifest.Collection, id, idx.compress)
}

func (idx *Index) Search(ctx context.Context, query string, k int) ([]vector.Chunk, error) {
	if k <= 0 {
		return []vector.Chunk{}, nil
	}

	vec, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil, vector.ErrIndexClosed
	}

	n := idx.collection.Count()
	if n == 0 {
		return []vector.Chunk{}, nil
	}

	// rank every entry so ties are resolved by insertion order, not by
	// chromem's internal ordering
	results, err := idx.collection.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, err
	}

	type ranked struct {
		result chromem.Result
		seq    int64
	}

	items := make([]ranked, len(results))
	for i, result := range results {
		seq, err := strconv.ParseInt(result.Metadata[metadataSeq], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: document %s has no sequence", vector.ErrCorruptIndex, result.ID)
		}

		items[i] = ranked{result, seq}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].result.Similarity != items[j].result.Similarity {
			return items[i].result.Similarity > items[j].result.Similarity
		}

		return items[i].seq < items[j].seq
	})

	if k > len(items) {
		k = len(items)
	}

	chunks := make([]vector.Chunk, k)
	for i := range chunks {
		chunks[i] = vector.Chunk{
			Text:   items[i].result.Content,
			Source: items[i].result.Metadata[metadataSource],
		}
	}

	return chunks, nil
}

func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.collection.Count()
}

// EmbeddingModel returns the model recorded in the manifest.
func (idx *Index) EmbeddingModel() string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.manifest.EmbeddingModel
}

func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return nil
	}

	idx.closed = true
	idx.log.Info("index closed")
	return nil
}

func documentID(seq int64) string {
	return fmt.Sprintf("chunk_%012d", seq)
}
