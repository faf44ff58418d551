package main

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	rags "github.com/intelliswarm-ai/intelliswarm-rags"
	"github.com/intelliswarm-ai/intelliswarm-rags/embedding"
	"github.com/intelliswarm-ai/intelliswarm-rags/generation"
	"github.com/intelliswarm-ai/intelliswarm-rags/persistence/chromem"
	"github.com/intelliswarm-ai/intelliswarm-rags/persistence/disk"
)

// app holds a locally wired service and its storage.
type app struct {
	documents *disk.DocumentStore
	index     *chromem.Index
	svc       rags.Service
	registry  *prometheus.Registry
}

func openApp(path string, log *zap.Logger) (*app, error) {
	cfg, err := rags.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnv()

	return openConfig(cfg, log)
}

func openConfig(cfg rags.Config, log *zap.Logger) (*app, error) {
	embedder, err := embedding.New(cfg.Embedding.Options())
	if err != nil {
		return nil, err
	}

	generator, err := generation.New(cfg.Generation.Options())
	if err != nil {
		return nil, err
	}

	documents, err := disk.NewDocumentStore(cfg.Documents.Path)
	if err != nil {
		return nil, err
	}

	index, err := chromem.OpenOrCreate(cfg.Vector, embedder)
	if err != nil {
		if errors.Is(err, rags.ErrEmbeddingModelMismatch) {
			log.Error("embedding model changed, run `rags reindex`", zap.Error(err))
		}

		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := rags.NewService(cfg, documents, index, generator)
	svc = rags.LoggingMiddleware(log)(svc)
	svc = rags.InstrumentingMiddleware(rags.NewMetrics(registry))(svc)

	return &app{
		documents: documents,
		index:     index,
		svc:       svc,
		registry:  registry,
	}, nil
}

func (a *app) Close() error {
	return a.svc.Close()
}
