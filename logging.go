package rags

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func LoggingMiddleware(log *zap.Logger) ServiceMiddleware {
	log = log.With(
		zap.String("service", "rags"),
	)

	return func(next Service) Service {
		log.Info("service initialized")

		return &loggingMiddleware{
			log:  log,
			next: next,
		}
	}
}

type loggingMiddleware struct {
	log  *zap.Logger
	next Service
}

func (mw *loggingMiddleware) Close() error {
	log := mw.log.With(
		zap.String("action", "close"),
	)

	err := mw.next.Close()
	if err != nil {
		log.Error(err.Error())
		return err
	}

	log.Info("service closed")
	return nil
}

func (mw *loggingMiddleware) Ingest(ctx context.Context, filename string, data []byte) (*IngestResult, error) {
	log := mw.log.With(
		zap.String("action", "ingest"),
		zap.String("filename", filename),
		zap.Int("size", len(data)),
	)

	result, err := mw.next.Ingest(ctx, filename, data)
	if err != nil {
		if result != nil && result.Stored {
			log = log.With(zap.Bool("stored", true))
		}

		log.Error(err.Error())
		return result, err
	}

	log.Info(result.Status(),
		zap.String("media_type", result.MediaType.String()),
		zap.Int("chunks", result.ChunksAdded),
	)

	return result, nil
}

func (mw *loggingMiddleware) Retrieve(ctx context.Context, question string, k ...int) ([]Chunk, error) {
	log := mw.log.With(
		zap.String("action", "retrieve"),
		zap.String("question", question),
	)

	if len(k) > 0 && k[0] > 0 {
		log = log.With(
			zap.Int("k", k[0]),
		)
	}

	chunks, err := mw.next.Retrieve(ctx, question, k...)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Info("chunks retrieved", zap.Int("count", len(chunks)))
	return chunks, nil
}

func (mw *loggingMiddleware) Ask(ctx context.Context, question string, image []byte) (Stream, error) {
	log := mw.log.With(
		zap.String("action", "ask"),
		zap.String("ask_id", uuid.NewString()),
		zap.String("question", question),
		zap.Bool("image", len(image) > 0),
	)

	stream, err := mw.next.Ask(ctx, question, image)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Info("answer streaming")

	return &loggingStream{
		Stream: stream,
		log:    log,
	}, nil
}

// loggingStream logs once when the answer ends.
type loggingStream struct {
	Stream
	log       *zap.Logger
	fragments int
	logged    bool
}

func (s *loggingStream) Recv() (string, error) {
	fragment, err := s.Stream.Recv()
	if err == nil {
		s.fragments++
		return fragment, nil
	}

	if !s.logged {
		s.logged = true

		log := s.log.With(
			zap.Int("fragments", s.fragments),
			zap.String("state", s.Stream.State().String()),
		)

		if errors.Is(err, io.EOF) {
			log.Info("answer streamed")
		} else {
			log.Error(err.Error())
		}
	}

	return "", err
}
