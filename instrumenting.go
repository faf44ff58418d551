package rags

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Requests      *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	ChunksIndexed prometheus.Counter
}

// NewMetrics creates the service metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rags",
			Name:      "requests_total",
			Help:      "Service requests by method and outcome.",
		}, []string{"method", "outcome"}),

		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rags",
			Name:      "request_duration_seconds",
			Help:      "Service request latency; for ask, time until the answer starts streaming.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		ChunksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rags",
			Name:      "chunks_indexed_total",
			Help:      "Chunks added to the vector index.",
		}),
	}

	reg.MustRegister(m.Requests, m.Duration, m.ChunksIndexed)
	return m
}

func InstrumentingMiddleware(m *Metrics) ServiceMiddleware {
	return func(next Service) Service {
		return &instrumentingMiddleware{
			metrics: m,
			next:    next,
		}
	}
}

type instrumentingMiddleware struct {
	metrics *Metrics
	next    Service
}

func (mw *instrumentingMiddleware) observe(method string, begin time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}

	mw.metrics.Requests.WithLabelValues(method, outcome).Inc()
	mw.metrics.Duration.WithLabelValues(method).Observe(time.Since(begin).Seconds())
}

func (mw *instrumentingMiddleware) Close() error {
	return mw.next.Close()
}

func (mw *instrumentingMiddleware) Ingest(ctx context.Context, filename string, data []byte) (result *IngestResult, err error) {
	defer func(begin time.Time) {
		mw.observe("ingest", begin, err)

		if result != nil {
			mw.metrics.ChunksIndexed.Add(float64(result.ChunksAdded))
		}
	}(time.Now())

	return mw.next.Ingest(ctx, filename, data)
}

func (mw *instrumentingMiddleware) Retrieve(ctx context.Context, question string, k ...int) (chunks []Chunk, err error) {
	defer func(begin time.Time) {
		mw.observe("retrieve", begin, err)
	}(time.Now())

	return mw.next.Retrieve(ctx, question, k...)
}

func (mw *instrumentingMiddleware) Ask(ctx context.Context, question string, image []byte) (stream Stream, err error) {
	defer func(begin time.Time) {
		mw.observe("ask", begin, err)
	}(time.Now())

	return mw.next.Ask(ctx, question, image)
}
