package ingestion_engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/core"
	"github.com/markdave123-py/ragready/internal/logger"
	"github.com/markdave123-py/ragready/internal/models"
	"github.com/markdave123-py/ragready/internal/retry"
)

// BatchRecorder receives one call per finished embedding batch.
type BatchRecorder interface {
	RecordBatch(ctx context.Context, tenantID, datasetID, model string, size int, latency time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordBatch(context.Context, string, string, string, int, time.Duration, error) {}

// VectorIngestor embeds a document's chunks and hands them to the vector
// store in one replace call.
type VectorIngestor struct {
	embedder core.EmbeddingProvider
	store    core.VectorStore
	cfg      IngestConfig
	metrics  BatchRecorder
	log      *logger.Logger
	tracer   trace.Tracer
}

func NewVectorIngestor(emb core.EmbeddingProvider, store core.VectorStore, cfg IngestConfig, metrics BatchRecorder, log *logger.Logger) *VectorIngestor {
	def := DefaultIngestConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &VectorIngestor{
		embedder: emb, store: store, cfg: cfg, metrics: metrics, log: log,
		tracer: otel.Tracer("ragready/ingestion"),
	}
}

// Ingest embeds every chunk, checks every vector's length and only then
// writes. A failing batch cancels the rest, and nothing reaches the store,
// so a document is either fully indexed or not indexed at all.
func (v *VectorIngestor) Ingest(ctx context.Context, tenantID, datasetID, docID string, chunks []models.Chunk) error {
	ctx, span := v.tracer.Start(ctx, "vector_ingest", trace.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("dataset_id", datasetID),
		attribute.Int("chunks", len(chunks)),
	))
	defer span.End()

	if v.cfg.EmbedDim <= 0 {
		return apperr.Config("vector_ingest", "embedding dimension is not configured")
	}
	model := v.embedder.ModelID()
	if model == "" {
		return apperr.Config("vector_ingest", "embedding model id is not configured")
	}

	vecs := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.Concurrency)

	batches := 0
	for start := 0; start < len(chunks); start += v.cfg.BatchSize {
		end := min(start+v.cfg.BatchSize, len(chunks))
		batch := batches
		batches++
		g.Go(func() error {
			return v.embedBatch(gctx, tenantID, datasetID, model, batch, chunks[start:end], vecs[start:end])
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return err
	}

	rows := make([]models.Chunk, len(chunks))
	for i := range chunks {
		rows[i] = chunks[i]
		rows[i].Embedding = vecs[i]
		rows[i].EmbeddingModel = model
	}
	err := retry.Run(ctx, v.cfg.Retry, nil, func(ctx context.Context) error {
		return v.store.ReplaceDocument(ctx, tenantID, datasetID, docID, rows)
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("write vectors: %w", err)
	}
	v.log.Info("vectors written", "tenant_id", tenantID, "dataset_id", datasetID, "doc_id", docID,
		"chunks", len(rows), "batches", batches)
	return nil
}

func (v *VectorIngestor) embedBatch(ctx context.Context, tenantID, datasetID, model string, n int, chunks []models.Chunk, out [][]float32) error {
	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Text
	}

	started := time.Now()
	notify := func(attempt int, err error, wait time.Duration) {
		v.log.Warn("embedding batch failed, retrying", "batch", n, "attempt", attempt, "wait", wait, "error", err)
	}
	vecs, err := retry.Do(ctx, v.cfg.Retry, notify, func(ctx context.Context) ([][]float32, error) {
		vecs, err := v.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindUnknown {
				return nil, apperr.Transient("embed", err)
			}
			return nil, err
		}
		if len(vecs) != len(texts) {
			return nil, apperr.Transient("embed", fmt.Errorf("got %d vectors for %d texts", len(vecs), len(texts)))
		}
		for i, vec := range vecs {
			if len(vec) != v.cfg.EmbedDim {
				return nil, apperr.Config("embed", fmt.Sprintf(
					"embedding dimension mismatch for %s: model %s returned %d, expected %d",
					chunks[i].ChunkID, model, len(vec), v.cfg.EmbedDim))
			}
		}
		return vecs, nil
	})
	v.metrics.RecordBatch(ctx, tenantID, datasetID, model, len(chunks), time.Since(started), err)
	if err != nil {
		return fmt.Errorf("batch %d: %w", n, err)
	}
	copy(out, vecs)
	return nil
}
