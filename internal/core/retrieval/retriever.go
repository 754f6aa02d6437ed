// Package retrieval is the raw read path: embed a query with the ingestion
// model and run a nearest-neighbour search inside one tenant's dataset.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/core"
	"github.com/markdave123-py/ragready/internal/logger"
	"github.com/markdave123-py/ragready/internal/models"
)

const (
	DefaultTopK = 8
	MaxTopK     = 20
)

// ClampTopK maps a requested k into [1, MaxTopK]; zero or less means the
// default.
func ClampTopK(k int) int {
	switch {
	case k <= 0:
		return DefaultTopK
	case k > MaxTopK:
		return MaxTopK
	default:
		return k
	}
}

type Timeouts struct {
	Embed  time.Duration
	Search time.Duration
}

type Retriever struct {
	embedder core.EmbeddingProvider
	store    core.VectorStore
	dim      int
	timeouts Timeouts
	log      *logger.Logger
	tracer   trace.Tracer
}

func NewRetriever(emb core.EmbeddingProvider, store core.VectorStore, dim int, t Timeouts, log *logger.Logger) *Retriever {
	if log == nil {
		log = logger.Nop()
	}
	return &Retriever{
		embedder: emb, store: store, dim: dim, timeouts: t, log: log,
		tracer: otel.Tracer("ragready/retrieval"),
	}
}

// Search embeds query and returns the top hits of the dataset.
func (r *Retriever) Search(ctx context.Context, tenantID, datasetID, query string, topK int) ([]models.SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Invalid("search", "query is empty")
	}
	ctx, span := r.tracer.Start(ctx, "retrieval.search", trace.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("dataset_id", datasetID),
	))
	defer span.End()

	vec, err := r.embedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return r.SearchVector(ctx, tenantID, datasetID, vec, topK)
}

// SearchVector runs the scoped similarity query. Tenant and dataset are
// required; there is no unscoped search.
func (r *Retriever) SearchVector(ctx context.Context, tenantID, datasetID string, vec []float32, topK int) ([]models.SearchHit, error) {
	if tenantID == "" || datasetID == "" {
		return nil, apperr.Invalid("search", "tenant and dataset are required")
	}
	if r.dim > 0 && len(vec) != r.dim {
		return nil, apperr.Config("search", fmt.Sprintf("query vector has %d dimensions, index expects %d", len(vec), r.dim))
	}
	k := ClampTopK(topK)

	sctx, cancel := withTimeout(ctx, r.timeouts.Search)
	defer cancel()
	start := time.Now()
	hits, err := r.store.Search(sctx, tenantID, datasetID, vec, k)
	if err != nil {
		return nil, timeoutOr("vector search", err)
	}
	r.log.Debug("vector search", "tenant_id", tenantID, "dataset_id", datasetID, "top_k", k,
		"hits", len(hits), "duration_ms", time.Since(start).Milliseconds())
	return hits, nil
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	ectx, cancel := withTimeout(ctx, r.timeouts.Embed)
	defer cancel()
	vecs, err := r.embedder.EmbedTexts(ectx, []string{query})
	if err != nil {
		return nil, timeoutOr("embed query", err)
	}
	if len(vecs) != 1 {
		return nil, apperr.Transient("embed query", fmt.Errorf("got %d vectors for one query", len(vecs)))
	}
	return vecs[0], nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// timeoutOr surfaces an exceeded deadline as a Timeout so callers can tell
// "try again" from "this will always fail".
func timeoutOr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !apperr.Is(err, apperr.KindTimeout) {
		return apperr.Timeout(op, err)
	}
	return err
}
