package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/core"
	"github.com/markdave123-py/ragready/internal/models"
)

var _ core.VectorStore = (*PGVectorStore)(nil)

// Schema returns the DDL for the chunk table at the given dimension.
func Schema(dim int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS chunks (
			chunk_id             TEXT PRIMARY KEY,
			doc_id               TEXT NOT NULL,
			tenant_id            TEXT NOT NULL,
			dataset_id           TEXT NOT NULL,
			filename             TEXT NOT NULL,
			page                 INT,
			chunk_index          INT NOT NULL,
			text                 TEXT NOT NULL,
			content_hash         TEXT NOT NULL,
			embedding_model      TEXT NOT NULL,
			doc_type             TEXT NOT NULL DEFAULT '',
			discipline           TEXT NOT NULL DEFAULT '',
			section_reference    TEXT NOT NULL DEFAULT '',
			standards_referenced TEXT[],
			embedding            vector(%d) NOT NULL
		)`, dim),
		`CREATE INDEX IF NOT EXISTS chunks_scope_idx ON chunks (tenant_id, dataset_id)`,
		`CREATE INDEX IF NOT EXISTS chunks_doc_idx ON chunks (tenant_id, dataset_id, doc_id)`,
		`CREATE INDEX IF NOT EXISTS chunks_embedding_idx ON chunks USING hnsw (embedding vector_cosine_ops)`,
	}
}

type PGVectorStore struct {
	handle *Handle
	dim    int
	tracer trace.Tracer
}

func New(handle *Handle, dim int) *PGVectorStore {
	return &PGVectorStore{handle: handle, dim: dim, tracer: otel.Tracer("ragready/vectorstore")}
}

// EnsureSchema creates the table and indexes and checks that an existing
// table was created with the configured dimension.
func (s *PGVectorStore) EnsureSchema(ctx context.Context) error {
	pool, err := s.handle.Pool(ctx)
	if err != nil {
		return err
	}
	for _, stmt := range Schema(s.dim) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("vector schema: %w", err)
		}
	}
	var typmod int
	err = pool.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'chunks'::regclass AND attname = 'embedding'`).Scan(&typmod)
	if err != nil {
		return fmt.Errorf("read embedding dimension: %w", err)
	}
	if typmod != s.dim {
		return apperr.Config("vector schema", fmt.Sprintf("chunks.embedding has dimension %d, EMBED_DIM is %d", typmod, s.dim))
	}
	return nil
}

func (s *PGVectorStore) checkDim(op string, v []float32) error {
	if len(v) != s.dim {
		return apperr.Config(op, fmt.Sprintf("embedding dimension %d does not match configured %d", len(v), s.dim))
	}
	return nil
}

// upsertChunk overwrites a row left by a concurrent or replayed write of
// the same chunk id instead of aborting the batch.
const upsertChunk = `
	INSERT INTO chunks (chunk_id, doc_id, tenant_id, dataset_id, filename, page, chunk_index, text,
		content_hash, embedding_model, doc_type, discipline, section_reference, standards_referenced, embedding)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (chunk_id) DO UPDATE SET
		doc_id = EXCLUDED.doc_id,
		tenant_id = EXCLUDED.tenant_id,
		dataset_id = EXCLUDED.dataset_id,
		filename = EXCLUDED.filename,
		page = EXCLUDED.page,
		chunk_index = EXCLUDED.chunk_index,
		text = EXCLUDED.text,
		content_hash = EXCLUDED.content_hash,
		embedding_model = EXCLUDED.embedding_model,
		doc_type = EXCLUDED.doc_type,
		discipline = EXCLUDED.discipline,
		section_reference = EXCLUDED.section_reference,
		standards_referenced = EXCLUDED.standards_referenced,
		embedding = EXCLUDED.embedding`

func (s *PGVectorStore) ReplaceDocument(ctx context.Context, tenantID, datasetID, docID string, chunks []models.Chunk) error {
	ctx, span := s.tracer.Start(ctx, "vectorstore.ReplaceDocument", trace.WithAttributes(
		attribute.String("doc_id", docID), attribute.Int("chunks", len(chunks))))
	defer span.End()

	if tenantID == "" || datasetID == "" {
		return apperr.Invalid("replace document", "tenant and dataset are required")
	}
	for _, c := range chunks {
		if err := s.checkDim("replace document", c.Embedding); err != nil {
			return err
		}
		if c.TenantID != tenantID || c.DatasetID != datasetID || c.DocID != docID {
			return apperr.Invalid("replace document", "chunk "+c.ChunkID+" is outside the document scope")
		}
	}

	pool, err := s.handle.Pool(ctx)
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return apperr.Transient("replace document", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE tenant_id = $1 AND dataset_id = $2 AND doc_id = $3`,
		tenantID, datasetID, docID); err != nil {
		return apperr.Transient("replace document", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(upsertChunk, c.ChunkID, c.DocID, c.TenantID, c.DatasetID, c.Filename, c.Page, c.ChunkIndex, c.Text,
			c.ContentHash, c.EmbeddingModel, c.DocType, c.Discipline, c.SectionReference, c.StandardsReferenced,
			pgvector.NewVector(c.Embedding))
	}
	br := tx.SendBatch(ctx, batch)
	for range chunks {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return apperr.Transient("insert chunk", err)
		}
	}
	if err := br.Close(); err != nil {
		return apperr.Transient("insert chunks", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Transient("commit chunks", err)
	}
	return nil
}

func (s *PGVectorStore) Search(ctx context.Context, tenantID, datasetID string, query []float32, topK int) ([]models.SearchHit, error) {
	ctx, span := s.tracer.Start(ctx, "vectorstore.Search", trace.WithAttributes(attribute.Int("top_k", topK)))
	defer span.End()

	if tenantID == "" || datasetID == "" {
		return nil, apperr.Invalid("search", "tenant and dataset are required")
	}
	if err := s.checkDim("search", query); err != nil {
		return nil, err
	}
	pool, err := s.handle.Pool(ctx)
	if err != nil {
		return nil, err
	}

	const q = `
		SELECT chunk_id, doc_id, filename, page, text, doc_type, discipline, section_reference,
			standards_referenced, 1 - (embedding <=> $3) AS score
		FROM chunks
		WHERE tenant_id = $1 AND dataset_id = $2
		ORDER BY embedding <=> $3, chunk_id
		LIMIT $4`
	rows, err := pool.Query(ctx, q, tenantID, datasetID, pgvector.NewVector(query), topK)
	if err != nil {
		return nil, searchErr(ctx, err)
	}
	defer rows.Close()

	var hits []models.SearchHit
	for rows.Next() {
		var h models.SearchHit
		if err := rows.Scan(&h.ChunkID, &h.DocID, &h.Filename, &h.Page, &h.Text, &h.Metadata.DocType,
			&h.Metadata.Discipline, &h.Metadata.SectionReference, &h.Metadata.StandardsReferenced, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, searchErr(ctx, err)
	}
	return hits, nil
}

func searchErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Timeout("search", err)
	}
	return apperr.Transient("search", err)
}

func (s *PGVectorStore) CountDocument(ctx context.Context, tenantID, datasetID, docID string) (int, error) {
	pool, err := s.handle.Pool(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	err = pool.QueryRow(ctx, `SELECT count(*) FROM chunks WHERE tenant_id = $1 AND dataset_id = $2 AND doc_id = $3`,
		tenantID, datasetID, docID).Scan(&n)
	if err != nil {
		return 0, apperr.Transient("count document", err)
	}
	return n, nil
}
