package memstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/core"
	"github.com/markdave123-py/ragready/internal/models"
)

var _ core.VectorStore = (*VectorStore)(nil)

// VectorStore is a brute-force cosine index. Rows live under their
// (tenant, dataset) scope; a search never looks outside its scope.
type VectorStore struct {
	mu     sync.RWMutex
	dim    int
	scopes map[string]map[string][]models.Chunk // scope -> doc -> chunks
}

func NewVectorStore(dim int) *VectorStore {
	return &VectorStore{dim: dim, scopes: map[string]map[string][]models.Chunk{}}
}

func scopeKey(tenantID, datasetID string) string { return tenantID + "\x00" + datasetID }

func (s *VectorStore) ReplaceDocument(_ context.Context, tenantID, datasetID, docID string, chunks []models.Chunk) error {
	if tenantID == "" || datasetID == "" {
		return apperr.Invalid("replace document", "tenant and dataset are required")
	}
	rows := make([]models.Chunk, len(chunks))
	for i, c := range chunks {
		if s.dim > 0 && len(c.Embedding) != s.dim {
			return apperr.Config("replace document", "embedding dimension does not match the index")
		}
		c.TenantID, c.DatasetID, c.DocID = tenantID, datasetID, docID
		rows[i] = c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	scope := s.scopes[scopeKey(tenantID, datasetID)]
	if scope == nil {
		scope = map[string][]models.Chunk{}
		s.scopes[scopeKey(tenantID, datasetID)] = scope
	}
	if len(rows) == 0 {
		delete(scope, docID)
		return nil
	}
	scope[docID] = rows
	return nil
}

func (s *VectorStore) Search(_ context.Context, tenantID, datasetID string, query []float32, topK int) ([]models.SearchHit, error) {
	if tenantID == "" || datasetID == "" {
		return nil, apperr.Invalid("search", "tenant and dataset are required")
	}
	if s.dim > 0 && len(query) != s.dim {
		return nil, apperr.Config("search", "query dimension does not match the index")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []models.SearchHit
	for _, rows := range s.scopes[scopeKey(tenantID, datasetID)] {
		for _, c := range rows {
			hits = append(hits, models.SearchHit{
				ChunkID:  c.ChunkID,
				DocID:    c.DocID,
				Filename: c.Filename,
				Page:     c.Page,
				Text:     c.Text,
				Score:    cosine(query, c.Embedding),
				Metadata: models.DomainMetadata{
					DocType:             c.DocType,
					Discipline:          c.Discipline,
					SectionReference:    c.SectionReference,
					StandardsReferenced: c.StandardsReferenced,
				},
			})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].ChunkID < hits[j].ChunkID
		}
		return hits[i].Score > hits[j].Score
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *VectorStore) CountDocument(_ context.Context, tenantID, datasetID, docID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.scopes[scopeKey(tenantID, datasetID)][docID]), nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
