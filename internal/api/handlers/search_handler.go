package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/ragready/internal/core/retrieval"
	"github.com/markdave123-py/ragready/internal/logger"
	"github.com/markdave123-py/ragready/internal/models"
)

// Searcher is satisfied by *retrieval.Retriever.
type Searcher interface {
	Search(ctx context.Context, tenantID, datasetID, query string, topK int) ([]models.SearchHit, error)
}

type SearchHandler struct {
	datasets DatasetReader
	search   Searcher
	log      *logger.Logger
}

func NewSearchHandler(datasets DatasetReader, search Searcher, log *logger.Logger) *SearchHandler {
	return &SearchHandler{datasets: datasets, search: search, log: log}
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// Search handles POST /api/datasets/{datasetID}/search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOf(w, r)
	if !ok {
		return
	}
	datasetID := chi.URLParam(r, "datasetID")
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if _, err := h.datasets.Get(r.Context(), tenantID, datasetID); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	hits, err := h.search.Search(r.Context(), tenantID, datasetID, req.Query, req.TopK)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if hits == nil {
		hits = []models.SearchHit{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"top_k": retrieval.ClampTopK(req.TopK),
		"hits":  hits,
	})
}
