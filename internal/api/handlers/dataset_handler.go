package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/logger"
	"github.com/markdave123-py/ragready/internal/models"
	"github.com/markdave123-py/ragready/internal/services"
)

const maxUploadBytes = 100 << 20

// DatasetReader is the ownership check shared by the dataset-scoped routes.
type DatasetReader interface {
	Get(ctx context.Context, tenantID, datasetID string) (*models.Dataset, error)
}

// DatasetManager is satisfied by *services.DatasetService.
type DatasetManager interface {
	DatasetReader
	Create(ctx context.Context, tenantID, name string) (*models.Dataset, error)
	Status(ctx context.Context, tenantID, datasetID string) (*services.DatasetStatus, error)
	RegisterFile(ctx context.Context, tenantID, datasetID, filename, contentType string, data []byte) (*models.File, error)
}

type DatasetHandler struct {
	datasets DatasetManager
	log      *logger.Logger
}

func NewDatasetHandler(datasets DatasetManager, log *logger.Logger) *DatasetHandler {
	return &DatasetHandler{datasets: datasets, log: log}
}

// Create handles POST /api/datasets.
func (h *DatasetHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOf(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ds, err := h.datasets.Create(r.Context(), tenantID, req.Name)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, ds)
}

// Status handles GET /api/datasets/{datasetID}.
func (h *DatasetHandler) Status(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOf(w, r)
	if !ok {
		return
	}
	st, err := h.datasets.Status(r.Context(), tenantID, chi.URLParam(r, "datasetID"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// UploadFile handles the multipart POST /api/datasets/{datasetID}/files.
// Processing starts from the storage event, not from this request.
func (h *DatasetHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOf(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, r, h.log, apperr.Invalid("upload", "invalid multipart form"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, h.log, apperr.Invalid("upload", "missing form field \"file\""))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, h.log, apperr.Invalid("upload", "could not read file"))
		return
	}

	f, err := h.datasets.RegisterFile(r.Context(), tenantID, chi.URLParam(r, "datasetID"),
		header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, f)
}
