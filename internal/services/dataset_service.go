package services

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/core"
	objectclient "github.com/markdave123-py/ragready/internal/core/object-client"
	"github.com/markdave123-py/ragready/internal/logger"
	"github.com/markdave123-py/ragready/internal/models"
)

type DatasetService struct {
	store     core.MetadataStore
	storage   core.ObjectClient
	rawBucket string
	log       *logger.Logger
}

func NewDatasetService(store core.MetadataStore, storage core.ObjectClient, rawBucket string, log *logger.Logger) *DatasetService {
	if log == nil {
		log = logger.Nop()
	}
	return &DatasetService{store: store, storage: storage, rawBucket: rawBucket, log: log}
}

// FileStatus is a file with the job that last ran for it.
type FileStatus struct {
	models.File
	LatestJob *models.Job `json:"latest_job,omitempty"`
}

type DatasetStatus struct {
	models.Dataset
	Files []FileStatus `json:"files"`
}

func (s *DatasetService) Create(ctx context.Context, tenantID, name string) (*models.Dataset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Invalid("create dataset", "name is required")
	}
	ds := &models.Dataset{ID: uuid.NewString(), TenantID: tenantID, Name: name, Status: models.DatasetPending}
	if err := s.store.CreateDataset(ctx, ds); err != nil {
		return nil, err
	}
	s.log.Info("dataset created", "tenant_id", tenantID, "dataset_id", ds.ID)
	return ds, nil
}

// Get returns the dataset owned by tenantID. Another tenant's dataset is
// reported as missing.
func (s *DatasetService) Get(ctx context.Context, tenantID, datasetID string) (*models.Dataset, error) {
	ds, err := s.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if ds == nil || ds.TenantID != tenantID {
		return nil, apperr.NotFound("get dataset", "dataset "+datasetID+" not found")
	}
	return ds, nil
}

func (s *DatasetService) Status(ctx context.Context, tenantID, datasetID string) (*DatasetStatus, error) {
	ds, err := s.Get(ctx, tenantID, datasetID)
	if err != nil {
		return nil, err
	}
	files, err := s.store.ListFiles(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	out := &DatasetStatus{Dataset: *ds, Files: make([]FileStatus, 0, len(files))}
	for _, f := range files {
		fs := FileStatus{File: f}
		if f.LatestJobID != "" {
			job, err := s.store.GetJob(ctx, f.LatestJobID)
			if err != nil {
				return nil, fmt.Errorf("get job %s: %w", f.LatestJobID, err)
			}
			fs.LatestJob = job
		}
		out.Files = append(out.Files, fs)
	}
	return out, nil
}

// RegisterFile stores the raw upload under its raw key and records a
// PENDING file. Processing starts from the storage upload event.
func (s *DatasetService) RegisterFile(ctx context.Context, tenantID, datasetID, filename, contentType string, data []byte) (*models.File, error) {
	if _, err := s.Get(ctx, tenantID, datasetID); err != nil {
		return nil, err
	}
	filename = cleanFilename(filename)
	if filename == "" {
		return nil, apperr.Invalid("register file", "filename is required")
	}
	if len(data) == 0 {
		return nil, apperr.Invalid("register file", "file is empty")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	f := &models.File{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		DatasetID:   datasetID,
		Filename:    filename,
		ContentType: contentType,
		Status:      models.StatusPending,
	}
	f.RawKey = objectclient.RawKey{TenantID: tenantID, DatasetID: datasetID, FileID: f.ID, Filename: filename}.String()

	// the record must exist before the object, since the upload event looks it up
	if err := s.store.CreateFile(ctx, f); err != nil {
		return nil, err
	}
	if _, err := s.storage.UploadFile(ctx, s.rawBucket, f.RawKey, data, contentType); err != nil {
		_ = s.store.SetFileStatus(ctx, f.ID, models.StatusFailed)
		return nil, apperr.Transient("upload raw object", err)
	}
	s.log.Info("file registered", "tenant_id", tenantID, "dataset_id", datasetID, "file_id", f.ID,
		"raw_key", f.RawKey, "bytes", len(data))
	return f, nil
}

func cleanFilename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = path.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	return name
}
