package core

import (
	"context"
	"io"

	"github.com/markdave123-py/ragready/internal/models"
)

// MetadataStore is the record store for datasets, files, jobs, audit events
// and conversations. Lookups of missing rows return (nil, nil).
type MetadataStore interface {
	CreateDataset(ctx context.Context, ds *models.Dataset) error
	GetDataset(ctx context.Context, id string) (*models.Dataset, error)
	SetDatasetStatus(ctx context.Context, id string, status models.DatasetStatus) error

	CreateFile(ctx context.Context, f *models.File) error
	GetFile(ctx context.Context, id string) (*models.File, error)
	ListFiles(ctx context.Context, datasetID string) ([]models.File, error)
	SetFileStatus(ctx context.Context, id string, status models.Status) error
	SetFileSimhash(ctx context.Context, id, simhash string) error
	// ClaimFile points the file at newJobID and records contentHash if its
	// latest job is still expectedJobID and it is not RUNNING. Reports
	// whether the claim won.
	ClaimFile(ctx context.Context, id, expectedJobID, newJobID, contentHash string) (bool, error)
	// LinkFile attaches an existing COMPLETE job to a file.
	LinkFile(ctx context.Context, id, jobID, contentHash string) error
	ListFingerprints(ctx context.Context, tenantID, datasetID string) ([]models.Fingerprint, error)

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	// UpdateJob overwrites a job. Fails with apperr.ErrJobTerminal when the
	// stored row is already COMPLETE or FAILED.
	UpdateJob(ctx context.Context, job *models.Job) error
	HasCompleteJob(ctx context.Context, datasetID string) (bool, error)
	// FindCompleteJobByHash returns a COMPLETE job for the hash that is still
	// its file's latest job. A match in datasetID is preferred.
	FindCompleteJobByHash(ctx context.Context, tenantID, datasetID, contentHash string) (*models.Job, error)

	AppendAudit(ctx context.Context, ev *models.AuditEvent) error

	CreateConversation(ctx context.Context, c *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	AppendMessage(ctx context.Context, m *models.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
	GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// VectorStore is the only writer of vector rows. Every call is scoped by
// (tenantID, datasetID).
type VectorStore interface {
	// ReplaceDocument removes every row of docID and writes chunks in one
	// transaction: either all chunks are visible afterwards or none are.
	ReplaceDocument(ctx context.Context, tenantID, datasetID, docID string, chunks []models.Chunk) error
	Search(ctx context.Context, tenantID, datasetID string, query []float32, topK int) ([]models.SearchHit, error)
	CountDocument(ctx context.Context, tenantID, datasetID, docID string) (int, error)
}

// DedupIndex maps a tenant-scoped raw content hash to a processed file.
// Lookup prefers an entry recorded in datasetID over one from another
// dataset of the tenant. Record replaces older entries for the same hash.
type DedupIndex interface {
	Lookup(ctx context.Context, tenantID, datasetID, contentHash string) (*models.DedupEntry, error)
	Record(ctx context.Context, entry models.DedupEntry) error
}
