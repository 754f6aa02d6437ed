package pipeline

import (
	"github.com/markdave123-py/ragready/internal/models"
)

// Payload is the only state that travels between stages. It holds
// identifiers and artifact keys, never document content, so any worker can
// pick up any stage.
type Payload struct {
	TenantID    string `json:"tenant_id"`
	DatasetID   string `json:"dataset_id"`
	FileID      string `json:"file_id"`
	JobID       string `json:"job_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	RawBucket   string `json:"raw_bucket"`
	RawKey      string `json:"raw_key"`

	ContentHash string `json:"content_hash"`
	// DuplicateOf is another file of the tenant with the same bytes that was
	// processed in a different dataset.
	DuplicateOf string `json:"duplicate_of,omitempty"`

	Artifacts      models.Artifacts `json:"artifacts"`
	ReadinessScore *int             `json:"readiness_score,omitempty"`
	ChunkCount     int              `json:"chunk_count"`
	DocType        string           `json:"doc_type,omitempty"`
	ChunkWarnings  []models.Finding `json:"chunk_warnings,omitempty"`

	FailedStage Stage  `json:"failed_stage,omitempty"`
	Error       string `json:"error,omitempty"`
}

// DocID is the vector-table document id. It is the file id so a re-upload
// with new content replaces the previous chunks of that file.
func (p *Payload) DocID() string { return p.FileID }

func (p *Payload) logFields(stage Stage) []interface{} {
	return []interface{}{
		"tenant_id", p.TenantID,
		"dataset_id", p.DatasetID,
		"file_id", p.FileID,
		"job_id", p.JobID,
		"stage", string(stage),
	}
}
