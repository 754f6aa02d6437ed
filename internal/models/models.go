package models

import (
	"time"
)

type DatasetStatus string

const (
	DatasetPending    DatasetStatus = "PENDING"
	DatasetProcessing DatasetStatus = "PROCESSING"
	DatasetReady      DatasetStatus = "READY"
	DatasetFailed     DatasetStatus = "FAILED"
)

// Status is shared by files and jobs.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusRunning  Status = "RUNNING"
	StatusComplete Status = "COMPLETE"
	StatusFailed   Status = "FAILED"
)

func (s Status) Terminal() bool { return s == StatusComplete || s == StatusFailed }

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityWarn     Severity = "WARN"
	SeverityInfo     Severity = "INFO"
)

// Dataset groups files of one tenant; chat is gated on its status.
type Dataset struct {
	ID        string        `db:"id" json:"id"`
	TenantID  string        `db:"tenant_id" json:"tenant_id"`
	Name      string        `db:"name" json:"name"`
	Status    DatasetStatus `db:"status" json:"status"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// File is one uploaded document.
type File struct {
	ID          string    `db:"id" json:"id"`
	TenantID    string    `db:"tenant_id" json:"tenant_id"`
	DatasetID   string    `db:"dataset_id" json:"dataset_id"`
	Filename    string    `db:"filename" json:"filename"`
	ContentType string    `db:"content_type" json:"content_type"`
	RawKey      string    `db:"raw_key" json:"raw_key"`
	ContentHash string    `db:"content_hash" json:"content_hash,omitempty"`
	Simhash     string    `db:"simhash" json:"simhash,omitempty"`
	Status      Status    `db:"status" json:"status"`
	LatestJobID string    `db:"latest_job_id" json:"latest_job_id,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Artifacts are object-storage keys written by the pipeline stages.
type Artifacts struct {
	ExtractedText      string `json:"extracted_text,omitempty"`
	NormalizedDocument string `json:"normalized_document,omitempty"`
	QualityReport      string `json:"quality_report,omitempty"`
	Chunks             string `json:"chunks,omitempty"`
	Manifest           string `json:"manifest,omitempty"`
}

// Job is one pipeline execution attempt. Immutable once terminal.
type Job struct {
	ID             string    `db:"id" json:"id"`
	TenantID       string    `db:"tenant_id" json:"tenant_id"`
	FileID         string    `db:"file_id" json:"file_id"`
	DatasetID      string    `db:"dataset_id" json:"dataset_id"`
	ContentHash    string    `db:"content_hash" json:"content_hash,omitempty"`
	Status         Status    `db:"status" json:"status"`
	Stage          string    `db:"stage" json:"stage,omitempty"`
	ReadinessScore *int      `db:"readiness_score" json:"readiness_score,omitempty"`
	ChunkCount     int       `db:"chunk_count" json:"chunk_count"`
	Artifacts      Artifacts `db:"artifacts" json:"artifacts"`
	ErrorMessage   string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

type Finding struct {
	Type           string   `json:"type"`
	Severity       Severity `json:"severity"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation,omitempty"`
}

type TextStats struct {
	Chars             int     `json:"chars"`
	Words             int     `json:"words"`
	Pages             int     `json:"pages"`
	DistinctPages     int     `json:"distinct_pages"`
	NonAlphaRatio     float64 `json:"non_alpha_ratio"`
	RepeatedLineRatio float64 `json:"repeated_line_ratio"`
	Simhash           string  `json:"simhash"`
}

// QualityReport is produced once per job and never mutated.
type QualityReport struct {
	JobID    string    `json:"job_id"`
	FileID   string    `json:"file_id"`
	Score    int       `json:"score"`
	Findings []Finding `json:"findings"`
	Stats    TextStats `json:"stats"`
}

// Chunk is the unit of embedding and retrieval.
type Chunk struct {
	ChunkID             string    `json:"chunk_id"`
	DocID               string    `json:"doc_id"`
	TenantID            string    `json:"tenant_id"`
	DatasetID           string    `json:"dataset_id"`
	Filename            string    `json:"filename"`
	Page                *int      `json:"page,omitempty"`
	ChunkIndex          int       `json:"chunk_index"`
	Text                string    `json:"text"`
	ContentHash         string    `json:"content_hash"`
	EmbeddingModel      string    `json:"embedding_model,omitempty"`
	DocType             string    `json:"doc_type,omitempty"`
	Discipline          string    `json:"discipline,omitempty"`
	SectionReference    string    `json:"section_reference,omitempty"`
	StandardsReferenced []string  `json:"standards_referenced,omitempty"`
	Embedding           []float32 `json:"-"`
}

// DomainMetadata is the construction metadata returned with search hits.
type DomainMetadata struct {
	DocType             string   `json:"doc_type,omitempty"`
	Discipline          string   `json:"discipline,omitempty"`
	SectionReference    string   `json:"section_reference,omitempty"`
	StandardsReferenced []string `json:"standards_referenced,omitempty"`
}

type SearchHit struct {
	ChunkID  string         `json:"chunk_id"`
	DocID    string         `json:"doc_id"`
	Filename string         `json:"filename"`
	Page     *int           `json:"page,omitempty"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata DomainMetadata `json:"domain_metadata"`
}

type Conversation struct {
	ID        string    `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	DatasetID string    `db:"dataset_id" json:"dataset_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Citation struct {
	SourceID string  `json:"source_id"`
	ChunkID  string  `json:"chunk_id"`
	DocID    string  `json:"doc_id"`
	Filename string  `json:"filename"`
	Page     *int    `json:"page,omitempty"`
	Score    float64 `json:"score"`
}

// Message is one turn of a conversation. Seq orders the history.
type Message struct {
	ID             string     `db:"id" json:"id"`
	ConversationID string     `db:"conversation_id" json:"conversation_id"`
	Seq            int        `db:"seq" json:"seq"`
	Role           string     `db:"role" json:"role"` // "user" or "assistant"
	Content        string     `db:"content" json:"content"`
	Citations      []Citation `db:"citations" json:"citations,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

type AuditEvent struct {
	ID        string            `db:"id" json:"id"`
	TenantID  string            `db:"tenant_id" json:"tenant_id"`
	DatasetID string            `db:"dataset_id" json:"dataset_id"`
	FileID    string            `db:"file_id" json:"file_id"`
	JobID     string            `db:"job_id" json:"job_id,omitempty"`
	Type      string            `db:"type" json:"type"`
	Detail    map[string]string `db:"detail" json:"detail,omitempty"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
}

const (
	AuditJobStarted   = "JOB_STARTED"
	AuditJobCompleted = "JOB_COMPLETED"
	AuditJobFailed    = "JOB_FAILED"
	AuditDedupLinked  = "DEDUP_LINKED"
	AuditEventSkipped = "EVENT_SKIPPED"
)

// DedupEntry maps a tenant-scoped content hash to the job that processed it.
type DedupEntry struct {
	TenantID    string `json:"tenant_id"`
	ContentHash string `json:"content_hash"`
	DatasetID   string `json:"dataset_id"`
	FileID      string `json:"file_id"`
	JobID       string `json:"job_id"`
}

// Fingerprint is a file's simhash, compared for near-duplicate detection.
type Fingerprint struct {
	FileID  string
	Simhash string
}
