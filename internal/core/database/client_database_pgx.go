package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/core"
	"github.com/markdave123-py/ragready/internal/logger"
	"github.com/markdave123-py/ragready/internal/models"
)

var _ core.MetadataStore = (*DatabaseClient)(nil)

type DatabaseClient struct {
	db *sql.DB
}

// WithSSLRoot points the DSN at a CA bundle with sslmode=verify-ca.
func WithSSLRoot(dsn, certPath string) (string, error) {
	if certPath == "" {
		return dsn, nil
	}
	if _, err := os.Stat(certPath); err != nil {
		return "", fmt.Errorf("ssl cert not accessible at %q: %w", certPath, err)
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid database url: %w", err)
	}
	q := u.Query()
	q.Set("sslmode", "verify-ca")
	q.Set("sslrootcert", certPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func NewDatabaseClient(ctx context.Context, dsn string, log *logger.Logger) (*DatabaseClient, error) {
	if dsn == "" {
		return nil, apperr.Config("database", "database url is empty")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db, log); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// transient classifies a driver error. Constraint violations are caller
// errors; everything else is assumed to be a connectivity problem.
func transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return apperr.Wrap(apperr.KindConflict, op, err)
		case "23503":
			return apperr.Wrap(apperr.KindNotFound, op, err)
		}
	}
	return apperr.Transient(op, err)
}

// Datasets

func (c *DatabaseClient) CreateDataset(ctx context.Context, ds *models.Dataset) error {
	if ds == nil {
		return errors.New("nil dataset")
	}
	if ds.Status == "" {
		ds.Status = models.DatasetPending
	}
	const q = `
		INSERT INTO datasets (id, tenant_id, name, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	return transient("create dataset", c.db.QueryRowContext(ctx, q, ds.ID, ds.TenantID, ds.Name, ds.Status).
		Scan(&ds.CreatedAt, &ds.UpdatedAt))
}

func (c *DatabaseClient) GetDataset(ctx context.Context, id string) (*models.Dataset, error) {
	const q = `
		SELECT id, tenant_id, name, status, created_at, updated_at
		FROM datasets WHERE id = $1
	`
	var d models.Dataset
	err := c.db.QueryRowContext(ctx, q, id).Scan(&d.ID, &d.TenantID, &d.Name, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, transient("get dataset", err)
	}
	return &d, nil
}

func (c *DatabaseClient) SetDatasetStatus(ctx context.Context, id string, status models.DatasetStatus) error {
	const q = `UPDATE datasets SET status = $2, updated_at = now() WHERE id = $1`
	return c.execOne(ctx, "set dataset status", "dataset "+id, q, id, status)
}

// Files

const fileColumns = `id, tenant_id, dataset_id, filename, content_type, raw_key, content_hash, simhash, status, latest_job_id, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*models.File, error) {
	var f models.File
	err := s.Scan(&f.ID, &f.TenantID, &f.DatasetID, &f.Filename, &f.ContentType, &f.RawKey,
		&f.ContentHash, &f.Simhash, &f.Status, &f.LatestJobID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *DatabaseClient) CreateFile(ctx context.Context, f *models.File) error {
	if f == nil {
		return errors.New("nil file")
	}
	if f.Status == "" {
		f.Status = models.StatusPending
	}
	const q = `
		INSERT INTO files (id, tenant_id, dataset_id, filename, content_type, raw_key, content_hash, status, latest_job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	return transient("create file", c.db.QueryRowContext(ctx, q,
		f.ID, f.TenantID, f.DatasetID, f.Filename, f.ContentType, f.RawKey, f.ContentHash, f.Status, f.LatestJobID).
		Scan(&f.CreatedAt, &f.UpdatedAt))
}

func (c *DatabaseClient) GetFile(ctx context.Context, id string) (*models.File, error) {
	f, err := scanFile(c.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, transient("get file", err)
	}
	return f, nil
}

func (c *DatabaseClient) ListFiles(ctx context.Context, datasetID string) ([]models.File, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files WHERE dataset_id = $1 ORDER BY created_at, id`, datasetID)
	if err != nil {
		return nil, transient("list files", err)
	}
	defer rows.Close()

	var out []models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) SetFileStatus(ctx context.Context, id string, status models.Status) error {
	const q = `UPDATE files SET status = $2, updated_at = now() WHERE id = $1`
	return c.execOne(ctx, "set file status", "file "+id, q, id, status)
}

func (c *DatabaseClient) SetFileSimhash(ctx context.Context, id, simhash string) error {
	const q = `UPDATE files SET simhash = $2, updated_at = now() WHERE id = $1`
	return c.execOne(ctx, "set file simhash", "file "+id, q, id, simhash)
}

func (c *DatabaseClient) ClaimFile(ctx context.Context, id, expectedJobID, newJobID, contentHash string) (bool, error) {
	const q = `
		UPDATE files
		SET latest_job_id = $3, content_hash = $4, status = 'PENDING', updated_at = now()
		WHERE id = $1 AND latest_job_id = $2 AND status <> 'RUNNING'
	`
	res, err := c.db.ExecContext(ctx, q, id, expectedJobID, newJobID, contentHash)
	if err != nil {
		return false, transient("claim file", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}
	f, err := c.GetFile(ctx, id)
	if err != nil {
		return false, err
	}
	if f == nil {
		return false, apperr.NotFound("claim file", "file "+id+" not found")
	}
	return false, nil
}

func (c *DatabaseClient) LinkFile(ctx context.Context, id, jobID, contentHash string) error {
	const q = `
		UPDATE files
		SET latest_job_id = $2, content_hash = $3, status = 'COMPLETE', updated_at = now()
		WHERE id = $1
	`
	return c.execOne(ctx, "link file", "file "+id, q, id, jobID, contentHash)
}

func (c *DatabaseClient) ListFingerprints(ctx context.Context, tenantID, datasetID string) ([]models.Fingerprint, error) {
	const q = `
		SELECT id, simhash FROM files
		WHERE tenant_id = $1 AND dataset_id = $2 AND simhash <> ''
		ORDER BY id
	`
	rows, err := c.db.QueryContext(ctx, q, tenantID, datasetID)
	if err != nil {
		return nil, transient("list fingerprints", err)
	}
	defer rows.Close()

	var out []models.Fingerprint
	for rows.Next() {
		var fp models.Fingerprint
		if err := rows.Scan(&fp.FileID, &fp.Simhash); err != nil {
			return nil, err
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}

// Jobs

const jobColumns = `id, tenant_id, file_id, dataset_id, content_hash, status, stage, readiness_score, chunk_count, artifacts, error_message, created_at, updated_at`

func scanJob(s scanner) (*models.Job, error) {
	var (
		j         models.Job
		score     sql.NullInt64
		artifacts []byte
	)
	err := s.Scan(&j.ID, &j.TenantID, &j.FileID, &j.DatasetID, &j.ContentHash, &j.Status, &j.Stage,
		&score, &j.ChunkCount, &artifacts, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if score.Valid {
		v := int(score.Int64)
		j.ReadinessScore = &v
	}
	if len(artifacts) > 0 {
		if err := json.Unmarshal(artifacts, &j.Artifacts); err != nil {
			return nil, fmt.Errorf("decode artifacts of job %s: %w", j.ID, err)
		}
	}
	return &j, nil
}

func nullScore(score *int) sql.NullInt64 {
	if score == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*score), Valid: true}
}

func (c *DatabaseClient) CreateJob(ctx context.Context, job *models.Job) error {
	if job == nil {
		return errors.New("nil job")
	}
	if job.Status == "" {
		job.Status = models.StatusPending
	}
	artifacts, err := json.Marshal(job.Artifacts)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO jobs (id, tenant_id, file_id, dataset_id, content_hash, status, stage, readiness_score, chunk_count, artifacts, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`
	return transient("create job", c.db.QueryRowContext(ctx, q,
		job.ID, job.TenantID, job.FileID, job.DatasetID, job.ContentHash, job.Status, job.Stage,
		nullScore(job.ReadinessScore), job.ChunkCount, string(artifacts), job.ErrorMessage).
		Scan(&job.CreatedAt, &job.UpdatedAt))
}

func (c *DatabaseClient) GetJob(ctx context.Context, id string) (*models.Job, error) {
	j, err := scanJob(c.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, transient("get job", err)
	}
	return j, nil
}

// UpdateJob only touches rows that are not yet terminal, which keeps
// COMPLETE and FAILED jobs immutable even under concurrent writers.
func (c *DatabaseClient) UpdateJob(ctx context.Context, job *models.Job) error {
	artifacts, err := json.Marshal(job.Artifacts)
	if err != nil {
		return err
	}
	const q = `
		UPDATE jobs
		SET status = $2, stage = $3, readiness_score = $4, chunk_count = $5, artifacts = $6,
		    error_message = $7, content_hash = $8, updated_at = now()
		WHERE id = $1 AND status NOT IN ('COMPLETE', 'FAILED')
		RETURNING updated_at
	`
	err = c.db.QueryRowContext(ctx, q, job.ID, job.Status, job.Stage, nullScore(job.ReadinessScore),
		job.ChunkCount, string(artifacts), job.ErrorMessage, job.ContentHash).Scan(&job.UpdatedAt)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return transient("update job", err)
	}
	cur, err := c.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}
	if cur == nil {
		return apperr.NotFound("update job", "job "+job.ID+" not found")
	}
	return apperr.ErrJobTerminal
}

func (c *DatabaseClient) HasCompleteJob(ctx context.Context, datasetID string) (bool, error) {
	var ok bool
	err := c.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM jobs WHERE dataset_id = $1 AND status = 'COMPLETE')`, datasetID).Scan(&ok)
	return ok, transient("has complete job", err)
}

func (c *DatabaseClient) FindCompleteJobByHash(ctx context.Context, tenantID, datasetID, contentHash string) (*models.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs
		WHERE tenant_id = $1 AND content_hash = $2 AND status = 'COMPLETE'
		  AND EXISTS (SELECT 1 FROM files f WHERE f.id = jobs.file_id AND f.latest_job_id = jobs.id)
		ORDER BY (dataset_id = $3) DESC, updated_at DESC, id
		LIMIT 1`
	j, err := scanJob(c.db.QueryRowContext(ctx, q, tenantID, contentHash, datasetID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, transient("find job by hash", err)
	}
	return j, nil
}

// Audit

func (c *DatabaseClient) AppendAudit(ctx context.Context, ev *models.AuditEvent) error {
	detail, err := json.Marshal(ev.Detail)
	if err != nil {
		return err
	}
	if ev.Detail == nil {
		detail = []byte("{}")
	}
	const q = `
		INSERT INTO audit_events (id, tenant_id, dataset_id, file_id, job_id, type, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	return transient("append audit", c.db.QueryRowContext(ctx, q,
		ev.ID, ev.TenantID, ev.DatasetID, ev.FileID, ev.JobID, ev.Type, string(detail)).Scan(&ev.CreatedAt))
}

// Conversations

func (c *DatabaseClient) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	const q = `
		INSERT INTO conversations (id, tenant_id, dataset_id)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`
	return transient("create conversation", c.db.QueryRowContext(ctx, q, conv.ID, conv.TenantID, conv.DatasetID).
		Scan(&conv.CreatedAt))
}

func (c *DatabaseClient) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := c.db.QueryRowContext(ctx, `SELECT id, tenant_id, dataset_id, created_at FROM conversations WHERE id = $1`, id).
		Scan(&conv.ID, &conv.TenantID, &conv.DatasetID, &conv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, transient("get conversation", err)
	}
	return &conv, nil
}

func (c *DatabaseClient) AppendMessage(ctx context.Context, m *models.Message) error {
	citations, err := json.Marshal(m.Citations)
	if err != nil {
		return err
	}
	if m.Citations == nil {
		citations = []byte("[]")
	}
	const q = `
		INSERT INTO messages (id, conversation_id, seq, role, content, citations)
		SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5
		FROM messages WHERE conversation_id = $2
		RETURNING seq, created_at
	`
	err = c.db.QueryRowContext(ctx, q, m.ID, m.ConversationID, m.Role, m.Content, string(citations)).
		Scan(&m.Seq, &m.CreatedAt)
	return transient("append message", err)
}

func (c *DatabaseClient) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	const q = `
		SELECT id, conversation_id, seq, role, content, citations, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY seq ASC
	`
	rows, err := c.db.QueryContext(ctx, q, conversationID)
	if err != nil {
		return nil, transient("list messages", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var (
			m         models.Message
			citations []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.Role, &m.Content, &citations, &m.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(citations, &m.Citations); err != nil {
			return nil, fmt.Errorf("decode citations of message %s: %w", m.ID, err)
		}
		if len(m.Citations) == 0 {
			m.Citations = nil
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) execOne(ctx context.Context, op, what, q string, args ...any) error {
	res, err := c.db.ExecContext(ctx, q, args...)
	if err != nil {
		return transient(op, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound(op, what+" not found")
	}
	return nil
}
