package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/core"
	objectclient "github.com/markdave123-py/ragready/internal/core/object-client"
	"github.com/markdave123-py/ragready/internal/logger"
	"github.com/markdave123-py/ragready/internal/models"
)

// UploadEvent is one object-created notification for the raw bucket.
type UploadEvent struct {
	Bucket string
	Key    string
}

type Outcome string

const (
	OutcomeStarted Outcome = "STARTED"
	OutcomeLinked  Outcome = "LINKED"
	OutcomeSkipped Outcome = "SKIPPED"
)

type DispatchResult struct {
	Outcome Outcome `json:"outcome"`
	FileID  string  `json:"file_id"`
	JobID   string  `json:"job_id,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

// Dispatcher turns upload events into executions. It is safe to call with
// the same event more than once.
type Dispatcher struct {
	store   core.MetadataStore
	objects core.ObjectClient
	dedup   core.DedupIndex
	runner  Runner
	fail    *FailHandler
	log     *logger.Logger
	now     func() time.Time
	newID   func() string
}

func NewDispatcher(store core.MetadataStore, objects core.ObjectClient, dedup core.DedupIndex, runner Runner, fail *FailHandler, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{
		store: store, objects: objects, dedup: dedup, runner: runner, fail: fail, log: log,
		now: time.Now, newID: uuid.NewString,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev UploadEvent) (*DispatchResult, error) {
	rk, err := objectclient.ParseRawKey(ev.Key)
	if err != nil {
		return nil, err
	}
	file, err := d.store.GetFile(ctx, rk.FileID)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, apperr.NotFound("dispatch", "no file record for "+rk.String())
	}
	if file.TenantID != rk.TenantID || file.DatasetID != rk.DatasetID {
		return nil, apperr.Conflict("dispatch", fmt.Sprintf("key %s does not match file %s ownership", rk.String(), file.ID))
	}
	log := d.log.With("tenant_id", file.TenantID, "dataset_id", file.DatasetID, "file_id", file.ID)

	if file.Status == models.StatusRunning {
		return d.skip(ctx, file, "file is already being processed")
	}

	data, err := d.objects.GetFile(ctx, ev.Bucket, rk.String())
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if file.Status == models.StatusComplete && file.ContentHash == hash {
		return d.skip(ctx, file, "content already processed")
	}

	duplicateOf := ""
	entry, err := d.dedup.Lookup(ctx, file.TenantID, file.DatasetID, hash)
	if err != nil {
		return nil, err
	}
	if entry != nil && entry.FileID != file.ID {
		prior, err := d.liveJob(ctx, entry)
		if err != nil {
			return nil, err
		}
		switch {
		case prior == nil:
			log.Info("dedup entry no longer indexed; reprocessing", "stale_job_id", entry.JobID)
		case prior.DatasetID == file.DatasetID:
			return d.link(ctx, file, prior, hash)
		default:
			duplicateOf = entry.FileID
		}
	}

	job := &models.Job{
		ID:          d.newID(),
		TenantID:    file.TenantID,
		FileID:      file.ID,
		DatasetID:   file.DatasetID,
		ContentHash: hash,
		Status:      models.StatusPending,
	}
	if err := d.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	won, err := d.store.ClaimFile(ctx, file.ID, file.LatestJobID, job.ID, hash)
	if err != nil {
		return nil, err
	}
	if !won {
		job.Status = models.StatusFailed
		job.ErrorMessage = Message(StageDispatch, "superseded by a concurrent dispatch of the same file")
		if err := d.store.UpdateJob(ctx, job); err != nil {
			return nil, err
		}
		return d.skip(ctx, file, "lost claim to a concurrent dispatch")
	}

	p := &Payload{
		TenantID:    file.TenantID,
		DatasetID:   file.DatasetID,
		FileID:      file.ID,
		JobID:       job.ID,
		Filename:    file.Filename,
		ContentType: file.ContentType,
		RawBucket:   ev.Bucket,
		RawKey:      rk.String(),
		ContentHash: hash,
		DuplicateOf: duplicateOf,
	}
	if err := d.runner.Start(ctx, p); err != nil {
		p.FailedStage = StageDispatch
		p.Error = err.Error()
		if ferr := d.fail.Handle(context.WithoutCancel(ctx), p); ferr != nil {
			log.Error("could not record dispatch failure", "job_id", job.ID, "error", ferr)
		}
		return nil, err
	}
	log.Info("execution started", "job_id", job.ID, "duplicate_of", duplicateOf)
	return &DispatchResult{Outcome: OutcomeStarted, FileID: file.ID, JobID: job.ID}, nil
}

// liveJob returns the entry's job only while its chunks are still indexed:
// the job is COMPLETE and is still the latest job of the file that ran it.
// A re-upload of that file replaces its chunks and makes the entry stale.
func (d *Dispatcher) liveJob(ctx context.Context, entry *models.DedupEntry) (*models.Job, error) {
	job, err := d.store.GetJob(ctx, entry.JobID)
	if err != nil || job == nil || job.Status != models.StatusComplete {
		return nil, err
	}
	origin, err := d.store.GetFile(ctx, job.FileID)
	if err != nil || origin == nil || origin.LatestJobID != job.ID {
		return nil, err
	}
	return job, nil
}

// link attaches the file to a job that already processed the same bytes in
// the same dataset. No stage runs.
func (d *Dispatcher) link(ctx context.Context, file *models.File, prior *models.Job, hash string) (*DispatchResult, error) {
	if err := d.store.LinkFile(ctx, file.ID, prior.ID, hash); err != nil {
		return nil, err
	}
	if err := d.store.SetDatasetStatus(ctx, file.DatasetID, models.DatasetReady); err != nil {
		return nil, err
	}
	if err := d.store.AppendAudit(ctx, &models.AuditEvent{
		ID:        d.newID(),
		TenantID:  file.TenantID,
		DatasetID: file.DatasetID,
		FileID:    file.ID,
		JobID:     prior.ID,
		Type:      models.AuditDedupLinked,
		Detail:    map[string]string{"linked_file_id": prior.FileID, "content_hash": hash},
		CreatedAt: d.now(),
	}); err != nil {
		return nil, err
	}
	d.log.Info("duplicate upload linked", "file_id", file.ID, "job_id", prior.ID)
	return &DispatchResult{Outcome: OutcomeLinked, FileID: file.ID, JobID: prior.ID}, nil
}

func (d *Dispatcher) skip(ctx context.Context, file *models.File, reason string) (*DispatchResult, error) {
	if err := d.store.AppendAudit(ctx, &models.AuditEvent{
		ID:        d.newID(),
		TenantID:  file.TenantID,
		DatasetID: file.DatasetID,
		FileID:    file.ID,
		JobID:     file.LatestJobID,
		Type:      models.AuditEventSkipped,
		Detail:    map[string]string{"reason": reason},
		CreatedAt: d.now(),
	}); err != nil {
		return nil, err
	}
	d.log.Info("upload event skipped", "file_id", file.ID, "reason", reason)
	return &DispatchResult{Outcome: OutcomeSkipped, FileID: file.ID, JobID: file.LatestJobID, Reason: reason}, nil
}
