package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/core"
	"github.com/markdave123-py/ragready/internal/logger"
	"github.com/markdave123-py/ragready/internal/models"
)

// FailHandler is the single place a stage error is turned into state:
// job FAILED with a readable message, file FAILED, an audit event, and the
// dataset FAILED only when it has nothing usable.
type FailHandler struct {
	store core.MetadataStore
	log   *logger.Logger
	now   func() time.Time
	newID func() string
}

func NewFailHandler(store core.MetadataStore, log *logger.Logger) *FailHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &FailHandler{store: store, log: log, now: time.Now, newID: uuid.NewString}
}

// Message is the error_message stored on a failed job.
func Message(stage Stage, errText string) string {
	if stage == "" {
		stage = "unknown"
	}
	return fmt.Sprintf("stage %s: %s", stage, errText)
}

func (h *FailHandler) Handle(ctx context.Context, p *Payload) error {
	log := h.log.With(p.logFields(StageFailHandler)...)

	job, err := h.store.GetJob(ctx, p.JobID)
	if err != nil {
		return err
	}
	if job != nil && job.Status.Terminal() {
		// A redelivered or late execution must not rewrite a finished job or
		// the file state that belongs to it.
		log.Warn("job already terminal, failure not recorded", "status", string(job.Status), "failed_stage", string(p.FailedStage))
		return nil
	}

	msg := Message(p.FailedStage, p.Error)
	if job != nil {
		job.Status = models.StatusFailed
		job.Stage = string(p.FailedStage)
		job.ErrorMessage = msg
		job.Artifacts = p.Artifacts
		job.ReadinessScore = p.ReadinessScore
		if err := h.store.UpdateJob(ctx, job); err != nil {
			if !errors.Is(err, apperr.ErrJobTerminal) {
				return err
			}
			log.Warn("job became terminal concurrently")
			return nil
		}
	} else {
		log.Warn("job row missing while recording failure")
	}

	if err := h.store.SetFileStatus(ctx, p.FileID, models.StatusFailed); err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return err
	}

	usable, err := h.store.HasCompleteJob(ctx, p.DatasetID)
	if err != nil {
		return err
	}
	if !usable {
		if err := h.store.SetDatasetStatus(ctx, p.DatasetID, models.DatasetFailed); err != nil && !apperr.Is(err, apperr.KindNotFound) {
			return err
		}
	}

	if err := h.store.AppendAudit(ctx, &models.AuditEvent{
		ID:        h.newID(),
		TenantID:  p.TenantID,
		DatasetID: p.DatasetID,
		FileID:    p.FileID,
		JobID:     p.JobID,
		Type:      models.AuditJobFailed,
		Detail: map[string]string{
			"stage": string(p.FailedStage),
			"error": p.Error,
		},
		CreatedAt: h.now(),
	}); err != nil {
		return err
	}
	log.Error("job failed", "failed_stage", string(p.FailedStage), "error_message", msg)
	return nil
}
