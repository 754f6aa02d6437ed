package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/core"
	"github.com/markdave123-py/ragready/internal/core/construction"
	"github.com/markdave123-py/ragready/internal/core/ingestion_engine"
	objectclient "github.com/markdave123-py/ragready/internal/core/object-client"
	"github.com/markdave123-py/ragready/internal/core/quality"
	"github.com/markdave123-py/ragready/internal/logger"
	"github.com/markdave123-py/ragready/internal/models"
)

// Deps are the collaborators every stage may touch.
type Deps struct {
	Store     core.MetadataStore
	Objects   core.ObjectClient
	Extractor core.DocumentExtractor
	Quality   *quality.Engine
	Ingestor  *ingestion_engine.VectorIngestor
	Vectors   core.VectorStore
	Dedup     core.DedupIndex
	Glossary  *construction.Glossary
	Log       *logger.Logger

	ProcessedBucket string
	EmbeddingModel  string
	Chunk           ingestion_engine.ChunkConfig
}

// Runtime owns the stage implementations. Each stage reads its inputs from
// the payload and from artifacts written by earlier stages, so a stage can
// be retried or moved to another worker.
type Runtime struct {
	store      core.MetadataStore
	objects    core.ObjectClient
	extractor  core.DocumentExtractor
	normalizer *ingestion_engine.Normalizer
	quality    *quality.Engine
	chunker    *ingestion_engine.Chunker
	ingestor   *ingestion_engine.VectorIngestor
	vectors    core.VectorStore
	dedup      core.DedupIndex
	glossary   *construction.Glossary
	log        *logger.Logger
	tracer     trace.Tracer

	processedBucket string
	embeddingModel  string
	chunkCfg        ingestion_engine.ChunkConfig
	now             func() time.Time
	newID           func() string
}

func NewRuntime(d Deps) *Runtime {
	g := d.Glossary
	if g == nil {
		g = construction.Default()
	}
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Runtime{
		store:           d.Store,
		objects:         d.Objects,
		extractor:       d.Extractor,
		normalizer:      ingestion_engine.NewNormalizer(g),
		quality:         d.Quality,
		chunker:         ingestion_engine.NewChunker(d.Chunk),
		ingestor:        d.Ingestor,
		vectors:         d.Vectors,
		dedup:           d.Dedup,
		glossary:        g,
		log:             log,
		tracer:          otel.Tracer("ragready/pipeline"),
		processedBucket: d.ProcessedBucket,
		embeddingModel:  d.EmbeddingModel,
		chunkCfg:        d.Chunk,
		now:             time.Now,
		newID:           uuid.NewString,
	}
}

// Run executes one happy-path stage. Progress (stage name, artifact keys,
// score) is written to the job row after every stage but the last.
func (r *Runtime) Run(ctx context.Context, stage Stage, p *Payload) error {
	ctx, span := r.tracer.Start(ctx, "pipeline."+string(stage), trace.WithAttributes(
		attribute.String("tenant_id", p.TenantID),
		attribute.String("dataset_id", p.DatasetID),
		attribute.String("job_id", p.JobID),
	))
	defer span.End()

	log := r.log.With(p.logFields(stage)...)
	start := time.Now()
	log.Info("stage started")

	var err error
	switch stage {
	case StageMarkRunning:
		err = r.MarkRunning(ctx, p)
	case StageExtractText:
		err = r.ExtractText(ctx, p)
	case StageNormalize:
		err = r.Normalize(ctx, p)
	case StageQualityChecks:
		err = r.QualityChecks(ctx, p)
	case StageChunk:
		err = r.Chunk(ctx, p)
	case StageVectorIngest:
		err = r.VectorIngest(ctx, p)
	case StagePersistResults:
		err = r.PersistResults(ctx, p)
	default:
		err = apperr.Invalid("run stage", fmt.Sprintf("unknown stage %q", stage))
	}
	if err == nil && stage != StageMarkRunning && stage != StagePersistResults {
		err = r.recordProgress(ctx, stage, p)
	}

	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("stage failed", "duration_ms", elapsed, "kind", string(apperr.KindOf(err)), "error", err)
		return err
	}
	log.Info("stage finished", "duration_ms", elapsed)
	return nil
}

func (r *Runtime) loadJob(ctx context.Context, op, id string) (*models.Job, error) {
	job, err := r.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apperr.NotFound(op, "job "+id+" not found")
	}
	return job, nil
}

func (r *Runtime) recordProgress(ctx context.Context, stage Stage, p *Payload) error {
	job, err := r.loadJob(ctx, "record progress", p.JobID)
	if err != nil {
		return err
	}
	job.Stage = string(stage)
	job.Artifacts = p.Artifacts
	job.ReadinessScore = p.ReadinessScore
	job.ChunkCount = p.ChunkCount
	return r.store.UpdateJob(ctx, job)
}

func (r *Runtime) audit(ctx context.Context, p *Payload, typ string, detail map[string]string) error {
	return r.store.AppendAudit(ctx, &models.AuditEvent{
		ID:        r.newID(),
		TenantID:  p.TenantID,
		DatasetID: p.DatasetID,
		FileID:    p.FileID,
		JobID:     p.JobID,
		Type:      typ,
		Detail:    detail,
		CreatedAt: r.now(),
	})
}

func (r *Runtime) artifactKey(p *Payload, name string) string {
	return objectclient.ProcessedKey(p.TenantID, p.DatasetID, p.FileID, p.JobID, name)
}

func (r *Runtime) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperr.Wrap(apperr.KindUnknown, "encode artifact", err)
	}
	_, err = r.objects.UploadFile(ctx, r.processedBucket, key, data, "application/json")
	return err
}

func (r *Runtime) getJSON(ctx context.Context, key string, v any) error {
	if key == "" {
		return apperr.Invalid("read artifact", "artifact key missing from payload")
	}
	data, err := r.objects.GetFile(ctx, r.processedBucket, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Wrap(apperr.KindInvalid, "decode artifact "+key, err)
	}
	return nil
}

// MarkRunning flips job and file to RUNNING and moves the dataset to
// PROCESSING unless it is already READY.
func (r *Runtime) MarkRunning(ctx context.Context, p *Payload) error {
	job, err := r.loadJob(ctx, "mark running", p.JobID)
	if err != nil {
		return err
	}
	job.Status = models.StatusRunning
	job.Stage = string(StageMarkRunning)
	if err := r.store.UpdateJob(ctx, job); err != nil {
		return err
	}
	if err := r.store.SetFileStatus(ctx, p.FileID, models.StatusRunning); err != nil {
		return err
	}
	ds, err := r.store.GetDataset(ctx, p.DatasetID)
	if err != nil {
		return err
	}
	if ds == nil {
		return apperr.NotFound("mark running", "dataset "+p.DatasetID+" not found")
	}
	if ds.Status != models.DatasetReady {
		if err := r.store.SetDatasetStatus(ctx, p.DatasetID, models.DatasetProcessing); err != nil {
			return err
		}
	}
	return r.audit(ctx, p, models.AuditJobStarted, map[string]string{"filename": p.Filename})
}

// ExtractText reads the raw object and writes per-page text.
func (r *Runtime) ExtractText(ctx context.Context, p *Payload) error {
	data, err := r.objects.GetFile(ctx, p.RawBucket, p.RawKey)
	if err != nil {
		return err
	}
	if p.ContentHash == "" {
		sum := sha256.Sum256(data)
		p.ContentHash = hex.EncodeToString(sum[:])
	}
	doc, err := r.extractor.Extract(ctx, data, p.ContentType)
	if err != nil {
		return err
	}
	key := r.artifactKey(p, objectclient.ExtractedArtifact)
	if err := r.putJSON(ctx, key, doc); err != nil {
		return err
	}
	p.Artifacts.ExtractedText = key
	return nil
}

func (r *Runtime) Normalize(ctx context.Context, p *Payload) error {
	var doc core.ExtractedDocument
	if err := r.getJSON(ctx, p.Artifacts.ExtractedText, &doc); err != nil {
		return err
	}
	norm := r.normalizer.Normalize(&doc)
	key := r.artifactKey(p, objectclient.NormalizedArtifact)
	if err := r.putJSON(ctx, key, norm); err != nil {
		return err
	}
	p.Artifacts.NormalizedDocument = key
	return nil
}

// QualityChecks scores the normalized document against the dataset's other
// files and stores the report. The score is fixed from here on.
func (r *Runtime) QualityChecks(ctx context.Context, p *Payload) error {
	var doc core.NormalizedDocument
	if err := r.getJSON(ctx, p.Artifacts.NormalizedDocument, &doc); err != nil {
		return err
	}
	prints, err := r.store.ListFingerprints(ctx, p.TenantID, p.DatasetID)
	if err != nil {
		return err
	}
	neighbors := make([]models.Fingerprint, 0, len(prints))
	for _, fp := range prints {
		if fp.FileID != p.FileID {
			neighbors = append(neighbors, fp)
		}
	}
	report, err := r.quality.Evaluate(&quality.Input{
		JobID:       p.JobID,
		FileID:      p.FileID,
		Doc:         &doc,
		DuplicateOf: p.DuplicateOf,
		Neighbors:   neighbors,
	})
	if err != nil {
		return err
	}
	key := r.artifactKey(p, objectclient.QualityArtifact)
	if err := r.putJSON(ctx, key, report); err != nil {
		return err
	}
	if err := r.store.SetFileSimhash(ctx, p.FileID, report.Stats.Simhash); err != nil {
		return err
	}
	score := report.Score
	p.ReadinessScore = &score
	p.Artifacts.QualityReport = key
	return nil
}

func (r *Runtime) Chunk(ctx context.Context, p *Payload) error {
	var doc core.NormalizedDocument
	if err := r.getJSON(ctx, p.Artifacts.NormalizedDocument, &doc); err != nil {
		return err
	}
	spans := r.chunker.Split(&doc)
	if len(spans) == 0 {
		return apperr.Wrap(apperr.KindInvalid, "chunk", apperr.ErrEmptyDocument)
	}
	records := ingestion_engine.BuildChunkRecords(ingestion_engine.RecordSource{
		TenantID:       p.TenantID,
		DatasetID:      p.DatasetID,
		DocID:          p.DocID(),
		Filename:       p.Filename,
		EmbeddingModel: r.embeddingModel,
	}, spans, r.glossary)

	data, err := ingestion_engine.EncodeJSONL(records)
	if err != nil {
		return apperr.Wrap(apperr.KindUnknown, "encode chunks", err)
	}
	key := r.artifactKey(p, objectclient.ChunksArtifact)
	if _, err := r.objects.UploadFile(ctx, r.processedBucket, key, data, "application/x-ndjson"); err != nil {
		return err
	}
	p.Artifacts.Chunks = key
	p.ChunkCount = len(records)
	p.DocType = records[0].DocType
	p.ChunkWarnings = ingestion_engine.ChunkWarnings(spans, r.chunkCfg.WarnSmallChars, r.chunkCfg.WarnLargeChars)
	return nil
}

// VectorIngest embeds the chunk file and swaps the document's rows in one
// transaction, then checks the stored count.
func (r *Runtime) VectorIngest(ctx context.Context, p *Payload) error {
	if p.Artifacts.Chunks == "" {
		return apperr.Invalid("vector ingest", "chunk artifact missing from payload")
	}
	data, err := r.objects.GetFile(ctx, r.processedBucket, p.Artifacts.Chunks)
	if err != nil {
		return err
	}
	chunks, err := ingestion_engine.DecodeJSONL(data)
	if err != nil {
		return apperr.Wrap(apperr.KindInvalid, "decode chunks", err)
	}
	if err := r.ingestor.Ingest(ctx, p.TenantID, p.DatasetID, p.DocID(), chunks); err != nil {
		return err
	}
	n, err := r.vectors.CountDocument(ctx, p.TenantID, p.DatasetID, p.DocID())
	if err != nil {
		return err
	}
	if n != len(chunks) {
		return apperr.Transient("vector ingest", fmt.Errorf("stored %d rows for %d chunks", n, len(chunks)))
	}
	return nil
}

type manifest struct {
	TenantID       string           `json:"tenant_id"`
	DatasetID      string           `json:"dataset_id"`
	FileID         string           `json:"file_id"`
	JobID          string           `json:"job_id"`
	Filename       string           `json:"filename"`
	ContentHash    string           `json:"content_hash"`
	DocType        string           `json:"doc_type,omitempty"`
	ReadinessScore *int             `json:"readiness_score"`
	ChunkCount     int              `json:"chunk_count"`
	ChunkWarnings  []models.Finding `json:"chunk_warnings,omitempty"`
	EmbeddingModel string           `json:"embedding_model"`
	DuplicateOf    string           `json:"duplicate_of,omitempty"`
	Artifacts      models.Artifacts `json:"artifacts"`
	CompletedAt    time.Time        `json:"completed_at"`
}

// PersistResults writes the manifest and commits the job. The job row going
// COMPLETE is the commit point; the writes after it are safe to repeat.
func (r *Runtime) PersistResults(ctx context.Context, p *Payload) error {
	job, err := r.loadJob(ctx, "persist results", p.JobID)
	if err != nil {
		return err
	}
	if job.Status != models.StatusComplete {
		key := r.artifactKey(p, objectclient.ManifestArtifact)
		p.Artifacts.Manifest = key
		m := manifest{
			TenantID:       p.TenantID,
			DatasetID:      p.DatasetID,
			FileID:         p.FileID,
			JobID:          p.JobID,
			Filename:       p.Filename,
			ContentHash:    p.ContentHash,
			DocType:        p.DocType,
			ReadinessScore: p.ReadinessScore,
			ChunkCount:     p.ChunkCount,
			ChunkWarnings:  p.ChunkWarnings,
			EmbeddingModel: r.embeddingModel,
			DuplicateOf:    p.DuplicateOf,
			Artifacts:      p.Artifacts,
			CompletedAt:    r.now().UTC(),
		}
		if err := r.putJSON(ctx, key, m); err != nil {
			return err
		}
		job.Status = models.StatusComplete
		job.Stage = string(StagePersistResults)
		job.ContentHash = p.ContentHash
		job.ReadinessScore = p.ReadinessScore
		job.ChunkCount = p.ChunkCount
		job.Artifacts = p.Artifacts
		job.ErrorMessage = ""
		if err := r.store.UpdateJob(ctx, job); err != nil {
			return err
		}
	}

	if err := r.store.SetFileStatus(ctx, p.FileID, models.StatusComplete); err != nil {
		return err
	}
	if err := r.store.SetDatasetStatus(ctx, p.DatasetID, models.DatasetReady); err != nil {
		return err
	}
	if err := r.dedup.Record(ctx, models.DedupEntry{
		TenantID:    p.TenantID,
		ContentHash: p.ContentHash,
		DatasetID:   p.DatasetID,
		FileID:      p.FileID,
		JobID:       p.JobID,
	}); err != nil {
		return err
	}
	score := ""
	if p.ReadinessScore != nil {
		score = fmt.Sprint(*p.ReadinessScore)
	}
	return r.audit(ctx, p, models.AuditJobCompleted, map[string]string{
		"chunk_count":     fmt.Sprint(p.ChunkCount),
		"readiness_score": score,
	})
}
