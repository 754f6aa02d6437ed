package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/core"
	"github.com/markdave123-py/ragready/internal/core/construction"
	"github.com/markdave123-py/ragready/internal/core/ingestion_engine"
	"github.com/markdave123-py/ragready/internal/core/memstore"
	objectclient "github.com/markdave123-py/ragready/internal/core/object-client"
	"github.com/markdave123-py/ragready/internal/core/quality"
	"github.com/markdave123-py/ragready/internal/models"
	"github.com/markdave123-py/ragready/internal/retry"
)

const (
	testDim       = 8
	rawBucket     = "raw"
	processedBkt  = "processed"
	tenant        = "t1"
	dataset       = "d1"
	otherDataset  = "d2"
	fakeModelName = "fake-embed"
)

var fastRetry = retry.Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}

// pageExtractor treats form feeds as page breaks.
type pageExtractor struct {
	err error
}

func (e pageExtractor) Extract(_ context.Context, data []byte, _ string) (*core.ExtractedDocument, error) {
	if e.err != nil {
		return nil, e.err
	}
	doc := &core.ExtractedDocument{Method: "test"}
	for i, text := range strings.Split(string(data), "\f") {
		doc.Pages = append(doc.Pages, core.ExtractedPage{Number: i + 1, Text: text})
	}
	return doc, nil
}

// hashEmbedder buckets words into a fixed-size vector.
type hashEmbedder struct {
	calls   atomic.Int32
	failAt  int32
	failErr error
}

func (e *hashEmbedder) ModelID() string { return fakeModelName }

func (e *hashEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	n := e.calls.Add(1)
	if e.failAt > 0 && n >= e.failAt {
		return nil, e.failErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, testDim)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(w))
			v[h.Sum32()%testDim]++
		}
		out[i] = v
	}
	return out, nil
}

// syncRunner executes in the caller's goroutine.
type syncRunner struct {
	exec  *Executor
	mu    sync.Mutex
	state Stage
	err   error
}

func (r *syncRunner) Start(ctx context.Context, p *Payload) error {
	state, err := r.exec.Execute(ctx, p)
	r.mu.Lock()
	r.state, r.err = state, err
	r.mu.Unlock()
	return nil
}

type harness struct {
	store      *memstore.MetadataStore
	objects    *memstore.ObjectClient
	vectors    *memstore.VectorStore
	dedup      *memstore.DedupIndex
	embedder   *hashEmbedder
	exec       *Executor
	runner     *syncRunner
	dispatcher *Dispatcher
}

func newHarness(t *testing.T, extractor core.DocumentExtractor) *harness {
	t.Helper()
	h := &harness{
		store:    memstore.NewMetadataStore(),
		objects:  memstore.NewObjectClient(),
		vectors:  memstore.NewVectorStore(testDim),
		dedup:    memstore.NewDedupIndex(),
		embedder: &hashEmbedder{},
	}
	if extractor == nil {
		extractor = pageExtractor{}
	}
	g := construction.Default()
	ingestor := ingestion_engine.NewVectorIngestor(h.embedder, h.vectors, ingestion_engine.IngestConfig{
		BatchSize: 2, Concurrency: 2, EmbedDim: testDim, Retry: fastRetry,
	}, nil, nil)
	rt := NewRuntime(Deps{
		Store:           h.store,
		Objects:         h.objects,
		Extractor:       extractor,
		Quality:         quality.NewEngine(quality.DefaultWeights(), quality.DefaultThresholds(), g),
		Ingestor:        ingestor,
		Vectors:         h.vectors,
		Dedup:           h.dedup,
		Glossary:        g,
		ProcessedBucket: processedBkt,
		EmbeddingModel:  fakeModelName,
		Chunk:           ingestion_engine.DefaultChunkConfig(),
	})
	fail := NewFailHandler(h.store, nil)
	h.exec = NewExecutor(rt, fail, DefaultTimeouts(), fastRetry, nil)
	h.runner = &syncRunner{exec: h.exec}
	h.dispatcher = NewDispatcher(h.store, h.objects, h.dedup, h.runner, fail, nil)

	ctx := context.Background()
	require.NoError(t, h.store.CreateDataset(ctx, &models.Dataset{ID: dataset, TenantID: tenant, Name: "tower"}))
	require.NoError(t, h.store.CreateDataset(ctx, &models.Dataset{ID: otherDataset, TenantID: tenant, Name: "annex"}))
	return h
}

func prose(topic string, lines int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "1.%d %s requirements\n", len(topic), strings.ToUpper(topic[:1])+topic[1:])
	for i := 0; i < lines; i++ {
		fmt.Fprintf(&b, "Item %d for %s: the contractor shall install and inspect the works as specified.\n", i, topic)
	}
	return strings.TrimSpace(b.String())
}

func threePages() []byte {
	return []byte(strings.Join([]string{prose("formwork", 10), prose("concrete", 10), prose("scaffolding", 10)}, "\f"))
}

// upload registers a file, stores its bytes and dispatches the event.
func (h *harness) upload(t *testing.T, datasetID, fileID string, data []byte) (*DispatchResult, error) {
	t.Helper()
	ctx := context.Background()
	key := objectclient.RawKey{TenantID: tenant, DatasetID: datasetID, FileID: fileID, Filename: fileID + ".pdf"}
	if f, _ := h.store.GetFile(ctx, fileID); f == nil {
		require.NoError(t, h.store.CreateFile(ctx, &models.File{
			ID: fileID, TenantID: tenant, DatasetID: datasetID, Filename: fileID + ".pdf",
			ContentType: "application/pdf", RawKey: key.String(), Status: models.StatusPending,
		}))
	}
	_, err := h.objects.UploadFile(ctx, rawBucket, key.String(), data, "application/pdf")
	require.NoError(t, err)
	return h.dispatcher.Dispatch(ctx, UploadEvent{Bucket: rawBucket, Key: key.String()})
}

func (h *harness) job(t *testing.T, id string) *models.Job {
	t.Helper()
	j, err := h.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, j)
	return j
}

func (h *harness) file(t *testing.T, id string) *models.File {
	t.Helper()
	f, err := h.store.GetFile(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, f)
	return f
}

func (h *harness) datasetStatus(t *testing.T, id string) models.DatasetStatus {
	t.Helper()
	ds, err := h.store.GetDataset(context.Background(), id)
	require.NoError(t, err)
	return ds.Status
}

func (h *harness) report(t *testing.T, job *models.Job) models.QualityReport {
	t.Helper()
	data, err := h.objects.GetFile(context.Background(), processedBkt, job.Artifacts.QualityReport)
	require.NoError(t, err)
	var r models.QualityReport
	require.NoError(t, json.Unmarshal(data, &r))
	return r
}

func auditTypes(events []models.AuditEvent) []string {
	out := []string{}
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func findingTypes(r models.QualityReport) []string {
	out := []string{}
	for _, f := range r.Findings {
		out = append(out, f.Type)
	}
	return out
}

func TestUploadRunsToComplete(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.upload(t, dataset, "f1", threePages())

	require.NoError(t, err)
	assert.Equal(t, OutcomeStarted, res.Outcome)
	assert.Equal(t, StateComplete, h.runner.state)
	require.NoError(t, h.runner.err)

	job := h.job(t, res.JobID)
	assert.Equal(t, models.StatusComplete, job.Status)
	require.NotNil(t, job.ReadinessScore)
	assert.Equal(t, 100, *job.ReadinessScore)
	assert.Positive(t, job.ChunkCount)
	assert.Empty(t, job.ErrorMessage)

	prefix := objectclient.ProcessedPrefix(tenant, dataset, "f1", job.ID)
	for _, key := range []string{
		job.Artifacts.ExtractedText, job.Artifacts.NormalizedDocument,
		job.Artifacts.QualityReport, job.Artifacts.Chunks, job.Artifacts.Manifest,
	} {
		assert.True(t, strings.HasPrefix(key, prefix), key)
	}
	assert.Len(t, h.objects.Keys(processedBkt, prefix), 5)

	f := h.file(t, "f1")
	assert.Equal(t, models.StatusComplete, f.Status)
	assert.Equal(t, job.ID, f.LatestJobID)
	assert.NotEmpty(t, f.Simhash)
	assert.Equal(t, models.DatasetReady, h.datasetStatus(t, dataset))

	n, err := h.vectors.CountDocument(context.Background(), tenant, dataset, "f1")
	require.NoError(t, err)
	assert.Equal(t, job.ChunkCount, n)

	assert.Equal(t, []string{models.AuditJobStarted, models.AuditJobCompleted}, auditTypes(h.store.Audit("f1")))
}

func TestRepeatedPageCostsExactlyOneWarn(t *testing.T) {
	h := newHarness(t, nil)
	first := prose("formwork", 10)
	data := []byte(strings.Join([]string{first, first, prose("scaffolding", 10)}, "\f"))

	res, err := h.upload(t, dataset, "f1", data)
	require.NoError(t, err)

	job := h.job(t, res.JobID)
	require.Equal(t, models.StatusComplete, job.Status)
	assert.Equal(t, 100-quality.DefaultWeights().Warn, *job.ReadinessScore)
	assert.Equal(t, []string{quality.FindingDuplicatePages}, findingTypes(h.report(t, job)))

	raw, err := h.objects.GetFile(context.Background(), processedBkt, job.Artifacts.Chunks)
	require.NoError(t, err)
	chunks, err := ingestion_engine.DecodeJSONL(raw)
	require.NoError(t, err)
	for i, c := range chunks {
		require.NotNil(t, c.Page)
		assert.NotEqual(t, 2, *c.Page, "copied page must not be chunked")
		assert.Equal(t, i, c.ChunkIndex)
	}
}

func TestSameBytesSameDatasetLinksWithoutRerun(t *testing.T) {
	h := newHarness(t, nil)
	first, err := h.upload(t, dataset, "f1", threePages())
	require.NoError(t, err)
	calls := h.embedder.calls.Load()

	res, err := h.upload(t, dataset, "f2", threePages())

	require.NoError(t, err)
	assert.Equal(t, OutcomeLinked, res.Outcome)
	assert.Equal(t, first.JobID, res.JobID)
	assert.Equal(t, calls, h.embedder.calls.Load(), "no embedding for a linked upload")

	f2 := h.file(t, "f2")
	assert.Equal(t, models.StatusComplete, f2.Status)
	assert.Equal(t, first.JobID, f2.LatestJobID)
	assert.Equal(t, []string{models.AuditDedupLinked}, auditTypes(h.store.Audit("f2")))
}

func TestSameBytesOtherDatasetIsProcessedAndFlagged(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.upload(t, dataset, "f1", threePages())
	require.NoError(t, err)

	res, err := h.upload(t, otherDataset, "f3", threePages())

	require.NoError(t, err)
	assert.Equal(t, OutcomeStarted, res.Outcome)
	job := h.job(t, res.JobID)
	require.Equal(t, models.StatusComplete, job.Status)
	assert.Contains(t, findingTypes(h.report(t, job)), quality.FindingExactDuplicate)
	assert.Equal(t, 100-quality.DefaultWeights().Critical, *job.ReadinessScore)
	assert.Equal(t, models.DatasetReady, h.datasetStatus(t, otherDataset))
}

func TestReuploadedSourceIsNotLinked(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	original, err := h.upload(t, dataset, "f1", threePages())
	require.NoError(t, err)

	revised := []byte(strings.Join([]string{prose("masonry", 10), prose("roofing", 10)}, "\f"))
	res, err := h.upload(t, dataset, "f1", revised)
	require.NoError(t, err)
	require.Equal(t, OutcomeStarted, res.Outcome)
	require.Equal(t, models.StatusComplete, h.job(t, res.JobID).Status)

	res, err = h.upload(t, dataset, "f2", threePages())

	require.NoError(t, err)
	assert.Equal(t, OutcomeStarted, res.Outcome, "the original bytes are no longer indexed under f1")
	assert.NotEqual(t, original.JobID, res.JobID)
	assert.Equal(t, models.StatusComplete, h.job(t, res.JobID).Status)
	n, err := h.vectors.CountDocument(ctx, tenant, dataset, "f2")
	require.NoError(t, err)
	assert.Positive(t, n)

	entry, err := h.dedup.Lookup(ctx, tenant, dataset, h.file(t, "f2").ContentHash)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, res.JobID, entry.JobID)

	again, err := h.upload(t, dataset, "f3", threePages())
	require.NoError(t, err)
	assert.Equal(t, OutcomeLinked, again.Outcome)
	assert.Equal(t, res.JobID, again.JobID)
}

func TestSameDatasetMatchWinsOverNewerOtherDataset(t *testing.T) {
	h := newHarness(t, nil)
	first, err := h.upload(t, dataset, "f1", threePages())
	require.NoError(t, err)
	other, err := h.upload(t, otherDataset, "f3", threePages())
	require.NoError(t, err)
	require.Equal(t, OutcomeStarted, other.Outcome)

	res, err := h.upload(t, dataset, "f4", threePages())

	require.NoError(t, err)
	assert.Equal(t, OutcomeLinked, res.Outcome)
	assert.Equal(t, first.JobID, res.JobID)
}

func TestRedeliveredEventIsSkipped(t *testing.T) {
	h := newHarness(t, nil)
	first, err := h.upload(t, dataset, "f1", threePages())
	require.NoError(t, err)

	again, err := h.upload(t, dataset, "f1", threePages())

	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, again.Outcome)
	assert.Equal(t, first.JobID, again.JobID)
	assert.Equal(t, models.AuditEventSkipped, auditTypes(h.store.Audit("f1"))[2])
}

func TestRunningFileIsSkipped(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	key := objectclient.RawKey{TenantID: tenant, DatasetID: dataset, FileID: "f1", Filename: "f1.pdf"}
	require.NoError(t, h.store.CreateFile(ctx, &models.File{
		ID: "f1", TenantID: tenant, DatasetID: dataset, Filename: "f1.pdf", Status: models.StatusRunning,
	}))

	res, err := h.dispatcher.Dispatch(ctx, UploadEvent{Bucket: rawBucket, Key: key.String()})

	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
}

func TestDispatchRejectsForeignKey(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.store.CreateFile(ctx, &models.File{ID: "f1", TenantID: "other", DatasetID: dataset}))

	_, err := h.dispatcher.Dispatch(ctx, UploadEvent{Bucket: rawBucket, Key: "raw/t1/d1/f1/a.pdf"})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = h.dispatcher.Dispatch(ctx, UploadEvent{Bucket: rawBucket, Key: "raw/t1/d1/missing/a.pdf"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = h.dispatcher.Dispatch(ctx, UploadEvent{Bucket: rawBucket, Key: "uploads/a.pdf"})
	assert.True(t, apperr.Is(err, apperr.KindInvalid))
}

func TestEmbeddingFailureLeavesNothingQueryable(t *testing.T) {
	h := newHarness(t, nil)
	h.embedder.failAt = 2
	h.embedder.failErr = apperr.Config("embed", "model not enabled")

	res, err := h.upload(t, dataset, "f1", threePages())
	require.NoError(t, err)

	assert.Equal(t, StateFailed, h.runner.state)
	job := h.job(t, res.JobID)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.True(t, strings.HasPrefix(job.ErrorMessage, "stage VectorIngest: "), job.ErrorMessage)
	assert.Contains(t, job.ErrorMessage, "model not enabled")
	require.NotNil(t, job.ReadinessScore)

	n, err := h.vectors.CountDocument(context.Background(), tenant, dataset, "f1")
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, models.StatusFailed, h.file(t, "f1").Status)
	assert.Equal(t, models.DatasetFailed, h.datasetStatus(t, dataset))
	events := h.store.Audit("f1")
	last := events[len(events)-1]
	assert.Equal(t, models.AuditJobFailed, last.Type)
	assert.Equal(t, string(StageVectorIngest), last.Detail["stage"])
}

func TestFailureKeepsReadyDatasetReady(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.upload(t, dataset, "f1", threePages())
	require.NoError(t, err)

	h.embedder.failAt = h.embedder.calls.Load() + 1
	h.embedder.failErr = apperr.Config("embed", "dimension drift")
	res, err := h.upload(t, dataset, "f2", []byte(prose("glazing", 12)))
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailed, h.job(t, res.JobID).Status)
	assert.Equal(t, models.DatasetReady, h.datasetStatus(t, dataset))
}

func TestScannedDocumentFailsAtExtraction(t *testing.T) {
	h := newHarness(t, pageExtractor{err: apperr.NonExtractable("extract", "no text layer; document appears to be scanned")})

	res, err := h.upload(t, dataset, "f1", []byte("%PDF"))
	require.NoError(t, err)

	job := h.job(t, res.JobID)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Equal(t, "stage ExtractText: extract: no text layer; document appears to be scanned", job.ErrorMessage)
	assert.Nil(t, job.ReadinessScore)
	assert.Zero(t, h.embedder.calls.Load())
}

func TestFailHandlerLeavesTerminalJobAlone(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.upload(t, dataset, "f1", threePages())
	require.NoError(t, err)

	p := &Payload{TenantID: tenant, DatasetID: dataset, FileID: "f1", JobID: res.JobID,
		FailedStage: StageChunk, Error: "late failure"}
	require.NoError(t, NewFailHandler(h.store, nil).Handle(context.Background(), p))

	job := h.job(t, res.JobID)
	assert.Equal(t, models.StatusComplete, job.Status)
	assert.Empty(t, job.ErrorMessage)
	assert.Equal(t, models.StatusComplete, h.file(t, "f1").Status)
	assert.Equal(t, models.DatasetReady, h.datasetStatus(t, dataset))
}

func TestRerunAfterCompleteDoesNotTouchJob(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.upload(t, dataset, "f1", threePages())
	require.NoError(t, err)
	before := h.job(t, res.JobID)

	p := &Payload{TenantID: tenant, DatasetID: dataset, FileID: "f1", JobID: res.JobID,
		RawBucket: rawBucket, RawKey: h.file(t, "f1").RawKey}
	state, err := h.exec.Execute(context.Background(), p)

	assert.Equal(t, StateFailed, state)
	assert.ErrorIs(t, err, apperr.ErrJobTerminal)
	after := h.job(t, res.JobID)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.ChunkCount, after.ChunkCount)
}

func TestLocalRunnerDrainsQueue(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	local := NewLocalRunner(h.exec, nil)
	local.Serve(ctx, 2)
	h.dispatcher.runner = local

	res, err := h.upload(t, dataset, "f1", threePages())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, _ := h.store.GetJob(context.Background(), res.JobID)
		return j != nil && j.Status == models.StatusComplete
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	local.Wait()
}
