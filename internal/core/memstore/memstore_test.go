package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/models"
)

func TestClaimFileIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewMetadataStore()
	require.NoError(t, s.CreateFile(ctx, &models.File{ID: "f1", TenantID: "t", DatasetID: "d"}))

	won, err := s.ClaimFile(ctx, "f1", "", "job-1", "h1")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = s.ClaimFile(ctx, "f1", "", "job-2", "h1")
	require.NoError(t, err)
	assert.False(t, won, "stale expected job id must lose")

	require.NoError(t, s.SetFileStatus(ctx, "f1", models.StatusRunning))
	won, err = s.ClaimFile(ctx, "f1", "job-1", "job-3", "h2")
	require.NoError(t, err)
	assert.False(t, won, "running file cannot be claimed")

	f, err := s.GetFile(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", f.LatestJobID)
	assert.Equal(t, "h1", f.ContentHash)
}

func TestUpdateJobRejectsTerminal(t *testing.T) {
	ctx := context.Background()
	s := NewMetadataStore()
	job := &models.Job{ID: "j1", TenantID: "t", DatasetID: "d", FileID: "f"}
	require.NoError(t, s.CreateJob(ctx, job))

	job.Status = models.StatusComplete
	require.NoError(t, s.UpdateJob(ctx, job))

	job.Status = models.StatusFailed
	err := s.UpdateJob(ctx, job)
	assert.True(t, errors.Is(err, apperr.ErrJobTerminal))

	got, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, got.Status)
}

func TestFindCompleteJobByHash(t *testing.T) {
	ctx := context.Background()
	s := NewMetadataStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	for _, f := range []*models.File{
		{ID: "fa", TenantID: "a", DatasetID: "d1", LatestJobID: "j1"},
		{ID: "fb", TenantID: "b", DatasetID: "d1", LatestJobID: "j2"},
		{ID: "fc", TenantID: "a", DatasetID: "d2", LatestJobID: "j3"},
	} {
		require.NoError(t, s.CreateFile(ctx, f))
	}
	require.NoError(t, s.CreateJob(ctx, &models.Job{ID: "j1", TenantID: "a", DatasetID: "d1", FileID: "fa", ContentHash: "h", Status: models.StatusComplete}))
	require.NoError(t, s.CreateJob(ctx, &models.Job{ID: "j2", TenantID: "b", DatasetID: "d1", FileID: "fb", ContentHash: "h", Status: models.StatusFailed}))
	now = now.Add(time.Minute)
	require.NoError(t, s.CreateJob(ctx, &models.Job{ID: "j3", TenantID: "a", DatasetID: "d2", FileID: "fc", ContentHash: "h", Status: models.StatusComplete}))

	got, err := s.FindCompleteJobByHash(ctx, "a", "d1", "h")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "j1", got.ID, "same dataset beats a newer match elsewhere")

	got, err = s.FindCompleteJobByHash(ctx, "a", "d9", "h")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "j3", got.ID)

	got, err = s.FindCompleteJobByHash(ctx, "b", "d1", "h")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = s.ClaimFile(ctx, "fa", "j1", "j9", "other")
	require.NoError(t, err)
	got, err = s.FindCompleteJobByHash(ctx, "a", "d1", "h")
	require.NoError(t, err)
	assert.Equal(t, "j3", got.ID, "a superseded job is not a match")
}

func TestMessagesAreOrdered(t *testing.T) {
	ctx := context.Background()
	s := NewMetadataStore()
	require.NoError(t, s.CreateConversation(ctx, &models.Conversation{ID: "c", TenantID: "t", DatasetID: "d"}))
	for _, role := range []string{"user", "assistant", "user"} {
		require.NoError(t, s.AppendMessage(ctx, &models.Message{ID: role, ConversationID: "c", Role: role}))
	}

	msgs, err := s.ListMessages(ctx, "c")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		assert.Equal(t, i+1, m.Seq)
	}
	assert.Error(t, s.AppendMessage(ctx, &models.Message{ConversationID: "missing"}))
}

func vec(v ...float32) []float32 { return v }

func TestVectorSearchIsScoped(t *testing.T) {
	ctx := context.Background()
	s := NewVectorStore(2)
	require.NoError(t, s.ReplaceDocument(ctx, "tenant-a", "shared", "doc-a", []models.Chunk{
		{ChunkID: "doc-a#c0", Text: "a0", Embedding: vec(1, 0)},
		{ChunkID: "doc-a#c1", Text: "a1", Embedding: vec(0, 1)},
	}))
	require.NoError(t, s.ReplaceDocument(ctx, "tenant-b", "shared", "doc-b", []models.Chunk{
		{ChunkID: "doc-b#c0", Text: "b0", Embedding: vec(1, 0)},
	}))

	hits, err := s.Search(ctx, "tenant-a", "shared", vec(1, 0.1), 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "doc-a#c0", hits[0].ChunkID)
	for _, h := range hits {
		assert.Equal(t, "doc-a", h.DocID)
	}

	_, err = s.Search(ctx, "", "shared", vec(1, 0), 10)
	assert.Error(t, err)
}

func TestReplaceDocumentSwapsRows(t *testing.T) {
	ctx := context.Background()
	s := NewVectorStore(2)
	require.NoError(t, s.ReplaceDocument(ctx, "t", "d", "doc", []models.Chunk{
		{ChunkID: "doc#c0", Embedding: vec(1, 0)},
		{ChunkID: "doc#c1", Embedding: vec(1, 1)},
	}))

	err := s.ReplaceDocument(ctx, "t", "d", "doc", []models.Chunk{
		{ChunkID: "doc#c0", Embedding: vec(1, 0)},
		{ChunkID: "doc#c1", Embedding: vec(1, 0, 0)},
	})
	require.Error(t, err)
	n, _ := s.CountDocument(ctx, "t", "d", "doc")
	assert.Equal(t, 2, n, "failed replace leaves the previous rows")

	require.NoError(t, s.ReplaceDocument(ctx, "t", "d", "doc", []models.Chunk{{ChunkID: "doc#c0", Embedding: vec(0, 1)}}))
	n, _ = s.CountDocument(ctx, "t", "d", "doc")
	assert.Equal(t, 1, n)
}

func TestDedupIndex(t *testing.T) {
	ctx := context.Background()
	d := NewDedupIndex()
	require.NoError(t, d.Record(ctx, models.DedupEntry{TenantID: "t", DatasetID: "d1", ContentHash: "h", FileID: "f1"}))
	require.NoError(t, d.Record(ctx, models.DedupEntry{TenantID: "t", DatasetID: "d2", ContentHash: "h", FileID: "f2"}))

	e, err := d.Lookup(ctx, "t", "d1", "h")
	require.NoError(t, err)
	assert.Equal(t, "f1", e.FileID)

	e, err = d.Lookup(ctx, "t", "d3", "h")
	require.NoError(t, err)
	assert.Equal(t, "f2", e.FileID)

	require.NoError(t, d.Record(ctx, models.DedupEntry{TenantID: "t", DatasetID: "d1", ContentHash: "h", FileID: "f3"}))
	e, err = d.Lookup(ctx, "t", "d1", "h")
	require.NoError(t, err)
	assert.Equal(t, "f3", e.FileID)

	e, err = d.Lookup(ctx, "other", "d1", "h")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestObjectClient(t *testing.T) {
	ctx := context.Background()
	c := NewObjectClient()
	_, err := c.UploadFile(ctx, "processed", "processed/t/d/f/j/chunks.jsonl", []byte("x"), "application/x-ndjson")
	require.NoError(t, err)

	data, err := c.GetFile(ctx, "processed", "processed/t/d/f/j/chunks.jsonl")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
	assert.Equal(t, []string{"processed/t/d/f/j/chunks.jsonl"}, c.Keys("processed", "processed/t/"))

	_, err = c.GetFile(ctx, "raw", "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
