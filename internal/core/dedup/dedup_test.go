package dedup

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/ragready/internal/core/memstore"
	"github.com/markdave123-py/ragready/internal/logger"
	"github.com/markdave123-py/ragready/internal/models"
)

func TestRedisIndexPrefersSameDataset(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	idx, err := NewRedisIndex(ctx, mr.Addr(), logger.Nop())
	require.NoError(t, err)
	defer idx.Close()

	got, err := idx.Lookup(ctx, "t1", "d1", "abc")
	require.NoError(t, err)
	assert.Nil(t, got)

	inD1 := models.DedupEntry{TenantID: "t1", ContentHash: "abc", DatasetID: "d1", FileID: "f1", JobID: "j1"}
	inD2 := models.DedupEntry{TenantID: "t1", ContentHash: "abc", DatasetID: "d2", FileID: "f2", JobID: "j2"}
	require.NoError(t, idx.Record(ctx, inD1))
	require.NoError(t, idx.Record(ctx, inD2))

	got, err = idx.Lookup(ctx, "t1", "d1", "abc")
	require.NoError(t, err)
	assert.Equal(t, &inD1, got)

	got, err = idx.Lookup(ctx, "t1", "d3", "abc")
	require.NoError(t, err)
	assert.Equal(t, &inD2, got, "falls back to the latest entry of the tenant")
	assert.True(t, mr.Exists("ragready:dedup:t1:abc"))
	assert.True(t, mr.Exists("ragready:dedup:t1:d1:abc"))

	got, err = idx.Lookup(ctx, "t2", "d1", "abc")
	require.NoError(t, err)
	assert.Nil(t, got, "entries are tenant scoped")
}

func TestRedisIndexLatestRecordWins(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	idx, err := NewRedisIndex(ctx, mr.Addr(), logger.Nop())
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Record(ctx, models.DedupEntry{TenantID: "t1", ContentHash: "abc", DatasetID: "d1", FileID: "f1", JobID: "j1"}))
	latest := models.DedupEntry{TenantID: "t1", ContentHash: "abc", DatasetID: "d1", FileID: "f2", JobID: "j2"}
	require.NoError(t, idx.Record(ctx, latest))

	got, err := idx.Lookup(ctx, "t1", "d1", "abc")
	require.NoError(t, err)
	assert.Equal(t, &latest, got)
}

func TestRedisIndexRequiresAddr(t *testing.T) {
	_, err := NewRedisIndex(context.Background(), "", logger.Nop())
	assert.Error(t, err)
}

func TestStoreIndexReadsLiveCompleteJobs(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewMetadataStore()
	for _, f := range []*models.File{
		{ID: "f1", TenantID: "t1", DatasetID: "d1", LatestJobID: "j1"},
		{ID: "f2", TenantID: "t1", DatasetID: "d1", LatestJobID: "j2"},
		{ID: "f3", TenantID: "t1", DatasetID: "d1", LatestJobID: "j4"},
	} {
		require.NoError(t, store.CreateFile(ctx, f))
	}
	for _, j := range []*models.Job{
		{ID: "j1", TenantID: "t1", DatasetID: "d1", FileID: "f1", ContentHash: "abc", Status: models.StatusComplete},
		{ID: "j2", TenantID: "t1", DatasetID: "d1", FileID: "f2", ContentHash: "def", Status: models.StatusRunning},
		{ID: "j3", TenantID: "t1", DatasetID: "d1", FileID: "f3", ContentHash: "ghi", Status: models.StatusComplete},
	} {
		require.NoError(t, store.CreateJob(ctx, j))
	}
	idx := NewStoreIndex(store)

	got, err := idx.Lookup(ctx, "t1", "d1", "abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "j1", got.JobID)
	assert.Equal(t, "f1", got.FileID)

	got, err = idx.Lookup(ctx, "t1", "d1", "def")
	require.NoError(t, err)
	assert.Nil(t, got, "running jobs are not entries")

	got, err = idx.Lookup(ctx, "t1", "d1", "ghi")
	require.NoError(t, err)
	assert.Nil(t, got, "f3 moved on to another job")
}
