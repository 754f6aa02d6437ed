package dedup

import (
	"context"

	"github.com/markdave123-py/ragready/internal/core"
	"github.com/markdave123-py/ragready/internal/models"
)

var _ core.DedupIndex = (*StoreIndex)(nil)

// StoreIndex answers lookups from the jobs table. Record is a no-op since
// the COMPLETE job row is already the entry.
type StoreIndex struct {
	store core.MetadataStore
}

func NewStoreIndex(store core.MetadataStore) *StoreIndex {
	return &StoreIndex{store: store}
}

func (s *StoreIndex) Lookup(ctx context.Context, tenantID, datasetID, contentHash string) (*models.DedupEntry, error) {
	job, err := s.store.FindCompleteJobByHash(ctx, tenantID, datasetID, contentHash)
	if err != nil || job == nil {
		return nil, err
	}
	return &models.DedupEntry{
		TenantID:    job.TenantID,
		ContentHash: job.ContentHash,
		DatasetID:   job.DatasetID,
		FileID:      job.FileID,
		JobID:       job.ID,
	}, nil
}

func (s *StoreIndex) Record(context.Context, models.DedupEntry) error { return nil }
