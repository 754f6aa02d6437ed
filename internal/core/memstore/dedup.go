package memstore

import (
	"context"
	"sync"

	"github.com/markdave123-py/ragready/internal/core"
	"github.com/markdave123-py/ragready/internal/models"
)

var _ core.DedupIndex = (*DedupIndex)(nil)

// DedupIndex keeps the latest entry recorded per tenant and hash, and per
// dataset and hash.
type DedupIndex struct {
	mu      sync.RWMutex
	entries map[string]models.DedupEntry
}

func NewDedupIndex() *DedupIndex {
	return &DedupIndex{entries: map[string]models.DedupEntry{}}
}

func dedupKey(parts ...string) string {
	k := ""
	for _, p := range parts {
		k += p + "\x00"
	}
	return k
}

func (d *DedupIndex) Lookup(_ context.Context, tenantID, datasetID, contentHash string) (*models.DedupEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if e, ok := d.entries[dedupKey(tenantID, datasetID, contentHash)]; ok {
		return &e, nil
	}
	if e, ok := d.entries[dedupKey(tenantID, contentHash)]; ok {
		return &e, nil
	}
	return nil, nil
}

func (d *DedupIndex) Record(_ context.Context, entry models.DedupEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[dedupKey(entry.TenantID, entry.ContentHash)] = entry
	d.entries[dedupKey(entry.TenantID, entry.DatasetID, entry.ContentHash)] = entry
	return nil
}
