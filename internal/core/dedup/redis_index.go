// Package dedup holds the tenant-scoped content hash index used by the
// dispatcher to skip byte-identical uploads.
package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/core"
	"github.com/markdave123-py/ragready/internal/logger"
	"github.com/markdave123-py/ragready/internal/models"
)

const keyPrefix = "ragready:dedup:"

var _ core.DedupIndex = (*RedisIndex)(nil)

type RedisIndex struct {
	rdb *goredis.Client
	log *logger.Logger
}

// NewRedisIndex connects and pings the server so a bad REDIS_ADDR fails at
// startup.
func NewRedisIndex(ctx context.Context, addr string, log *logger.Logger) (*RedisIndex, error) {
	if addr == "" {
		return nil, apperr.Config("redis dedup", "missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisIndex{rdb: rdb, log: log.With("service", "RedisDedupIndex")}, nil
}

// Key is the tenant-wide entry for a hash.
func Key(tenantID, contentHash string) string {
	return keyPrefix + tenantID + ":" + contentHash
}

// DatasetKey is the entry for a hash within one dataset.
func DatasetKey(tenantID, datasetID, contentHash string) string {
	return keyPrefix + tenantID + ":" + datasetID + ":" + contentHash
}

// Lookup reads the dataset entry and the tenant entry in one round trip and
// returns the dataset one when both exist.
func (r *RedisIndex) Lookup(ctx context.Context, tenantID, datasetID, contentHash string) (*models.DedupEntry, error) {
	vals, err := r.rdb.MGet(ctx, DatasetKey(tenantID, datasetID, contentHash), Key(tenantID, contentHash)).Result()
	if err != nil {
		return nil, apperr.Transient("dedup lookup", err)
	}
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var e models.DedupEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode dedup entry: %w", err)
		}
		return &e, nil
	}
	return nil, nil
}

// Record overwrites both entries for the hash. The latest COMPLETE job is
// the one whose chunks are still indexed.
func (r *RedisIndex) Record(ctx context.Context, entry models.DedupEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, Key(entry.TenantID, entry.ContentHash), raw, 0)
		pipe.Set(ctx, DatasetKey(entry.TenantID, entry.DatasetID, entry.ContentHash), raw, 0)
		return nil
	})
	if err != nil {
		return apperr.Transient("dedup record", err)
	}
	r.log.Debug("dedup entry recorded", "tenant_id", entry.TenantID, "dataset_id", entry.DatasetID, "job_id", entry.JobID)
	return nil
}

func (r *RedisIndex) Close() error { return r.rdb.Close() }
