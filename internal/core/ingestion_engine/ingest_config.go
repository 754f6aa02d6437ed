package ingestion_engine

import "github.com/markdave123-py/ragready/internal/retry"

// IngestConfig tunes vector ingestion.
//
// BatchSize:   chunks per embedding request batch (default 50).
// Concurrency: batches in flight at once (default 4).
// EmbedDim:    expected vector length; any other length is a config error.
// Retry:       per-batch retry policy for transient embedding failures.
type IngestConfig struct {
	BatchSize   int
	Concurrency int
	EmbedDim    int
	Retry       retry.Policy
}

// ChunkConfig tunes chunking and the size warnings.
type ChunkConfig struct {
	MinChars       int
	MaxChars       int
	OverlapChars   int
	WarnSmallChars int
	WarnLargeChars int
}

func DefaultIngestConfig() IngestConfig {
	return IngestConfig{BatchSize: 50, Concurrency: 4, EmbedDim: 1024, Retry: retry.DefaultPolicy()}
}

func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{MinChars: 800, MaxChars: 1200, OverlapChars: 200, WarnSmallChars: 500, WarnLargeChars: 1500}
}
