package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// IngestMetrics records embedding batch outcomes. It satisfies
// ingestion_engine.BatchRecorder.
type IngestMetrics struct {
	batches  metric.Int64Counter
	chunks   metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
}

func NewIngestMetrics(mp metric.MeterProvider) (*IngestMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m := mp.Meter("ragready/ingest")

	batches, err := m.Int64Counter("ingest.batches", metric.WithDescription("embedding batches attempted"))
	if err != nil {
		return nil, err
	}
	chunks, err := m.Int64Counter("ingest.chunks", metric.WithDescription("chunks embedded"))
	if err != nil {
		return nil, err
	}
	failures, err := m.Int64Counter("ingest.failures", metric.WithDescription("embedding batches that failed"))
	if err != nil {
		return nil, err
	}
	latency, err := m.Float64Histogram("ingest.batch.latency_ms",
		metric.WithDescription("embedding batch latency"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &IngestMetrics{batches: batches, chunks: chunks, failures: failures, latency: latency}, nil
}

func (m *IngestMetrics) RecordBatch(ctx context.Context, tenantID, datasetID, model string, size int, latency time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("tenant", tenantID),
		attribute.String("dataset", datasetID),
		attribute.String("model", model),
	)
	m.batches.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(latency.Microseconds())/1000, attrs)
	if err != nil {
		m.failures.Add(ctx, 1, attrs)
		return
	}
	m.chunks.Add(ctx, int64(size), attrs)
}
