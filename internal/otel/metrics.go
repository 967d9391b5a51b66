package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all shadowbook metric instruments. Its methods satisfy the
// recorder interfaces consumed by the syncer and the query offload pool.
type Metrics struct {
	syncDuration   metric.Float64Histogram
	rowsInserted   metric.Int64Counter
	rowsDeleted    metric.Int64Counter
	sourceSkips    metric.Int64Counter
	queryDuration  metric.Float64Histogram
	dedupHits      metric.Int64Counter
	workerRestarts metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.syncDuration, err = meter.Float64Histogram("shadowbook.sync.duration",
		metric.WithDescription("Full sync pass duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.rowsInserted, err = meter.Int64Counter("shadowbook.sync.rows_inserted",
		metric.WithDescription("Shadow rows inserted by sync passes"),
	)
	if err != nil {
		return nil, err
	}

	m.rowsDeleted, err = meter.Int64Counter("shadowbook.sync.rows_deleted",
		metric.WithDescription("Stale shadow rows deleted by sync passes"),
	)
	if err != nil {
		return nil, err
	}

	m.sourceSkips, err = meter.Int64Counter("shadowbook.sync.source_skips",
		metric.WithDescription("Sync passes skipped because a source was unavailable"),
	)
	if err != nil {
		return nil, err
	}

	m.queryDuration, err = meter.Float64Histogram("shadowbook.query.duration",
		metric.WithDescription("Offloaded read query duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.dedupHits, err = meter.Int64Counter("shadowbook.query.dedup_hits",
		metric.WithDescription("Read requests coalesced into an identical in-flight query"),
	)
	if err != nil {
		return nil, err
	}

	m.workerRestarts, err = meter.Int64Counter("shadowbook.pool.worker_restarts",
		metric.WithDescription("Query worker reinitializations after unexpected exits"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func sourceAttr(src string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("source", src))
}

func (m *Metrics) SyncDuration(ctx context.Context, src string, d time.Duration) {
	m.syncDuration.Record(ctx, d.Seconds(), sourceAttr(src))
}

func (m *Metrics) RowsInserted(ctx context.Context, src string, n int) {
	m.rowsInserted.Add(ctx, int64(n), sourceAttr(src))
}

func (m *Metrics) RowsDeleted(ctx context.Context, src string, n int) {
	m.rowsDeleted.Add(ctx, int64(n), sourceAttr(src))
}

func (m *Metrics) SourceSkip(ctx context.Context, src string) {
	m.sourceSkips.Add(ctx, 1, sourceAttr(src))
}

func (m *Metrics) QueryDuration(ctx context.Context, kind string, d time.Duration) {
	m.queryDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) DedupHit(ctx context.Context) {
	m.dedupHits.Add(ctx, 1)
}

func (m *Metrics) WorkerRestart(ctx context.Context) {
	m.workerRestarts.Add(ctx, 1)
}
