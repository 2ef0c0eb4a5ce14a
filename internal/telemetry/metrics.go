package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys for oddstream telemetry, following OpenTelemetry
// namespace.attribute_name conventions.
const (
	// AttrVenue identifies the upstream odds venue producing the signal.
	AttrVenue = attribute.Key("venue")
	// AttrFrameType differentiates stream payload classes (price, status, auth).
	AttrFrameType = attribute.Key("frame.type")
	// AttrFamily labels market-family scoped signals (x12, ah, ou).
	AttrFamily = attribute.Key("market.family")
	// AttrResult records the outcome of an operation.
	AttrResult = attribute.Key("result")
)

// Metrics bundles the engine's instruments.
type Metrics struct {
	FramesTotal     metric.Int64Counter
	BatchesTotal    metric.Int64Counter
	BatchSize       metric.Int64Histogram
	WritesTotal     metric.Int64Counter
	CatalogSize     metric.Int64Gauge
	ReconnectsTotal metric.Int64Counter
	UnmappedMarkets metric.Int64Counter
}

// NewMetrics registers the engine instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("oddstream.engine")

	frames, err := meter.Int64Counter("oddstream_stream_frames_total",
		metric.WithDescription("Stream frames received, by frame type"),
		metric.WithUnit("{frame}"))
	if err != nil {
		return nil, fmt.Errorf("register frames counter: %w", err)
	}
	batches, err := meter.Int64Counter("oddstream_batches_flushed_total",
		metric.WithDescription("Debounced update batches flushed"),
		metric.WithUnit("{batch}"))
	if err != nil {
		return nil, fmt.Errorf("register batches counter: %w", err)
	}
	batchSize, err := meter.Int64Histogram("oddstream_batch_size",
		metric.WithDescription("Updates per flushed batch"),
		metric.WithUnit("{update}"))
	if err != nil {
		return nil, fmt.Errorf("register batch size histogram: %w", err)
	}
	writes, err := meter.Int64Counter("oddstream_odds_writes_total",
		metric.WithDescription("Fixture odds rows written, by family and result"),
		metric.WithUnit("{write}"))
	if err != nil {
		return nil, fmt.Errorf("register writes counter: %w", err)
	}
	catalogSize, err := meter.Int64Gauge("oddstream_catalog_mappings",
		metric.WithDescription("Market mappings in the live catalog snapshot"),
		metric.WithUnit("{mapping}"))
	if err != nil {
		return nil, fmt.Errorf("register catalog gauge: %w", err)
	}
	reconnects, err := meter.Int64Counter("oddstream_stream_reconnects_total",
		metric.WithDescription("Stream reconnect attempts"),
		metric.WithUnit("{attempt}"))
	if err != nil {
		return nil, fmt.Errorf("register reconnects counter: %w", err)
	}
	unmapped, err := meter.Int64Counter("oddstream_unmapped_markets_total",
		metric.WithDescription("Stream updates dropped for markets absent from the catalog"),
		metric.WithUnit("{update}"))
	if err != nil {
		return nil, fmt.Errorf("register unmapped counter: %w", err)
	}

	return &Metrics{
		FramesTotal:     frames,
		BatchesTotal:    batches,
		BatchSize:       batchSize,
		WritesTotal:     writes,
		CatalogSize:     catalogSize,
		ReconnectsTotal: reconnects,
		UnmappedMarkets: unmapped,
	}, nil
}

// RecordFrame counts one received stream frame.
func (m *Metrics) RecordFrame(ctx context.Context, venue, frameType string) {
	if m == nil {
		return
	}
	m.FramesTotal.Add(ctx, 1, metric.WithAttributes(AttrVenue.String(venue), AttrFrameType.String(frameType)))
}

// RecordBatch counts one flushed batch and samples its size.
func (m *Metrics) RecordBatch(ctx context.Context, size int) {
	if m == nil {
		return
	}
	m.BatchesTotal.Add(ctx, 1)
	m.BatchSize.Record(ctx, int64(size))
}

// RecordReconnect counts one stream reconnect attempt.
func (m *Metrics) RecordReconnect(ctx context.Context, venue string) {
	if m == nil {
		return
	}
	m.ReconnectsTotal.Add(ctx, 1, metric.WithAttributes(AttrVenue.String(venue)))
}

// RecordWrite counts one odds row write attempt.
func (m *Metrics) RecordWrite(ctx context.Context, family, result string) {
	if m == nil {
		return
	}
	m.WritesTotal.Add(ctx, 1, metric.WithAttributes(AttrFamily.String(family), AttrResult.String(result)))
}
