package scheduler

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instrumentation wraps an OpenTelemetry meter, narrowed to the four
// scheduler gauges of §4.4.
type instrumentation struct {
	oldestAge  metric.Float64Gauge
	processed  metric.Float64Gauge
	ingested   metric.Float64Gauge
	catchup    metric.Float64Gauge
	modeCount  metric.Int64Counter
}

func newInstrumentation() (*instrumentation, error) {
	meter := otel.Meter("autocapture.scheduler")
	oldestAge, err := meter.Float64Gauge("oldest_unprocessed_age_hours")
	if err != nil {
		return nil, err
	}
	processed, err := meter.Float64Gauge("processed_items_per_hour")
	if err != nil {
		return nil, err
	}
	ingested, err := meter.Float64Gauge("ingested_items_per_hour")
	if err != nil {
		return nil, err
	}
	catchup, err := meter.Float64Gauge("projected_catchup_hours")
	if err != nil {
		return nil, err
	}
	modeCount, err := meter.Int64Counter("scheduler_ticks_total")
	if err != nil {
		return nil, err
	}
	return &instrumentation{oldestAge: oldestAge, processed: processed, ingested: ingested, catchup: catchup, modeCount: modeCount}, nil
}

func (in *instrumentation) record(ctx context.Context, d Decision) {
	if in == nil {
		return
	}
	in.oldestAge.Record(ctx, d.Metrics.OldestUnprocessedAgeHours)
	in.processed.Record(ctx, d.Metrics.ProcessedItemsPerHour)
	in.ingested.Record(ctx, d.Metrics.IngestedItemsPerHour)
	in.catchup.Record(ctx, d.Metrics.ProjectedCatchupHours)
	in.modeCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", string(d.Mode)),
		attribute.String("pressure", string(d.Pressure)),
	))
}
