package privacy

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/chongzixuan-ai/logminer-qa/internal/privacy")

var (
	aggregationsTotal metric.Int64Counter
	entriesNoised     metric.Int64Counter
	windowFlushes     metric.Int64Counter
)

func init() {
	var err error
	aggregationsTotal, err = meter.Int64Counter("privacy.aggregations.total",
		metric.WithDescription("Total noisy aggregation operations"))
	if err != nil {
		aggregationsTotal, _ = meter.Int64Counter("privacy.aggregations.total.fallback")
	}

	entriesNoised, err = meter.Int64Counter("privacy.entries.noised",
		metric.WithDescription("Count entries that received Laplace noise"))
	if err != nil {
		entriesNoised, _ = meter.Int64Counter("privacy.entries.noised.fallback")
	}

	windowFlushes, err = meter.Int64Counter("privacy.window.flushes",
		metric.WithDescription("Aggregation window flushes"))
	if err != nil {
		windowFlushes, _ = meter.Int64Counter("privacy.window.flushes.fallback")
	}
}

func noisedEntries(n int) {
	ctx := context.Background()
	aggregationsTotal.Add(ctx, 1)
	entriesNoised.Add(ctx, int64(n))
}

func windowFlushed() {
	windowFlushes.Add(context.Background(), 1)
}
