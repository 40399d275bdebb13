// Package shared provides shared instrumentation for application services.
package shared

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bitredict/relayer/internal/ports/outbound"
)

// Compile-time assertion that AppTelemetry implements MetricsRecorder.
var _ outbound.MetricsRecorder = (*AppTelemetry)(nil)

const (
	// instrumentationName is the name used for OpenTelemetry instrumentation.
	instrumentationName = "github.com/bitredict/relayer/internal/services"
)

// AppTelemetry provides OpenTelemetry metrics for domain events. Adapter
// infrastructure concerns (HTTP requests, connection churn) are not
// recorded here.
type AppTelemetry struct {
	meter metric.Meter

	logsIndexed       metric.Int64Counter
	indexerLag        metric.Int64Gauge
	outcomesSubmitted metric.Int64Counter
	poolsSettled      metric.Int64Counter
	poolsRefunded     metric.Int64Counter
	cyclesResolved    metric.Int64Counter
	slipsEvaluated    metric.Int64Counter
	anomalies         metric.Int64Counter
}

// NewAppTelemetry creates an AppTelemetry using the global meter provider.
func NewAppTelemetry() (*AppTelemetry, error) {
	return NewAppTelemetryWithProvider(otel.GetMeterProvider())
}

// NewAppTelemetryWithProvider creates an AppTelemetry with a custom meter
// provider.
func NewAppTelemetryWithProvider(mp metric.MeterProvider) (*AppTelemetry, error) {
	meter := mp.Meter(instrumentationName)

	t := &AppTelemetry{meter: meter}

	var err error

	t.logsIndexed, err = meter.Int64Counter(
		"indexer.logs.total",
		metric.WithDescription("Total number of contract logs persisted"),
	)
	if err != nil {
		return nil, err
	}

	t.indexerLag, err = meter.Int64Gauge(
		"indexer.lag.blocks",
		metric.WithDescription("Confirmed blocks the indexer is behind, per stream"),
	)
	if err != nil {
		return nil, err
	}

	t.outcomesSubmitted, err = meter.Int64Counter(
		"oracle.outcomes.submitted.total",
		metric.WithDescription("Total number of confirmed submitOutcome transactions"),
	)
	if err != nil {
		return nil, err
	}

	t.poolsSettled, err = meter.Int64Counter(
		"pools.settled.total",
		metric.WithDescription("Total number of pools settled"),
	)
	if err != nil {
		return nil, err
	}

	t.poolsRefunded, err = meter.Int64Counter(
		"pools.refunded.total",
		metric.WithDescription("Total number of pools refunded"),
	)
	if err != nil {
		return nil, err
	}

	t.cyclesResolved, err = meter.Int64Counter(
		"oddyssey.cycles.resolved.total",
		metric.WithDescription("Total number of daily cycles resolved"),
	)
	if err != nil {
		return nil, err
	}

	t.slipsEvaluated, err = meter.Int64Counter(
		"oddyssey.slips.evaluated.total",
		metric.WithDescription("Total number of slips evaluated"),
	)
	if err != nil {
		return nil, err
	}

	t.anomalies, err = meter.Int64Counter(
		"anomalies.total",
		metric.WithDescription("Total number of recorded anomalies, by kind"),
	)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// RecordLogsIndexed counts logs persisted for a stream.
func (t *AppTelemetry) RecordLogsIndexed(ctx context.Context, stream string, count int) {
	t.logsIndexed.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("stream", stream),
	))
}

// RecordIndexerLag reports how many confirmed blocks a stream is behind.
func (t *AppTelemetry) RecordIndexerLag(ctx context.Context, stream string, lag int64) {
	t.indexerLag.Record(ctx, lag, metric.WithAttributes(
		attribute.String("stream", stream),
	))
}

// RecordOutcomeSubmitted counts confirmed submitOutcome transactions.
func (t *AppTelemetry) RecordOutcomeSubmitted(ctx context.Context) {
	t.outcomesSubmitted.Add(ctx, 1)
}

// RecordPoolSettled counts settled pools.
func (t *AppTelemetry) RecordPoolSettled(ctx context.Context) {
	t.poolsSettled.Add(ctx, 1)
}

// RecordPoolRefunded counts refunded pools.
func (t *AppTelemetry) RecordPoolRefunded(ctx context.Context) {
	t.poolsRefunded.Add(ctx, 1)
}

// RecordCycleResolved counts resolved daily cycles.
func (t *AppTelemetry) RecordCycleResolved(ctx context.Context) {
	t.cyclesResolved.Add(ctx, 1)
}

// RecordSlipsEvaluated counts evaluated slips.
func (t *AppTelemetry) RecordSlipsEvaluated(ctx context.Context, count int) {
	t.slipsEvaluated.Add(ctx, int64(count))
}

// RecordAnomaly counts recorded anomalies by kind.
func (t *AppTelemetry) RecordAnomaly(ctx context.Context, kind string) {
	t.anomalies.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
	))
}
