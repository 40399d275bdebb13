package outbound

import "context"

// MetricsRecorder lets services record domain metrics without depending on
// a telemetry implementation.
type MetricsRecorder interface {
	// RecordLogsIndexed counts logs persisted for a stream.
	RecordLogsIndexed(ctx context.Context, stream string, count int)

	// RecordIndexerLag reports how many confirmed blocks a stream is behind.
	RecordIndexerLag(ctx context.Context, stream string, lag int64)

	// RecordOutcomeSubmitted counts confirmed submitOutcome transactions.
	RecordOutcomeSubmitted(ctx context.Context)

	// RecordPoolSettled counts settled pools.
	RecordPoolSettled(ctx context.Context)

	// RecordPoolRefunded counts refunded pools.
	RecordPoolRefunded(ctx context.Context)

	// RecordCycleResolved counts resolved Oddyssey cycles.
	RecordCycleResolved(ctx context.Context)

	// RecordSlipsEvaluated counts evaluated slips.
	RecordSlipsEvaluated(ctx context.Context, count int)

	// RecordAnomaly counts recorded anomalies by kind.
	RecordAnomaly(ctx context.Context, kind string)
}
