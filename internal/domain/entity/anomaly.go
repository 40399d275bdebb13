package entity

import "time"

// AnomalyKind classifies observability anomalies the pipeline records but
// does not attempt to repair.
type AnomalyKind string

const (
	// AnomalyHistoricalGap marks on-chain state older than the provider's
	// log-retention horizon that cannot be reconstructed event-by-event.
	AnomalyHistoricalGap AnomalyKind = "historical_gap"
	// AnomalyDeepReorg marks a reorg deeper than the confirmation depth.
	AnomalyDeepReorg AnomalyKind = "deep_reorg"
	// AnomalyStaleHeartbeat marks a component that missed its heartbeat.
	AnomalyStaleHeartbeat AnomalyKind = "stale_heartbeat"
)

// Anomaly is an operator-visible observation persisted for later review.
type Anomaly struct {
	ID         int64
	Kind       AnomalyKind
	Detail     string
	PoolID     *uint64
	ObservedAt time.Time
}
