package outbound

import (
	"context"
	"time"
)

// AlertSeverity grades operator alerts.
type AlertSeverity string

const (
	AlertWarning  AlertSeverity = "warning"
	AlertCritical AlertSeverity = "critical"
	// AlertFatal accompanies a service abort (e.g. oracle-bot key mismatch).
	AlertFatal AlertSeverity = "fatal"
)

// Alert is an operator-visible notification. Only fatal and critical error
// classes reach this sink; everything else is handled inside components.
type Alert struct {
	Severity  AlertSeverity     `json:"severity"`
	Component string            `json:"component"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	At        time.Time         `json:"at"`
}

// AlertSink publishes operator alerts.
type AlertSink interface {
	Publish(ctx context.Context, alert Alert) error
	Close() error
}

// LogArchiver archives raw indexed log batches for replay and audit.
// Implementations may be absent in which case the indexer skips archiving.
type LogArchiver interface {
	// Archive stores the raw payload for one indexed window of a stream.
	Archive(ctx context.Context, stream string, fromBlock, toBlock uint64, payload []byte) error
}
