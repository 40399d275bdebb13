// Package inbound contains the primary/inbound ports.
package inbound

// HealthChecker is implemented by services that report readiness and
// liveness for deployment probes.
type HealthChecker interface {
	// IsReady returns true once the service has completed at least one
	// successful run.
	IsReady() bool

	// IsHealthy returns true while the service is operating on schedule.
	IsHealthy() bool
}
