package memory

import (
	"context"
	"sync"
	"time"

	"github.com/bitredict/relayer/internal/domain/entity"
	"github.com/bitredict/relayer/internal/ports/outbound"
)

var (
	_ outbound.ResultCache     = (*ResultCache)(nil)
	_ outbound.AlertSink       = (*AlertSink)(nil)
	_ outbound.LogArchiver     = (*LogArchiver)(nil)
	_ outbound.MetricsRecorder = (*MetricsRecorder)(nil)
)

type cachedResult struct {
	result    entity.FixtureResult
	expiresAt time.Time
}

// ResultCache is an in-memory result and heartbeat cache. TTLs are honoured
// lazily on read.
type ResultCache struct {
	mu      sync.RWMutex
	results map[string]cachedResult
	beats   map[string]time.Time
}

// NewResultCache creates an in-memory result cache.
func NewResultCache() *ResultCache {
	return &ResultCache{
		results: make(map[string]cachedResult),
		beats:   make(map[string]time.Time),
	}
}

func (c *ResultCache) SetResult(ctx context.Context, result *entity.FixtureResult, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := cachedResult{result: *result}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	c.results[result.FixtureID] = entry
	return nil
}

func (c *ResultCache) GetResult(ctx context.Context, fixtureID string) (*entity.FixtureResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.results[fixtureID]
	if !ok {
		return nil, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		return nil, nil
	}
	cp := entry.result
	return &cp, nil
}

func (c *ResultCache) Heartbeat(ctx context.Context, component string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beats[component] = at
	return nil
}

func (c *ResultCache) Heartbeats(ctx context.Context) (map[string]time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]time.Time, len(c.beats))
	for k, v := range c.beats {
		out[k] = v
	}
	return out, nil
}

func (c *ResultCache) Close() error { return nil }

// AlertSink collects published alerts for assertions.
type AlertSink struct {
	mu     sync.Mutex
	alerts []outbound.Alert
}

// NewAlertSink creates an in-memory alert sink.
func NewAlertSink() *AlertSink {
	return &AlertSink{}
}

func (s *AlertSink) Publish(ctx context.Context, alert outbound.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *AlertSink) Close() error { return nil }

// Alerts returns all published alerts.
func (s *AlertSink) Alerts() []outbound.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbound.Alert(nil), s.alerts...)
}

// ArchivedBatch is one Archive call captured by LogArchiver.
type ArchivedBatch struct {
	Stream    string
	FromBlock uint64
	ToBlock   uint64
	Payload   []byte
}

// LogArchiver collects archived batches for assertions.
type LogArchiver struct {
	mu      sync.Mutex
	batches []ArchivedBatch
}

// NewLogArchiver creates an in-memory log archiver.
func NewLogArchiver() *LogArchiver {
	return &LogArchiver{}
}

func (a *LogArchiver) Archive(ctx context.Context, stream string, fromBlock, toBlock uint64, payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batches = append(a.batches, ArchivedBatch{
		Stream:    stream,
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Payload:   append([]byte(nil), payload...),
	})
	return nil
}

// Batches returns all archived batches.
func (a *LogArchiver) Batches() []ArchivedBatch {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ArchivedBatch(nil), a.batches...)
}

// MetricsRecorder accumulates counters for assertions.
type MetricsRecorder struct {
	mu sync.Mutex

	LogsIndexed       map[string]int
	IndexerLag        map[string]int64
	OutcomesSubmitted int
	PoolsSettled      int
	PoolsRefunded     int
	CyclesResolved    int
	SlipsEvaluated    int
	Anomalies         map[string]int
}

// NewMetricsRecorder creates an in-memory metrics recorder.
func NewMetricsRecorder() *MetricsRecorder {
	return &MetricsRecorder{
		LogsIndexed: make(map[string]int),
		IndexerLag:  make(map[string]int64),
		Anomalies:   make(map[string]int),
	}
}

func (m *MetricsRecorder) RecordLogsIndexed(ctx context.Context, stream string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LogsIndexed[stream] += count
}

func (m *MetricsRecorder) RecordIndexerLag(ctx context.Context, stream string, lag int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.IndexerLag[stream] = lag
}

func (m *MetricsRecorder) RecordOutcomeSubmitted(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OutcomesSubmitted++
}

func (m *MetricsRecorder) RecordPoolSettled(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PoolsSettled++
}

func (m *MetricsRecorder) RecordPoolRefunded(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PoolsRefunded++
}

func (m *MetricsRecorder) RecordCycleResolved(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CyclesResolved++
}

func (m *MetricsRecorder) RecordSlipsEvaluated(ctx context.Context, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SlipsEvaluated += count
}

func (m *MetricsRecorder) RecordAnomaly(ctx context.Context, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Anomalies[kind]++
}
