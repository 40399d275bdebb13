// Package scheduler drives the periodic tasks at UTC-anchored times.
// Tasks are data: a schedule, an overlap policy (always skip, never queue),
// a timeout and a retry budget around a run function. The scheduler owns
// all task state.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bitredict/relayer/internal/domain/entity"
	"github.com/bitredict/relayer/internal/pkg/retry"
	"github.com/bitredict/relayer/internal/ports/outbound"
)

// Schedule computes a task's next run time.
type Schedule interface {
	Next(now time.Time) time.Time
}

// DailyAt runs once a day at the given UTC wall-clock time.
type DailyAt struct {
	Hour   int
	Minute int
}

func (s DailyAt) Next(now time.Time) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.Hour, s.Minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// Every runs at a fixed interval.
type Every struct {
	Interval time.Duration
}

func (s Every) Next(now time.Time) time.Time {
	return now.Add(s.Interval)
}

// WindowedEvery runs at ActiveInterval inside the [From, To) UTC-hour
// window and at IdleInterval outside it. Used for the results poll, which
// tightens during the daily match window.
type WindowedEvery struct {
	ActiveInterval time.Duration
	IdleInterval   time.Duration
	FromHour       int
	ToHour         int
}

func (s WindowedEvery) Next(now time.Time) time.Time {
	hour := now.UTC().Hour()
	if hour >= s.FromHour && hour < s.ToHour {
		return now.Add(s.ActiveInterval)
	}
	return now.Add(s.IdleInterval)
}

// Task is one scheduled unit of work.
type Task struct {
	// Name identifies the task in logs and heartbeats.
	Name string

	// Schedule computes run times.
	Schedule Schedule

	// Timeout bounds a single run; the run context is cancelled when it
	// expires. Zero means no per-run timeout.
	Timeout time.Duration

	// Retries is how many times a failed run is retried within the same
	// slot before the run is marked failed.
	Retries int

	// Sheddable tasks run at half frequency while the indexer is lagging
	// past the warning threshold.
	Sheddable bool

	// Run executes the task.
	Run func(ctx context.Context) error
}

// ServiceConfig holds configuration for the scheduler.
type ServiceConfig struct {
	// LagThreshold is the indexer lag (blocks) past which sheddable tasks
	// shed half their runs. Defaults to 1000.
	LagThreshold int64

	// StaleHeartbeat is the age past which CheckHeartbeats flags a
	// component. Defaults to 10 minutes.
	StaleHeartbeat time.Duration

	// Logger is the structured logger for the service.
	Logger *slog.Logger
}

// Deps are the scheduler's outbound dependencies, all optional: Cache
// receives heartbeats, Anomalies and Metrics record stale components, Lag
// supplies the indexer's current lag for back-pressure.
type Deps struct {
	Cache     outbound.ResultCache
	Anomalies outbound.AnomalyRepository
	Metrics   outbound.MetricsRecorder
	Lag       func() int64
}

// Service runs registered tasks until its context is cancelled.
type Service struct {
	config ServiceConfig
	deps   Deps
	tasks  []*Task
	logger *slog.Logger
}

// NewService creates the scheduler over the given tasks.
func NewService(config ServiceConfig, deps Deps, tasks []*Task) (*Service, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("at least one task is required")
	}
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.Name == "" {
			return nil, fmt.Errorf("task name cannot be empty")
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate task %q", t.Name)
		}
		if t.Schedule == nil {
			return nil, fmt.Errorf("task %q has no schedule", t.Name)
		}
		if t.Run == nil {
			return nil, fmt.Errorf("task %q has no run function", t.Name)
		}
		seen[t.Name] = true
	}
	if config.LagThreshold <= 0 {
		config.LagThreshold = 1000
	}
	if config.StaleHeartbeat <= 0 {
		config.StaleHeartbeat = 10 * time.Minute
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		config: config,
		deps:   deps,
		tasks:  tasks,
		logger: logger.With("component", "scheduler"),
	}, nil
}

// Run drives every task until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, task := range s.tasks {
		wg.Add(1)
		go func(task *Task) {
			defer wg.Done()
			s.runTask(ctx, task)
		}(task)
	}
	wg.Wait()
	return ctx.Err()
}

// runTask loops one task. Each iteration computes the next slot from the
// current time, so a long run skips missed slots instead of queueing them.
func (s *Service) runTask(ctx context.Context, task *Task) {
	shedCounter := 0
	timer := time.NewTimer(time.Until(task.Schedule.Next(time.Now())))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if s.shouldShed(task, &shedCounter) {
			s.logger.Debug("shedding run under indexer lag", "task", task.Name)
		} else {
			s.runOnce(ctx, task)
		}

		timer.Reset(time.Until(task.Schedule.Next(time.Now())))
	}
}

// shouldShed drops every other run of a sheddable task while the indexer
// lags, halving its RPC budget until the indexer catches up.
func (s *Service) shouldShed(task *Task, counter *int) bool {
	if !task.Sheddable || s.deps.Lag == nil {
		return false
	}
	if s.deps.Lag() <= s.config.LagThreshold {
		*counter = 0
		return false
	}
	*counter++
	return *counter%2 == 1
}

// RunTaskNow executes one task immediately, outside its schedule. Used at
// startup for tasks that must complete before the daemon is useful.
func (s *Service) RunTaskNow(ctx context.Context, name string) error {
	for _, task := range s.tasks {
		if task.Name == name {
			return s.execute(ctx, task)
		}
	}
	return fmt.Errorf("unknown task %q", name)
}

func (s *Service) runOnce(ctx context.Context, task *Task) {
	started := time.Now()
	err := s.execute(ctx, task)
	elapsed := time.Since(started)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("task failed", "task", task.Name, "elapsed", elapsed, "error", err)
		return
	}

	s.heartbeat(ctx, task.Name)
	s.logger.Debug("task completed", "task", task.Name, "elapsed", elapsed)
}

func (s *Service) execute(ctx context.Context, task *Task) error {
	runCtx := ctx
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = task.Retries + 1
	return retry.DoVoid(runCtx, policy,
		func(err error) bool { return runCtx.Err() == nil },
		func(attempt int, err error, backoff time.Duration) {
			s.logger.Warn("task retrying",
				"task", task.Name, "attempt", attempt, "backoff", backoff, "error", err)
		},
		func() error { return task.Run(runCtx) },
	)
}

func (s *Service) heartbeat(ctx context.Context, name string) {
	if s.deps.Cache == nil {
		return
	}
	if err := s.deps.Cache.Heartbeat(ctx, name, time.Now().UTC()); err != nil {
		s.logger.Warn("recording heartbeat failed", "task", name, "error", err)
	}
}

// CheckHeartbeats flags components whose last heartbeat is stale. Wire it
// as the health-probe task.
func (s *Service) CheckHeartbeats(ctx context.Context) error {
	if s.deps.Cache == nil {
		return nil
	}
	beats, err := s.deps.Cache.Heartbeats(ctx)
	if err != nil {
		return fmt.Errorf("reading heartbeats: %w", err)
	}

	now := time.Now().UTC()
	for component, at := range beats {
		age := now.Sub(at)
		if age <= s.config.StaleHeartbeat {
			continue
		}
		s.logger.Warn("stale heartbeat", "task", component, "age", age)
		if s.deps.Anomalies != nil {
			anomaly := &entity.Anomaly{
				Kind:       entity.AnomalyStaleHeartbeat,
				Detail:     fmt.Sprintf("%s last beat %s ago", component, age.Round(time.Second)),
				ObservedAt: now,
			}
			if err := s.deps.Anomalies.Record(ctx, anomaly); err != nil {
				s.logger.Error("recording anomaly failed", "error", err)
			}
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordAnomaly(ctx, string(entity.AnomalyStaleHeartbeat))
		}
	}
	return nil
}
