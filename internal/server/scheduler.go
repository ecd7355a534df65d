package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/agentrouter/config"
	"github.com/mohammad-safakhou/agentrouter/internal/orchestrator"
	"github.com/mohammad-safakhou/agentrouter/repository"
)

const (
	defaultSchedulerTick = 30 * time.Second
	scheduleLockTTL      = 2 * time.Minute
)

// QueryRunner answers a query; the orchestrator satisfies it.
type QueryRunner interface {
	Run(ctx context.Context, query string) (*orchestrator.RunResult, error)
}

type schedule struct {
	cfg  config.ScheduleConfig
	expr *cronexpr.Expression
	next time.Time
}

// Scheduler fires configured queries on cron expressions. With a Locker,
// only one instance fires a given occurrence.
type Scheduler struct {
	mu        sync.Mutex
	schedules []*schedule
	runner    QueryRunner
	locker    repository.Locker
	logger    *zap.Logger
	tick      time.Duration
	now       func() time.Time
	wg        sync.WaitGroup
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTick sets how often due schedules are checked.
func WithTick(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler parses every cron expression; any invalid one is an error.
// locker may be nil.
func NewScheduler(specs []config.ScheduleConfig, runner QueryRunner, locker repository.Locker, logger *zap.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{runner: runner, locker: locker, logger: logger.Named("scheduler"), tick: defaultSchedulerTick, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	start := s.now()
	for _, spec := range specs {
		expr, err := cronexpr.Parse(spec.Cron)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", spec.Name, err)
		}
		s.schedules = append(s.schedules, &schedule{cfg: spec, expr: expr, next: expr.Next(start)})
	}
	return s, nil
}

// Len returns the number of schedules.
func (s *Scheduler) Len() int { return len(s.schedules) }

// Start checks due schedules every tick until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if len(s.schedules) == 0 {
		return
	}
	ticker := time.NewTicker(s.tick)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Tick fires every schedule whose next occurrence has passed and advances it.
// Runs execute in the background; Wait blocks until they finish.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	var due []schedule
	for _, sc := range s.schedules {
		if sc.next.IsZero() || now.Before(sc.next) {
			continue
		}
		due = append(due, *sc)
		sc.next = sc.expr.Next(now)
	}
	s.mu.Unlock()

	for _, sc := range due {
		s.fire(ctx, sc)
	}
}

func (s *Scheduler) fire(ctx context.Context, sc schedule) {
	logger := s.logger.With(zap.String("schedule", sc.cfg.Name), zap.Time("occurrence", sc.next))
	release := func() {}
	if s.locker != nil {
		lockName := fmt.Sprintf("schedule:%s:%d", sc.cfg.Name, sc.next.Unix())
		ok, rel, err := s.locker.TryLock(ctx, lockName, scheduleLockTTL)
		if err != nil {
			logger.Warn("schedule lock failed", zap.Error(err))
			return
		}
		if !ok {
			logger.Debug("schedule owned by another instance")
			return
		}
		release = rel
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		res, err := s.runner.Run(ctx, sc.cfg.Query)
		if err != nil {
			logger.Error("scheduled run failed", zap.Error(err))
			return
		}
		logger.Info("scheduled run finished", zap.String("run_id", res.ID), zap.String("status", res.Status))
	}()
}

// Wait blocks until every fired run has returned.
func (s *Scheduler) Wait() { s.wg.Wait() }
