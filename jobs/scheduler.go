// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package jobs

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"github.com/danielhkuo/votequest/metrics"
)

// Schedules
const (
	ExpirySchedule = "@every 1m"
	PurgeSchedule  = "@hourly"
)

// jobTimeout bounds a single run.
const jobTimeout = 5 * time.Minute

// cronLogger adapts the logger to cron.Logger.
type cronLogger struct {
	logger *log.Logger
}

// Info logs routine messages about cron's operation.
func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

// Error logs an error condition.
func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "err", err)...)
}

// Scheduler runs the sweeps on their schedules.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	ctx    context.Context
	logger *log.Logger
}

// NewScheduler registers the sweeps. Jobs run with ctx and stop starting
// once it is cancelled.
func NewScheduler(ctx context.Context, runner *Runner) (*Scheduler, error) {
	logger := log.FromContext(ctx).WithPrefix("cron")
	s := &Scheduler{
		cron:   cron.New(cron.WithLogger(cronLogger{logger}), cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger}))),
		runner: runner,
		ctx:    ctx,
		logger: logger,
	}

	jobs := []struct {
		spec string
		name string
		fn   func(context.Context) (int64, error)
	}{
		{ExpirySchedule, "close_proposals", func(ctx context.Context) (int64, error) {
			n, err := runner.CloseExpiredProposals(ctx)
			return int64(n), err
		}},
		{ExpirySchedule, "close_rooms", func(ctx context.Context) (int64, error) {
			n, err := runner.CloseExpiredRooms(ctx)
			return int64(n), err
		}},
		{PurgeSchedule, "purge_notifications", runner.PurgeNotifications},
	}
	for _, j := range jobs {
		if _, err := s.cron.AddFunc(j.spec, s.wrap(j.name, j.fn)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// wrap runs fn with a timeout and records its outcome.
func (s *Scheduler) wrap(name string, fn func(context.Context) (int64, error)) func() {
	return func() {
		if s.ctx.Err() != nil {
			return
		}
		ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
		defer cancel()

		n, err := fn(ctx)
		if err != nil {
			metrics.JobRuns.WithLabelValues(name, "error").Inc()
			s.logger.Error("job failed", "job", name, "err", err)
			return
		}
		metrics.JobRuns.WithLabelValues(name, "ok").Inc()
		if n > 0 {
			s.logger.Info("job finished", "job", name, "count", n)
		}
	}
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start starts the Scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Shutdown stops scheduling and waits up to 30s for running jobs.
func (s *Scheduler) Shutdown() {
	ctx, cancel := context.WithTimeout(s.cron.Stop(), 30*time.Second)
	defer cancel()
	<-ctx.Done()
}
