// Package scheduler runs scans on a recurring schedule.
//
// The loop is long-running and context-aware: it stops when its context is
// cancelled and logs, rather than returns, the errors of individual scans.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gyaneshwarpardhi/compliance/internal/config"
)

// Schedule computes when the next run is due.
type Schedule interface {
	Next(after time.Time) time.Time
	String() string
}

// Every runs at a fixed interval.
type Every time.Duration

func (e Every) Next(after time.Time) time.Time { return after.Add(time.Duration(e)) }
func (e Every) String() string                 { return "every " + time.Duration(e).String() }

// Daily runs once a day at Hour:Minute UTC, or once a week when Weekday is
// set.
type Daily struct {
	Hour, Minute int
	Weekday      *time.Weekday
}

func (d Daily) Next(after time.Time) time.Time {
	after = after.UTC()
	next := time.Date(after.Year(), after.Month(), after.Day(), d.Hour, d.Minute, 0, 0, time.UTC)
	for !next.After(after) || (d.Weekday != nil && next.Weekday() != *d.Weekday) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (d Daily) String() string {
	if d.Weekday != nil {
		return fmt.Sprintf("weekly on %s at %02d:%02d UTC", *d.Weekday, d.Hour, d.Minute)
	}
	return fmt.Sprintf("daily at %02d:%02d UTC", d.Hour, d.Minute)
}

// FromConfig builds the schedule a ScheduleConf describes. DailyAt wins
// over Interval.
func FromConfig(c config.ScheduleConf) (Schedule, error) {
	if c.DailyAt == "" {
		if c.Interval <= 0 {
			return nil, fmt.Errorf("schedule: interval must be positive")
		}
		return Every(c.Interval), nil
	}
	t, err := time.Parse("15:04", c.DailyAt)
	if err != nil {
		return nil, fmt.Errorf("schedule: daily_at %q: %w", c.DailyAt, err)
	}
	d := Daily{Hour: t.Hour(), Minute: t.Minute()}
	if c.Weekday != "" {
		wd, ok := config.ParseWeekday(c.Weekday)
		if !ok {
			return nil, fmt.Errorf("schedule: unknown weekday %q", c.Weekday)
		}
		d.Weekday = &wd
	}
	return d, nil
}

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Scheduler calls a Job on a Schedule.
type Scheduler struct {
	job        Job
	schedule   Schedule
	runOnStart bool
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Scheduler.
func New(job Job, schedule Schedule, runOnStart bool, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{job: job, schedule: schedule, runOnStart: runOnStart, logger: logger, now: time.Now}
}

// Start blocks, running the job when due, until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler started", "schedule", s.schedule.String(), "run_on_start", s.runOnStart)

	if s.runOnStart {
		s.run(ctx)
	}

	for {
		next := s.schedule.Next(s.now())
		s.logger.Debug("next scan scheduled", "at", next)
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return
		case <-timer.C:
			s.run(ctx)
		}
	}
}

// run performs one job and logs its outcome.
func (s *Scheduler) run(ctx context.Context) {
	start := time.Now()
	s.logger.Info("scheduled scan started")
	if err := s.job(ctx); err != nil {
		s.logger.Error("scheduled scan failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	s.logger.Info("scheduled scan completed", "duration_ms", time.Since(start).Milliseconds())
}
