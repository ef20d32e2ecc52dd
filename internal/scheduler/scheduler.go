// Package scheduler runs a job once a day at a fixed local time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/TobiSchelling/PaperDigest/internal/database"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Options configures a Scheduler.
type Options struct {
	// Cleanup, when set, runs after the job on cleanup days (Mondays).
	Cleanup Job
	Logger  *slog.Logger
}

// Scheduler triggers a Job daily at hour:minute.
type Scheduler struct {
	hour, minute int
	job          Job
	cleanup      Job
	log          *slog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// ParseTime parses "HH:MM" in 24-hour form.
func ParseTime(at string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid schedule time %q, want HH:MM", at)
	}
	return t.Hour(), t.Minute(), nil
}

// New creates a scheduler that runs job every day at the local time at.
func New(at string, job Job, opts Options) (*Scheduler, error) {
	hour, minute, err := ParseTime(at)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		hour:    hour,
		minute:  minute,
		job:     job,
		cleanup: opts.Cleanup,
		log:     log.With("component", "scheduler"),
		now:     time.Now,
		after:   time.After,
	}, nil
}

// Next returns the first trigger time strictly after from.
func (s *Scheduler) Next(from time.Time) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, from.Location())
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Run blocks until ctx is done, running the job at each trigger time. Job
// errors are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		next := s.Next(s.now())
		s.log.Info("next run scheduled", "at", next.Format("2006-01-02 15:04 MST"))

		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-s.after(next.Sub(s.now())):
		}

		s.tick(ctx)
	}
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	start := s.now()
	if err := s.job(ctx); err != nil {
		s.log.Error("scheduled run failed", "error", err)
	} else {
		s.log.Info("scheduled run finished", "duration", time.Since(start).Round(time.Millisecond))
	}

	if s.cleanup != nil && database.IsCleanupDay(start) {
		if err := s.cleanup(ctx); err != nil {
			s.log.Error("weekly cleanup failed", "error", err)
		}
	}
}
