// Package scheduler runs the periodic full-sync job on a cron schedule.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the dependencies for the sync scheduler.
type Config struct {
	// Schedule is a 5-field cron expression for the full-sync job.
	Schedule string
	// Job runs one scheduled pass. Errors are the job's to log; the
	// scheduler keeps ticking regardless.
	Job func(ctx context.Context)
	// Interval is the tick resolution; defaults to 30 seconds if zero.
	Interval time.Duration
	Logger   *slog.Logger
}

// Scheduler fires the sync job whenever its cron schedule comes due.
type Scheduler struct {
	schedule cronlib.Schedule
	expr     string
	job      func(ctx context.Context)
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler validates the cron expression and builds a scheduler.
func NewScheduler(cfg Config) (*Scheduler, error) {
	schedule, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		schedule: schedule,
		expr:     cfg.Schedule,
		job:      cfg.Job,
		interval: interval,
		logger:   logger,
	}, nil
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("sync scheduler started", "schedule", s.expr, "tick", s.interval)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("sync scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	nextRun := s.schedule.Next(time.Now())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Before(nextRun) {
				continue
			}
			s.logger.Info("scheduled sync firing", "due_at", nextRun)
			s.job(ctx)
			nextRun = s.schedule.Next(time.Now())
		}
	}
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
