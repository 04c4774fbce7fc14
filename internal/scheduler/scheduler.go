// Package scheduler runs configured batches on cron schedules until the
// context ends.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled batch. Spec is a standard cron expression or a
// descriptor such as "@every 6h".
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler owns the daemon loop: it runs every job once at startup, then
// fires each on its own schedule. A job never overlaps with itself; a tick
// that arrives while the previous run is still going is skipped.
type Scheduler struct {
	jobs   []Job
	logger *slog.Logger
	cron   *cron.Cron
}

// NewScheduler validates every job's spec and creates a scheduler.
func NewScheduler(jobs []Job, logger *slog.Logger) (*Scheduler, error) {
	adapter := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLogger(adapter),
		cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
	)
	for _, j := range jobs {
		if _, err := cron.ParseStandard(j.Spec); err != nil {
			return nil, fmt.Errorf("job %s: invalid schedule %q: %w", j.Name, j.Spec, err)
		}
	}
	return &Scheduler{jobs: jobs, logger: logger, cron: c}, nil
}

// Run executes one immediate cycle of every job, then hands the jobs to
// cron. It returns nil when ctx is cancelled (graceful shutdown), after any
// running job has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("starting scheduler", "jobs", len(s.jobs))

	for _, j := range s.jobs {
		if ctx.Err() != nil {
			return nil
		}
		s.runJob(ctx, j)
	}

	for _, j := range s.jobs {
		if _, err := s.cron.AddFunc(j.Spec, func() { s.runJob(ctx, j) }); err != nil {
			return fmt.Errorf("scheduling %s: %w", j.Name, err)
		}
		s.logger.Info("job scheduled", "job", j.Name, "spec", j.Spec)
	}
	s.cron.Start()

	<-ctx.Done()
	s.logger.Info("shutting down scheduler")
	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) runJob(ctx context.Context, j Job) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := j.Run(ctx); err != nil {
		s.logger.Error("scheduled job failed", "job", j.Name, "duration", time.Since(start), "error", err)
		return
	}
	s.logger.Info("scheduled job finished", "job", j.Name, "duration", time.Since(start))
}

// cronLogger routes cron's own messages through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
