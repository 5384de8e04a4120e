// Package jobs runs the periodic maintenance work of the service on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulfikarrosadi/opentrellis/internal/metrics"
)

const DEFAULT_TIMEOUT = 5 * time.Minute

type Job struct {
	Name string
	Spec string
	Run  func(context.Context) error
}

type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

// cronLogger sends cron's own messages to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("CRON_"+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("CRON_"+msg, append(keysAndValues, "error", err.Error())...)
}

func New(logger *slog.Logger, m *metrics.Metrics) *Scheduler {
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		metrics: m,
		timeout: DEFAULT_TIMEOUT,
	}
}

func (s *Scheduler) Add(job Job) error {
	if _, err := s.cron.AddFunc(job.Spec, func() { s.run(job) }); err != nil {
		return fmt.Errorf("jobs: invalid schedule %q for %s %w", job.Spec, job.Name, err)
	}
	s.logger.Info("JOB_SCHEDULED", slog.String("job", job.Name), slog.String("spec", job.Spec))
	return nil
}

func (s *Scheduler) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	err := job.Run(ctx)
	duration := time.Since(start)
	s.metrics.JobRun(job.Name, duration, err == nil)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "JOB_FAILED",
			slog.String("job", job.Name),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "JOB_DONE",
		slog.String("job", job.Name),
		slog.Duration("duration", duration),
	)
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("JOB_SHUTDOWN_TIMEOUT")
	}
}
